// Package planner recommends catalog actions that close a score gap.
//
// The plan is a bounded greedy pass, not a knapsack solve:
//
//  1. every action gets effective points = estimated points, or 0 when any
//     of its cap windows is exhausted right now
//  2. actions are ranked by effective points, descending, catalog order on ties
//  3. actions are taken in rank order until the running sum reaches the need
//
// The result is deterministic for a fixed catalog and ledger state.
package planner

import (
	"github.com/tutu-network/shf/internal/domain"
	"github.com/tutu-network/shf/internal/infra/dsa"
)

// Availability reports whether an action is currently capped and, if so,
// by which window.
type Availability func(rule domain.Rule) (blocked bool, binding domain.Window)

// Step is one recommended action.
type Step struct {
	ActionKey  string `json:"action_key"`
	Label      string `json:"label,omitempty"`
	Points     int64  `json:"points"`
	Cumulative int64  `json:"cumulative"`
}

// Skipped is an action left out because it is capped.
type Skipped struct {
	ActionKey string        `json:"action_key"`
	Binding   domain.Window `json:"binding_window"`
}

// Plan is the planner's answer.
type Plan struct {
	Need       int64     `json:"need"`
	Achievable int64     `json:"achievable"`
	Satisfied  bool      `json:"satisfied"`
	Steps      []Step    `json:"steps"`
	Skipped    []Skipped `json:"skipped,omitempty"`
}

// Build plans against a catalog. A non-positive need yields an empty,
// satisfied plan. Actions worth zero points are never recommended.
func Build(catalog *domain.RuleCatalog, available Availability, need int64) Plan {
	plan := Plan{Need: need, Steps: []Step{}}
	if need <= 0 {
		plan.Satisfied = true
		return plan
	}
	if catalog == nil {
		return plan
	}

	pq := dsa.NewPriorityQueue(catalog.Len())
	for i, rule := range catalog.Rules {
		if available != nil {
			if blocked, w := available(rule); blocked {
				plan.Skipped = append(plan.Skipped, Skipped{ActionKey: rule.ActionKey, Binding: w})
				continue
			}
		}
		points := rule.EstimatedPoints()
		if points <= 0 {
			continue
		}
		pq.Push(dsa.HeapItem{
			Key:      rule.ActionKey,
			Priority: -points,
			Order:    i,
			Value:    rule,
		})
	}

	for plan.Achievable < need {
		item, ok := pq.Pop()
		if !ok {
			break
		}
		rule := item.Value.(domain.Rule)
		points := -item.Priority
		plan.Achievable += points
		plan.Steps = append(plan.Steps, Step{
			ActionKey:  rule.ActionKey,
			Label:      rule.Label,
			Points:     points,
			Cumulative: plan.Achievable,
		})
	}
	plan.Satisfied = plan.Achievable >= need
	return plan
}
