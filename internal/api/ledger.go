package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tutu-network/shf/internal/app/rewards"
	"github.com/tutu-network/shf/internal/domain"
	"github.com/tutu-network/shf/internal/infra/reputation"
)

// ─── Ledger API ─────────────────────────────────────────────────────────────
//
// POST /api/ledger/{subject}/earn      record an action occurrence (capped → 200)
// POST /api/ledger/{subject}/convert   tokens → currency
// POST /api/ledger/{subject}/spend     debit currency
// POST /api/ledger/{subject}/adjust    manual correction
// POST /api/ledger/{subject}/reverse   withdraw an entry
// POST /api/ledger/{subject}/disputes  open a dispute
// GET  /api/ledger/{subject}/balances  ?as_of=
// GET  /api/ledger/{subject}/score     ?as_of=
// GET  /api/ledger/{subject}/summary
// GET  /api/ledger/{subject}/remaining/{action}
// GET  /api/ledger/{subject}/history   ?action=&kind=&status=&from=&to=&limit=
// GET  /api/ledger/{subject}/plan      ?need=N | ?tier=Gold
// GET  /api/catalog
// GET  /api/debug/spans                ?limit=
// DELETE /api/debug/spans

type earnRequest struct {
	Action     string                 `json:"action"`
	Rewards    map[domain.Token]int64 `json:"rewards,omitempty"`
	ScoreDelta *int64                 `json:"score_delta,omitempty"`
	Meta       map[string]string      `json:"meta,omitempty"`
}

type convertRequest struct {
	Bundle map[domain.Token]int64 `json:"bundle"`
}

type spendRequest struct {
	Amount int64             `json:"amount"`
	Meta   map[string]string `json:"meta,omitempty"`
}

type adjustRequest struct {
	TokenDeltas map[domain.Token]int64 `json:"token_deltas"`
	ScoreDelta  int64                  `json:"score_delta"`
	Reason      string                 `json:"reason,omitempty"`
	Meta        map[string]string      `json:"meta,omitempty"`
}

type refRequest struct {
	EntryID string `json:"entry_id"`
	Reason  string `json:"reason"`
}

// ─── Commands ───────────────────────────────────────────────────────────────

func (s *Server) handleEarn(w http.ResponseWriter, r *http.Request) {
	var req earnRequest
	if !decodeBody(w, r, &req) {
		return
	}
	out, err := s.engine.Earn(r.Context(), chi.URLParam(r, "subject"), req.Action, rewards.EarnOptions{
		Rewards:    req.Rewards,
		ScoreDelta: req.ScoreDelta,
		Meta:       req.Meta,
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}
	status := http.StatusCreated
	if out.Capped {
		status = http.StatusOK
	}
	writeJSON(w, status, out)
}

func (s *Server) handleConvert(w http.ResponseWriter, r *http.Request) {
	var req convertRequest
	if !decodeBody(w, r, &req) {
		return
	}
	entry, err := s.engine.Convert(r.Context(), chi.URLParam(r, "subject"), req.Bundle)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

func (s *Server) handleSpend(w http.ResponseWriter, r *http.Request) {
	var req spendRequest
	if !decodeBody(w, r, &req) {
		return
	}
	entry, err := s.engine.Spend(r.Context(), chi.URLParam(r, "subject"), req.Amount, req.Meta)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

func (s *Server) handleAdjust(w http.ResponseWriter, r *http.Request) {
	var req adjustRequest
	if !decodeBody(w, r, &req) {
		return
	}
	reason := req.Reason
	if reason == "" {
		reason = req.Meta[domain.MetaReason]
	}
	entry, err := s.engine.Adjust(r.Context(), chi.URLParam(r, "subject"), rewards.Adjustment{
		TokenDeltas: req.TokenDeltas,
		ScoreDelta:  req.ScoreDelta,
		Reason:      reason,
		Meta:        req.Meta,
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

func (s *Server) handleReverse(w http.ResponseWriter, r *http.Request) {
	var req refRequest
	if !decodeBody(w, r, &req) {
		return
	}
	entry, err := s.engine.Reverse(r.Context(), chi.URLParam(r, "subject"), req.EntryID, req.Reason)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

func (s *Server) handleDispute(w http.ResponseWriter, r *http.Request) {
	var req refRequest
	if !decodeBody(w, r, &req) {
		return
	}
	entry, err := s.engine.OpenDispute(r.Context(), chi.URLParam(r, "subject"), req.EntryID, req.Reason)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

// ─── Queries ────────────────────────────────────────────────────────────────

func (s *Server) handleBalances(w http.ResponseWriter, r *http.Request) {
	asOf, ok := queryTime(w, r, "as_of")
	if !ok {
		return
	}
	subject := chi.URLParam(r, "subject")
	balances, err := s.engine.Balances(r.Context(), subject, asOf)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	resp := map[string]interface{}{
		"subject_id": subject,
		"balances":   balances,
	}
	if !asOf.IsZero() {
		resp["as_of"] = asOf
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleScore(w http.ResponseWriter, r *http.Request) {
	asOf, ok := queryTime(w, r, "as_of")
	if !ok {
		return
	}
	st, err := s.engine.Standing(r.Context(), chi.URLParam(r, "subject"), asOf)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	sum, err := s.engine.Summary(r.Context(), chi.URLParam(r, "subject"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (s *Server) handleRemaining(w http.ResponseWriter, r *http.Request) {
	rem, err := s.engine.Remaining(r.Context(), chi.URLParam(r, "subject"), chi.URLParam(r, "action"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rem)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := domain.EntryFilter{
		ActionKey: q.Get("action"),
		Kind:      domain.EntryKind(q.Get("kind")),
		Status:    domain.EntryStatus(q.Get("status")),
	}
	from, ok := queryTime(w, r, "from")
	if !ok {
		return
	}
	to, ok := queryTime(w, r, "to")
	if !ok {
		return
	}
	if !from.IsZero() {
		f.From = from.UnixMilli()
	}
	if !to.IsZero() {
		f.To = to.UnixMilli()
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "validation", "limit must be an integer")
			return
		}
		f.Limit = n
	}

	entries, err := s.engine.History(r.Context(), chi.URLParam(r, "subject"), f)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"entries": entries,
		"count":   len(entries),
	})
}

func (s *Server) handlePlan(w http.ResponseWriter, r *http.Request) {
	subject := chi.URLParam(r, "subject")
	q := r.URL.Query()

	if t := q.Get("tier"); t != "" {
		tier, err := reputation.ParseTier(t)
		if err != nil {
			writeError(w, http.StatusBadRequest, "validation", err.Error())
			return
		}
		plan, err := s.engine.PlanForTier(r.Context(), subject, tier)
		if err != nil {
			writeEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, plan)
		return
	}

	need, err := strconv.ParseInt(q.Get("need"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation", "need or tier is required")
		return
	}
	plan, err := s.engine.Plan(r.Context(), subject, need)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, plan)
}

func (s *Server) handleCatalog(w http.ResponseWriter, r *http.Request) {
	cat, err := s.engine.Catalog(r.Context())
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"version": cat.Version,
		"rules":   cat.Rules,
		"rates":   s.engine.Rates().Strings(),
		"tiers":   s.engine.Scale().Bands(),
	})
}

func (s *Server) handleSpans(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "validation", "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	spans := s.engine.Spans(limit)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"spans": spans,
		"count": len(spans),
		"total": s.engine.SpanCount(),
	})
}

func (s *Server) handleResetSpans(w http.ResponseWriter, r *http.Request) {
	s.engine.ResetSpans()
	w.WriteHeader(http.StatusNoContent)
}

// ─── Request Helpers ────────────────────────────────────────────────────────

// decodeBody decodes a JSON body, rejecting unknown fields. It writes the
// 400 response itself and returns false on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "validation", fmt.Sprintf("invalid request body: %v", err))
		return false
	}
	return true
}

// queryTime parses an RFC 3339 timestamp or epoch milliseconds. A missing
// parameter yields the zero time.
func queryTime(w http.ResponseWriter, r *http.Request, name string) (time.Time, bool) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return time.Time{}, true
	}
	if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC(), true
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation", fmt.Sprintf("%s: want RFC 3339 or epoch millis", name))
		return time.Time{}, false
	}
	return t.UTC(), true
}
