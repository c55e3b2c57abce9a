package cli

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/tutu-network/shf/internal/app/planner"
	"github.com/tutu-network/shf/internal/domain"
	"github.com/tutu-network/shf/internal/infra/reputation"
)

// ─── Query Commands ─────────────────────────────────────────────────────────

func init() {
	rootCmd.AddCommand(balanceCmd, scoreCmd, remainingCmd, historyCmd, planCmd, catalogCmd, summaryCmd)

	balanceCmd.Flags().String("as-of", "", "Evaluate at an earlier instant (RFC 3339)")
	scoreCmd.Flags().String("as-of", "", "Evaluate at an earlier instant (RFC 3339)")

	historyCmd.Flags().String("action", "", "Only entries for this action")
	historyCmd.Flags().String("kind", "", "Only entries of this kind (earn|convert|spend|adjustment|dispute)")
	historyCmd.Flags().String("status", "", "Only entries with this status (posted|reversed)")
	historyCmd.Flags().IntP("limit", "n", 20, "Newest N entries (0 = all)")

	planCmd.Flags().String("tier", "", "Plan to reach a tier instead of a point count")
}

// ─── balance ────────────────────────────────────────────────────────────────

var balanceCmd = &cobra.Command{
	Use:   "balance",
	Short: "Show token and SHF balances",
	Args:  cobra.NoArgs,
	RunE: withRuntime(func(rt *runtime, cmd *cobra.Command, _ []string) error {
		asOf, err := asOfFlag(cmd)
		if err != nil {
			return err
		}
		bal, err := rt.engine.Balances(cmd.Context(), rt.subject, asOf)
		if err != nil {
			return err
		}
		return rt.emit(bal, func(w io.Writer) {
			tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "TOKEN\tBALANCE")
			for _, t := range sortedBalanceTokens(bal) {
				fmt.Fprintf(tw, "%s\t%d\n", t, bal[t])
			}
			tw.Flush()
		})
	}),
}

// ─── score ──────────────────────────────────────────────────────────────────

var scoreCmd = &cobra.Command{
	Use:   "score",
	Short: "Show reputation score and tier",
	Args:  cobra.NoArgs,
	RunE: withRuntime(func(rt *runtime, cmd *cobra.Command, _ []string) error {
		asOf, err := asOfFlag(cmd)
		if err != nil {
			return err
		}
		st, err := rt.engine.Standing(cmd.Context(), rt.subject, asOf)
		if err != nil {
			return err
		}
		return rt.emit(st, func(w io.Writer) { printStanding(w, st) })
	}),
}

func printStanding(w io.Writer, st reputation.Standing) {
	fmt.Fprintf(w, "Score: %d (%s, %d-%d)\n", st.Score, st.Tier, st.BandLow, st.BandHigh)
	if st.NextTier != "" {
		fmt.Fprintf(w, "Next:  %s in %d points\n", st.NextTier, st.ToNext)
	} else {
		fmt.Fprintln(w, "Next:  top tier")
	}
}

// ─── remaining ──────────────────────────────────────────────────────────────

var remainingCmd = &cobra.Command{
	Use:   "remaining ACTION",
	Short: "Show how many more times an action can be rewarded",
	Args:  cobra.ExactArgs(1),
	RunE: withRuntime(func(rt *runtime, cmd *cobra.Command, args []string) error {
		rem, err := rt.engine.Remaining(cmd.Context(), rt.subject, args[0])
		if err != nil {
			return err
		}
		return rt.emit(rem, func(w io.Writer) {
			tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "WINDOW\tUSED\tLIMIT\tREMAINING\tFREES UP")
			for _, u := range rem.Windows {
				reset := "-"
				if !u.ResetAt.IsZero() {
					reset = u.ResetAt.Local().Format("2006-01-02 15:04")
				}
				fmt.Fprintf(tw, "%s\t%d\t%d\t%s\t%s\n", u.Window, u.Used, u.Limit, allowance(u.Remaining), reset)
			}
			tw.Flush()
			if len(rem.Windows) == 0 {
				fmt.Fprintf(w, "%s is uncapped\n", rem.ActionKey)
			}
		})
	}),
}

// ─── history ────────────────────────────────────────────────────────────────

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List ledger entries",
	Args:  cobra.NoArgs,
	RunE: withRuntime(func(rt *runtime, cmd *cobra.Command, _ []string) error {
		f := domain.EntryFilter{}
		f.ActionKey, _ = cmd.Flags().GetString("action")
		kind, _ := cmd.Flags().GetString("kind")
		f.Kind = domain.EntryKind(kind)
		status, _ := cmd.Flags().GetString("status")
		f.Status = domain.EntryStatus(status)
		f.Limit, _ = cmd.Flags().GetInt("limit")

		entries, err := rt.engine.History(cmd.Context(), rt.subject, f)
		if err != nil {
			return err
		}
		return rt.emit(entries, func(w io.Writer) {
			if len(entries) == 0 {
				fmt.Fprintln(w, "No entries.")
				return
			}
			tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "SEQ\tTIME\tKIND\tACTION\tTOKENS\tSCORE\tSTATUS\tID")
			for _, e := range entries {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%+d\t%s\t%s\n",
					e.Seq, e.Time().Local().Format("2006-01-02 15:04"), e.Kind, dash(e.ActionKey),
					dash(formatDeltas(e.TokenDeltas)), e.ScoreDelta, e.Status, e.ID)
			}
			tw.Flush()
		})
	}),
}

// ─── plan ───────────────────────────────────────────────────────────────────

var planCmd = &cobra.Command{
	Use:   "plan [POINTS]",
	Short: "Recommend actions that close a score gap",
	Long: `Recommend catalog actions, highest estimated points first, until POINTS
are covered. With --tier the gap is the distance to that tier. Actions whose
caps are exhausted are skipped.`,
	Args: cobra.MaximumNArgs(1),
	RunE: withRuntime(func(rt *runtime, cmd *cobra.Command, args []string) error {
		var (
			plan planner.Plan
			err  error
		)
		tierName, _ := cmd.Flags().GetString("tier")
		switch {
		case tierName != "":
			tier, perr := reputation.ParseTier(tierName)
			if perr != nil {
				return perr
			}
			plan, err = rt.engine.PlanForTier(cmd.Context(), rt.subject, tier)
		case len(args) == 1:
			need, perr := strconv.ParseInt(args[0], 10, 64)
			if perr != nil {
				return fmt.Errorf("points %q: must be an integer", args[0])
			}
			plan, err = rt.engine.Plan(cmd.Context(), rt.subject, need)
		default:
			return fmt.Errorf("give POINTS or --tier")
		}
		if err != nil {
			return err
		}
		return rt.emit(plan, func(w io.Writer) { printPlan(w, plan) })
	}),
}

func printPlan(w io.Writer, plan planner.Plan) {
	if plan.Need <= 0 {
		fmt.Fprintln(w, "Nothing to do.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tACTION\tPOINTS\tTOTAL")
	for i, s := range plan.Steps {
		fmt.Fprintf(tw, "%d\t%s\t%d\t%d\n", i+1, s.ActionKey, s.Points, s.Cumulative)
	}
	tw.Flush()
	for _, s := range plan.Skipped {
		fmt.Fprintf(w, "Skipped %s (capped by %s)\n", s.ActionKey, s.Binding)
	}
	if plan.Satisfied {
		fmt.Fprintf(w, "Covers %d of %d points.\n", plan.Achievable, plan.Need)
	} else {
		fmt.Fprintf(w, "Short: only %d of %d points available now.\n", plan.Achievable, plan.Need)
	}
}

// ─── catalog / summary ──────────────────────────────────────────────────────

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "List reward rules and conversion rates",
	Args:  cobra.NoArgs,
	RunE: withRuntime(func(rt *runtime, cmd *cobra.Command, _ []string) error {
		cat, err := rt.engine.Catalog(cmd.Context())
		if err != nil {
			return err
		}
		rates := rt.engine.Rates()
		bands := rt.engine.Scale().Bands()
		view := map[string]interface{}{"version": cat.Version, "rules": cat.Rules, "rates": rates.Strings(), "tiers": bands}
		return rt.emit(view, func(w io.Writer) {
			fmt.Fprintf(w, "Catalog v%d\n\n", cat.Version)
			tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ACTION\tREWARD\tSCORE\tWEEK\tMONTH\tQUARTER")
			for _, r := range cat.Rules {
				fmt.Fprintf(tw, "%s\t%s\t%+d\t%s\t%s\t%s\n", r.ActionKey, dash(formatDeltas(r.RewardTokens())),
					r.RewardScore(), capText(r.Cap.PerWeek), capText(r.Cap.PerMonth), capText(r.Cap.PerQuarter))
			}
			tw.Flush()
			fmt.Fprintln(w)
			for _, t := range rates.Tokens() {
				rate, _ := rates.Rate(t)
				fmt.Fprintf(w, "1 %s = %s %s\n", t, rate.String(), domain.Currency)
			}
			fmt.Fprintln(w)
			for _, b := range bands {
				fmt.Fprintf(w, "%-10s %d-%d\n", b.Tier, b.Min, b.Max)
			}
		})
	}),
}

var summaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Show balances, standing and capped actions",
	Args:  cobra.NoArgs,
	RunE: withRuntime(func(rt *runtime, cmd *cobra.Command, _ []string) error {
		sum, err := rt.engine.Summary(cmd.Context(), rt.subject)
		if err != nil {
			return err
		}
		return rt.emit(sum, func(w io.Writer) {
			fmt.Fprintf(w, "Subject: %s (%d entries, head #%d)\n", sum.SubjectID, sum.Entries, sum.HeadSeq)
			printStanding(w, sum.Standing)
			fmt.Fprintln(w)
			for _, t := range sortedBalanceTokens(sum.Balances) {
				fmt.Fprintf(w, "%-8s %d\n", t, sum.Balances[t])
			}
			for _, c := range sum.Capped {
				if u, ok := c.Binding(); ok {
					fmt.Fprintf(w, "Capped: %s (%s, frees up %s)\n", c.ActionKey, u.Window, u.ResetAt.Local().Format("2006-01-02 15:04"))
				}
			}
		})
	}),
}

// ─── Helpers ────────────────────────────────────────────────────────────────

func asOfFlag(cmd *cobra.Command) (time.Time, error) {
	v, _ := cmd.Flags().GetString("as-of")
	if v == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("--as-of: %w", err)
	}
	return t, nil
}

// sortedBalanceTokens lists tokens alphabetically with the currency last.
func sortedBalanceTokens(bal map[domain.Token]int64) []domain.Token {
	out := make([]domain.Token, 0, len(bal))
	for t := range bal {
		if t != domain.Currency {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	if _, ok := bal[domain.Currency]; ok {
		out = append(out, domain.Currency)
	}
	return out
}

func capText(p *int) string {
	if p == nil {
		return "-"
	}
	return strconv.Itoa(*p)
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
