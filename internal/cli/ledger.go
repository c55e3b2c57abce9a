package cli

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tutu-network/shf/internal/app/rewards"
	"github.com/tutu-network/shf/internal/domain"
)

// ─── Ledger Commands ────────────────────────────────────────────────────────
// Everything that appends an entry to a subject's ledger.

func init() {
	rootCmd.AddCommand(earnCmd, convertCmd, spendCmd, adjustCmd, reverseCmd, disputeCmd)

	earnCmd.Flags().StringArrayP("reward", "r", nil, "Explicit reward TOKEN=N (repeatable, replaces catalog weights)")
	earnCmd.Flags().Int64("score", 0, "Explicit score delta (replaces the catalog value)")
	earnCmd.Flags().StringArray("meta", nil, "Metadata KEY=VALUE (repeatable)")

	spendCmd.Flags().String("note", "", "Free-form note stored with the entry")

	adjustCmd.Flags().String("reason", "", "Why the correction is made (required)")
	adjustCmd.Flags().Int64("score", 0, "Score delta")

	reverseCmd.Flags().String("reason", "", "Why the entry is withdrawn")
	disputeCmd.Flags().String("reason", "", "What is contested")
}

// ─── earn ───────────────────────────────────────────────────────────────────

var earnCmd = &cobra.Command{
	Use:   "earn ACTION",
	Short: "Record an occurrence of a catalog action",
	Long: `Record an occurrence of a catalog action. When any of the action's cap
windows is exhausted nothing is written and the command reports the binding
window and when it frees up.`,
	Args: cobra.ExactArgs(1),
	RunE: withRuntime(runEarn),
}

func runEarn(rt *runtime, cmd *cobra.Command, args []string) error {
	var opts rewards.EarnOptions

	raw, _ := cmd.Flags().GetStringArray("reward")
	if len(raw) > 0 {
		r, err := parseTokenAmounts(raw)
		if err != nil {
			return err
		}
		opts.Rewards = r
	}
	if cmd.Flags().Changed("score") {
		v, _ := cmd.Flags().GetInt64("score")
		opts.ScoreDelta = &v
	}
	metaRaw, _ := cmd.Flags().GetStringArray("meta")
	meta, err := parseMeta(metaRaw)
	if err != nil {
		return err
	}
	opts.Meta = meta

	out, err := rt.engine.Earn(cmd.Context(), rt.subject, args[0], opts)
	if err != nil {
		return err
	}
	return rt.emit(out, func(w io.Writer) {
		if out.Capped {
			fmt.Fprintf(w, "Capped: %s is exhausted for %s", args[0], out.Binding)
			if !out.ResetAt.IsZero() {
				fmt.Fprintf(w, " (frees up %s)", out.ResetAt.Local().Format("2006-01-02 15:04"))
			}
			fmt.Fprintln(w)
			return
		}
		printEntry(w, *out.Entry)
		fmt.Fprintf(w, "Remaining: week %s, month %s, quarter %s\n",
			allowance(out.Remaining.PerWeek), allowance(out.Remaining.PerMonth), allowance(out.Remaining.PerQuarter))
	})
}

// ─── convert ────────────────────────────────────────────────────────────────

var convertCmd = &cobra.Command{
	Use:   "convert TOKEN=N [TOKEN=N...]",
	Short: "Convert earned tokens into SHF",
	Long: `Convert a bundle of earned tokens into SHF at the configured rates. The
fractional part of the total is discarded and recorded on the entry.`,
	Args: cobra.MinimumNArgs(1),
	RunE: withRuntime(runConvert),
}

func runConvert(rt *runtime, cmd *cobra.Command, args []string) error {
	bundle, err := parseTokenAmounts(args)
	if err != nil {
		return err
	}
	entry, err := rt.engine.Convert(cmd.Context(), rt.subject, bundle)
	if err != nil {
		return err
	}
	return rt.emit(entry, func(w io.Writer) {
		printEntry(w, entry)
		if rem := entry.Meta["remainder"]; rem != "" && rem != "0" {
			fmt.Fprintf(w, "Discarded: %s %s\n", rem, domain.Currency)
		}
	})
}

// ─── spend ──────────────────────────────────────────────────────────────────

var spendCmd = &cobra.Command{
	Use:   "spend AMOUNT",
	Short: "Spend SHF",
	Args:  cobra.ExactArgs(1),
	RunE:  withRuntime(runSpend),
}

func runSpend(rt *runtime, cmd *cobra.Command, args []string) error {
	amount, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("amount %q: must be an integer", args[0])
	}
	var meta map[string]string
	if note, _ := cmd.Flags().GetString("note"); note != "" {
		meta = map[string]string{"note": note}
	}
	entry, err := rt.engine.Spend(cmd.Context(), rt.subject, amount, meta)
	if err != nil {
		return err
	}
	return rt.emit(entry, func(w io.Writer) { printEntry(w, entry) })
}

// ─── adjust ─────────────────────────────────────────────────────────────────

var adjustCmd = &cobra.Command{
	Use:   "adjust [TOKEN=±N...]",
	Short: "Post a manual correction",
	Args:  cobra.ArbitraryArgs,
	RunE:  withRuntime(runAdjust),
}

func runAdjust(rt *runtime, cmd *cobra.Command, args []string) error {
	deltas, err := parseTokenAmounts(args)
	if err != nil {
		return err
	}
	reason, _ := cmd.Flags().GetString("reason")
	score, _ := cmd.Flags().GetInt64("score")
	entry, err := rt.engine.Adjust(cmd.Context(), rt.subject, rewards.Adjustment{
		TokenDeltas: deltas,
		ScoreDelta:  score,
		Reason:      reason,
	})
	if err != nil {
		return err
	}
	return rt.emit(entry, func(w io.Writer) { printEntry(w, entry) })
}

// ─── reverse / dispute ──────────────────────────────────────────────────────

var reverseCmd = &cobra.Command{
	Use:   "reverse ENTRY_ID",
	Short: "Withdraw a posted entry",
	Args:  cobra.ExactArgs(1),
	RunE:  withRuntime(runReverse),
}

func runReverse(rt *runtime, cmd *cobra.Command, args []string) error {
	reason, _ := cmd.Flags().GetString("reason")
	entry, err := rt.engine.Reverse(cmd.Context(), rt.subject, args[0], reason)
	if err != nil {
		return err
	}
	return rt.emit(entry, func(w io.Writer) {
		fmt.Fprintf(w, "Reversed %s\n", args[0])
		printEntry(w, entry)
	})
}

var disputeCmd = &cobra.Command{
	Use:   "dispute ENTRY_ID",
	Short: "Open a dispute against an entry",
	Args:  cobra.ExactArgs(1),
	RunE:  withRuntime(runDispute),
}

func runDispute(rt *runtime, cmd *cobra.Command, args []string) error {
	reason, _ := cmd.Flags().GetString("reason")
	entry, err := rt.engine.OpenDispute(cmd.Context(), rt.subject, args[0], reason)
	if err != nil {
		return err
	}
	return rt.emit(entry, func(w io.Writer) { printEntry(w, entry) })
}

// ─── Parsing ────────────────────────────────────────────────────────────────

// parseTokenAmounts parses TOKEN=N pairs. Repeated tokens are summed.
func parseTokenAmounts(args []string) (map[domain.Token]int64, error) {
	out := make(map[domain.Token]int64, len(args))
	for _, arg := range args {
		k, v, ok := strings.Cut(arg, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("%q: want TOKEN=N", arg)
		}
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%q: amount must be an integer", arg)
		}
		out[domain.Token(k)] += n
	}
	return out, nil
}

// parseMeta parses KEY=VALUE pairs. A later key wins.
func parseMeta(args []string) (map[string]string, error) {
	if len(args) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(args))
	for _, arg := range args {
		k, v, ok := strings.Cut(arg, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("%q: want KEY=VALUE", arg)
		}
		out[k] = v
	}
	return out, nil
}

// ─── Printing ───────────────────────────────────────────────────────────────

func printEntry(w io.Writer, e domain.LedgerEntry) {
	fmt.Fprintf(w, "%s  #%d  %s", e.ID, e.Seq, e.Kind)
	if e.ActionKey != "" {
		fmt.Fprintf(w, "  %s", e.ActionKey)
	}
	fmt.Fprintln(w)
	if d := formatDeltas(e.TokenDeltas); d != "" {
		fmt.Fprintf(w, "  tokens: %s\n", d)
	}
	if e.ScoreDelta != 0 {
		fmt.Fprintf(w, "  score:  %+d\n", e.ScoreDelta)
	}
}

// formatDeltas renders deltas as "corn=+2 seeds=-1", sorted by token.
func formatDeltas(m map[domain.Token]int64) string {
	toks := make([]string, 0, len(m))
	for t, v := range m {
		if v != 0 {
			toks = append(toks, string(t))
		}
	}
	sort.Strings(toks)
	parts := make([]string, len(toks))
	for i, t := range toks {
		parts[i] = fmt.Sprintf("%s=%+d", t, m[domain.Token(t)])
	}
	return strings.Join(parts, " ")
}

func allowance(a rewards.Allowance) string {
	if a.IsUnlimited() {
		return "unlimited"
	}
	return strconv.FormatInt(int64(a), 10)
}
