package main

import (
	"encoding/json"
	"fmt"
	"os"
	"slices"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/pavelanni/recitation/internal/bank"
)

func bankCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bank",
		Short: "Show the reference bank as loaded by the server",
		Long: "Without --unit, lists every unit with its sessions and card counts.\n" +
			"With --unit and --session, prints the cards of that session as JSON.",
		RunE: runBank,
	}
	f := cmd.Flags()
	f.String("bank-dir", "data/question_bank", "Directory with one reference CSV per unit")
	f.String("bank-suffix", bank.DefaultSuffix, "File name suffix of reference CSVs")
	f.String("unit", "", "Unit to print")
	f.Int("session", 0, "Session index to print (with --unit)")
	f.String("log-level", "warn", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
	return cmd
}

func runBank(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	refs, err := bank.LoadDir(v.GetString("bank-dir"), v.GetString("bank-suffix"))
	if err != nil {
		return fmt.Errorf("load reference bank: %w", err)
	}

	out := cmd.OutOrStdout()
	if unit := v.GetString("unit"); unit != "" {
		session := v.GetInt("session")
		cards, ok := refs.GetSession(unit, session)
		if !ok {
			return fmt.Errorf("no cards for %s/%d", unit, session)
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		enc.SetEscapeHTML(false)
		return enc.Encode(cards)
	}

	units := refs.Units()
	if len(units) == 0 {
		fmt.Fprintln(os.Stderr, "no units found")
		return nil
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "UNIT\tSESSION\tCARDS")
	for _, u := range units {
		sessions := make([]int, 0, len(u.Sessions))
		for s := range u.Sessions {
			sessions = append(sessions, s)
		}
		slices.Sort(sessions)
		for _, s := range sessions {
			fmt.Fprintf(tw, "%s\t%d\t%d\n", u.UnitID, s, u.Sessions[s])
		}
	}
	return tw.Flush()
}
