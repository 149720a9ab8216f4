package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ent0n29/solace/internal/contextwin"
	"github.com/ent0n29/solace/internal/policy"
)

var classifyCmd = &cobra.Command{
	Use:   "classify [text]",
	Short: "Print the risk level, matched terms and token estimate for a message",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		text := strings.Join(args, " ")
		a := policy.Assess(text)
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "level:  %s\n", a.Level)
		if len(a.Hits) > 0 {
			fmt.Fprintf(out, "hits:   %s\n", strings.Join(a.Hits, ", "))
		}
		fmt.Fprintf(out, "tokens: %d\n", contextwin.Estimate(text))
		return nil
	},
}
