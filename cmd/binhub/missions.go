package main

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/ecotionbuddy/binhub/internal/mission"
	"github.com/spf13/cobra"
)

func newMissionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "missions",
		Short: "List the built-in mission catalogue",
		Run: func(cmd *cobra.Command, args []string) {
			printCatalogue(cmd.OutOrStdout(), mission.Catalogue)
		},
	}
}

func printCatalogue(out io.Writer, defs []mission.Definition) {
	fmt.Fprintf(out, "%-20s %-8s %6s %6s %4s  %s\n", "ID", "TYPE", "TARGET", "REWARD", "DAYS", "REQUIREMENTS")
	for _, d := range defs {
		fmt.Fprintf(out, "%-20s %-8s %6d %6d %4d  %s\n", d.ID, d.Type, d.Target, d.RewardPoints, d.DurationDays, formatRequirements(d.Requirements))
	}
}

func formatRequirements(reqs map[string]string) string {
	if len(reqs) == 0 {
		return "-"
	}
	keys := make([]string, 0, len(reqs))
	for k := range reqs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + reqs[k]
	}
	return strings.Join(parts, ",")
}
