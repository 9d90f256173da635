package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/petal-labs/talon/collect"
)

// NewCollectorsCmd creates the "collectors" subcommand.
func NewCollectorsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "collectors",
		Short: "List the builtin collectors usable as internal entries",
		Args:  cobra.NoArgs,
		RunE:  runCollectors,
	}
}

func runCollectors(cmd *cobra.Command, _ []string) error {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tDESCRIPTION")
	for _, def := range collect.Global().All() {
		fmt.Fprintf(w, "%s\t%s\n", def.Name, def.Description)
	}
	return w.Flush()
}
