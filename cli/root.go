package cli

import "github.com/spf13/cobra"

// RegisterGlobalFlags attaches the persistent flags shared by every
// subcommand to the root command.
func RegisterGlobalFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().Bool("verbose", false, "Enable verbose/debug logging")
	cmd.PersistentFlags().Bool("quiet", false, "Suppress all output except errors")
}

// resolveLogLevel picks the effective log level: --quiet wins over
// --verbose, which wins over --log-level. The global flags live on the
// root command, so lookups are nil-guarded for commands run standalone.
func resolveLogLevel(cmd *cobra.Command) string {
	if globalFlagSet(cmd, "quiet") {
		return "error"
	}
	if globalFlagSet(cmd, "verbose") {
		return "debug"
	}
	level, _ := cmd.Flags().GetString("log-level")
	return level
}

func globalFlagSet(cmd *cobra.Command, name string) bool {
	f := cmd.Flags().Lookup(name)
	if f == nil {
		f = cmd.InheritedFlags().Lookup(name)
	}
	return f != nil && f.Value.String() == "true"
}
