// Package app wires up the swimkv command-line interface.
package app

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap/zapcore"

	"github.com/criticalstack/swimkv/cmd/swimkv/app/version"
	"github.com/criticalstack/swimkv/pkg/log"
)

var opts struct {
	Verbose bool
}

// NewCommand builds the root swimkv command.
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "swimkv",
		Short: "gossip-replicated key/value agent",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if opts.Verbose {
				log.SetLevel(zapcore.DebugLevel)
			}
		},
	}

	cmd.AddCommand(
		newRunCommand(),
		newMembersCommand(),
		version.NewCommand(),
	)

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose log output (debug)")
	return cmd
}
