package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version is stamped at build time with -ldflags.
var Version = "dev"

var (
	logLevel    string
	metricsAddr string
)

func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "tutorchat",
		Short:         "Real-time messaging client for the tutoring marketplace",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level override (trace, debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (empty disables)")
	cmd.AddCommand(newConversationsCmd())
	cmd.AddCommand(newChatCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the client version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "tutorchat %s\n", Version)
		},
	}
}
