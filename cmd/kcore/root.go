package main

import (
	"time"

	"github.com/spf13/cobra"
)

type rootOptions struct {
	configPath string
	logLevel   string
	allocator  string
	heartbeat  time.Duration
	headless   bool
}

func newRootCmd() *cobra.Command {
	var opts rootOptions
	cmd := &cobra.Command{
		Use:   "kcore",
		Short: "Run the kernel core on the host",
		Long: `kcore boots the kernel with a simulated CPU. Timer interrupts come from a
host ticker, and keyboard interrupts from stdin, which is switched to raw mode
when it is a terminal.

Example:
  kcore
  kcore --config kcore.toml --heartbeat 5s
  printf 'hello\rq' | kcore --headless`,
		Version:       "0.1.0",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts, cmd.InOrStdin(), cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
	cmd.Flags().StringVarP(&opts.configPath, "config", "c", "", "TOML boot configuration")
	cmd.Flags().StringVar(&opts.logLevel, "log-level", "", "Override log_level")
	cmd.Flags().StringVar(&opts.allocator, "allocator", "", "Override allocator (freelist or bump)")
	cmd.Flags().DurationVar(&opts.heartbeat, "heartbeat", 0, "Log kernel stats at this interval of kernel time (0 disables)")
	cmd.Flags().BoolVar(&opts.headless, "headless", false, "Never switch the terminal to raw mode")
	return cmd
}
