// jiltctl administers a Jilt connector deployment from the command line.
// Each command performs a single operation, making it composable for scripts.
//
// Commands:
//
//	jiltctl migrate
//	jiltctl status
//	jiltctl link [--owner-name NAME] [--owner-email EMAIL]
//	jiltctl unlink
//	jiltctl push-shop
//	jiltctl refresh-key
//	jiltctl set-key --key KEY
//	jiltctl recovery-url --order-id ID --cart-token TOKEN
//	jiltctl sign --url URL --resource NAME [--method GET] [--param k=v]... [--send]
//
// Configuration is read the same way the connector reads it (CONFIG_FILE or
// environment). Commands that read or change the link need DATABASE_URL.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// rootOptions holds global flags for all commands.
type rootOptions struct {
	Verbose bool
	Quiet   bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "jiltctl",
		Short:         "Administer a Jilt connector",
		Long:          "Link, unlink and inspect the store's connection to Jilt, run migrations and build signed requests.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "log API calls to stderr")
	cmd.PersistentFlags().BoolVarP(&opts.Quiet, "quiet", "q", false, "only print the result value")

	cmd.AddCommand(newMigrateCommand(opts))
	cmd.AddCommand(newStatusCommand(opts))
	cmd.AddCommand(newLinkCommand(opts))
	cmd.AddCommand(newUnlinkCommand(opts))
	cmd.AddCommand(newPushShopCommand(opts))
	cmd.AddCommand(newRefreshKeyCommand(opts))
	cmd.AddCommand(newSetKeyCommand(opts))
	cmd.AddCommand(newRecoveryURLCommand(opts))
	cmd.AddCommand(newSignCommand(opts))

	return cmd
}

// logger writes debug logs to stderr in verbose mode and discards otherwise.
func (o *rootOptions) logger(cmd *cobra.Command) *slog.Logger {
	if !o.Verbose {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// printResult prints value alone in quiet mode, otherwise with a label.
func (o *rootOptions) printResult(cmd *cobra.Command, label string, value any) {
	if o.Quiet {
		fmt.Fprintln(cmd.OutOrStdout(), value)
		return
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: %v\n", label, value)
}
