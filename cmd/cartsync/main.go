// Command cartsync is a storefront client: it keeps a guest cart locally,
// signs in against the storefront backend and reconciles the guest cart into
// the account cart.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// rootOptions are the persistent flags
type rootOptions struct {
	configFile string
	jsonOutput bool
	out        io.Writer
}

func newRootCmd(out io.Writer) *cobra.Command {
	opts := &rootOptions{out: out}
	root := &cobra.Command{
		Use:   "cartsync",
		Short: "Storefront cart and session client",
		Long: `cartsync keeps an anonymous cart on this machine and, once you sign in,
merges it into your account cart exactly once.

Available subcommands:
  sync   - Reconcile with the backend and print the effective cart
  login  - Sign in and merge the guest cart
  logout - Sign out and go back to the guest cart
  add    - Add a line to the guest cart
  merge  - Retry a failed merge
  show   - Print local state without contacting the backend`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)
	root.PersistentFlags().StringVar(&opts.configFile, "config", "", "config file (default ./cartsync.toml or $HOME/.cartsync/cartsync.toml)")
	root.PersistentFlags().BoolVar(&opts.jsonOutput, "json", false, "print snapshots as JSON")

	root.AddCommand(
		newSyncCmd(opts),
		newLoginCmd(opts),
		newLogoutCmd(opts),
		newAddCmd(opts),
		newMergeCmd(opts),
		newShowCmd(opts),
	)
	return root
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(os.Stdout).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "cartsync:", err)
		os.Exit(1)
	}
}
