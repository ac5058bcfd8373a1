package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/storefront/cartsync/internal/application/reconcile"
	"github.com/storefront/cartsync/internal/domain/cart"
	"github.com/storefront/cartsync/internal/domain/shared"
	"github.com/storefront/cartsync/internal/infrastructure/event"
)

// withApp opens the client for one command and closes it afterwards
func withApp(cmd *cobra.Command, opts *rootOptions, fn func(ctx context.Context, a *app) error) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, opts.configFile)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func newSyncCmd(opts *rootOptions) *cobra.Command {
	var watch bool
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Reconcile with the backend and print the effective cart",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				var changes *event.ChannelHandler
				if watch {
					changes = event.NewChannelHandler(64, cart.EventTypeCartChanged)
					a.bus.Subscribe(changes, cart.EventTypeCartChanged)
					defer a.bus.Unsubscribe(changes)
				}

				initializer := reconcile.NewInitializer(a.engine, a.holder, a.log.Named("initializer"))
				initializer.Start(ctx)
				defer initializer.Stop()
				initializer.Wait()

				if err := printState(opts, a.engine); err != nil {
					return err
				}
				if !watch {
					return nil
				}
				for {
					select {
					case <-ctx.Done():
						return nil
					case evt := <-changes.C():
						changed, ok := evt.(*cart.CartChangedEvent)
						if !ok || !reconcile.State(changed.Snapshot.State).Settled() {
							continue
						}
						if err := printCart(opts, changed.Snapshot); err != nil {
							return err
						}
					}
				}
			})
		},
	}
	cmd.Flags().BoolVar(&watch, "watch", false, "keep running and print the cart each time reconciliation settles")
	return cmd
}

func newLoginCmd(opts *rootOptions) *cobra.Command {
	var email, password, token string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and merge the guest cart into the account cart",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if token == "" && (email == "" || password == "") {
				return errors.New("either --token or both --email and --password are required")
			}
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				// settle whatever the stored session says before replacing it
				initializer := reconcile.NewInitializer(a.engine, a.holder, a.log.Named("initializer"))
				initializer.Start(ctx)
				defer initializer.Stop()
				initializer.Wait()
				wasAuthenticated := a.holder.State().Authenticated

				if token != "" {
					if err := a.holder.SignIn(ctx, token, nil); err != nil {
						return err
					}
				} else {
					result, err := a.identity.Login(ctx, email, password)
					if err != nil {
						if errors.Is(err, shared.ErrInvalidCredential) {
							return errors.New("login rejected: wrong email or password")
						}
						return fmt.Errorf("login: %w", err)
					}
					if err := a.holder.SignIn(ctx, result.Token, result.User); err != nil {
						return err
					}
				}
				initializer.Wait()
				if wasAuthenticated {
					// no auth flip, so nothing reconciled the new credential yet
					if err := a.engine.Reconcile(ctx); err != nil {
						a.log.Info("reconciliation settled in a fallback state", zap.Error(err))
					}
				}
				return printState(opts, a.engine)
			})
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().StringVar(&password, "password", "", "account password")
	cmd.Flags().StringVar(&token, "token", "", "use an existing session token instead of email and password")
	return cmd
}

func newLogoutCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out and go back to the guest cart",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				if a.holder.State().TokenPresent {
					logoutCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
					if err := a.identity.Logout(logoutCtx); err != nil {
						a.log.Warn("backend logout failed; clearing the local credential anyway", zap.Error(err))
					}
					cancel()
				}
				if err := a.holder.Invalidate(ctx); err != nil {
					return err
				}
				if err := a.engine.Initialize(ctx); err != nil {
					return err
				}
				return printState(opts, a.engine)
			})
		},
	}
}

func newAddCmd(opts *rootOptions) *cobra.Command {
	var item cart.LineItem
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a line to the guest cart",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				if err := a.engine.Initialize(ctx); err != nil {
					a.log.Info("reconciliation settled in a fallback state", zap.Error(err))
				}
				if err := a.engine.AddGuestItem(ctx, item); err != nil {
					if errors.Is(err, shared.ErrInvalidState) {
						return errors.New("signed in: the account cart is effective, guest lines cannot be added")
					}
					return err
				}
				return printState(opts, a.engine)
			})
		},
	}
	cmd.Flags().StringVar(&item.ProductID, "product", "", "product id")
	cmd.Flags().StringVar(&item.VariantKey, "variant", "", "variant key (color/size), empty for none")
	cmd.Flags().IntVar(&item.Quantity, "qty", 1, "quantity")
	_ = cmd.MarkFlagRequired("product")
	return cmd
}

func newMergeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "merge",
		Short: "Retry merging the guest cart into the account cart",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				if err := a.engine.Initialize(ctx); err != nil {
					a.log.Info("reconciliation settled in a fallback state", zap.Error(err))
				}
				if a.engine.State() != reconcile.StateMergeFailed {
					return printState(opts, a.engine)
				}
				op, err := a.engine.MergeGuestIntoAccount(ctx)
				if err != nil && op == nil {
					return err
				}
				if op != nil {
					fmt.Fprintf(opts.out, "merge %s: %s\n", op.ID, op.Outcome)
				}
				return printState(opts, a.engine)
			})
		},
	}
}

func newShowCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print local state without contacting the backend",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				items, err := a.guest.Load(ctx)
				if err != nil {
					return err
				}
				return printLocal(opts, a.holder.State().TokenPresent, items)
			})
		},
	}
}
