package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os/signal"
	"sync"
	"syscall"

	"github.com/fjod/go_cart/cart-engine/internal/domain"
	"github.com/fjod/go_cart/cart-engine/internal/poller"
	"github.com/fjod/go_cart/cart-engine/internal/service"
	"github.com/spf13/cobra"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Expire abandoned carts and drop checked-out ones",
		Long:  "serve runs the stale cart sweeper and, when KAFKA_BROKERS is set, the checkout event consumer.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withApp(cmd, func(ctx context.Context, app *App) error {
				ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
				defer stop()

				var wg sync.WaitGroup
				sweeper := poller.NewSweeper(app.Expirer, app.Log, app.Config.SweepInterval, app.Config.CartExpiry)
				wg.Add(1)
				go func() {
					defer wg.Done()
					sweeper.Run(ctx)
				}()
				app.Log.WithField("max_age", app.Config.CartExpiry.String()).Info("cart sweeper started")

				if len(app.Config.KafkaBrokers) > 0 {
					p := poller.NewPoller(app.Checkout, app.Log, app.Config.CheckoutTopic, app.Config.CheckoutGroup, app.Config.KafkaBrokers...)
					defer p.Close()

					wg.Add(1)
					go func() {
						defer wg.Done()
						p.Run(ctx)
					}()
					app.Log.WithField("topic", app.Config.CheckoutTopic).Info("checkout consumer started")
				} else {
					app.Log.Warn("KAFKA_BROKERS not set, checkout consumer disabled")
				}

				wg.Wait()
				app.Log.Info("serve stopped")
				return nil
			})
		},
	}
}

func newMutateCmd(opts *rootOptions) *cobra.Command {
	var (
		mode      string
		productID string
		variantID string
		key       string
		quantity  int
	)

	cmd := &cobra.Command{
		Use:   "mutate <cart|order> <id>",
		Short: "Add, change or remove a line",
		Long:  "Apply one quantity change. Lines are identified by --key or by --product and --variant.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := domain.ParseKind(args[0])
			if err != nil {
				return err
			}
			m, err := domain.ParseMode(mode)
			if err != nil {
				return err
			}
			req := domain.MutationRequest{
				Mode:        m,
				ProductID:   productID,
				VariantID:   variantID,
				Quantity:    quantity,
				CartItemKey: key,
			}

			return opts.withApp(cmd, func(ctx context.Context, app *App) error {
				res, err := app.Engine.Mutate(ctx, kind, args[1], req)
				if res != nil {
					if rerr := opts.renderResult(cmd, res); rerr != nil {
						return rerr
					}
				}
				return err
			})
		},
	}

	cmd.Flags().StringVar(&mode, "mode", "add", "One of add, increment, decrement, set, remove")
	cmd.Flags().StringVar(&productID, "product", "", "Product id")
	cmd.Flags().StringVar(&variantID, "variant", "", "Variant id")
	cmd.Flags().StringVar(&key, "key", "", "Cart item key of an existing line")
	cmd.Flags().IntVarP(&quantity, "qty", "q", 1, "Quantity")
	return cmd
}

func newShowCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <cart|order> <id>",
		Short: "Print a cart or order",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := domain.ParseKind(args[0])
			if err != nil {
				return err
			}
			return opts.withApp(cmd, func(ctx context.Context, app *App) error {
				agg, err := app.Engine.GetAggregate(ctx, kind, args[1])
				if err != nil {
					return err
				}
				if opts.jsonOutput {
					return writeJSON(cmd, agg)
				}
				fmt.Fprint(cmd.OutOrStdout(), RenderAggregate(agg))
				return nil
			})
		},
	}
}

func newRefreshCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh <cart|order> <id>",
		Short: "Re-read catalogue prices into non-sale lines",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.runAggregateOp(cmd, args, func(ctx context.Context, e Engine, kind domain.Kind, id string) (*service.Result, error) {
				return e.Refresh(ctx, kind, id)
			})
		},
	}
}

func newClearCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "clear <cart|order> <id>",
		Short: "Remove every line and restore held stock",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.runAggregateOp(cmd, args, func(ctx context.Context, e Engine, kind domain.Kind, id string) (*service.Result, error) {
				return e.Clear(ctx, kind, id)
			})
		},
	}
}

func (o *rootOptions) runAggregateOp(cmd *cobra.Command, args []string, op func(context.Context, Engine, domain.Kind, string) (*service.Result, error)) error {
	kind, err := domain.ParseKind(args[0])
	if err != nil {
		return err
	}
	return o.withApp(cmd, func(ctx context.Context, app *App) error {
		res, err := op(ctx, app.Engine, kind, args[1])
		if err != nil {
			return err
		}
		return o.renderResult(cmd, res)
	})
}

func (o *rootOptions) renderResult(cmd *cobra.Command, res *service.Result) error {
	if o.jsonOutput {
		return writeJSON(cmd, res)
	}
	fmt.Fprint(cmd.OutOrStdout(), RenderResult(res))
	return nil
}

func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
