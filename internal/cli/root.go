package cli

import (
	"context"

	"github.com/fjod/go_cart/cart-engine/internal/config"
	"github.com/fjod/go_cart/cart-engine/internal/domain"
	"github.com/fjod/go_cart/cart-engine/internal/poller"
	"github.com/fjod/go_cart/cart-engine/internal/service"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// Engine is the part of the cart service the commands drive.
type Engine interface {
	Mutate(ctx context.Context, kind domain.Kind, aggregateID string, req domain.MutationRequest) (*service.Result, error)
	GetAggregate(ctx context.Context, kind domain.Kind, aggregateID string) (*domain.Aggregate, error)
	Refresh(ctx context.Context, kind domain.Kind, aggregateID string) (*service.Result, error)
	Clear(ctx context.Context, kind domain.Kind, aggregateID string) (*service.Result, error)
}

// App is everything a command needs once configuration is loaded.
type App struct {
	Config   *config.Config
	Log      *logrus.Logger
	Engine   Engine
	Checkout poller.CheckoutHandler
	Expirer  poller.CartExpirer
	Close    func()
}

// Opener builds an App. Tests swap it for an in-memory one.
type Opener func(ctx context.Context, envFile string) (*App, error)

type rootOptions struct {
	open       Opener
	envFile    string
	jsonOutput bool
}

func newRootCmd(open Opener) *cobra.Command {
	opts := &rootOptions{open: open}

	cmd := &cobra.Command{
		Use:           "cart-engine",
		Short:         "Stock-aware cart and order line engine",
		Long:          "cart-engine applies quantity changes to carts and orders, splitting sale overflow to regular price and keeping sale and rental stock counters in step.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "Optional file with environment variables")
	cmd.PersistentFlags().BoolVar(&opts.jsonOutput, "json", false, "Output as JSON")

	cmd.AddCommand(newServeCmd(opts))
	cmd.AddCommand(newMutateCmd(opts))
	cmd.AddCommand(newShowCmd(opts))
	cmd.AddCommand(newRefreshCmd(opts))
	cmd.AddCommand(newClearCmd(opts))
	return cmd
}

// NewRootCmdForTest returns the root command wired to open.
func NewRootCmdForTest(open Opener) *cobra.Command {
	return newRootCmd(open)
}

func Execute() error {
	return newRootCmd(OpenApp).Execute()
}

// withApp opens the App for the duration of run.
func (o *rootOptions) withApp(cmd *cobra.Command, run func(ctx context.Context, app *App) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	app, err := o.open(ctx, o.envFile)
	if err != nil {
		return err
	}
	if app.Close != nil {
		defer app.Close()
	}
	return run(ctx, app)
}
