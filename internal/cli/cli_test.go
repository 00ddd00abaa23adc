package cli_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/fjod/go_cart/cart-engine/internal/cli"
	"github.com/fjod/go_cart/cart-engine/internal/config"
	"github.com/fjod/go_cart/cart-engine/internal/domain"
	"github.com/fjod/go_cart/cart-engine/internal/service"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEngine struct {
	lastKind domain.Kind
	lastID   string
	lastReq  domain.MutationRequest
	result   *service.Result
	agg      *domain.Aggregate
	err      error
}

func (f *fakeEngine) Mutate(_ context.Context, kind domain.Kind, id string, req domain.MutationRequest) (*service.Result, error) {
	f.lastKind, f.lastID, f.lastReq = kind, id, req
	return f.result, f.err
}

func (f *fakeEngine) GetAggregate(_ context.Context, kind domain.Kind, id string) (*domain.Aggregate, error) {
	f.lastKind, f.lastID = kind, id
	return f.agg, f.err
}

func (f *fakeEngine) Refresh(_ context.Context, kind domain.Kind, id string) (*service.Result, error) {
	f.lastKind, f.lastID = kind, id
	return f.result, f.err
}

func (f *fakeEngine) Clear(_ context.Context, kind domain.Kind, id string) (*service.Result, error) {
	f.lastKind, f.lastID = kind, id
	return f.result, f.err
}

func opener(e *fakeEngine) cli.Opener {
	return func(context.Context, string) (*cli.App, error) {
		return &cli.App{Engine: e}, nil
	}
}

func sampleCart() *domain.Aggregate {
	agg := domain.NewAggregate(domain.KindCart, "c1", time.Unix(0, 0))
	agg.Items = []domain.LineItem{{
		CartItemKey:     "p1:v1:sale:abcd1234",
		ProductID:       "p1",
		VariantID:       "v1",
		Tier:            domain.TierSale,
		Quantity:        3,
		ProductSnapshot: domain.ProductSnapshot{ProductID: "p1", Name: "Cold Brew"},
		VariantSnapshot: domain.Variant{VariantID: "v1", Title: "500ml"},
		LineTotals: domain.LineTotals{
			UnitPriceExcl: decimal.RequireFromString("8.00"),
			FinalIncl:     decimal.RequireFromString("27.60"),
		},
	}}
	agg.Totals.SubtotalExcl = decimal.RequireFromString("24.00")
	agg.Totals.FinalIncl = decimal.RequireFromString("27.60")
	agg.ItemCount = 3
	return agg
}

func run(t *testing.T, e *fakeEngine, args ...string) (string, error) {
	t.Helper()
	cmd := cli.NewRootCmdForTest(opener(e))
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestMutateCommand(t *testing.T) {
	e := &fakeEngine{result: &service.Result{
		Aggregate: sampleCart(),
		Outcome:   domain.Warning("Added at regular price", "Sale stock unavailable; added 2 at regular price."),
		Delta:     domain.StockDelta{Sale: 3},
	}}

	out, err := run(t, e, "mutate", "cart", "c1", "--mode", "add", "--product", "p1", "--variant", "v1", "-q", "5")
	require.NoError(t, err)

	assert.Equal(t, domain.KindCart, e.lastKind)
	assert.Equal(t, "c1", e.lastID)
	assert.Equal(t, domain.MutationRequest{Mode: domain.ModeAdd, ProductID: "p1", VariantID: "v1", Quantity: 5}, e.lastReq)
	assert.Contains(t, out, "Sale stock unavailable; added 2 at regular price.")
	assert.Contains(t, out, "Cold Brew (500ml)")
	assert.Contains(t, out, "27.60")
	assert.Contains(t, out, "sale +3")
}

func TestMutateCommand_JSON(t *testing.T) {
	e := &fakeEngine{result: &service.Result{Aggregate: sampleCart(), Outcome: domain.Success("Cart updated", "ok")}}

	out, err := run(t, e, "mutate", "cart", "c1", "--mode", "SET", "--key", "p1:v1:sale:abcd1234", "-q", "3", "--json")
	require.NoError(t, err)
	assert.Equal(t, domain.ModeSet, e.lastReq.Mode)

	var decoded service.Result
	require.NoError(t, json.Unmarshal([]byte(out), &decoded))
	assert.Equal(t, domain.OutcomeSuccess, decoded.Outcome.Type)
	assert.Equal(t, "c1", decoded.Aggregate.AggregateID)
	assert.True(t, decoded.Aggregate.Totals.FinalIncl.Equal(decimal.RequireFromString("27.6")))
}

func TestMutateCommand_SupplierVetoPrintsOutcomeAndFails(t *testing.T) {
	veto := domain.SupplierUnavailable(domain.ErrSupplierOutOfStock, "product p1")
	e := &fakeEngine{
		result: &service.Result{Aggregate: sampleCart(), Outcome: domain.Failure("Unavailable", "This item is currently unavailable from the supplier")},
		err:    veto,
	}

	out, err := run(t, e, "mutate", "cart", "c1", "--product", "p1", "--variant", "v1")
	assert.ErrorIs(t, err, domain.ErrSupplierOutOfStock)
	assert.Contains(t, out, "This item is currently unavailable from the supplier")
}

func TestMutateCommand_BadArguments(t *testing.T) {
	e := &fakeEngine{}

	_, err := run(t, e, "mutate", "basket", "c1")
	assert.ErrorIs(t, err, domain.ErrInvalidKind)

	_, err = run(t, e, "mutate", "cart", "c1", "--mode", "explode")
	assert.ErrorIs(t, err, domain.ErrInvalidMode)

	_, err = run(t, e, "mutate", "cart")
	assert.Error(t, err)
}

func TestShowCommand(t *testing.T) {
	e := &fakeEngine{agg: sampleCart()}

	out, err := run(t, e, "show", "cart", "c1")
	require.NoError(t, err)
	assert.Contains(t, out, "Cart c1")
	assert.Contains(t, out, "p1:v1:sale:abcd1234")
	assert.Contains(t, out, "24.00")
}

func TestShowCommand_NotFound(t *testing.T) {
	e := &fakeEngine{err: domain.NotFound(domain.ErrOrderNotFound, "order o1")}

	_, err := run(t, e, "show", "order", "o1")
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)
	assert.Equal(t, domain.KindOrder, e.lastKind)
}

func TestShowCommand_EmptyCart(t *testing.T) {
	e := &fakeEngine{agg: domain.NewAggregate(domain.KindCart, "c2", time.Unix(0, 0))}

	out, err := run(t, e, "show", "cart", "c2")
	require.NoError(t, err)
	assert.Contains(t, out, "empty")
}

func TestRefreshCommand(t *testing.T) {
	e := &fakeEngine{result: &service.Result{
		Aggregate: sampleCart(),
		Outcome:   domain.Warning("Items changed", "1 item(s) in your cart changed"),
		Outcomes:  []domain.Outcome{domain.Warning("Price changed", "Price of Cold Brew (500ml) changed from 10.00 to 11.00")},
	}}

	out, err := run(t, e, "refresh", "cart", "c1")
	require.NoError(t, err)
	assert.Contains(t, out, "changed from 10.00 to 11.00")
}

func TestClearCommand(t *testing.T) {
	e := &fakeEngine{result: &service.Result{
		Aggregate: domain.NewAggregate(domain.KindOrder, "o1", time.Unix(0, 0)),
		Outcome:   domain.Success("Order cleared", "All items removed from your order"),
		Delta:     domain.StockDelta{Sale: -2},
	}}

	out, err := run(t, e, "clear", "order", "o1")
	require.NoError(t, err)
	assert.Equal(t, domain.KindOrder, e.lastKind)
	assert.Contains(t, out, "All items removed from your order")
	assert.Contains(t, out, "sale -2")
}

func TestClearCommand_Error(t *testing.T) {
	e := &fakeEngine{err: errors.New("database error")}

	_, err := run(t, e, "clear", "cart", "c1")
	assert.ErrorContains(t, err, "database error")
}

func TestOpenerError(t *testing.T) {
	cmd := cli.NewRootCmdForTest(func(context.Context, string) (*cli.App, error) {
		return nil, errors.New("no mongo")
	})
	cmd.SetOut(new(bytes.Buffer))
	cmd.SetArgs([]string{"show", "cart", "c1"})
	assert.ErrorContains(t, cmd.Execute(), "no mongo")
}

type countingExpirer struct {
	calls  chan time.Time
	cancel context.CancelFunc
}

func (c *countingExpirer) ExpireStaleCarts(_ context.Context, before time.Time) (int, error) {
	c.calls <- before
	c.cancel()
	return 0, nil
}

func TestServeCommand_SweepsWithoutKafka(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	exp := &countingExpirer{calls: make(chan time.Time, 4), cancel: cancel}

	cmd := cli.NewRootCmdForTest(func(context.Context, string) (*cli.App, error) {
		log := logrus.New()
		log.SetOutput(io.Discard)
		return &cli.App{
			Config:  &config.Config{CartExpiry: 48 * time.Hour, SweepInterval: time.Hour},
			Log:     log,
			Engine:  &fakeEngine{},
			Expirer: exp,
		}, nil
	})
	cmd.SetArgs([]string{"serve"})

	start := time.Now()
	require.NoError(t, cmd.ExecuteContext(ctx))

	require.Len(t, exp.calls, 1)
	before := <-exp.calls
	assert.WithinDuration(t, start.Add(-48*time.Hour), before, time.Minute)
}
