// Package trading runs the barter matching engine: an incoming order is
// funded, booked, matched against resting orders and settled in a single
// unit of work.
package trading

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/Aidin1998/barterex/internal/bookkeeper"
	"github.com/Aidin1998/barterex/internal/messaging"
	"github.com/Aidin1998/barterex/internal/orderbook"
	"github.com/Aidin1998/barterex/internal/reservation"
	"github.com/Aidin1998/barterex/internal/store"
	"github.com/Aidin1998/barterex/pkg/metrics"
	"github.com/Aidin1998/barterex/pkg/models"
	"github.com/Aidin1998/barterex/pkg/validation"
)

const tracerName = "github.com/Aidin1998/barterex/internal/trading"

// OrderRequest asks to give up to AmountToSell of ItemToSell for
// AmountToBuy of ItemToBuy.
type OrderRequest struct {
	Account      string `json:"account" validate:"required,max=64,name"`
	World        string `json:"world" validate:"required,max=64,name"`
	ItemToBuy    string `json:"item_to_buy" validate:"required,max=128,name,nefield=ItemToSell"`
	ItemToSell   string `json:"item_to_sell" validate:"required,max=128,name"`
	AmountToBuy  int64  `json:"amount_to_buy" validate:"gt=0,lte=2147483647"`
	AmountToSell int64  `json:"amount_to_sell" validate:"gt=0,lte=2147483647"`
}

// Result is the outcome of one accepted order.
type Result struct {
	Order     *models.Order  `json:"order"`
	Filled    int64          `json:"filled"`
	Remaining int64          `json:"remaining"`
	Fills     []*models.Fill `json:"fills"`
}

// Engine matches orders. It is safe for concurrent use; isolation between
// submissions comes from the store.
type Engine struct {
	store        store.Store
	logger       *zap.Logger
	publisher    messaging.FillPublisher
	validate     *validator.Validate
	book         orderbook.Book
	ledger       bookkeeper.Ledger
	reservations reservation.View
	now          func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithPublisher announces committed fills through p.
func WithPublisher(p messaging.FillPublisher) Option {
	return func(e *Engine) {
		if p != nil {
			e.publisher = p
		}
	}
}

// WithClock overrides the fill timestamp source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates a matching engine over st.
func NewEngine(logger *zap.Logger, st store.Store, opts ...Option) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		store:     st,
		logger:    logger,
		publisher: messaging.NopPublisher{},
		validate:  validation.New(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Validate checks req without touching the store.
func (e *Engine) Validate(req OrderRequest) error {
	if err := e.validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return fmt.Errorf("%w: %s", ErrInvalidOrder, describe(verrs))
		}
		return fmt.Errorf("%w: %v", ErrInvalidOrder, err)
	}
	if models.GCD(req.AmountToBuy, req.AmountToSell) == 0 {
		return fmt.Errorf("%w: amounts have no common ratio", ErrInvalidOrder)
	}
	return nil
}

func describe(verrs validator.ValidationErrors) string {
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			parts = append(parts, fe.Field()+" is required")
		case "nefield":
			parts = append(parts, fe.Field()+" must differ from "+fe.Param())
		case "gt":
			parts = append(parts, fe.Field()+" must be positive")
		case validation.NameTag:
			parts = append(parts, fe.Field()+" contains markup, control characters or surrounding space")
		default:
			parts = append(parts, fmt.Sprintf("%s fails %s=%s", fe.Field(), fe.Tag(), fe.Param()))
		}
	}
	return strings.Join(parts, "; ")
}

// SubmitOrder validates req, checks the account can fund it, books it and
// matches it against resting orders, all in one unit of work. On any error
// nothing is written. Committed fills are then published; a publish failure
// is logged and does not fail the call.
func (e *Engine) SubmitOrder(ctx context.Context, req OrderRequest) (*Result, error) {
	start := time.Now()
	ctx, span := otel.Tracer(tracerName).Start(ctx, "trading.SubmitOrder")
	defer span.End()
	span.SetAttributes(
		attribute.String("barterex.world", req.World),
		attribute.String("barterex.item_to_buy", req.ItemToBuy),
		attribute.String("barterex.item_to_sell", req.ItemToSell),
	)

	res, err := e.submit(ctx, req)
	metrics.OrderMatchLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		e.observeFailure(req, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, string(KindOf(err)))
		return nil, err
	}

	metrics.OrdersSubmitted.WithLabelValues(metrics.OutcomeAccepted).Inc()
	metrics.FillsExecuted.Add(float64(len(res.Fills)))
	for _, f := range res.Fills {
		metrics.FillUnits.WithLabelValues(f.TakerItem).Add(float64(f.TakerReceived))
		metrics.FillUnits.WithLabelValues(f.MakerItem).Add(float64(f.MakerReceived))
	}
	span.SetAttributes(
		attribute.Int64("barterex.order_id", int64(res.Order.ID)),
		attribute.Int64("barterex.filled", res.Filled),
		attribute.Int("barterex.fills", len(res.Fills)),
	)
	e.logger.Info("Order accepted",
		zap.Uint64("order_id", res.Order.ID),
		zap.String("account", req.Account),
		zap.String("world", req.World),
		zap.Int64("filled", res.Filled),
		zap.Int64("remaining", res.Remaining),
		zap.Int("fills", len(res.Fills)))

	if err := e.publisher.PublishFills(ctx, res.Fills); err != nil {
		e.logger.Error("Failed to publish fills",
			zap.Uint64("order_id", res.Order.ID), zap.Error(err))
	}
	return res, nil
}

func (e *Engine) submit(ctx context.Context, req OrderRequest) (*Result, error) {
	if err := e.Validate(req); err != nil {
		return nil, err
	}
	var res *Result
	err := e.store.WithinTx(ctx, func(tx store.Tx) error {
		r, err := e.match(ctx, tx, req)
		res = r
		return err
	})
	if err != nil {
		return nil, translate(err)
	}
	return res, nil
}

func (e *Engine) observeFailure(req OrderRequest, err error) {
	fields := []zap.Field{
		zap.String("account", req.Account),
		zap.String("world", req.World),
		zap.Error(err),
	}
	switch KindOf(err) {
	case KindInvalidOrder:
		metrics.OrdersSubmitted.WithLabelValues(metrics.OutcomeInvalid).Inc()
		e.logger.Debug("Order rejected", fields...)
	case KindInsufficientFunds:
		metrics.OrdersSubmitted.WithLabelValues(metrics.OutcomeInsufficientFunds).Inc()
		e.logger.Debug("Order rejected", fields...)
	case KindConcurrencyConflict:
		metrics.OrdersSubmitted.WithLabelValues(metrics.OutcomeConflict).Inc()
		e.logger.Warn("Order lost a concurrent update", fields...)
	default:
		metrics.OrdersSubmitted.WithLabelValues(metrics.OutcomeStorageFailure).Inc()
		e.logger.Error("Order failed", fields...)
	}
}

// match runs inside the unit of work.
func (e *Engine) match(ctx context.Context, tx store.Tx, req OrderRequest) (*Result, error) {
	available, err := e.reservations.Available(ctx, tx, req.Account, req.World, req.ItemToSell)
	if err != nil {
		return nil, err
	}
	if available < req.AmountToSell {
		return nil, &bookkeeper.InsufficientFundsError{
			Account:   req.Account,
			World:     req.World,
			Item:      req.ItemToSell,
			Available: max(available, 0),
			Required:  req.AmountToSell,
		}
	}

	taker := &models.Order{
		Account:      req.Account,
		World:        req.World,
		ItemToBuy:    req.ItemToBuy,
		ItemToSell:   req.ItemToSell,
		AmountToBuy:  req.AmountToBuy,
		AmountToSell: req.AmountToSell,
	}
	if err := e.book.Insert(ctx, tx, taker); err != nil {
		return nil, err
	}

	var (
		filled int64 // units of ItemToBuy received
		spent  int64 // units of ItemToSell given
		fills  []*models.Fill
	)
	candidates := e.book.OpenOrdersFor(ctx, tx, orderbook.Query{
		World:          req.World,
		ItemToBuy:      req.ItemToBuy,
		ItemToSell:     req.ItemToSell,
		ExcludeAccount: req.Account,
		Limit:          taker,
	})
	for maker, err := range candidates {
		if err != nil {
			return nil, err
		}
		need := taker.AmountToBuy - filled
		if need == 0 {
			break
		}
		if !models.Crosses(maker, taker) {
			continue
		}

		// lotBuy is in the taker's sell item, lotSell in the taker's buy item
		lotBuy, lotSell := maker.Lot()
		units := min(
			maker.Remaining()/lotBuy,
			maker.Unspent()/lotSell,
			need/lotSell,
			(taker.AmountToSell-spent)/lotBuy,
		)
		if units < 1 {
			continue
		}
		takerGets := units * lotSell
		makerGets := units * lotBuy

		fill, err := e.settle(ctx, tx, taker, maker, takerGets, makerGets)
		if err != nil {
			return nil, err
		}
		filled += takerGets
		spent += makerGets
		fills = append(fills, fill)

		e.logger.Debug("Fill executed",
			zap.Uint64("taker_order_id", taker.ID),
			zap.Uint64("maker_order_id", maker.ID),
			zap.Int64("units", units),
			zap.Int64("taker_received", takerGets),
			zap.Int64("maker_received", makerGets))
	}

	if err := e.book.ApplyFill(ctx, tx, taker, filled, spent); err != nil {
		return nil, err
	}
	return &Result{
		Order:     taker,
		Filled:    filled,
		Remaining: taker.AmountToBuy - filled,
		Fills:     fills,
	}, nil
}

// settle moves the items of one fill between taker and maker and records it.
func (e *Engine) settle(ctx context.Context, tx store.Tx, taker, maker *models.Order, takerGets, makerGets int64) (*models.Fill, error) {
	world := taker.World
	if err := e.ledger.Credit(ctx, tx, taker.Account, world, taker.ItemToBuy, takerGets); err != nil {
		return nil, err
	}
	if err := e.ledger.Credit(ctx, tx, maker.Account, world, taker.ItemToSell, makerGets); err != nil {
		return nil, err
	}
	if err := e.ledger.Debit(ctx, tx, taker.Account, world, taker.ItemToSell, makerGets); err != nil {
		return nil, err
	}
	if err := e.ledger.Debit(ctx, tx, maker.Account, world, taker.ItemToBuy, takerGets); err != nil {
		return nil, fmt.Errorf("maker order %d: %w", maker.ID, err)
	}
	if err := e.book.ApplyFill(ctx, tx, maker, makerGets, takerGets); err != nil {
		return nil, err
	}

	fill := &models.Fill{
		ID:            uuid.NewString(),
		World:         world,
		TakerOrderID:  taker.ID,
		MakerOrderID:  maker.ID,
		TakerAccount:  taker.Account,
		MakerAccount:  maker.Account,
		TakerItem:     taker.ItemToBuy,
		TakerReceived: takerGets,
		MakerItem:     taker.ItemToSell,
		MakerReceived: makerGets,
		CreatedAt:     e.now(),
	}
	if err := tx.Fills().Insert(ctx, fill); err != nil {
		return nil, fmt.Errorf("record fill: %w", err)
	}
	return fill, nil
}

// Order returns one order with the fills it took part in.
func (e *Engine) Order(ctx context.Context, id uint64) (*models.Order, []*models.Fill, error) {
	var (
		order *models.Order
		fills []*models.Fill
	)
	err := e.store.WithinTx(ctx, func(tx store.Tx) error {
		o, err := e.book.Get(ctx, tx, id)
		if err != nil {
			return err
		}
		f, err := e.book.Fills(ctx, tx, id)
		if err != nil {
			return err
		}
		order, fills = o, f
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return order, fills, nil
}

// OrdersForItem lists open orders in world that trade item, split into asks
// and bids. An empty account lists every account's orders.
func (e *Engine) OrdersForItem(ctx context.Context, world, account, item string) (asks, bids []orderbook.Entry, err error) {
	err = e.store.WithinTx(ctx, func(tx store.Tx) error {
		entries, err := e.book.OrdersForAccountItem(ctx, tx, world, account, item)
		if err != nil {
			return err
		}
		asks, bids = nil, nil
		for _, en := range entries {
			if en.Side == orderbook.SideAsk {
				asks = append(asks, en)
			} else {
				bids = append(bids, en)
			}
		}
		return nil
	})
	return asks, bids, err
}
