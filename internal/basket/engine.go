// Package basket holds the engine that reserves stock against baskets and
// prices them into receipts.
//
// CreateBasket and AddItems run under a single process-wide lock from the
// moment products are loaded until the reserved stock is flushed, so two
// requests can never reserve the same unit. CompleteCheckout takes the same
// lock. RemoveItems, CalculateReceipt and GetBasket never touch stock and run
// without it.
//
// Basket writes are versioned. A RemoveItems that raced another write gets
// ErrBasketConflict from the store and is retried from a fresh read, and so
// is a locked call that raced a RemoveItems.
package basket

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fjod/electronics-store/internal/cache"
	"github.com/fjod/electronics-store/internal/discount"
	"github.com/fjod/electronics-store/internal/domain"
	"github.com/fjod/electronics-store/pkg/logger"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	tracerName = "github.com/fjod/electronics-store/internal/basket"

	maxWriteAttempts = 5
	flightTimeout    = 10 * time.Second
)

type Engine struct {
	mu sync.Mutex // guards every stock-affecting call, load through flush

	products  ProductLookup
	baskets   BasketStore
	calc      *discount.Calculator
	cache     cache.BasketCache
	publisher EventPublisher
	logger    *zap.Logger
	tracer    trace.Tracer
	sfg       singleflight.Group // collapses concurrent cache misses per basket
	now       func() time.Time
}

type Option func(*Engine)

func WithCache(c cache.BasketCache) Option {
	return func(e *Engine) {
		if c != nil {
			e.cache = c
		}
	}
}

func WithPublisher(p EventPublisher) Option {
	return func(e *Engine) {
		e.publisher = p
	}
}

// WithClock overrides time.Now for item and basket timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

func NewEngine(products ProductLookup, baskets BasketStore, calc *discount.Calculator, log *zap.Logger, opts ...Option) *Engine {
	if calc == nil {
		calc = discount.NewCalculator()
	}
	if log == nil {
		log = zap.NewNop()
	}
	e := &Engine{
		products: products,
		baskets:  baskets,
		calc:     calc,
		cache:    cache.NoopCache{},
		logger:   log,
		tracer:   otel.Tracer(tracerName),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// CreateBasket opens an ACTIVE basket and admits every requested line whose
// product exists and has enough stock. Other lines are skipped, not failed.
func (e *Engine) CreateBasket(ctx context.Context, items []domain.ItemRequest) (*Admission, error) {
	ctx, span := e.tracer.Start(ctx, "Engine.CreateBasket",
		trace.WithAttributes(attribute.Int("basket.items_requested", len(items))))
	defer span.End()

	adm, events, err := e.create(ctx, items)
	if err != nil {
		return nil, recordError(span, err)
	}
	annotate(span, adm)

	e.publish(ctx, append([]domain.Event{admissionEvent(domain.EventBasketCreated, adm)}, events...)...)
	return adm, nil
}

func (e *Engine) create(ctx context.Context, items []domain.ItemRequest) (*Admission, []domain.Event, error) {
	log := logger.WithTrace(ctx, e.logger)

	e.mu.Lock()
	defer e.mu.Unlock()

	products, err := e.products.FindProducts(ctx, requestedProductIDs(items))
	if err != nil {
		return nil, nil, fmt.Errorf("load products: %w", err)
	}
	byID := make(map[string]*domain.Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}

	now := e.now().UTC()
	b := &domain.Basket{
		ID:        uuid.NewString(),
		Status:    domain.BasketStatusActive,
		Items:     []domain.BasketItem{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	adm := &Admission{Basket: b}
	touched := newTouchedProducts()

	for _, item := range items {
		product, ok := byID[item.ProductID]
		if !ok {
			log.Warn("skipping item, product not found", zap.String("product_id", item.ProductID))
			adm.skip(item, SkipProductNotFound)
			continue
		}
		admit(log, adm, touched, product, item, now)
	}

	saved, err := e.baskets.SaveAndFlush(ctx, b, touched.order)
	if err != nil {
		return nil, nil, fmt.Errorf("save basket: %w", err)
	}
	adm.Basket = saved

	return adm, outOfStockEvents(log, touched, now), nil
}

// AddItems reserves stock for the requested lines and appends them to an
// ACTIVE basket. An unknown product aborts the whole call with nothing
// persisted; insufficient stock only skips that line.
func (e *Engine) AddItems(ctx context.Context, basketID string, items []domain.ItemRequest) (*Admission, error) {
	ctx, span := e.tracer.Start(ctx, "Engine.AddItems", trace.WithAttributes(
		attribute.String("basket.id", basketID),
		attribute.Int("basket.items_requested", len(items)),
	))
	defer span.End()

	adm, events, err := e.add(ctx, basketID, items)
	if err != nil {
		return nil, recordError(span, err)
	}
	annotate(span, adm)

	e.invalidate(ctx, basketID)
	e.publish(ctx, append([]domain.Event{admissionEvent(domain.EventBasketItemsAdded, adm)}, events...)...)
	return adm, nil
}

func (e *Engine) add(ctx context.Context, basketID string, items []domain.ItemRequest) (*Admission, []domain.Event, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var (
		adm    *Admission
		events []domain.Event
	)
	// a lock-free RemoveItems can commit between the load and the flush
	err := e.retryOnConflict(ctx, basketID, func() error {
		var err error
		adm, events, err = e.tryAdd(ctx, basketID, items)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return adm, events, nil
}

func (e *Engine) tryAdd(ctx context.Context, basketID string, items []domain.ItemRequest) (*Admission, []domain.Event, error) {
	log := logger.WithTrace(ctx, e.logger)

	b, err := e.baskets.FindBasket(ctx, basketID)
	if err != nil {
		return nil, nil, fmt.Errorf("find basket %s: %w", basketID, err)
	}
	if !b.IsActive() {
		return nil, nil, fmt.Errorf("add items to basket %s: %w", basketID, domain.ErrAlreadyCheckedOut)
	}

	now := e.now().UTC()
	adm := &Admission{Basket: b}
	touched := newTouchedProducts()
	// lines for the same product must see the stock left by earlier lines
	loaded := make(map[string]*domain.Product, len(items))

	for _, item := range items {
		product, ok := loaded[item.ProductID]
		if !ok {
			product, err = e.products.FindProduct(ctx, item.ProductID)
			if err != nil {
				return nil, nil, fmt.Errorf("find product %s: %w", item.ProductID, err)
			}
			loaded[item.ProductID] = product
		}
		admit(log, adm, touched, product, item, now)
	}
	if len(adm.Added) > 0 {
		b.UpdatedAt = now
	}

	saved, err := e.baskets.SaveAndFlush(ctx, b, touched.order)
	if err != nil {
		return nil, nil, fmt.Errorf("save basket %s: %w", basketID, err)
	}
	adm.Basket = saved

	return adm, outOfStockEvents(log, touched, now), nil
}

// RemoveItems drops the items with the given ids. Stock is not restored.
// Unknown item ids are ignored.
func (e *Engine) RemoveItems(ctx context.Context, basketID string, itemIDs []string) (*domain.Basket, error) {
	ctx, span := e.tracer.Start(ctx, "Engine.RemoveItems", trace.WithAttributes(
		attribute.String("basket.id", basketID),
		attribute.Int("basket.items_requested", len(itemIDs)),
	))
	defer span.End()

	var (
		saved   *domain.Basket
		removed int
		now     time.Time
	)
	err := e.retryOnConflict(ctx, basketID, func() error {
		var err error
		saved, removed, now, err = e.tryRemove(ctx, basketID, itemIDs)
		return err
	})
	if err != nil {
		return nil, recordError(span, err)
	}
	span.SetAttributes(attribute.Int("basket.items_removed", removed))

	e.invalidate(ctx, basketID)
	if removed > 0 {
		e.publish(ctx, domain.Event{
			Type:        domain.EventBasketItemsRemoved,
			AggregateID: basketID,
			Payload: map[string]any{
				"items_removed":   removed,
				"items_remaining": len(saved.Items),
			},
			OccurredAt: now,
		})
	}
	return saved, nil
}

// tryRemove takes no lock. The store refuses the write if the basket was
// changed or checked out after it was read.
func (e *Engine) tryRemove(ctx context.Context, basketID string, itemIDs []string) (*domain.Basket, int, time.Time, error) {
	b, err := e.baskets.FindBasket(ctx, basketID)
	if err != nil {
		return nil, 0, time.Time{}, fmt.Errorf("find basket %s: %w", basketID, err)
	}
	if !b.IsActive() {
		return nil, 0, time.Time{}, fmt.Errorf("remove items from basket %s: %w", basketID, domain.ErrAlreadyCheckedOut)
	}

	removed := b.RemoveItems(itemIDs)
	now := e.now().UTC()
	if removed > 0 {
		b.UpdatedAt = now
	}

	saved, err := e.baskets.SaveBasket(ctx, b)
	if err != nil {
		return nil, 0, time.Time{}, fmt.Errorf("save basket %s: %w", basketID, err)
	}
	return saved, removed, now, nil
}

// CompleteCheckout moves an ACTIVE basket to CHECKED_OUT once the external
// checkout has finished. Completing an already checked-out basket is a no-op,
// so a redelivered notification is harmless.
func (e *Engine) CompleteCheckout(ctx context.Context, basketID string) error {
	ctx, span := e.tracer.Start(ctx, "Engine.CompleteCheckout",
		trace.WithAttributes(attribute.String("basket.id", basketID)))
	defer span.End()

	changed, now, err := e.checkout(ctx, basketID)
	if err != nil {
		return recordError(span, err)
	}
	span.SetAttributes(attribute.Bool("basket.status_changed", changed))
	if !changed {
		return nil
	}

	e.invalidate(ctx, basketID)
	e.publish(ctx, domain.Event{
		Type:        domain.EventBasketCheckedOut,
		AggregateID: basketID,
		Payload:     map[string]any{"status": domain.BasketStatusCheckedOut.String()},
		OccurredAt:  now,
	})
	return nil
}

func (e *Engine) checkout(ctx context.Context, basketID string) (bool, time.Time, error) {
	// serialized with AddItems so an add cannot land after the status flips
	e.mu.Lock()
	defer e.mu.Unlock()

	var (
		changed bool
		now     time.Time
	)
	err := e.retryOnConflict(ctx, basketID, func() error {
		b, err := e.baskets.FindBasket(ctx, basketID)
		if err != nil {
			return fmt.Errorf("find basket %s: %w", basketID, err)
		}
		if b.Status.IsTerminal() {
			changed = false
			return nil
		}

		now = e.now().UTC()
		b.Status = domain.BasketStatusCheckedOut
		b.UpdatedAt = now
		if _, err := e.baskets.SaveBasket(ctx, b); err != nil {
			return fmt.Errorf("save basket %s: %w", basketID, err)
		}
		changed = true
		return nil
	})
	if err != nil {
		return false, time.Time{}, err
	}
	if changed {
		logger.WithTrace(ctx, e.logger).Info("basket checked out", zap.String("basket_id", basketID))
	}
	return changed, now, nil
}

// retryOnConflict reruns fn while the store reports that the basket changed
// between read and write, up to maxWriteAttempts times.
func (e *Engine) retryOnConflict(ctx context.Context, basketID string, fn func() error) error {
	var err error
	for attempt := 1; attempt <= maxWriteAttempts; attempt++ {
		if err = fn(); !errors.Is(err, domain.ErrBasketConflict) {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		logger.WithTrace(ctx, e.logger).Debug("basket changed concurrently, retrying",
			zap.String("basket_id", basketID), zap.Int("attempt", attempt))
	}
	return err
}

// CalculateReceipt prices every item against its product's current price and
// deals. Nothing is stored and nothing is cached.
func (e *Engine) CalculateReceipt(ctx context.Context, basketID string) (*domain.Receipt, error) {
	ctx, span := e.tracer.Start(ctx, "Engine.CalculateReceipt",
		trace.WithAttributes(attribute.String("basket.id", basketID)))
	defer span.End()

	b, err := e.baskets.FindBasket(ctx, basketID)
	if err != nil {
		return nil, recordError(span, fmt.Errorf("find basket %s: %w", basketID, err))
	}

	products, err := e.products.FindProducts(ctx, b.ProductIDs())
	if err != nil {
		return nil, recordError(span, fmt.Errorf("load products: %w", err))
	}
	byID := make(map[string]*domain.Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}

	receipt := &domain.Receipt{
		BasketID: b.ID,
		Lines:    make([]domain.ReceiptLine, 0, len(b.Items)),
		Total:    decimal.Zero,
	}
	for _, item := range b.Items {
		product, ok := byID[item.ProductID]
		if !ok {
			return nil, recordError(span, fmt.Errorf("price item %s: product %s: %w", item.ID, item.ProductID, domain.ErrProductNotFound))
		}

		original := product.Price.Mul(decimal.NewFromInt(int64(item.Quantity)))
		disc := e.calc.TotalDiscount(product.Deals, product.Price, item.Quantity)
		final := original.Sub(disc)

		receipt.Lines = append(receipt.Lines, domain.ReceiptLine{
			ProductID:     product.ID,
			ProductName:   product.Name,
			Quantity:      item.Quantity,
			OriginalPrice: original,
			Discount:      disc,
			FinalPrice:    final,
		})
		receipt.Total = receipt.Total.Add(final)
	}

	span.SetAttributes(attribute.String("receipt.total", receipt.Total.StringFixed(2)))
	return receipt, nil
}

// GetBasket reads through the cache. Concurrent misses for one basket share a
// single store read.
func (e *Engine) GetBasket(ctx context.Context, basketID string) (*domain.Basket, error) {
	ctx, span := e.tracer.Start(ctx, "Engine.GetBasket",
		trace.WithAttributes(attribute.String("basket.id", basketID)))
	defer span.End()

	v, err, _ := e.sfg.Do(basketID, func() (interface{}, error) {
		// the flight is shared, so one caller giving up must not fail the others
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), flightTimeout)
		defer cancel()
		log := logger.WithTrace(ctx, e.logger)

		b, err := e.cache.Get(ctx, basketID)
		if err == nil {
			span.SetAttributes(attribute.Bool("cache.hit", true))
			return b, nil
		}
		if !errors.Is(err, cache.ErrCacheMiss) {
			log.Warn("cache get error", zap.String("basket_id", basketID), zap.Error(err))
		}

		b, err = e.baskets.FindBasket(ctx, basketID)
		if err != nil {
			return nil, fmt.Errorf("find basket %s: %w", basketID, err)
		}

		if err := e.cache.Set(ctx, basketID, b); err != nil {
			log.Warn("cache set error", zap.String("basket_id", basketID), zap.Error(err))
		}
		return b, nil
	})
	if err != nil {
		return nil, recordError(span, err)
	}

	// the value is shared between every caller of this flight
	return v.(*domain.Basket).Clone(), nil
}

func admit(log *zap.Logger, adm *Admission, touched *touchedProducts, product *domain.Product, item domain.ItemRequest, now time.Time) {
	if item.Quantity <= 0 {
		log.Warn("skipping item, non-positive quantity",
			zap.String("product_id", item.ProductID), zap.Int("quantity", item.Quantity))
		adm.skip(item, SkipInvalidQuantity)
		return
	}
	if !product.Reserve(item.Quantity) {
		log.Warn("skipping item, insufficient stock",
			zap.String("product_id", product.ID),
			zap.Int("requested", item.Quantity),
			zap.Int("stock", product.Stock),
		)
		adm.skip(item, SkipInsufficientStock)
		return
	}

	touched.add(product)
	adm.Basket.Items = append(adm.Basket.Items, domain.BasketItem{
		ID:        uuid.NewString(),
		BasketID:  adm.Basket.ID,
		ProductID: product.ID,
		Quantity:  item.Quantity,
		AddedAt:   now,
	})
	adm.Added = append(adm.Added, item)
}

func (e *Engine) invalidate(ctx context.Context, basketID string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
	defer cancel()
	if err := e.cache.Delete(ctx, basketID); err != nil {
		logger.WithTrace(ctx, e.logger).Warn("cache invalidate error",
			zap.String("basket_id", basketID), zap.Error(err))
	}
}

// publish runs after the lock is released. Failures are logged and dropped.
func (e *Engine) publish(ctx context.Context, events ...domain.Event) {
	if e.publisher == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	for _, evt := range events {
		if err := e.publisher.Publish(ctx, evt); err != nil {
			logger.WithTrace(ctx, e.logger).Warn("failed to publish event",
				zap.String("event_type", string(evt.Type)),
				zap.String("aggregate_id", evt.AggregateID),
				zap.Error(err),
			)
		}
	}
}

func admissionEvent(t domain.EventType, adm *Admission) domain.Event {
	added := make([]map[string]any, 0, len(adm.Added))
	for _, item := range adm.Added {
		added = append(added, map[string]any{"product_id": item.ProductID, "quantity": item.Quantity})
	}
	return domain.Event{
		Type:        t,
		AggregateID: adm.Basket.ID,
		Payload: map[string]any{
			"items_added":   added,
			"items_skipped": len(adm.Skipped),
		},
		OccurredAt: adm.Basket.UpdatedAt,
	}
}

func outOfStockEvents(log *zap.Logger, touched *touchedProducts, now time.Time) []domain.Event {
	var events []domain.Event
	for _, p := range touched.depleted() {
		log.Info("product out of stock", zap.String("product_id", p.ID), zap.String("product_name", p.Name))
		events = append(events, domain.Event{
			Type:        domain.EventProductOutOfStock,
			AggregateID: p.ID,
			Payload:     map[string]any{"product_id": p.ID, "product_name": p.Name},
			OccurredAt:  now,
		})
	}
	return events
}

func requestedProductIDs(items []domain.ItemRequest) []string {
	seen := make(map[string]struct{}, len(items))
	ids := make([]string, 0, len(items))
	for _, item := range items {
		if _, ok := seen[item.ProductID]; ok {
			continue
		}
		seen[item.ProductID] = struct{}{}
		ids = append(ids, item.ProductID)
	}
	return ids
}

func annotate(span trace.Span, adm *Admission) {
	span.SetAttributes(
		attribute.String("basket.id", adm.Basket.ID),
		attribute.Int("basket.items_added", len(adm.Added)),
		attribute.Int("basket.items_skipped", len(adm.Skipped)),
	)
}

func recordError(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
