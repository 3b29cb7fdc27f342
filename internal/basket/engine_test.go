package basket

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fjod/electronics-store/internal/cache"
	"github.com/fjod/electronics-store/internal/domain"
	"github.com/fjod/electronics-store/internal/store"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, evt domain.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
	return p.err
}

func (p *recordingPublisher) types() []domain.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.EventType, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

type mapCache struct {
	mu      sync.Mutex
	entries map[string]*domain.Basket
	gets    int
	deletes int
}

func newMapCache() *mapCache {
	return &mapCache{entries: make(map[string]*domain.Basket)}
}

func (c *mapCache) Get(_ context.Context, id string) (*domain.Basket, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gets++
	b, ok := c.entries[id]
	if !ok {
		return nil, cache.ErrCacheMiss
	}
	return b.Clone(), nil
}

func (c *mapCache) Set(_ context.Context, id string, b *domain.Basket) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[id] = b.Clone()
	return nil
}

func (c *mapCache) Delete(_ context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deletes++
	delete(c.entries, id)
	return nil
}

type fixture struct {
	engine    *Engine
	store     *store.MemoryStore
	publisher *recordingPublisher
	cache     *mapCache
}

func setupEngine(t *testing.T) *fixture {
	t.Helper()
	s := store.NewMemoryStore()
	pub := &recordingPublisher{}
	c := newMapCache()
	e := NewEngine(s, s, nil, zaptest.NewLogger(t), WithPublisher(pub), WithCache(c))
	return &fixture{engine: e, store: s, publisher: pub, cache: c}
}

func (f *fixture) product(t *testing.T, id, price string, stock int, deals ...domain.Deal) {
	t.Helper()
	ctx := context.Background()
	var dealIDs []string
	if len(deals) > 0 {
		saved, err := f.store.SaveDeals(ctx, deals)
		require.NoError(t, err)
		for _, d := range saved {
			dealIDs = append(dealIDs, d.ID)
		}
	}
	_, err := f.store.CreateProduct(ctx, &domain.Product{
		ID:        id,
		Name:      "Product " + id,
		Category:  domain.CategoryAccessory,
		Price:     decimal.RequireFromString(price),
		Stock:     stock,
		Available: stock > 0,
	})
	require.NoError(t, err)
	if len(dealIDs) > 0 {
		_, err = f.store.AttachDeals(ctx, id, dealIDs)
		require.NoError(t, err)
	}
}

func (f *fixture) stock(t *testing.T, id string) (int, bool) {
	t.Helper()
	p, err := f.store.FindProduct(context.Background(), id)
	require.NoError(t, err)
	return p.Stock, p.Available
}

func item(productID string, qty int) domain.ItemRequest {
	return domain.ItemRequest{ProductID: productID, Quantity: qty}
}

func TestCreateBasket_AdmitsAndSkips(t *testing.T) {
	f := setupEngine(t)
	f.product(t, "p-1", "10.00", 5)
	f.product(t, "p-2", "20.00", 1)

	adm, err := f.engine.CreateBasket(context.Background(), []domain.ItemRequest{
		item("p-1", 2),
		item("missing", 1),
		item("p-2", 3),
		item("p-1", 0),
	})
	require.NoError(t, err)

	assert.Equal(t, domain.BasketStatusActive, adm.Basket.Status)
	require.Len(t, adm.Basket.Items, 1)
	assert.Equal(t, "p-1", adm.Basket.Items[0].ProductID)
	assert.Equal(t, adm.Basket.ID, adm.Basket.Items[0].BasketID)
	assert.Equal(t, []domain.ItemRequest{item("p-1", 2)}, adm.Added)

	require.Len(t, adm.Skipped, 3)
	assert.Equal(t, SkipProductNotFound, adm.Skipped[0].Reason)
	assert.Equal(t, SkipInsufficientStock, adm.Skipped[1].Reason)
	assert.Equal(t, SkipInvalidQuantity, adm.Skipped[2].Reason)

	stock, available := f.stock(t, "p-1")
	assert.Equal(t, 3, stock)
	assert.True(t, available)
	stock, _ = f.stock(t, "p-2")
	assert.Equal(t, 1, stock, "skipped item leaves stock untouched")

	stored, err := f.store.FindBasket(context.Background(), adm.Basket.ID)
	require.NoError(t, err)
	assert.Len(t, stored.Items, 1)
}

func TestCreateBasket_EmptyRequest(t *testing.T) {
	f := setupEngine(t)

	adm, err := f.engine.CreateBasket(context.Background(), nil)
	require.NoError(t, err)
	assert.NotEmpty(t, adm.Basket.ID)
	assert.Empty(t, adm.Basket.Items)
}

func TestCreateBasket_DuplicateLinesShareStock(t *testing.T) {
	f := setupEngine(t)
	f.product(t, "p-1", "10.00", 3)

	adm, err := f.engine.CreateBasket(context.Background(), []domain.ItemRequest{
		item("p-1", 2),
		item("p-1", 2),
		item("p-1", 1),
	})
	require.NoError(t, err)

	assert.Len(t, adm.Added, 2)
	require.Len(t, adm.Skipped, 1)
	assert.Equal(t, 2, adm.Skipped[0].Quantity)

	stock, available := f.stock(t, "p-1")
	assert.Equal(t, 0, stock)
	assert.False(t, available, "stock at zero flips availability")
}

func TestCreateBasket_PublishesEvents(t *testing.T) {
	f := setupEngine(t)
	f.product(t, "p-1", "10.00", 1)

	adm, err := f.engine.CreateBasket(context.Background(), []domain.ItemRequest{item("p-1", 1)})
	require.NoError(t, err)

	assert.Equal(t, []domain.EventType{domain.EventBasketCreated, domain.EventProductOutOfStock}, f.publisher.types())
	assert.Equal(t, adm.Basket.ID, f.publisher.events[0].AggregateID)
	assert.Equal(t, "p-1", f.publisher.events[1].AggregateID)
}

func TestCreateBasket_PublishFailureIsNotAnError(t *testing.T) {
	f := setupEngine(t)
	f.publisher.err = errors.New("broker down")
	f.product(t, "p-1", "10.00", 2)

	adm, err := f.engine.CreateBasket(context.Background(), []domain.ItemRequest{item("p-1", 1)})
	require.NoError(t, err)
	assert.Len(t, adm.Added, 1)
}

func TestAddItems_BasketNotFound(t *testing.T) {
	f := setupEngine(t)

	_, err := f.engine.AddItems(context.Background(), "missing", []domain.ItemRequest{item("p-1", 1)})
	assert.ErrorIs(t, err, domain.ErrBasketNotFound)
	assert.True(t, domain.IsNotFound(err))
}

func TestAddItems_CheckedOutBasketIsUntouched(t *testing.T) {
	f := setupEngine(t)
	f.product(t, "p-1", "10.00", 5)
	ctx := context.Background()

	adm, err := f.engine.CreateBasket(ctx, []domain.ItemRequest{item("p-1", 1)})
	require.NoError(t, err)
	checkedOut := adm.Basket.Clone()
	checkedOut.Status = domain.BasketStatusCheckedOut
	_, err = f.store.SaveBasket(ctx, checkedOut)
	require.NoError(t, err)

	_, err = f.engine.AddItems(ctx, adm.Basket.ID, []domain.ItemRequest{item("p-1", 2)})
	assert.ErrorIs(t, err, domain.ErrAlreadyCheckedOut)

	stock, _ := f.stock(t, "p-1")
	assert.Equal(t, 4, stock)
	stored, _ := f.store.FindBasket(ctx, adm.Basket.ID)
	assert.Len(t, stored.Items, 1)
}

func TestAddItems_UnknownProductAbortsWholeCall(t *testing.T) {
	f := setupEngine(t)
	f.product(t, "p-1", "10.00", 5)
	ctx := context.Background()

	adm, err := f.engine.CreateBasket(ctx, nil)
	require.NoError(t, err)

	_, err = f.engine.AddItems(ctx, adm.Basket.ID, []domain.ItemRequest{item("p-1", 2), item("missing", 1)})
	assert.ErrorIs(t, err, domain.ErrProductNotFound)

	stock, _ := f.stock(t, "p-1")
	assert.Equal(t, 5, stock, "no stock is consumed on a failed lookup")
	stored, _ := f.store.FindBasket(ctx, adm.Basket.ID)
	assert.Empty(t, stored.Items)
}

func TestAddItems_SkipsInsufficientStock(t *testing.T) {
	f := setupEngine(t)
	f.product(t, "p-1", "10.00", 2)
	f.product(t, "p-2", "5.00", 10)
	ctx := context.Background()

	adm, err := f.engine.CreateBasket(ctx, nil)
	require.NoError(t, err)

	added, err := f.engine.AddItems(ctx, adm.Basket.ID, []domain.ItemRequest{item("p-1", 3), item("p-2", 4)})
	require.NoError(t, err)

	assert.Equal(t, []domain.ItemRequest{item("p-2", 4)}, added.Added)
	require.Len(t, added.Skipped, 1)
	assert.Equal(t, "p-1", added.Skipped[0].ProductID)
	assert.Len(t, added.Basket.Items, 1)

	stock, _ := f.stock(t, "p-1")
	assert.Equal(t, 2, stock)
	stock, _ = f.stock(t, "p-2")
	assert.Equal(t, 6, stock)
}

func TestAddItems_AppendsToExistingItems(t *testing.T) {
	f := setupEngine(t)
	f.product(t, "p-1", "10.00", 10)
	ctx := context.Background()

	adm, err := f.engine.CreateBasket(ctx, []domain.ItemRequest{item("p-1", 1)})
	require.NoError(t, err)

	added, err := f.engine.AddItems(ctx, adm.Basket.ID, []domain.ItemRequest{item("p-1", 1)})
	require.NoError(t, err)

	require.Len(t, added.Basket.Items, 2)
	assert.NotEqual(t, added.Basket.Items[0].ID, added.Basket.Items[1].ID, "each admission is its own item")
	assert.Contains(t, f.publisher.types(), domain.EventBasketItemsAdded)
}

func TestConcurrentReservations_NeverOversell(t *testing.T) {
	f := setupEngine(t)
	const initialStock = 10
	f.product(t, "hot", "99.00", initialStock)
	ctx := context.Background()

	baskets := make([]string, 5)
	for i := range baskets {
		adm, err := f.engine.CreateBasket(ctx, nil)
		require.NoError(t, err)
		baskets[i] = adm.Basket.ID
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		admitted int
	)
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var (
				adm *Admission
				err error
			)
			if i%2 == 0 {
				adm, err = f.engine.CreateBasket(ctx, []domain.ItemRequest{item("hot", 1)})
			} else {
				adm, err = f.engine.AddItems(ctx, baskets[i%len(baskets)], []domain.ItemRequest{item("hot", 1)})
			}
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			for _, a := range adm.Added {
				admitted += a.Quantity
			}
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	stock, available := f.stock(t, "hot")
	assert.Equal(t, initialStock, admitted)
	assert.Equal(t, 0, stock)
	assert.False(t, available)
}

func TestRemoveItems_NeverRestocks(t *testing.T) {
	f := setupEngine(t)
	f.product(t, "p-1", "10.00", 5)
	ctx := context.Background()

	adm, err := f.engine.CreateBasket(ctx, []domain.ItemRequest{item("p-1", 2), item("p-1", 1)})
	require.NoError(t, err)
	first := adm.Basket.Items[0].ID

	b, err := f.engine.RemoveItems(ctx, adm.Basket.ID, []string{first, "not-an-item"})
	require.NoError(t, err)
	require.Len(t, b.Items, 1)
	assert.NotEqual(t, first, b.Items[0].ID)

	stock, _ := f.stock(t, "p-1")
	assert.Equal(t, 2, stock, "removal does not restore stock")
	assert.Contains(t, f.publisher.types(), domain.EventBasketItemsRemoved)
}

func TestRemoveItems_Errors(t *testing.T) {
	f := setupEngine(t)
	ctx := context.Background()

	_, err := f.engine.RemoveItems(ctx, "missing", []string{"x"})
	assert.ErrorIs(t, err, domain.ErrBasketNotFound)

	adm, err := f.engine.CreateBasket(ctx, nil)
	require.NoError(t, err)
	checkedOut := adm.Basket.Clone()
	checkedOut.Status = domain.BasketStatusCheckedOut
	_, err = f.store.SaveBasket(ctx, checkedOut)
	require.NoError(t, err)

	_, err = f.engine.RemoveItems(ctx, adm.Basket.ID, []string{"x"})
	assert.ErrorIs(t, err, domain.ErrAlreadyCheckedOut)
}

func TestCalculateReceipt(t *testing.T) {
	f := setupEngine(t)
	expires := time.Now().Add(24 * time.Hour)
	f.product(t, "cable", "30", 10, domain.Deal{
		Type: domain.DealTypeFixedAmount, DiscountValue: decimal.NewFromInt(50), Expiration: expires,
	})
	f.product(t, "tv", "999", 10, domain.Deal{
		Type: domain.DealTypePercentage, DiscountValue: decimal.NewFromInt(15), Expiration: expires,
	})
	f.product(t, "plain", "12.34", 10)
	ctx := context.Background()

	adm, err := f.engine.CreateBasket(ctx, []domain.ItemRequest{item("cable", 1), item("tv", 2), item("plain", 3)})
	require.NoError(t, err)

	receipt, err := f.engine.CalculateReceipt(ctx, adm.Basket.ID)
	require.NoError(t, err)
	require.Len(t, receipt.Lines, 3)

	cable := receipt.Lines[0]
	assert.Equal(t, "30.00", cable.OriginalPrice.StringFixed(2))
	assert.Equal(t, "30.00", cable.Discount.StringFixed(2))
	assert.Equal(t, "0.00", cable.FinalPrice.StringFixed(2))

	tv := receipt.Lines[1]
	assert.Equal(t, 2, tv.Quantity)
	assert.Equal(t, "1998.00", tv.OriginalPrice.StringFixed(2))
	assert.Equal(t, "299.70", tv.Discount.StringFixed(2))
	assert.Equal(t, "1698.30", tv.FinalPrice.StringFixed(2))

	plain := receipt.Lines[2]
	assert.True(t, plain.Discount.IsZero())
	assert.Equal(t, "37.02", plain.FinalPrice.StringFixed(2))

	assert.True(t, receipt.Total.Equal(decimal.RequireFromString("1735.32")), "total %s", receipt.Total)
}

func TestCalculateReceipt_EmptyBasket(t *testing.T) {
	f := setupEngine(t)

	adm, err := f.engine.CreateBasket(context.Background(), nil)
	require.NoError(t, err)

	receipt, err := f.engine.CalculateReceipt(context.Background(), adm.Basket.ID)
	require.NoError(t, err)
	assert.Empty(t, receipt.Lines)
	assert.True(t, receipt.Total.IsZero())
}

func TestCalculateReceipt_MissingProduct(t *testing.T) {
	f := setupEngine(t)
	f.product(t, "p-1", "10", 5)
	ctx := context.Background()

	adm, err := f.engine.CreateBasket(ctx, []domain.ItemRequest{item("p-1", 1)})
	require.NoError(t, err)
	require.NoError(t, f.store.DeleteProduct(ctx, "p-1"))

	_, err = f.engine.CalculateReceipt(ctx, adm.Basket.ID)
	assert.ErrorIs(t, err, domain.ErrProductNotFound)

	_, err = f.engine.CalculateReceipt(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrBasketNotFound)
}

func TestGetBasket_ReadsThroughCache(t *testing.T) {
	f := setupEngine(t)
	f.product(t, "p-1", "10", 5)
	ctx := context.Background()

	adm, err := f.engine.CreateBasket(ctx, []domain.ItemRequest{item("p-1", 1)})
	require.NoError(t, err)

	b, err := f.engine.GetBasket(ctx, adm.Basket.ID)
	require.NoError(t, err)
	assert.Len(t, b.Items, 1)
	assert.Contains(t, f.cache.entries, adm.Basket.ID)

	b.Items = nil
	again, err := f.engine.GetBasket(ctx, adm.Basket.ID)
	require.NoError(t, err)
	assert.Len(t, again.Items, 1, "callers get their own copy")

	_, err = f.engine.AddItems(ctx, adm.Basket.ID, []domain.ItemRequest{item("p-1", 1)})
	require.NoError(t, err)
	assert.NotContains(t, f.cache.entries, adm.Basket.ID, "mutation invalidates the cached basket")

	fresh, err := f.engine.GetBasket(ctx, adm.Basket.ID)
	require.NoError(t, err)
	assert.Len(t, fresh.Items, 2)
}

func TestGetBasket_NotFound(t *testing.T) {
	f := setupEngine(t)

	_, err := f.engine.GetBasket(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrBasketNotFound)
}

func TestNewEngine_Defaults(t *testing.T) {
	s := store.NewMemoryStore()
	e := NewEngine(s, s, nil, nil)

	assert.NotNil(t, e.calc)
	assert.IsType(t, cache.NoopCache{}, e.cache)
	assert.Nil(t, e.publisher)

	_, err := e.CreateBasket(context.Background(), nil)
	assert.NoError(t, err)
}

func TestWithClock(t *testing.T) {
	s := store.NewMemoryStore()
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	e := NewEngine(s, s, nil, nil, WithClock(func() time.Time { return fixed }))

	adm, err := e.CreateBasket(context.Background(), nil)
	require.NoError(t, err)
	assert.True(t, adm.Basket.CreatedAt.Equal(fixed))
}

func TestCompleteCheckout(t *testing.T) {
	f := setupEngine(t)
	f.product(t, "p-1", "10.00", 5)
	ctx := context.Background()

	adm, err := f.engine.CreateBasket(ctx, []domain.ItemRequest{item("p-1", 1)})
	require.NoError(t, err)
	_, err = f.engine.GetBasket(ctx, adm.Basket.ID)
	require.NoError(t, err)

	require.NoError(t, f.engine.CompleteCheckout(ctx, adm.Basket.ID))

	got, err := f.engine.GetBasket(ctx, adm.Basket.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BasketStatusCheckedOut, got.Status, "cached copy was invalidated")
	assert.Len(t, got.Items, 1)

	_, err = f.engine.AddItems(ctx, adm.Basket.ID, []domain.ItemRequest{item("p-1", 1)})
	assert.ErrorIs(t, err, domain.ErrAlreadyCheckedOut)
	_, err = f.engine.RemoveItems(ctx, adm.Basket.ID, []string{got.Items[0].ID})
	assert.ErrorIs(t, err, domain.ErrAlreadyCheckedOut)

	receipt, err := f.engine.CalculateReceipt(ctx, adm.Basket.ID)
	require.NoError(t, err)
	assert.Equal(t, "10.00", receipt.Total.StringFixed(2), "a checked-out basket can still be priced")
}

func TestCompleteCheckout_Idempotent(t *testing.T) {
	f := setupEngine(t)
	ctx := context.Background()
	adm, err := f.engine.CreateBasket(ctx, nil)
	require.NoError(t, err)

	require.NoError(t, f.engine.CompleteCheckout(ctx, adm.Basket.ID))
	require.NoError(t, f.engine.CompleteCheckout(ctx, adm.Basket.ID))

	assert.Equal(t, []domain.EventType{domain.EventBasketCreated, domain.EventBasketCheckedOut}, f.publisher.types(),
		"a repeated checkout publishes nothing")
}

func TestCompleteCheckout_NotFound(t *testing.T) {
	f := setupEngine(t)

	err := f.engine.CompleteCheckout(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrBasketNotFound)
}

// gatedBaskets pauses the first FindBasket after arm until release is closed,
// so another call can commit between a read and the write that follows it.
type gatedBaskets struct {
	*store.MemoryStore
	armed   atomic.Bool
	loaded  chan struct{}
	release chan struct{}
}

func newGatedBaskets() *gatedBaskets {
	return &gatedBaskets{
		MemoryStore: store.NewMemoryStore(),
		loaded:      make(chan struct{}),
		release:     make(chan struct{}),
	}
}

func (g *gatedBaskets) arm() {
	g.armed.Store(true)
}

func (g *gatedBaskets) FindBasket(ctx context.Context, id string) (*domain.Basket, error) {
	b, err := g.MemoryStore.FindBasket(ctx, id)
	if g.armed.CompareAndSwap(true, false) {
		close(g.loaded)
		<-g.release
	}
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return b, nil
}

func setupGatedEngine(t *testing.T, stock int) (*Engine, *gatedBaskets) {
	t.Helper()
	g := newGatedBaskets()
	_, err := g.CreateProduct(context.Background(), &domain.Product{
		ID:        "p-1",
		Name:      "Product p-1",
		Category:  domain.CategoryAccessory,
		Price:     decimal.RequireFromString("10.00"),
		Stock:     stock,
		Available: stock > 0,
	})
	require.NoError(t, err)
	return NewEngine(g, g, nil, zaptest.NewLogger(t), WithCache(newMapCache())), g
}

type removeResult struct {
	basket *domain.Basket
	err    error
}

func TestRemoveItems_CheckoutDuringRemovalWins(t *testing.T) {
	engine, g := setupGatedEngine(t, 5)
	ctx := context.Background()

	adm, err := engine.CreateBasket(ctx, []domain.ItemRequest{item("p-1", 1)})
	require.NoError(t, err)
	basketID := adm.Basket.ID

	g.arm()
	done := make(chan removeResult, 1)
	go func() {
		b, err := engine.RemoveItems(ctx, basketID, []string{adm.Basket.Items[0].ID})
		done <- removeResult{b, err}
	}()

	<-g.loaded
	require.NoError(t, engine.CompleteCheckout(ctx, basketID))
	close(g.release)

	res := <-done
	assert.ErrorIs(t, res.err, domain.ErrAlreadyCheckedOut)

	stored, err := g.MemoryStore.FindBasket(ctx, basketID)
	require.NoError(t, err)
	assert.Equal(t, domain.BasketStatusCheckedOut, stored.Status, "checked out stays terminal")
	assert.Len(t, stored.Items, 1)

	_, err = engine.AddItems(ctx, basketID, []domain.ItemRequest{item("p-1", 1)})
	assert.ErrorIs(t, err, domain.ErrAlreadyCheckedOut)
}

func TestRemoveItems_AddDuringRemovalIsKept(t *testing.T) {
	engine, g := setupGatedEngine(t, 5)
	ctx := context.Background()

	adm, err := engine.CreateBasket(ctx, []domain.ItemRequest{item("p-1", 1)})
	require.NoError(t, err)
	basketID := adm.Basket.ID
	first := adm.Basket.Items[0].ID

	g.arm()
	done := make(chan removeResult, 1)
	go func() {
		b, err := engine.RemoveItems(ctx, basketID, []string{first})
		done <- removeResult{b, err}
	}()

	<-g.loaded
	added, err := engine.AddItems(ctx, basketID, []domain.ItemRequest{item("p-1", 2)})
	require.NoError(t, err)
	require.Len(t, added.Added, 1)
	close(g.release)

	res := <-done
	require.NoError(t, res.err)
	require.Len(t, res.basket.Items, 1)
	assert.Equal(t, 2, res.basket.Items[0].Quantity, "the item admitted meanwhile survives")

	stored, err := g.MemoryStore.FindBasket(ctx, basketID)
	require.NoError(t, err)
	require.Len(t, stored.Items, 1)
	assert.NotEqual(t, first, stored.Items[0].ID)

	p, err := g.FindProduct(ctx, "p-1")
	require.NoError(t, err)
	assert.Equal(t, 2, p.Stock)
}

func TestAddItems_RemovalDuringAddIsKept(t *testing.T) {
	engine, g := setupGatedEngine(t, 5)
	ctx := context.Background()

	adm, err := engine.CreateBasket(ctx, []domain.ItemRequest{item("p-1", 1)})
	require.NoError(t, err)
	basketID := adm.Basket.ID
	first := adm.Basket.Items[0].ID

	g.arm()
	type addResult struct {
		adm *Admission
		err error
	}
	done := make(chan addResult, 1)
	go func() {
		a, err := engine.AddItems(ctx, basketID, []domain.ItemRequest{item("p-1", 2)})
		done <- addResult{a, err}
	}()

	<-g.loaded
	_, err = engine.RemoveItems(ctx, basketID, []string{first})
	require.NoError(t, err)
	close(g.release)

	res := <-done
	require.NoError(t, res.err)
	require.Len(t, res.adm.Basket.Items, 1, "the removed item is not written back")
	assert.NotEqual(t, first, res.adm.Basket.Items[0].ID)

	p, err := g.FindProduct(ctx, "p-1")
	require.NoError(t, err)
	assert.Equal(t, 2, p.Stock, "stock is reserved once despite the retry")
}

func TestGetBasket_CallerCancellationDoesNotFailTheRead(t *testing.T) {
	engine, g := setupGatedEngine(t, 5)

	adm, err := engine.CreateBasket(context.Background(), nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	g.arm()
	done := make(chan removeResult, 1)
	go func() {
		b, err := engine.GetBasket(ctx, adm.Basket.ID)
		done <- removeResult{b, err}
	}()

	<-g.loaded
	cancel()
	close(g.release)

	res := <-done
	require.NoError(t, res.err)
	assert.Equal(t, adm.Basket.ID, res.basket.ID)
}

type conflictingBaskets struct {
	*store.MemoryStore
	saves atomic.Int32
}

func (c *conflictingBaskets) SaveBasket(context.Context, *domain.Basket) (*domain.Basket, error) {
	c.saves.Add(1)
	return nil, domain.ErrBasketConflict
}

func TestRemoveItems_GivesUpAfterRepeatedConflicts(t *testing.T) {
	s := &conflictingBaskets{MemoryStore: store.NewMemoryStore()}
	engine := NewEngine(s, s, nil, zaptest.NewLogger(t))
	ctx := context.Background()

	adm, err := engine.CreateBasket(ctx, nil)
	require.NoError(t, err)

	_, err = engine.RemoveItems(ctx, adm.Basket.ID, []string{"x"})
	assert.ErrorIs(t, err, domain.ErrBasketConflict)
	assert.Equal(t, int32(maxWriteAttempts), s.saves.Load())
}
