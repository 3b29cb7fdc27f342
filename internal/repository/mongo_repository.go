package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/electronics-store/internal/domain"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	productsCollection = "products"
	dealsCollection    = "deals"
	basketsCollection  = "baskets"
)

// Money is kept as a decimal string so prices survive the round trip exactly.
type productDocument struct {
	ID          string    `bson:"_id"`
	Name        string    `bson:"name"`
	Description string    `bson:"description"`
	Category    string    `bson:"category"`
	Price       string    `bson:"price"`
	Stock       int       `bson:"stock"`
	Available   bool      `bson:"available"`
	DealIDs     []string  `bson:"deal_ids"`
	CreatedAt   time.Time `bson:"created_at"`
}

type dealDocument struct {
	ID            string    `bson:"_id"`
	Description   string    `bson:"description"`
	Expiration    time.Time `bson:"expiration"`
	Type          string    `bson:"deal_type"`
	DiscountValue string    `bson:"discount_value"`
}

type basketDocument struct {
	ID        string               `bson:"_id"`
	Status    string               `bson:"status"`
	Items     []basketItemDocument `bson:"items"`
	Version   int64                `bson:"version"`
	CreatedAt time.Time            `bson:"created_at"`
	UpdatedAt time.Time            `bson:"updated_at"`
}

type basketItemDocument struct {
	ID        string    `bson:"id"`
	ProductID string    `bson:"product_id"`
	Quantity  int       `bson:"quantity"`
	AddedAt   time.Time `bson:"added_at"`
}

// MongoRepository keeps products, deals and baskets in three collections.
// Products reference deals by id; basket items are embedded in their basket.
// Multi-document writes run in a transaction, so the server must be a
// replica set member.
type MongoRepository struct {
	client   *mongo.Client
	products *mongo.Collection
	deals    *mongo.Collection
	baskets  *mongo.Collection
}

func NewMongoRepository(db *mongo.Database) *MongoRepository {
	return &MongoRepository{
		client:   db.Client(),
		products: db.Collection(productsCollection),
		deals:    db.Collection(dealsCollection),
		baskets:  db.Collection(basketsCollection),
	}
}

func (m *MongoRepository) CreateIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "name", Value: 1}, {Key: "_id", Value: 1}}},
		{Keys: bson.D{{Key: "category", Value: 1}}},
		{Keys: bson.D{{Key: "deal_ids", Value: 1}}},
	}
	if _, err := m.products.Indexes().CreateMany(ctx, indexes); err != nil {
		return fmt.Errorf("failed to create product indexes: %w", err)
	}

	_, err := m.baskets.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "updated_at", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("failed to create basket indexes: %w", err)
	}
	return nil
}

func (m *MongoRepository) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}

func (m *MongoRepository) withTransaction(ctx context.Context, fn func(sc mongo.SessionContext) error) error {
	session, err := m.client.StartSession()
	if err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return nil, fn(sc)
	})
	return err
}

func (m *MongoRepository) FindProduct(ctx context.Context, id string) (*domain.Product, error) {
	var doc productDocument
	err := m.products.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrProductNotFound
		}
		return nil, fmt.Errorf("failed to get product: %w", err)
	}

	products, err := m.hydrate(ctx, []productDocument{doc})
	if err != nil {
		return nil, err
	}
	return products[0], nil
}

// FindProducts returns the products that exist, in the order of ids
func (m *MongoRepository) FindProducts(ctx context.Context, ids []string) ([]*domain.Product, error) {
	if len(ids) == 0 {
		return []*domain.Product{}, nil
	}
	docs, err := m.findProductDocuments(ctx, bson.M{"_id": bson.M{"$in": ids}}, nil)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]productDocument, len(docs))
	for _, d := range docs {
		byID[d.ID] = d
	}
	ordered := make([]productDocument, 0, len(docs))
	for _, id := range ids {
		if d, ok := byID[id]; ok {
			ordered = append(ordered, d)
			delete(byID, id)
		}
	}
	return m.hydrate(ctx, ordered)
}

func (m *MongoRepository) ListProducts(ctx context.Context) ([]*domain.Product, error) {
	opts := options.Find().SetSort(bson.D{{Key: "name", Value: 1}, {Key: "_id", Value: 1}})
	docs, err := m.findProductDocuments(ctx, bson.M{}, opts)
	if err != nil {
		return nil, err
	}
	return m.hydrate(ctx, docs)
}

func (m *MongoRepository) findProductDocuments(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]productDocument, error) {
	cursor, err := m.products.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to find products: %w", err)
	}
	docs := []productDocument{}
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode products: %w", err)
	}
	return docs, nil
}

// hydrate converts documents to products and resolves their deal ids with a
// single query
func (m *MongoRepository) hydrate(ctx context.Context, docs []productDocument) ([]*domain.Product, error) {
	var dealIDs []string
	for _, d := range docs {
		dealIDs = append(dealIDs, d.DealIDs...)
	}
	deals := map[string]domain.Deal{}
	if len(dealIDs) > 0 {
		found, err := m.findDeals(ctx, bson.M{"_id": bson.M{"$in": dealIDs}})
		if err != nil {
			return nil, err
		}
		for _, d := range found {
			deals[d.ID] = d
		}
	}

	products := make([]*domain.Product, 0, len(docs))
	for _, doc := range docs {
		price, err := decimal.NewFromString(doc.Price)
		if err != nil {
			return nil, fmt.Errorf("product %s: invalid price %q: %w", doc.ID, doc.Price, err)
		}
		p := &domain.Product{
			ID:          doc.ID,
			Name:        doc.Name,
			Description: doc.Description,
			Category:    domain.Category(doc.Category),
			Price:       price,
			Stock:       doc.Stock,
			Available:   doc.Available,
			CreatedAt:   doc.CreatedAt.UTC(),
		}
		for _, id := range doc.DealIDs {
			if d, ok := deals[id]; ok {
				p.Deals = append(p.Deals, d)
			}
		}
		products = append(products, p)
	}
	return products, nil
}

// CreateProduct inserts p with links to the deals it carries, which must
// already exist. An empty id is replaced with a new UUID.
func (m *MongoRepository) CreateProduct(ctx context.Context, p *domain.Product) (*domain.Product, error) {
	doc := productDocument{
		ID:          p.ID,
		Name:        p.Name,
		Description: p.Description,
		Category:    string(p.Category),
		Price:       p.Price.String(),
		Stock:       p.Stock,
		Available:   p.Available,
		DealIDs:     []string{},
		CreatedAt:   p.CreatedAt.UTC(),
	}
	if doc.ID == "" {
		doc.ID = newID()
	}
	for _, d := range p.Deals {
		doc.DealIDs = appendUnique(doc.DealIDs, d.ID)
	}

	err := m.withTransaction(ctx, func(sc mongo.SessionContext) error {
		if err := m.requireDeals(sc, doc.DealIDs); err != nil {
			return err
		}
		if _, err := m.products.InsertOne(sc, doc); err != nil {
			if mongo.IsDuplicateKeyError(err) {
				return fmt.Errorf("product %s already exists", doc.ID)
			}
			return fmt.Errorf("failed to insert product: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return m.FindProduct(ctx, doc.ID)
}

func (m *MongoRepository) DeleteProduct(ctx context.Context, id string) error {
	result, err := m.products.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("failed to delete product: %w", err)
	}
	if result.DeletedCount == 0 {
		return domain.ErrProductNotFound
	}
	return nil
}

// AttachDeals appends deal ids the product does not reference yet
func (m *MongoRepository) AttachDeals(ctx context.Context, productID string, dealIDs []string) (*domain.Product, error) {
	err := m.withTransaction(ctx, func(sc mongo.SessionContext) error {
		var doc productDocument
		if err := m.products.FindOne(sc, bson.M{"_id": productID}).Decode(&doc); err != nil {
			if errors.Is(err, mongo.ErrNoDocuments) {
				return domain.ErrProductNotFound
			}
			return fmt.Errorf("failed to get product: %w", err)
		}
		if err := m.requireDeals(sc, dealIDs); err != nil {
			return err
		}

		linked := doc.DealIDs
		for _, id := range dealIDs {
			linked = appendUnique(linked, id)
		}
		_, err := m.products.UpdateOne(sc,
			bson.M{"_id": productID},
			bson.M{"$set": bson.M{"deal_ids": linked}},
		)
		if err != nil {
			return fmt.Errorf("failed to attach deals: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return m.FindProduct(ctx, productID)
}

func (m *MongoRepository) requireDeals(ctx context.Context, ids []string) error {
	for _, id := range ids {
		err := m.deals.FindOne(ctx, bson.M{"_id": id}).Err()
		if errors.Is(err, mongo.ErrNoDocuments) {
			return fmt.Errorf("deal %s: %w", id, domain.ErrDealNotFound)
		}
		if err != nil {
			return fmt.Errorf("failed to get deal: %w", err)
		}
	}
	return nil
}

func (m *MongoRepository) SaveDeal(ctx context.Context, d *domain.Deal) (*domain.Deal, error) {
	stored := *d
	if stored.ID == "" {
		stored.ID = newID()
	}
	if err := m.upsertDeal(ctx, stored); err != nil {
		return nil, err
	}
	return &stored, nil
}

// SaveDeals stores every deal in one transaction
func (m *MongoRepository) SaveDeals(ctx context.Context, deals []domain.Deal) ([]domain.Deal, error) {
	var saved []domain.Deal
	err := m.withTransaction(ctx, func(sc mongo.SessionContext) error {
		// the callback may be retried on transient errors
		saved = make([]domain.Deal, 0, len(deals))
		for _, d := range deals {
			if d.ID == "" {
				d.ID = newID()
			}
			if err := m.upsertDeal(sc, d); err != nil {
				return err
			}
			saved = append(saved, d)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return saved, nil
}

func (m *MongoRepository) upsertDeal(ctx context.Context, d domain.Deal) error {
	doc := dealDocument{
		ID:            d.ID,
		Description:   d.Description,
		Expiration:    d.Expiration.UTC(),
		Type:          string(d.Type),
		DiscountValue: d.DiscountValue.String(),
	}
	opts := options.Replace().SetUpsert(true)
	if _, err := m.deals.ReplaceOne(ctx, bson.M{"_id": d.ID}, doc, opts); err != nil {
		return fmt.Errorf("failed to save deal: %w", err)
	}
	return nil
}

func (m *MongoRepository) FindDeal(ctx context.Context, id string) (*domain.Deal, error) {
	deals, err := m.findDeals(ctx, bson.M{"_id": id})
	if err != nil {
		return nil, err
	}
	if len(deals) == 0 {
		return nil, domain.ErrDealNotFound
	}
	return &deals[0], nil
}

func (m *MongoRepository) ListDeals(ctx context.Context) ([]domain.Deal, error) {
	return m.findDeals(ctx, bson.M{})
}

func (m *MongoRepository) findDeals(ctx context.Context, filter bson.M) ([]domain.Deal, error) {
	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}})
	cursor, err := m.deals.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to find deals: %w", err)
	}
	var docs []dealDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode deals: %w", err)
	}

	deals := make([]domain.Deal, 0, len(docs))
	for _, doc := range docs {
		value, err := decimal.NewFromString(doc.DiscountValue)
		if err != nil {
			return nil, fmt.Errorf("deal %s: invalid discount value %q: %w", doc.ID, doc.DiscountValue, err)
		}
		deals = append(deals, domain.Deal{
			ID:            doc.ID,
			Description:   doc.Description,
			Expiration:    doc.Expiration.UTC(),
			Type:          domain.DealType(doc.Type),
			DiscountValue: value,
		})
	}
	return deals, nil
}

func (m *MongoRepository) FindBasket(ctx context.Context, id string) (*domain.Basket, error) {
	var doc basketDocument
	err := m.baskets.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrBasketNotFound
		}
		return nil, fmt.Errorf("failed to get basket: %w", err)
	}

	b := &domain.Basket{
		ID:        doc.ID,
		Status:    domain.BasketStatus(doc.Status),
		Items:     make([]domain.BasketItem, 0, len(doc.Items)),
		Version:   doc.Version,
		CreatedAt: doc.CreatedAt.UTC(),
		UpdatedAt: doc.UpdatedAt.UTC(),
	}
	for _, item := range doc.Items {
		b.Items = append(b.Items, domain.BasketItem{
			ID:        item.ID,
			BasketID:  doc.ID,
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			AddedAt:   item.AddedAt.UTC(),
		})
	}
	return b, nil
}

func (m *MongoRepository) SaveBasket(ctx context.Context, b *domain.Basket) (*domain.Basket, error) {
	if err := m.replaceBasket(ctx, b); err != nil {
		return nil, err
	}
	return nextVersion(b), nil
}

// SaveAndFlush writes product stock and the basket in one transaction
func (m *MongoRepository) SaveAndFlush(ctx context.Context, b *domain.Basket, products []*domain.Product) (*domain.Basket, error) {
	err := m.withTransaction(ctx, func(sc mongo.SessionContext) error {
		for _, p := range products {
			if p.Stock < 0 {
				return fmt.Errorf("product %s: negative stock %d", p.ID, p.Stock)
			}
			result, err := m.products.UpdateOne(sc,
				bson.M{"_id": p.ID},
				bson.M{"$set": bson.M{"stock": p.Stock, "available": p.Available}},
			)
			if err != nil {
				return fmt.Errorf("failed to update stock: %w", err)
			}
			if result.MatchedCount == 0 {
				return fmt.Errorf("product %s: %w", p.ID, domain.ErrProductNotFound)
			}
		}
		return m.replaceBasket(sc, b)
	})
	if err != nil {
		return nil, err
	}
	return nextVersion(b), nil
}

// replaceBasket upserts the basket document. An existing document is only
// replaced while it is ACTIVE and still at b.Version; otherwise the upsert
// collides with it on _id.
func (m *MongoRepository) replaceBasket(ctx context.Context, b *domain.Basket) error {
	doc := basketDocument{
		ID:        b.ID,
		Status:    string(b.Status),
		Items:     make([]basketItemDocument, 0, len(b.Items)),
		Version:   b.Version + 1,
		CreatedAt: b.CreatedAt.UTC(),
		UpdatedAt: b.UpdatedAt.UTC(),
	}
	for _, item := range b.Items {
		doc.Items = append(doc.Items, basketItemDocument{
			ID:        item.ID,
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			AddedAt:   item.AddedAt.UTC(),
		})
	}

	filter := bson.M{
		"_id":     b.ID,
		"version": b.Version,
		"status":  string(domain.BasketStatusActive),
	}
	if b.Version == 0 {
		// documents written before versioning have no version field
		filter["version"] = bson.M{"$in": bson.A{int64(0), nil}}
	}

	opts := options.Replace().SetUpsert(true)
	if _, err := m.baskets.ReplaceOne(ctx, filter, doc, opts); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("basket %s at version %d: %w", b.ID, b.Version, domain.ErrBasketConflict)
		}
		return fmt.Errorf("failed to save basket: %w", err)
	}
	return nil
}

func appendUnique(ids []string, id string) []string {
	for _, existing := range ids {
		if existing == id {
			return ids
		}
	}
	return append(ids, id)
}
