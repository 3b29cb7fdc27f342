package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/fjod/electronics-store/internal/domain"
)

const productColumns = `id, name, description, category, price, stock, available, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(s rowScanner) (*domain.Product, error) {
	var (
		p         domain.Product
		category  string
		createdAt string
	)
	if err := s.Scan(&p.ID, &p.Name, &p.Description, &category, &p.Price, &p.Stock, &p.Available, &createdAt); err != nil {
		return nil, err
	}
	p.Category = domain.Category(category)

	t, err := parseTime(createdAt)
	if err != nil {
		return nil, err
	}
	p.CreatedAt = t
	p.Deals = []domain.Deal{}
	return &p, nil
}

func (r *SQLRepository) FindProduct(ctx context.Context, id string) (*domain.Product, error) {
	query := `SELECT ` + productColumns + ` FROM products WHERE id = $1`

	p, err := scanProduct(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrProductNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query product: %w", err)
	}

	deals, err := r.loadDeals(ctx, r.db, []string{id})
	if err != nil {
		return nil, err
	}
	p.Deals = append(p.Deals, deals[id]...)
	return p, nil
}

// FindProducts returns the products that exist, in the order of ids
func (r *SQLRepository) FindProducts(ctx context.Context, ids []string) ([]*domain.Product, error) {
	if len(ids) == 0 {
		return []*domain.Product{}, nil
	}
	query := `SELECT ` + productColumns + ` FROM products WHERE id IN (` + placeholders(1, len(ids)) + `)`

	found, err := r.queryProducts(ctx, query, stringArgs(ids)...)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]*domain.Product, len(found))
	for _, p := range found {
		byID[p.ID] = p
	}
	result := make([]*domain.Product, 0, len(found))
	for _, id := range ids {
		if p, ok := byID[id]; ok {
			result = append(result, p)
			delete(byID, id)
		}
	}
	return result, nil
}

func (r *SQLRepository) ListProducts(ctx context.Context) ([]*domain.Product, error) {
	return r.queryProducts(ctx, `SELECT `+productColumns+` FROM products ORDER BY name, id`)
}

// queryProducts runs a product query and attaches deals with one extra query
func (r *SQLRepository) queryProducts(ctx context.Context, query string, args ...any) ([]*domain.Product, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query products: %w", err)
	}
	defer rows.Close()

	var products []*domain.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	// release the connection before loading deals
	rows.Close()

	ids := make([]string, 0, len(products))
	for _, p := range products {
		ids = append(ids, p.ID)
	}
	deals, err := r.loadDeals(ctx, r.db, ids)
	if err != nil {
		return nil, err
	}
	for _, p := range products {
		p.Deals = append(p.Deals, deals[p.ID]...)
	}
	if products == nil {
		products = []*domain.Product{}
	}
	return products, nil
}

// CreateProduct inserts p and links any deals it carries. An empty id is
// replaced with a new UUID.
func (r *SQLRepository) CreateProduct(ctx context.Context, p *domain.Product) (*domain.Product, error) {
	stored := p.Clone()
	if stored.ID == "" {
		stored.ID = newID()
	}

	err := r.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO products (`+productColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			stored.ID,
			stored.Name,
			stored.Description,
			string(stored.Category),
			stored.Price,
			stored.Stock,
			stored.Available,
			formatTime(stored.CreatedAt),
		)
		if err != nil {
			return fmt.Errorf("failed to insert product: %w", err)
		}

		dealIDs := make([]string, 0, len(stored.Deals))
		for _, d := range stored.Deals {
			dealIDs = append(dealIDs, d.ID)
		}
		return attachDeals(ctx, tx, stored.ID, dealIDs)
	})
	if err != nil {
		return nil, err
	}
	return r.FindProduct(ctx, stored.ID)
}

func (r *SQLRepository) DeleteProduct(ctx context.Context, id string) error {
	return r.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM product_deals WHERE product_id = $1`, id); err != nil {
			return fmt.Errorf("failed to unlink deals: %w", err)
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, id)
		if err != nil {
			return fmt.Errorf("failed to delete product: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to read affected rows: %w", err)
		}
		if n == 0 {
			return domain.ErrProductNotFound
		}
		return nil
	})
}

func (r *SQLRepository) AttachDeals(ctx context.Context, productID string, dealIDs []string) (*domain.Product, error) {
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		var one int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM products WHERE id = $1`, productID).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrProductNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to query product: %w", err)
		}
		return attachDeals(ctx, tx, productID, dealIDs)
	})
	if err != nil {
		return nil, err
	}
	return r.FindProduct(ctx, productID)
}

// attachDeals appends deal links after the product's existing ones
func attachDeals(ctx context.Context, q querier, productID string, dealIDs []string) error {
	if len(dealIDs) == 0 {
		return nil
	}

	var next int
	err := q.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(position), -1) + 1 FROM product_deals WHERE product_id = $1`, productID,
	).Scan(&next)
	if err != nil {
		return fmt.Errorf("failed to read deal positions: %w", err)
	}

	for _, dealID := range dealIDs {
		var one int
		err := q.QueryRowContext(ctx, `SELECT 1 FROM deals WHERE id = $1`, dealID).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("deal %s: %w", dealID, domain.ErrDealNotFound)
		}
		if err != nil {
			return fmt.Errorf("failed to query deal: %w", err)
		}

		res, err := q.ExecContext(ctx, `
			INSERT INTO product_deals (product_id, deal_id, position)
			VALUES ($1, $2, $3)
			ON CONFLICT (product_id, deal_id) DO NOTHING`,
			productID, dealID, next,
		)
		if err != nil {
			return fmt.Errorf("failed to link deal: %w", err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			next++
		}
	}
	return nil
}
