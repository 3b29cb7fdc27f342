package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/fjod/electronics-store/internal/domain"
)

func (r *SQLRepository) FindBasket(ctx context.Context, id string) (*domain.Basket, error) {
	var (
		b                    domain.Basket
		status               string
		createdAt, updatedAt string
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT id, status, version, created_at, updated_at FROM baskets WHERE id = $1`, id,
	).Scan(&b.ID, &status, &b.Version, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrBasketNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query basket: %w", err)
	}
	b.Status = domain.BasketStatus(status)
	if b.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if b.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, basket_id, product_id, quantity, added_at
		FROM basket_items
		WHERE basket_id = $1
		ORDER BY position`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query basket items: %w", err)
	}
	defer rows.Close()

	b.Items = []domain.BasketItem{}
	for rows.Next() {
		var (
			item    domain.BasketItem
			addedAt string
		)
		if err := rows.Scan(&item.ID, &item.BasketID, &item.ProductID, &item.Quantity, &addedAt); err != nil {
			return nil, fmt.Errorf("failed to scan basket item: %w", err)
		}
		if item.AddedAt, err = parseTime(addedAt); err != nil {
			return nil, err
		}
		b.Items = append(b.Items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return &b, nil
}

func (r *SQLRepository) SaveBasket(ctx context.Context, b *domain.Basket) (*domain.Basket, error) {
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		return saveBasket(ctx, tx, b)
	})
	if err != nil {
		return nil, err
	}
	return nextVersion(b), nil
}

// SaveAndFlush writes product stock and the basket in one transaction. It
// returns only after commit, so the new stock is visible to the next reader.
func (r *SQLRepository) SaveAndFlush(ctx context.Context, b *domain.Basket, products []*domain.Product) (*domain.Basket, error) {
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		for _, p := range products {
			if p.Stock < 0 {
				return fmt.Errorf("product %s: negative stock %d", p.ID, p.Stock)
			}
			res, err := tx.ExecContext(ctx,
				`UPDATE products SET stock = $1, available = $2 WHERE id = $3`,
				p.Stock, p.Available, p.ID,
			)
			if err != nil {
				return fmt.Errorf("failed to update stock: %w", err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("failed to read affected rows: %w", err)
			}
			if n == 0 {
				return fmt.Errorf("product %s: %w", p.ID, domain.ErrProductNotFound)
			}
		}
		return saveBasket(ctx, tx, b)
	})
	if err != nil {
		return nil, err
	}
	return nextVersion(b), nil
}

// saveBasket upserts the basket row and rewrites its items. An existing row
// is only replaced while it is ACTIVE and still at b.Version.
func saveBasket(ctx context.Context, q querier, b *domain.Basket) error {
	res, err := q.ExecContext(ctx, `
		INSERT INTO baskets (id, status, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			status = excluded.status,
			version = excluded.version,
			updated_at = excluded.updated_at
		WHERE baskets.version = $6 AND baskets.status = $7`,
		b.ID, string(b.Status), b.Version+1, formatTime(b.CreatedAt), formatTime(b.UpdatedAt),
		b.Version, string(domain.BasketStatusActive),
	)
	if err != nil {
		return fmt.Errorf("failed to save basket: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("basket %s at version %d: %w", b.ID, b.Version, domain.ErrBasketConflict)
	}

	if _, err := q.ExecContext(ctx, `DELETE FROM basket_items WHERE basket_id = $1`, b.ID); err != nil {
		return fmt.Errorf("failed to clear basket items: %w", err)
	}

	for i, item := range b.Items {
		_, err := q.ExecContext(ctx, `
			INSERT INTO basket_items (id, basket_id, product_id, quantity, position, added_at)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			item.ID, b.ID, item.ProductID, item.Quantity, i, formatTime(item.AddedAt),
		)
		if err != nil {
			return fmt.Errorf("failed to insert basket item: %w", err)
		}
	}
	return nil
}

func nextVersion(b *domain.Basket) *domain.Basket {
	saved := b.Clone()
	saved.Version++
	return saved
}
