package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/fjod/electronics-store/internal/domain"
)

const dealColumns = `d.id, d.description, d.expiration, d.deal_type, d.discount_value`

func scanDeal(s rowScanner, extra ...any) (domain.Deal, error) {
	var (
		d          domain.Deal
		expiration string
		dealType   string
	)
	dest := append(extra, &d.ID, &d.Description, &expiration, &dealType, &d.DiscountValue)
	if err := s.Scan(dest...); err != nil {
		return domain.Deal{}, err
	}
	d.Type = domain.DealType(dealType)

	t, err := parseTime(expiration)
	if err != nil {
		return domain.Deal{}, err
	}
	d.Expiration = t
	return d, nil
}

// loadDeals returns the deals linked to each product, in attach order
func (r *SQLRepository) loadDeals(ctx context.Context, q querier, productIDs []string) (map[string][]domain.Deal, error) {
	result := make(map[string][]domain.Deal, len(productIDs))
	if len(productIDs) == 0 {
		return result, nil
	}

	query := `
		SELECT pd.product_id, ` + dealColumns + `
		FROM product_deals pd
		JOIN deals d ON d.id = pd.deal_id
		WHERE pd.product_id IN (` + placeholders(1, len(productIDs)) + `)
		ORDER BY pd.product_id, pd.position`

	rows, err := q.QueryContext(ctx, query, stringArgs(productIDs)...)
	if err != nil {
		return nil, fmt.Errorf("failed to query deals: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var productID string
		d, err := scanDeal(rows, &productID)
		if err != nil {
			return nil, fmt.Errorf("failed to scan deal: %w", err)
		}
		result[productID] = append(result[productID], d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return result, nil
}

func (r *SQLRepository) SaveDeal(ctx context.Context, d *domain.Deal) (*domain.Deal, error) {
	stored := *d
	if stored.ID == "" {
		stored.ID = newID()
	}
	if err := upsertDeal(ctx, r.db, &stored); err != nil {
		return nil, err
	}
	return &stored, nil
}

// SaveDeals stores every deal in one transaction
func (r *SQLRepository) SaveDeals(ctx context.Context, deals []domain.Deal) ([]domain.Deal, error) {
	saved := make([]domain.Deal, 0, len(deals))
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		for _, d := range deals {
			stored := d
			if stored.ID == "" {
				stored.ID = newID()
			}
			if err := upsertDeal(ctx, tx, &stored); err != nil {
				return err
			}
			saved = append(saved, stored)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return saved, nil
}

func upsertDeal(ctx context.Context, q querier, d *domain.Deal) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO deals (id, description, expiration, deal_type, discount_value)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			description = excluded.description,
			expiration = excluded.expiration,
			deal_type = excluded.deal_type,
			discount_value = excluded.discount_value`,
		d.ID,
		d.Description,
		formatTime(d.Expiration),
		string(d.Type),
		d.DiscountValue,
	)
	if err != nil {
		return fmt.Errorf("failed to save deal: %w", err)
	}
	return nil
}

func (r *SQLRepository) FindDeal(ctx context.Context, id string) (*domain.Deal, error) {
	d, err := scanDeal(r.db.QueryRowContext(ctx, `SELECT `+dealColumns+` FROM deals d WHERE d.id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrDealNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query deal: %w", err)
	}
	return &d, nil
}

func (r *SQLRepository) ListDeals(ctx context.Context) ([]domain.Deal, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+dealColumns+` FROM deals d ORDER BY d.id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query deals: %w", err)
	}
	defer rows.Close()

	deals := []domain.Deal{}
	for rows.Next() {
		d, err := scanDeal(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan deal: %w", err)
		}
		deals = append(deals, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return deals, nil
}
