package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rahil/meatmart/internal/database"
	"github.com/rahil/meatmart/internal/models"
	"github.com/rahil/meatmart/internal/pricing"
	"github.com/shopspring/decimal"
)

func GetCategoryMargin(ctx context.Context, db *sql.DB, category string) (*models.CategoryMargin, error) {
	margin := &models.CategoryMargin{}

	query := `
		SELECT category, margin_percentage, active, created_at, updated_at
		FROM category_margins
		WHERE category = $1`

	err := db.QueryRowContext(ctx, query, category).Scan(
		&margin.Category,
		&margin.MarginPercentage,
		&margin.Active,
		&margin.CreatedAt,
		&margin.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, pricing.ErrMarginNotFound
		}
		return nil, fmt.Errorf("get category margin: %w", err)
	}

	return margin, nil
}

// SetCategoryMargin fully replaces the margin record for a category and
// recomputes the stored final price of every vendor product in it within
// the same transaction, so listings never show a price derived from a
// stale margin. Negative percentages are rejected.
func SetCategoryMargin(ctx context.Context, db *sql.DB, category string, percentage decimal.Decimal, active bool) (*models.CategoryMargin, error) {
	if percentage.IsNegative() {
		return nil, fmt.Errorf("%w: got %s", pricing.ErrInvalidPercentage, percentage)
	}

	margin := &models.CategoryMargin{}

	err := database.WithTransaction(ctx, db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx,
			`INSERT INTO category_margins (category, margin_percentage, active, created_at, updated_at)
			 VALUES ($1, $2, $3, NOW(), NOW())
			 ON CONFLICT (category) DO UPDATE
			 SET margin_percentage = EXCLUDED.margin_percentage,
			     active = EXCLUDED.active,
			     updated_at = NOW()
			 RETURNING category, margin_percentage, active, created_at, updated_at`,
			category, percentage, active).Scan(
			&margin.Category,
			&margin.MarginPercentage,
			&margin.Active,
			&margin.CreatedAt,
			&margin.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("upsert category margin: %w", err)
		}

		// ROUND(numeric, 2) matches pricing.FinalPrice rounding
		_, err = tx.ExecContext(ctx,
			`UPDATE vendor_products
			 SET final_price = ROUND(vendor_price * (1 + $2 / 100), 2),
			     updated_at = NOW(),
			     version = version + 1
			 WHERE category = $1`,
			category, percentage)
		if err != nil {
			return fmt.Errorf("recompute final prices: %w", err)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return margin, nil
}

func ListCategoryMargins(ctx context.Context, db *sql.DB) ([]models.CategoryMargin, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT category, margin_percentage, active, created_at, updated_at
		 FROM category_margins
		 ORDER BY category`)
	if err != nil {
		return nil, fmt.Errorf("list category margins: %w", err)
	}
	defer rows.Close()

	var margins []models.CategoryMargin
	for rows.Next() {
		var margin models.CategoryMargin
		err := rows.Scan(
			&margin.Category,
			&margin.MarginPercentage,
			&margin.Active,
			&margin.CreatedAt,
			&margin.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan category margin: %w", err)
		}
		margins = append(margins, margin)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return margins, nil
}

// MarginSource adapts the store to pricing.MarginSource.
type MarginSource struct {
	DB *sql.DB
}

func (s MarginSource) CategoryMargin(ctx context.Context, category string) (*models.CategoryMargin, error) {
	return GetCategoryMargin(ctx, s.DB, category)
}
