package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rahil/meatmart/internal/database"
	"github.com/rahil/meatmart/internal/metrics"
	"github.com/rahil/meatmart/internal/models"
	"github.com/rahil/meatmart/internal/pricing"
	"github.com/shopspring/decimal"
)

type UpsertVendorProductRequest struct {
	VendorID    int64
	ProductCode string
	Name        string
	Category    string
	VendorPrice decimal.Decimal
	Active      bool
}

const vendorProductColumns = `id, vendor_id, product_code, name, category,
	vendor_price, final_price, active, created_at, updated_at, version`

// UpsertVendorProduct creates or replaces a vendor's listing. The stored
// final price is always computed through the pricing engine from the
// current category margin; it is never accepted from the caller.
func UpsertVendorProduct(ctx context.Context, db *sql.DB, engine *pricing.Engine, req UpsertVendorProductRequest) (*models.VendorProduct, error) {
	finalPrice, err := engine.ComputeFinalPrice(ctx, req.VendorPrice, req.Category)
	if err != nil {
		return nil, err
	}
	metrics.PriceComputationsTotal.WithLabelValues(req.Category).Inc()

	product := &models.VendorProduct{}

	query := `
		INSERT INTO vendor_products (vendor_id, product_code, name, category,
			vendor_price, final_price, active, created_at, updated_at, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW(), 1)
		ON CONFLICT (vendor_id, product_code) DO UPDATE
		SET name = EXCLUDED.name,
		    category = EXCLUDED.category,
		    vendor_price = EXCLUDED.vendor_price,
		    final_price = EXCLUDED.final_price,
		    active = EXCLUDED.active,
		    updated_at = NOW(),
		    version = vendor_products.version + 1
		RETURNING ` + vendorProductColumns

	err = db.QueryRowContext(ctx, query,
		req.VendorID, req.ProductCode, req.Name, req.Category,
		req.VendorPrice, finalPrice, req.Active).Scan(
		&product.ID,
		&product.VendorID,
		&product.ProductCode,
		&product.Name,
		&product.Category,
		&product.VendorPrice,
		&product.FinalPrice,
		&product.Active,
		&product.CreatedAt,
		&product.UpdatedAt,
		&product.Version,
	)
	if err != nil {
		return nil, fmt.Errorf("upsert vendor product: %w", err)
	}

	return product, nil
}

func GetVendorProduct(ctx context.Context, db *sql.DB, id int64) (*models.VendorProduct, error) {
	product := &models.VendorProduct{}

	query := `SELECT ` + vendorProductColumns + ` FROM vendor_products WHERE id = $1`

	err := db.QueryRowContext(ctx, query, id).Scan(
		&product.ID,
		&product.VendorID,
		&product.ProductCode,
		&product.Name,
		&product.Category,
		&product.VendorPrice,
		&product.FinalPrice,
		&product.Active,
		&product.CreatedAt,
		&product.UpdatedAt,
		&product.Version,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrProductNotFound
		}
		return nil, fmt.Errorf("get vendor product: %w", err)
	}

	return product, nil
}

func ListVendorProducts(ctx context.Context, db *sql.DB, page, pageSize int) (*OffsetPage, error) {
	var total int64
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM vendor_products WHERE active`).Scan(&total)
	if err != nil {
		return nil, fmt.Errorf("count vendor products: %w", err)
	}

	offset := (page - 1) * pageSize
	query := `SELECT ` + vendorProductColumns + `
		FROM vendor_products
		WHERE active
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2`

	rows, err := db.QueryContext(ctx, query, pageSize, offset)
	if err != nil {
		return nil, fmt.Errorf("list vendor products: %w", err)
	}
	defer rows.Close()

	var products []models.VendorProduct
	for rows.Next() {
		var product models.VendorProduct
		err := rows.Scan(
			&product.ID,
			&product.VendorID,
			&product.ProductCode,
			&product.Name,
			&product.Category,
			&product.VendorPrice,
			&product.FinalPrice,
			&product.Active,
			&product.CreatedAt,
			&product.UpdatedAt,
			&product.Version,
		)
		if err != nil {
			return nil, fmt.Errorf("scan vendor product: %w", err)
		}
		products = append(products, product)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return NewOffsetPage(products, total, page, pageSize), nil
}
