package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/c1767673917/products-b-test-sub004/internal/product"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// ProductStore reads and writes canonical products.
type ProductStore struct {
	pool *pgxpool.Pool
}

// NewProductStore creates a product store over the shared pool.
func NewProductStore(pool *pgxpool.Pool) *ProductStore {
	return &ProductStore{pool: pool}
}

// StoredProduct is a product row with its persistence timestamps.
type StoredProduct struct {
	product.Product
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ListOptions narrows and pages a product listing.
type ListOptions struct {
	Category string
	Platform string
	Search   string
	Limit    int
	Offset   int
}

// UpsertByID inserts the product or, when the id already exists, replaces
// the row with the incoming state. Returns whether a new row was created.
// Replaying identical input is a no-op apart from updated_at.
func (s *ProductStore) UpsertByID(ctx context.Context, p *product.Product) (bool, error) {
	imagesJSON, err := json.Marshal(p.Images)
	if err != nil {
		return false, fmt.Errorf("encoding images: %w", err)
	}

	const query = `
		INSERT INTO products (
			id, secondary_id, record_id, name,
			category_primary, category_secondary,
			price_normal, price_discount, discount_rate,
			origin_country, origin_province, origin_city,
			platform, specification, flavor, mix_flag, manufacturer, notes,
			images
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9,
			$10, $11, $12, $13, $14, $15, $16, $17, $18, $19
		)
		ON CONFLICT (id) DO UPDATE SET
			secondary_id       = EXCLUDED.secondary_id,
			record_id          = EXCLUDED.record_id,
			name               = EXCLUDED.name,
			category_primary   = EXCLUDED.category_primary,
			category_secondary = EXCLUDED.category_secondary,
			price_normal       = EXCLUDED.price_normal,
			price_discount     = EXCLUDED.price_discount,
			discount_rate      = EXCLUDED.discount_rate,
			origin_country     = EXCLUDED.origin_country,
			origin_province    = EXCLUDED.origin_province,
			origin_city        = EXCLUDED.origin_city,
			platform           = EXCLUDED.platform,
			specification      = EXCLUDED.specification,
			flavor             = EXCLUDED.flavor,
			mix_flag           = EXCLUDED.mix_flag,
			manufacturer       = EXCLUDED.manufacturer,
			notes              = EXCLUDED.notes,
			images             = EXCLUDED.images,
			updated_at         = now()
		RETURNING (xmax = 0) AS created`

	var created bool
	err = s.pool.QueryRow(ctx, query,
		p.ID, p.SecondaryID, p.RecordID, p.Name,
		p.Category.Primary, p.Category.Secondary,
		p.Price.Normal, p.Price.Discount, p.Price.DiscountRate,
		p.Origin.Country, p.Origin.Province, p.Origin.City,
		p.Platform, p.Specification, p.Flavor, p.MixFlag, p.Manufacturer, p.Notes,
		imagesJSON,
	).Scan(&created)
	if err != nil {
		return false, fmt.Errorf("upserting product %s: %w", p.ID, err)
	}
	return created, nil
}

// GetByID fetches one product. Returns ErrNotFound for unknown ids.
func (s *ProductStore) GetByID(ctx context.Context, id string) (*StoredProduct, error) {
	row := s.pool.QueryRow(ctx, selectColumns+` FROM products WHERE id = $1`, id)
	p, err := scanProduct(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fetching product %s: %w", id, err)
	}
	return p, nil
}

// List returns products matching opts plus the total count before paging.
func (s *ProductStore) List(ctx context.Context, opts ListOptions) ([]StoredProduct, int64, error) {
	where := ""
	args := []any{}
	add := func(clause string, value any) {
		args = append(args, value)
		if where == "" {
			where = " WHERE "
		} else {
			where += " AND "
		}
		where += fmt.Sprintf(clause, len(args))
	}

	if opts.Category != "" {
		add("category_primary = $%d", opts.Category)
	}
	if opts.Platform != "" {
		add("platform = $%d", opts.Platform)
	}
	if opts.Search != "" {
		add("name ILIKE $%d", "%"+opts.Search+"%")
	}

	var total int64
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM products"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting products: %w", err)
	}

	limit := opts.Limit
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	args = append(args, limit, opts.Offset)
	query := selectColumns + " FROM products" + where +
		fmt.Sprintf(" ORDER BY id LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("listing products: %w", err)
	}
	defer rows.Close()

	out := make([]StoredProduct, 0)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

const selectColumns = `SELECT
	id, secondary_id, record_id, name,
	category_primary, category_secondary,
	price_normal, price_discount, discount_rate,
	origin_country, origin_province, origin_city,
	platform, specification, flavor, mix_flag, manufacturer, notes,
	images, created_at, updated_at`

func scanProduct(row pgx.Row) (*StoredProduct, error) {
	var p StoredProduct
	var imagesJSON []byte
	err := row.Scan(
		&p.ID, &p.SecondaryID, &p.RecordID, &p.Name,
		&p.Category.Primary, &p.Category.Secondary,
		&p.Price.Normal, &p.Price.Discount, &p.Price.DiscountRate,
		&p.Origin.Country, &p.Origin.Province, &p.Origin.City,
		&p.Platform, &p.Specification, &p.Flavor, &p.MixFlag, &p.Manufacturer, &p.Notes,
		&imagesJSON, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.Images = make(map[product.ImageSlot]product.ImageRef)
	if len(imagesJSON) > 0 {
		if err := json.Unmarshal(imagesJSON, &p.Images); err != nil {
			return nil, fmt.Errorf("decoding images for %s: %w", p.ID, err)
		}
	}
	return &p, nil
}
