package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/fjod/go_cart/cart-pricing-service/internal/domain"
)

// PostgresRepository owns coupon definitions, redemptions and the currency
// catalog.
type PostgresRepository struct {
	db *sql.DB
}

func NewPostgresRepository(cred *Credentials) (*PostgresRepository, error) {
	psqlconn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		cred.Host,
		cred.Port,
		cred.User,
		cred.Password,
		cred.DBName)

	db, err := sql.Open("postgres", psqlconn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if e2 := db.Ping(); e2 != nil {
		return nil, fmt.Errorf("failed to ping database: %w", e2)
	}

	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(10)
	return &PostgresRepository{db: db}, nil
}

// NewPostgresRepositoryFromDB wraps an already opened handle.
func NewPostgresRepositoryFromDB(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) RunMigrations(cred *Credentials) error {
	driver, err := postgres.WithInstance(r.db, &postgres.Config{
		MigrationsTable: "pricing_schema_migrations",
	})
	if err != nil {
		return fmt.Errorf("could not create migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(
		fmt.Sprintf("file://%s", cred.MigrationsDirPath),
		"postgres",
		driver,
	)
	if err != nil {
		return fmt.Errorf("could not create migrate instance: %w", err)
	}

	if e2 := m.Up(); e2 != nil && !errors.Is(e2, migrate.ErrNoChange) {
		return fmt.Errorf("could not run migrations: %w", e2)
	}

	return nil
}

func (r *PostgresRepository) Close() error {
	return r.db.Close()
}

const couponColumns = `id, code, type, value, maximum_discount, minimum_amount, minimum_quantity, currency,
	scope, product_ids, category_ids, vendor_ids, stackable, excluded_codes, tiers,
	starts_at, expires_at, usage_limit, per_customer_limit, is_active`

func (r *PostgresRepository) FindCouponByCode(ctx context.Context, code string) (*domain.Coupon, error) {
	query := `SELECT ` + couponColumns + ` FROM coupons WHERE code = $1`

	var (
		c           domain.Coupon
		maxDiscount sql.NullInt64
		currency    sql.NullString
		tiersJSON   []byte
		startsAt    sql.NullTime
		expiresAt   sql.NullTime
		usageLimit  sql.NullInt32
		perCustomer sql.NullInt32
	)
	err := r.db.QueryRowContext(ctx, query, code).Scan(
		&c.ID,
		&c.Code,
		&c.Type,
		&c.Value,
		&maxDiscount,
		&c.MinimumAmount,
		&c.MinimumQuantity,
		&currency,
		&c.Scope,
		pq.Array(&c.ProductIDs),
		pq.Array(&c.CategoryIDs),
		pq.Array(&c.VendorIDs),
		&c.Stackable,
		pq.Array(&c.ExcludedCodes),
		&tiersJSON,
		&startsAt,
		&expiresAt,
		&usageLimit,
		&perCustomer,
		&c.IsActive,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NewNotFound(domain.CodeCouponNotFound, fmt.Sprintf("coupon %s does not exist", code))
	}
	if err != nil {
		return nil, fmt.Errorf("query coupon by code: %w", err)
	}

	if maxDiscount.Valid {
		c.MaximumDiscount = &maxDiscount.Int64
	}
	if currency.Valid {
		c.Currency = &currency.String
	}
	if startsAt.Valid {
		c.StartsAt = &startsAt.Time
	}
	if expiresAt.Valid {
		c.ExpiresAt = &expiresAt.Time
	}
	if usageLimit.Valid {
		v := int(usageLimit.Int32)
		c.UsageLimit = &v
	}
	if perCustomer.Valid {
		v := int(perCustomer.Int32)
		c.PerCustomerLimit = &v
	}
	if len(tiersJSON) > 0 {
		if err := json.Unmarshal(tiersJSON, &c.Tiers); err != nil {
			return nil, fmt.Errorf("unmarshal coupon tiers: %w", err)
		}
	}

	return &c, nil
}

func (r *PostgresRepository) CouponUsage(ctx context.Context, couponID, customerID string) (domain.CouponUsage, error) {
	query := `SELECT COUNT(*), COUNT(*) FILTER (WHERE customer_id = $2)
	          FROM coupon_redemptions WHERE coupon_id = $1`

	var usage domain.CouponUsage
	if err := r.db.QueryRowContext(ctx, query, couponID, customerID).Scan(&usage.Total, &usage.ByCustomer); err != nil {
		return domain.CouponUsage{}, fmt.Errorf("query coupon usage: %w", err)
	}
	return usage, nil
}

// RecordRedemption is idempotent per (coupon, order).
func (r *PostgresRepository) RecordRedemption(ctx context.Context, couponID, customerID, orderRef string, at time.Time) error {
	query := `INSERT INTO coupon_redemptions (id, coupon_id, customer_id, order_ref, redeemed_at)
	          VALUES ($1, $2, $3, $4, $5)`

	_, err := r.db.ExecContext(ctx, query, uuid.New(), couponID, customerID, orderRef, at)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return nil
		}
		return fmt.Errorf("insert coupon redemption: %w", err)
	}
	return nil
}

func (r *PostgresRepository) ListCurrencies(ctx context.Context) ([]domain.Currency, error) {
	query := `SELECT code, symbol, symbol_position, decimal_places, thousands_separator, decimal_separator, is_active, is_default
	          FROM currencies ORDER BY code`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query currencies: %w", err)
	}
	defer rows.Close()

	var out []domain.Currency
	for rows.Next() {
		var c domain.Currency
		if err := rows.Scan(
			&c.Code,
			&c.Symbol,
			&c.SymbolPosition,
			&c.DecimalPlaces,
			&c.ThousandsSeparator,
			&c.DecimalSeparator,
			&c.IsActive,
			&c.IsDefault,
		); err != nil {
			return nil, fmt.Errorf("scan currency: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate currencies: %w", err)
	}
	return out, nil
}
