package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/tmorland/heritagetrack/internal/domain"
)

const assetColumns = `id, unique_id, owner_id, description, location, category, access_details,
	contact_name, address_line1, address_line2, address_city, address_postcode,
	telephone, fax, email, website, valid_from, valid_until, created_at`

// assetSearchVector matches the expression indexed in the migrations.
const assetSearchVector = `to_tsvector('english', description || ' ' || contact_name || ' ' || location || ' ' || category)`

type postgresAssetRepository struct {
	db DBTX
}

func (r *postgresAssetRepository) CurrentView(ctx context.Context) (map[string]domain.Asset, error) {
	rows, err := r.db.Query(
		ctx,
		fmt.Sprintf(`SELECT %s FROM assets WHERE valid_until IS NULL`, assetColumns),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query current view: %w", err)
	}
	defer rows.Close()

	return collectAssetMap(rows)
}

func (r *postgresAssetRepository) CurrentByUniqueID(ctx context.Context, uniqueID string) (domain.Asset, error) {
	row := r.db.QueryRow(
		ctx,
		fmt.Sprintf(`SELECT %s FROM assets WHERE unique_id = $1 AND valid_until IS NULL`, assetColumns),
		uniqueID,
	)

	asset, err := scanAsset(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Asset{}, domain.NotFoundError{Kind: "asset", Key: uniqueID}
		}
		return domain.Asset{}, fmt.Errorf("failed to get current asset: %w", err)
	}

	return asset, nil
}

func (r *postgresAssetRepository) AsOf(ctx context.Context, date time.Time) (map[string]domain.Asset, error) {
	rows, err := r.db.Query(
		ctx,
		fmt.Sprintf(`SELECT %s FROM assets
			 WHERE valid_from <= $1 AND (valid_until IS NULL OR valid_until > $1)`, assetColumns),
		date,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query as-of view: %w", err)
	}
	defer rows.Close()

	return collectAssetMap(rows)
}

func (r *postgresAssetRepository) History(ctx context.Context, uniqueID string) ([]domain.Asset, error) {
	rows, err := r.db.Query(
		ctx,
		fmt.Sprintf(`SELECT %s FROM assets WHERE unique_id = $1 ORDER BY valid_from, created_at`, assetColumns),
		uniqueID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query asset history: %w", err)
	}
	defer rows.Close()

	return collectAssets(rows)
}

func (r *postgresAssetRepository) OpenVersion(ctx context.Context, uniqueID string, fields domain.AssetFields, openDate time.Time) (domain.Asset, error) {
	var exists bool
	err := r.db.QueryRow(
		ctx,
		`SELECT EXISTS (SELECT 1 FROM assets WHERE unique_id = $1 AND valid_until IS NULL)`,
		uniqueID,
	).Scan(&exists)
	if err != nil {
		return domain.Asset{}, fmt.Errorf("failed to check open version for %s: %w", uniqueID, err)
	}
	if exists {
		return domain.Asset{}, domain.InvariantViolationError{
			UniqueID: uniqueID,
			Reason:   "an open version already exists; close it first",
		}
	}

	asset := domain.NewAsset(uniqueID, fields, openDate)
	_, err = r.db.Exec(
		ctx,
		`INSERT INTO assets (id, unique_id, owner_id, description, location, category, access_details,
			contact_name, address_line1, address_line2, address_city, address_postcode,
			telephone, fax, email, website, valid_from, valid_until, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, NULL, $18)`,
		asset.ID, asset.UniqueID,
		asset.OwnerID, asset.Description, asset.Location, asset.Category, asset.AccessDetails,
		asset.ContactName, asset.AddressLine1, asset.AddressLine2, asset.AddressCity, asset.AddressPostcode,
		asset.Telephone, asset.Fax, asset.Email, asset.Website,
		asset.ValidFrom, asset.CreatedAt,
	)
	if err != nil {
		return domain.Asset{}, fmt.Errorf("failed to open version for %s: %w", uniqueID, err)
	}

	return asset, nil
}

func (r *postgresAssetRepository) CloseVersion(ctx context.Context, uniqueID string, closeDate time.Time) error {
	var validFrom time.Time
	err := r.db.QueryRow(
		ctx,
		`SELECT valid_from FROM assets WHERE unique_id = $1 AND valid_until IS NULL`,
		uniqueID,
	).Scan(&validFrom)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.NotFoundError{Kind: "open version for asset", Key: uniqueID}
		}
		return fmt.Errorf("failed to find open version for %s: %w", uniqueID, err)
	}

	if !closeDate.After(validFrom) {
		return domain.InvariantViolationError{
			UniqueID: uniqueID,
			Reason:   fmt.Sprintf("close date %s is not after valid_from %s", closeDate.Format("2006-01-02"), validFrom.Format("2006-01-02")),
		}
	}

	_, err = r.db.Exec(
		ctx,
		`UPDATE assets SET valid_until = $2 WHERE unique_id = $1 AND valid_until IS NULL`,
		uniqueID, closeDate,
	)
	if err != nil {
		return fmt.Errorf("failed to close version for %s: %w", uniqueID, err)
	}

	return nil
}

func (r *postgresAssetRepository) ListCurrent(ctx context.Context, filter domain.AssetFilter, page domain.PageRequest) ([]domain.Asset, int, error) {
	where := []string{"valid_until IS NULL"}
	args := []any{}
	where, args = appendAssetFilter(where, args, filter)
	return r.list(ctx, where, args, page)
}

func (r *postgresAssetRepository) ListAsOf(ctx context.Context, date time.Time, filter domain.AssetFilter, page domain.PageRequest) ([]domain.Asset, int, error) {
	args := []any{date}
	where := []string{"valid_from <= $1", "(valid_until IS NULL OR valid_until > $1)"}
	where, args = appendAssetFilter(where, args, filter)
	return r.list(ctx, where, args, page)
}

func (r *postgresAssetRepository) list(ctx context.Context, where []string, args []any, page domain.PageRequest) ([]domain.Asset, int, error) {
	args = append(args, page.PageSize, page.Offset())
	sql := fmt.Sprintf(
		`SELECT %s, COUNT(*) OVER() AS total_count FROM assets
		 WHERE %s
		 ORDER BY unique_id
		 LIMIT $%d OFFSET $%d`,
		assetColumns, strings.Join(where, " AND "), len(args)-1, len(args),
	)

	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list assets: %w", err)
	}
	defer rows.Close()

	assets := []domain.Asset{}
	total := 0
	for rows.Next() {
		asset, count, err := scanAssetWithTotal(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan asset: %w", err)
		}
		total = count
		assets = append(assets, asset)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate assets: %w", err)
	}

	return assets, total, nil
}

func (r *postgresAssetRepository) CountCurrent(ctx context.Context) (int64, error) {
	return r.count(ctx, `SELECT COUNT(*) FROM assets WHERE valid_until IS NULL`)
}

func (r *postgresAssetRepository) CountVersions(ctx context.Context) (int64, error) {
	return r.count(ctx, `SELECT COUNT(*) FROM assets`)
}

func (r *postgresAssetRepository) count(ctx context.Context, sql string) (int64, error) {
	var count int64
	if err := r.db.QueryRow(ctx, sql).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count assets: %w", err)
	}
	return count, nil
}

func (r *postgresAssetRepository) CountCurrentByLocation(ctx context.Context) (map[string]int, error) {
	return r.groupCurrent(ctx, "location")
}

func (r *postgresAssetRepository) CountCurrentByCategory(ctx context.Context) (map[string]int, error) {
	return r.groupCurrent(ctx, "category")
}

func (r *postgresAssetRepository) groupCurrent(ctx context.Context, column string) (map[string]int, error) {
	rows, err := r.db.Query(
		ctx,
		fmt.Sprintf(`SELECT %s, COUNT(*) FROM assets WHERE valid_until IS NULL GROUP BY %s`, column, column),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to group assets by %s: %w", column, err)
	}
	defer rows.Close()

	counts := map[string]int{}
	for rows.Next() {
		var key string
		var count int
		if err := rows.Scan(&key, &count); err != nil {
			return nil, fmt.Errorf("failed to scan %s count: %w", column, err)
		}
		counts[key] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate %s counts: %w", column, err)
	}

	return counts, nil
}

func appendAssetFilter(where []string, args []any, filter domain.AssetFilter) ([]string, []any) {
	if filter.UniqueID != "" {
		args = append(args, filter.UniqueID)
		where = append(where, fmt.Sprintf("unique_id = $%d", len(args)))
	}
	if filter.OwnerID != "" {
		args = append(args, filter.OwnerID)
		where = append(where, fmt.Sprintf("owner_id = $%d", len(args)))
	}
	if filter.Location != "" {
		args = append(args, filter.Location)
		where = append(where, fmt.Sprintf("location ILIKE '%%' || $%d || '%%'", len(args)))
	}
	if filter.Category != "" {
		args = append(args, filter.Category)
		where = append(where, fmt.Sprintf("category ILIKE '%%' || $%d || '%%'", len(args)))
	}
	if filter.Search != "" {
		args = append(args, filter.Search)
		where = append(where, fmt.Sprintf("%s @@ plainto_tsquery('english', $%d)", assetSearchVector, len(args)))
	}
	return where, args
}

func scanAsset(row pgx.Row) (domain.Asset, error) {
	var asset domain.Asset
	var validUntil pgtype.Date
	err := row.Scan(
		&asset.ID, &asset.UniqueID,
		&asset.OwnerID, &asset.Description, &asset.Location, &asset.Category, &asset.AccessDetails,
		&asset.ContactName, &asset.AddressLine1, &asset.AddressLine2, &asset.AddressCity, &asset.AddressPostcode,
		&asset.Telephone, &asset.Fax, &asset.Email, &asset.Website,
		&asset.ValidFrom, &validUntil, &asset.CreatedAt,
	)
	if err != nil {
		return domain.Asset{}, err
	}
	if validUntil.Valid {
		until := validUntil.Time
		asset.ValidUntil = &until
	}
	return asset, nil
}

func scanAssetWithTotal(rows pgx.Rows) (domain.Asset, int, error) {
	var asset domain.Asset
	var validUntil pgtype.Date
	var total int
	err := rows.Scan(
		&asset.ID, &asset.UniqueID,
		&asset.OwnerID, &asset.Description, &asset.Location, &asset.Category, &asset.AccessDetails,
		&asset.ContactName, &asset.AddressLine1, &asset.AddressLine2, &asset.AddressCity, &asset.AddressPostcode,
		&asset.Telephone, &asset.Fax, &asset.Email, &asset.Website,
		&asset.ValidFrom, &validUntil, &asset.CreatedAt,
		&total,
	)
	if err != nil {
		return domain.Asset{}, 0, err
	}
	if validUntil.Valid {
		until := validUntil.Time
		asset.ValidUntil = &until
	}
	return asset, total, nil
}

func collectAssets(rows pgx.Rows) ([]domain.Asset, error) {
	assets := []domain.Asset{}
	for rows.Next() {
		asset, err := scanAsset(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan asset: %w", err)
		}
		assets = append(assets, asset)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate assets: %w", err)
	}
	return assets, nil
}

func collectAssetMap(rows pgx.Rows) (map[string]domain.Asset, error) {
	assets, err := collectAssets(rows)
	if err != nil {
		return nil, err
	}
	view := make(map[string]domain.Asset, len(assets))
	for _, asset := range assets {
		view[asset.UniqueID] = asset
	}
	return view, nil
}
