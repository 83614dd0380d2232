package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/tmorland/heritagetrack/internal/domain"
)

const changeEventColumns = `id, unique_id, change_type, change_date, delta, summary, created_at`

type postgresChangeEventRepository struct {
	db DBTX
}

func (r *postgresChangeEventRepository) Append(ctx context.Context, event domain.ChangeEvent) (domain.ChangeEvent, error) {
	deltaJSON, err := json.Marshal(event.Delta)
	if err != nil {
		return domain.ChangeEvent{}, fmt.Errorf("failed to marshal delta: %w", err)
	}

	_, err = r.db.Exec(
		ctx,
		`INSERT INTO change_events (id, unique_id, change_type, change_date, delta, summary, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		event.ID, event.UniqueID, event.ChangeType, event.ChangeDate, deltaJSON, event.Summary, event.CreatedAt,
	)
	if err != nil {
		return domain.ChangeEvent{}, fmt.Errorf("failed to append change event: %w", err)
	}

	return event, nil
}

func (r *postgresChangeEventRepository) List(ctx context.Context, filter domain.ChangeFilter, page domain.PageRequest) ([]domain.ChangeEvent, int, error) {
	where := []string{"TRUE"}
	args := []any{}
	if filter.UniqueID != "" {
		args = append(args, filter.UniqueID)
		where = append(where, fmt.Sprintf("unique_id = $%d", len(args)))
	}
	if filter.ChangeType != "" {
		args = append(args, filter.ChangeType)
		where = append(where, fmt.Sprintf("change_type = $%d", len(args)))
	}
	if filter.Since != nil {
		args = append(args, *filter.Since)
		where = append(where, fmt.Sprintf("change_date >= $%d", len(args)))
	}
	if filter.Until != nil {
		args = append(args, *filter.Until)
		where = append(where, fmt.Sprintf("change_date <= $%d", len(args)))
	}

	args = append(args, page.PageSize, page.Offset())
	sql := fmt.Sprintf(
		`SELECT %s, COUNT(*) OVER() AS total_count FROM change_events
		 WHERE %s
		 ORDER BY change_date DESC, created_at DESC
		 LIMIT $%d OFFSET $%d`,
		changeEventColumns, strings.Join(where, " AND "), len(args)-1, len(args),
	)

	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list change events: %w", err)
	}
	defer rows.Close()

	events := []domain.ChangeEvent{}
	total := 0
	for rows.Next() {
		var event domain.ChangeEvent
		var deltaJSON []byte
		if err := rows.Scan(
			&event.ID, &event.UniqueID, &event.ChangeType, &event.ChangeDate,
			&deltaJSON, &event.Summary, &event.CreatedAt, &total,
		); err != nil {
			return nil, 0, fmt.Errorf("failed to scan change event: %w", err)
		}
		if err := json.Unmarshal(deltaJSON, &event.Delta); err != nil {
			return nil, 0, fmt.Errorf("failed to decode delta for event %s: %w", event.ID, err)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate change events: %w", err)
	}

	return events, total, nil
}

func (r *postgresChangeEventRepository) ListBetween(ctx context.Context, from, to time.Time) ([]domain.ChangeEvent, error) {
	rows, err := r.db.Query(
		ctx,
		fmt.Sprintf(`SELECT %s FROM change_events
			 WHERE change_date > $1 AND change_date <= $2
			 ORDER BY change_date, created_at`, changeEventColumns),
		from, to,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list change events between dates: %w", err)
	}
	defer rows.Close()

	return collectChangeEvents(rows)
}

func (r *postgresChangeEventRepository) ListByUniqueID(ctx context.Context, uniqueID string) ([]domain.ChangeEvent, error) {
	rows, err := r.db.Query(
		ctx,
		fmt.Sprintf(`SELECT %s FROM change_events WHERE unique_id = $1
			 ORDER BY change_date DESC, created_at DESC`, changeEventColumns),
		uniqueID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list change events for %s: %w", uniqueID, err)
	}
	defer rows.Close()

	return collectChangeEvents(rows)
}

func (r *postgresChangeEventRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM change_events`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count change events: %w", err)
	}
	return count, nil
}

func collectChangeEvents(rows pgx.Rows) ([]domain.ChangeEvent, error) {
	events := []domain.ChangeEvent{}
	for rows.Next() {
		var event domain.ChangeEvent
		var deltaJSON []byte
		if err := rows.Scan(
			&event.ID, &event.UniqueID, &event.ChangeType, &event.ChangeDate,
			&deltaJSON, &event.Summary, &event.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan change event: %w", err)
		}
		if err := json.Unmarshal(deltaJSON, &event.Delta); err != nil {
			return nil, fmt.Errorf("failed to decode delta for event %s: %w", event.ID, err)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate change events: %w", err)
	}
	return events, nil
}
