// SPDX-License-Identifier: Apache-2.0

package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/adiadia/activity-relay/internal/domain"
)

const maxListLimit = 200

type EventRepository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewEventRepository(pool *pgxpool.Pool, logger *slog.Logger) *EventRepository {
	if logger == nil {
		logger = slog.Default()
	}

	return &EventRepository{
		pool:   pool,
		logger: logger,
	}
}

type CreateEventParams struct {
	EventType   string
	Description string
	Subject     *domain.Ref
	Causer      *domain.Ref
	Properties  domain.Properties
}

const eventColumns = `
	id, event_type, description,
	subject_type, subject_id, subject_name,
	causer_type, causer_id, causer_name,
	properties, discord_sent, discord_sent_at, created_at, updated_at`

func (r *EventRepository) Create(ctx context.Context, p CreateEventParams) (domain.EventRecord, error) {
	props, err := encodeProperties(p.Properties)
	if err != nil {
		return domain.EventRecord{}, err
	}

	subjectType, subjectID, subjectName := refColumns(p.Subject)
	causerType, causerID, causerName := refColumns(p.Causer)

	row := r.pool.QueryRow(ctx, `
		INSERT INTO activity_logs (
			id, event_type, description,
			subject_type, subject_id, subject_name,
			causer_type, causer_id, causer_name,
			properties
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10::json)
		RETURNING `+eventColumns,
		uuid.New(),
		p.EventType,
		p.Description,
		subjectType,
		subjectID,
		subjectName,
		causerType,
		causerID,
		causerName,
		props,
	)

	rec, err := scanEvent(row)
	if err != nil {
		r.logger.Error("create activity log failed",
			"event_type", p.EventType,
			"error", err,
		)
		return domain.EventRecord{}, err
	}
	return rec, nil
}

func (r *EventRepository) Get(ctx context.Context, id uuid.UUID) (domain.EventRecord, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+eventColumns+` FROM activity_logs WHERE id=$1`, id)

	rec, err := scanEvent(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.EventRecord{}, domain.ErrEventNotFound
	}
	if err != nil {
		r.logger.Error("get activity log failed", "event_id", id, "error", err)
		return domain.EventRecord{}, err
	}
	return rec, nil
}

// MarkSent records a successful delivery. sent_at never predates created_at.
func (r *EventRepository) MarkSent(ctx context.Context, id uuid.UUID, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE activity_logs
		SET discord_sent=TRUE,
		    discord_sent_at=GREATEST($2::timestamptz, created_at),
		    updated_at=NOW()
		WHERE id=$1
	`, id, at)
	if err != nil {
		r.logger.Error("mark activity log sent failed", "event_id", id, "error", err)
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrEventNotFound
	}
	return nil
}

// MarkUnsent records that delivery was given up. A record that was already
// delivered by a concurrent attempt keeps its sent flag.
func (r *EventRepository) MarkUnsent(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE activity_logs
		SET discord_sent=FALSE,
		    discord_sent_at=NULL,
		    updated_at=NOW()
		WHERE id=$1 AND discord_sent_at IS NULL
	`, id)
	if err != nil {
		r.logger.Error("mark activity log unsent failed", "event_id", id, "error", err)
		return err
	}
	if tag.RowsAffected() == 0 {
		r.logger.Debug("mark unsent skipped", "event_id", id)
	}
	return nil
}

type ListFilter struct {
	EventType string
	// UnsentOnly limits results to records still pending delivery.
	UnsentOnly bool
	Limit      int
}

// List returns the newest records first.
func (r *EventRepository) List(ctx context.Context, f ListFilter) ([]domain.EventRecord, error) {
	limit := f.Limit
	if limit <= 0 || limit > maxListLimit {
		limit = maxListLimit
	}

	conds := make([]string, 0, 2)
	args := make([]any, 0, 3)
	if et := strings.TrimSpace(f.EventType); et != "" {
		args = append(args, et)
		conds = append(conds, fmt.Sprintf("event_type=$%d", len(args)))
	}
	if f.UnsentOnly {
		conds = append(conds, "NOT discord_sent")
	}
	args = append(args, limit)

	query := `SELECT ` + eventColumns + ` FROM activity_logs`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC, id LIMIT $%d`, len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		r.logger.Error("list activity logs query failed", "error", err)
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.EventRecord, 0, 16)
	for rows.Next() {
		rec, err := scanEvent(rows)
		if err != nil {
			r.logger.Error("scan activity log row failed", "error", err)
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		r.logger.Error("activity log rows iteration failed", "error", err)
		return nil, err
	}
	return out, nil
}

func scanEvent(row pgx.Row) (domain.EventRecord, error) {
	var (
		rec                                 domain.EventRecord
		subjectType, subjectID, subjectName *string
		causerType, causerID, causerName    *string
		props                               []byte
	)

	if err := row.Scan(
		&rec.ID,
		&rec.EventType,
		&rec.Description,
		&subjectType,
		&subjectID,
		&subjectName,
		&causerType,
		&causerID,
		&causerName,
		&props,
		&rec.Sent,
		&rec.SentAt,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	); err != nil {
		return domain.EventRecord{}, err
	}

	rec.Subject = refFromColumns(subjectType, subjectID, subjectName)
	rec.Causer = refFromColumns(causerType, causerID, causerName)

	if len(props) > 0 {
		if err := json.Unmarshal(props, &rec.Properties); err != nil {
			return domain.EventRecord{}, fmt.Errorf("decode properties of %s: %w", rec.ID, err)
		}
	}
	return rec, nil
}

func encodeProperties(p domain.Properties) ([]byte, error) {
	if len(p) == 0 {
		return nil, nil
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode properties: %w", err)
	}
	return raw, nil
}

// refColumns splits a ref into its type, id and captured name columns.
// The name is NULL when nothing was captured.
func refColumns(ref *domain.Ref) (typ, id, name *string) {
	if !ref.Valid() {
		return nil, nil, nil
	}
	if n := strings.TrimSpace(ref.Name); n != "" {
		name = &n
	}
	return &ref.Type, &ref.ID, name
}

func refFromColumns(typ, id, name *string) *domain.Ref {
	if typ == nil || id == nil {
		return nil
	}
	ref := &domain.Ref{Type: *typ, ID: *id}
	if name != nil {
		ref.Name = *name
	}
	return ref
}
