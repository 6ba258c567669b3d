// Package postgres provides pgx-backed persistence for activities and members.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/activityadmin/internal/domain"
	"example.com/activityadmin/internal/events"
	"example.com/activityadmin/internal/observability"
)

const uniqueViolation = "23505"

// ActivityRepository provides Postgres-backed persistence for activities and
// their outbox events.
type ActivityRepository struct {
	pool *pgxpool.Pool
}

// NewActivityRepository constructs an ActivityRepository.
func NewActivityRepository(pool *pgxpool.Pool) *ActivityRepository {
	return &ActivityRepository{pool: pool}
}

// SlugExists reports whether any activity already owns the slug.
func (r *ActivityRepository) SlugExists(ctx context.Context, slug string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM activities WHERE slug = $1)`, slug).Scan(&exists)
	return exists, err
}

// Create persists the activity, its contents and an activity.created outbox
// row inside a single transaction.
func (r *ActivityRepository) Create(ctx context.Context, activity domain.Activity) (err error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	const insertActivity = `INSERT INTO activities (activity_id, name, slug, start_at, end_at, closed_at, supported_languages, created_at, updated_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`

	_, err = tx.Exec(ctx, insertActivity,
		activity.ID,
		activity.Name,
		activity.Slug,
		activity.StartAt,
		activity.EndAt,
		activity.ClosedAt,
		activity.SupportedLanguages,
		activity.CreatedAt,
		activity.UpdatedAt,
	)
	if err != nil {
		return mapSlugConflict(err)
	}

	for _, content := range activity.Contents {
		if err = insertContent(ctx, tx, content); err != nil {
			return err
		}
	}

	if err = insertOutbox(ctx, tx, activity, "activity.created", events.ActivityCreated{
		ActivityID:         activity.ID,
		Name:               activity.Name,
		Slug:               activity.Slug,
		StartAt:            activity.StartAt,
		EndAt:              activity.EndAt,
		SupportedLanguages: activity.SupportedLanguages,
		OccurredAt:         activity.CreatedAt,
	}); err != nil {
		return err
	}

	if err = tx.Commit(ctx); err != nil {
		return err
	}
	observability.RecordActivityWrite("create", activity.CreatedAt)
	return nil
}

// List returns all activities ordered by descending creation time, without
// contents.
func (r *ActivityRepository) List(ctx context.Context) ([]domain.Activity, error) {
	const query = `SELECT activity_id, name, slug, start_at, end_at, closed_at, supported_languages, created_at, updated_at
        FROM activities ORDER BY created_at DESC`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	activities := make([]domain.Activity, 0)
	for rows.Next() {
		activity, err := scanActivity(rows)
		if err != nil {
			return nil, err
		}
		activities = append(activities, activity)
	}
	return activities, rows.Err()
}

// Get retrieves an activity with all of its contents. Returns nil without
// error when no row matches.
func (r *ActivityRepository) Get(ctx context.Context, activityID string) (*domain.Activity, error) {
	const query = `SELECT activity_id, name, slug, start_at, end_at, closed_at, supported_languages, created_at, updated_at
        FROM activities WHERE activity_id = $1`

	row := r.pool.QueryRow(ctx, query, activityID)
	activity, err := scanActivity(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	activity.Contents, err = r.loadContents(ctx, activity.ID, "")
	if err != nil {
		return nil, err
	}
	return &activity, nil
}

// GetBySlug retrieves an activity by slug. When lang is non-empty the content
// rows are narrowed to that language, case-insensitively.
func (r *ActivityRepository) GetBySlug(ctx context.Context, slug, lang string) (*domain.Activity, error) {
	const query = `SELECT activity_id, name, slug, start_at, end_at, closed_at, supported_languages, created_at, updated_at
        FROM activities WHERE slug = $1`

	row := r.pool.QueryRow(ctx, query, slug)
	activity, err := scanActivity(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	activity.Contents, err = r.loadContents(ctx, activity.ID, lang)
	if err != nil {
		return nil, err
	}
	return &activity, nil
}

// Update applies the parent field update and upserts the supplied contents
// keyed on (activity_id, lang) inside one transaction, alongside an
// activity.updated outbox row.
func (r *ActivityRepository) Update(ctx context.Context, activity domain.Activity, contents []domain.ActivityContent) (err error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	const updateActivity = `UPDATE activities
        SET name = $2, slug = $3, start_at = $4, end_at = $5, closed_at = $6, supported_languages = $7, updated_at = $8
        WHERE activity_id = $1`

	tag, err := tx.Exec(ctx, updateActivity,
		activity.ID,
		activity.Name,
		activity.Slug,
		activity.StartAt,
		activity.EndAt,
		activity.ClosedAt,
		activity.SupportedLanguages,
		activity.UpdatedAt,
	)
	if err != nil {
		return mapSlugConflict(err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrActivityNotFound
	}

	contentLanguages := make([]string, 0, len(contents))
	for _, content := range contents {
		if err = upsertContent(ctx, tx, content); err != nil {
			return err
		}
		contentLanguages = append(contentLanguages, content.Lang)
	}

	if err = insertOutbox(ctx, tx, activity, "activity.updated", events.ActivityUpdated{
		ActivityID:         activity.ID,
		Slug:               activity.Slug,
		SupportedLanguages: activity.SupportedLanguages,
		ContentLanguages:   contentLanguages,
		OccurredAt:         activity.UpdatedAt,
	}); err != nil {
		return err
	}

	if err = tx.Commit(ctx); err != nil {
		return err
	}
	observability.RecordActivityWrite("update", activity.UpdatedAt)
	return nil
}

func (r *ActivityRepository) loadContents(ctx context.Context, activityID, lang string) ([]domain.ActivityContent, error) {
	query := `SELECT content_id, activity_id, lang, title, COALESCE(description, ''), created_at, updated_at
        FROM activity_contents WHERE activity_id = $1`
	args := []interface{}{activityID}
	if lang != "" {
		query += ` AND lower(lang) = lower($2)`
		args = append(args, lang)
	}
	query += ` ORDER BY lang`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	contents := make([]domain.ActivityContent, 0)
	for rows.Next() {
		var content domain.ActivityContent
		if err := rows.Scan(&content.ID, &content.ActivityID, &content.Lang, &content.Title, &content.Description, &content.CreatedAt, &content.UpdatedAt); err != nil {
			return nil, err
		}
		contents = append(contents, content)
	}
	return contents, rows.Err()
}

func insertContent(ctx context.Context, tx pgx.Tx, content domain.ActivityContent) error {
	const stmt = `INSERT INTO activity_contents (content_id, activity_id, lang, title, description, created_at, updated_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7)`
	_, err := tx.Exec(ctx, stmt, content.ID, content.ActivityID, content.Lang, content.Title, nullIfEmpty(content.Description), content.CreatedAt, content.UpdatedAt)
	return err
}

func upsertContent(ctx context.Context, tx pgx.Tx, content domain.ActivityContent) error {
	const stmt = `INSERT INTO activity_contents (content_id, activity_id, lang, title, description, created_at, updated_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7)
        ON CONFLICT (activity_id, lang)
        DO UPDATE SET title = EXCLUDED.title, description = EXCLUDED.description, updated_at = EXCLUDED.updated_at`
	_, err := tx.Exec(ctx, stmt, content.ID, content.ActivityID, content.Lang, content.Title, nullIfEmpty(content.Description), content.CreatedAt, content.UpdatedAt)
	return err
}

func insertOutbox(ctx context.Context, tx pgx.Tx, activity domain.Activity, eventType string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	meta, ok := eventCatalog[eventType]
	if !ok {
		return fmt.Errorf("unknown event type: %s", eventType)
	}

	dedupeKey := fmt.Sprintf("%s:%s:%d", activity.ID, eventType, activity.UpdatedAt.UnixNano())

	const stmt = `INSERT INTO outbox (aggregate_type, aggregate_id, event_type, topic, schema_subject, partition_key, payload, dedupe_key)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`

	_, err = tx.Exec(ctx, stmt,
		"activity",
		activity.ID,
		eventType,
		meta.Topic,
		meta.SchemaSubject,
		meta.PartitionKeyFn(activity),
		body,
		dedupeKey,
	)
	return err
}

func nullIfEmpty(value string) interface{} {
	if value == "" {
		return nil
	}
	return value
}

func mapSlugConflict(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%w: %v", domain.ErrSlugTaken, pgErr.ConstraintName)
	}
	return err
}

func scanActivity(row pgx.Row) (domain.Activity, error) {
	var (
		activity domain.Activity
		closedAt *time.Time
	)
	err := row.Scan(&activity.ID, &activity.Name, &activity.Slug, &activity.StartAt, &activity.EndAt, &closedAt, &activity.SupportedLanguages, &activity.CreatedAt, &activity.UpdatedAt)
	if err != nil {
		return domain.Activity{}, err
	}
	activity.ClosedAt = closedAt
	return activity, nil
}

// EventMetadata describes how to route an outbox event.
type EventMetadata struct {
	Topic          string
	SchemaSubject  string
	PartitionKeyFn func(domain.Activity) string
}

var eventCatalog = map[string]EventMetadata{
	"activity.created": {
		Topic:         "activity_events",
		SchemaSubject: "activity_events-value",
		PartitionKeyFn: func(a domain.Activity) string {
			return a.Slug
		},
	},
	"activity.updated": {
		Topic:         "activity_updated",
		SchemaSubject: "activity_updated-value",
		PartitionKeyFn: func(a domain.Activity) string {
			return a.ID
		},
	},
}
