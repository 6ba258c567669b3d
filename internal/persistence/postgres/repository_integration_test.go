//go:build integration

package postgres

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	postgrescontainer "github.com/testcontainers/testcontainers-go/modules/postgres"

	"example.com/activityadmin/internal/domain"
	"example.com/activityadmin/internal/identity"
)

func startDatabase(t *testing.T, ctx context.Context) *pgxpool.Pool {
	t.Helper()

	pg, err := postgrescontainer.RunContainer(ctx,
		postgrescontainer.WithDatabase("activityadmin"),
		postgrescontainer.WithUsername("admin"),
		postgrescontainer.WithPassword("admin"),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pg.Terminate(ctx) })

	connStr, err := pg.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	require.NoError(t, waitForDatabase(ctx, connStr))
	runMigrations(t, ctx, connStr)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })
	return pool
}

func testActivity(slug string) domain.Activity {
	now := time.Now().UTC().Truncate(time.Microsecond)
	id := uuid.NewString()
	return domain.Activity{
		ID:                 id,
		Name:               "Call for Proposals",
		Slug:               slug,
		StartAt:            now.Add(24 * time.Hour),
		EndAt:              now.Add(30 * 24 * time.Hour),
		SupportedLanguages: []string{"en-us", "zh-tw"},
		CreatedAt:          now,
		UpdatedAt:          now,
		Contents: []domain.ActivityContent{
			{ID: uuid.NewString(), ActivityID: id, Lang: "en-us", Title: "Call for Proposals", Description: "Submit your talk.", CreatedAt: now, UpdatedAt: now},
			{ID: uuid.NewString(), ActivityID: id, Lang: "zh-tw", Title: "徵稿", CreatedAt: now, UpdatedAt: now},
		},
	}
}

func TestActivityRepositoryLifecycle(t *testing.T) {
	ctx := context.Background()
	pool := startDatabase(t, ctx)
	repo := NewActivityRepository(pool)

	activity := testActivity("cfp-2026")
	require.NoError(t, repo.Create(ctx, activity))

	stored, err := repo.Get(ctx, activity.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	require.Equal(t, activity.Slug, stored.Slug)
	require.Nil(t, stored.ClosedAt)
	require.Len(t, stored.Contents, 2)

	// The unique constraint backs the slug rule even under races.
	dupe := testActivity("cfp-2026")
	err = repo.Create(ctx, dupe)
	require.ErrorIs(t, err, domain.ErrSlugTaken)

	// A second create must not leave partial rows behind.
	var contentCount int
	require.NoError(t, pool.QueryRow(ctx, `SELECT count(*) FROM activity_contents`).Scan(&contentCount))
	require.Equal(t, 2, contentCount)

	// Update upserts contents keyed on (activity_id, lang).
	updated := *stored
	updated.UpdatedAt = time.Now().UTC().Truncate(time.Microsecond)
	rewrite := domain.ActivityContent{
		ID:         uuid.NewString(),
		ActivityID: activity.ID,
		Lang:       "en-us",
		Title:      "Call for Proposals (extended)",
		CreatedAt:  updated.UpdatedAt,
		UpdatedAt:  updated.UpdatedAt,
	}
	require.NoError(t, repo.Update(ctx, updated, []domain.ActivityContent{rewrite}))

	// Replaying the same content for a language rewrites the row in place.
	updated.UpdatedAt = updated.UpdatedAt.Add(time.Microsecond)
	rewrite.ID = uuid.NewString()
	require.NoError(t, repo.Update(ctx, updated, []domain.ActivityContent{rewrite}))

	refreshed, err := repo.Get(ctx, activity.ID)
	require.NoError(t, err)
	require.Len(t, refreshed.Contents, 2, "upsert must not add rows for an existing language")
	for _, content := range refreshed.Contents {
		if content.Lang == "en-us" {
			require.Equal(t, "Call for Proposals (extended)", content.Title)
		}
	}

	// Lang narrowing on the slug lookup is case-insensitive.
	bySlug, err := repo.GetBySlug(ctx, "cfp-2026", "ZH-TW")
	require.NoError(t, err)
	require.NotNil(t, bySlug)
	require.Len(t, bySlug.Contents, 1)
	require.Equal(t, "zh-tw", bySlug.Contents[0].Lang)

	missing, err := repo.GetBySlug(ctx, "unknown", "")
	require.NoError(t, err)
	require.Nil(t, missing)

	// Each committed write leaves an outbox row behind.
	var outboxCount int
	require.NoError(t, pool.QueryRow(ctx, `SELECT count(*) FROM outbox WHERE aggregate_id = $1`, activity.ID).Scan(&outboxCount))
	require.GreaterOrEqual(t, outboxCount, 2)

	var eventType string
	require.NoError(t, pool.QueryRow(ctx,
		`SELECT event_type FROM outbox WHERE aggregate_id = $1 ORDER BY event_id LIMIT 1`, activity.ID).Scan(&eventType))
	require.Equal(t, "activity.created", eventType)
}

func TestActivityRepositoryUpdateUnknownID(t *testing.T) {
	ctx := context.Background()
	pool := startDatabase(t, ctx)
	repo := NewActivityRepository(pool)

	ghost := testActivity("ghost")
	err := repo.Update(ctx, ghost, nil)
	require.ErrorIs(t, err, domain.ErrActivityNotFound)
}

func TestMemberRepositoryRoles(t *testing.T) {
	ctx := context.Background()
	pool := startDatabase(t, ctx)
	repo := NewMemberRepository(pool)

	now := time.Now().UTC().Truncate(time.Microsecond)
	member := identity.Member{
		ID:          uuid.NewString(),
		Email:       "octo@example.com",
		DisplayName: "Octo Cat",
		AvatarURL:   "https://avatars.example/42",
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	link := identity.ProviderLink{Provider: "github", ProviderUserID: "42"}

	require.NoError(t, repo.Create(ctx, member, &link, []string{"https://github.com/octocat"}))

	found, err := repo.FindByEmail(ctx, member.Email)
	require.NoError(t, err)
	require.NotNil(t, found)
	require.Equal(t, member.ID, found.ID)

	absent, err := repo.FindByEmail(ctx, "nobody@example.com")
	require.NoError(t, err)
	require.Nil(t, absent)

	linked, err := repo.HasProviderLink(ctx, member.ID, "github")
	require.NoError(t, err)
	require.True(t, linked)

	// Re-adding the same provider is a no-op, not an error.
	require.NoError(t, repo.AddProviderLink(ctx, member.ID, link))

	// No roles yet, so no permissions.
	permissions, err := repo.ListPermissions(ctx, member.ID)
	require.NoError(t, err)
	require.Empty(t, permissions)

	seedRole(t, ctx, pool, member.ID, "organizer", "activity:manage")

	permissions, err = repo.ListPermissions(ctx, member.ID)
	require.NoError(t, err)
	require.Equal(t, []string{"activity:manage"}, permissions)
}

func seedRole(t *testing.T, ctx context.Context, pool *pgxpool.Pool, memberID, role, permission string) {
	t.Helper()

	roleID := uuid.NewString()
	permissionID := uuid.NewString()
	_, err := pool.Exec(ctx, `INSERT INTO roles (role_id, name) VALUES ($1,$2)`, roleID, role)
	require.NoError(t, err)
	_, err = pool.Exec(ctx, `INSERT INTO permissions (permission_id, code) VALUES ($1,$2)`, permissionID, permission)
	require.NoError(t, err)
	_, err = pool.Exec(ctx, `INSERT INTO role_permissions (role_id, permission_id) VALUES ($1,$2)`, roleID, permissionID)
	require.NoError(t, err)
	_, err = pool.Exec(ctx, `INSERT INTO role_members (role_id, member_id) VALUES ($1,$2)`, roleID, memberID)
	require.NoError(t, err)
}

func runMigrations(t *testing.T, ctx context.Context, connStr string) {
	files := []string{
		"../../../db/postgres/migrations/0001_init.up.sql",
		"../../../db/postgres/migrations/0002_outbox.up.sql",
	}

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	defer pool.Close()

	for _, rel := range files {
		path := resolvePath(t, rel)
		contents, readErr := os.ReadFile(path)
		require.NoError(t, readErr)

		_, execErr := pool.Exec(ctx, string(contents))
		require.NoError(t, execErr)
	}
}

func resolvePath(t *testing.T, rel string) string {
	t.Helper()
	_, file, _, ok := runtime.Caller(0)
	require.True(t, ok)
	return filepath.Join(filepath.Dir(file), rel)
}

func waitForDatabase(ctx context.Context, connStr string) error {
	deadline := time.Now().Add(30 * time.Second)
	for {
		pool, err := pgxpool.New(ctx, connStr)
		if err == nil {
			err = pool.Ping(ctx)
			pool.Close()
			if err == nil {
				return nil
			}
		}
		if time.Now().After(deadline) {
			if err == nil {
				err = errors.New("database not ready")
			}
			return err
		}
		time.Sleep(time.Second)
	}
}
