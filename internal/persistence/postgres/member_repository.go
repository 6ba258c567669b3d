package postgres

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/activityadmin/internal/identity"
)

// MemberRepository provides Postgres-backed persistence for members, provider
// links and role-derived permissions.
type MemberRepository struct {
	pool *pgxpool.Pool
}

// NewMemberRepository constructs a MemberRepository.
func NewMemberRepository(pool *pgxpool.Pool) *MemberRepository {
	return &MemberRepository{pool: pool}
}

// FindByEmail returns the member for an email, or nil when absent.
func (r *MemberRepository) FindByEmail(ctx context.Context, email string) (*identity.Member, error) {
	const query = `SELECT member_id, email, display_name, COALESCE(avatar_url, ''), created_at, updated_at
        FROM members WHERE email = $1`

	var member identity.Member
	err := r.pool.QueryRow(ctx, query, email).Scan(&member.ID, &member.Email, &member.DisplayName, &member.AvatarURL, &member.CreatedAt, &member.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &member, nil
}

// Create inserts the member together with an optional provider link and
// social links in one transaction.
func (r *MemberRepository) Create(ctx context.Context, member identity.Member, link *identity.ProviderLink, socialURLs []string) (err error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	const insertMember = `INSERT INTO members (member_id, email, display_name, avatar_url, created_at, updated_at)
        VALUES ($1,$2,$3,$4,$5,$6)`
	if _, err = tx.Exec(ctx, insertMember, member.ID, member.Email, member.DisplayName, nullIfEmpty(member.AvatarURL), member.CreatedAt, member.UpdatedAt); err != nil {
		return err
	}

	if link != nil {
		if err = insertProviderLink(ctx, tx, member.ID, *link); err != nil {
			return err
		}
	}

	for _, url := range socialURLs {
		const insertSocial = `INSERT INTO member_social_links (link_id, member_id, url) VALUES ($1,$2,$3)
            ON CONFLICT (member_id, url) DO NOTHING`
		if _, err = tx.Exec(ctx, insertSocial, uuid.NewString(), member.ID, url); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

// HasProviderLink reports whether the member already has an identity for the
// provider.
func (r *MemberRepository) HasProviderLink(ctx context.Context, memberID, provider string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM member_providers WHERE member_id = $1 AND provider = $2)`,
		memberID, provider).Scan(&exists)
	return exists, err
}

// AddProviderLink attaches a provider identity to an existing member.
func (r *MemberRepository) AddProviderLink(ctx context.Context, memberID string, link identity.ProviderLink) (err error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	if err = insertProviderLink(ctx, tx, memberID, link); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// ListPermissions returns the union of permission codes across all roles the
// member belongs to.
func (r *MemberRepository) ListPermissions(ctx context.Context, memberID string) ([]string, error) {
	const query = `SELECT DISTINCT p.code
        FROM permissions p
        JOIN role_permissions rp ON rp.permission_id = p.permission_id
        JOIN role_members rm ON rm.role_id = rp.role_id
        WHERE rm.member_id = $1
        ORDER BY p.code`

	rows, err := r.pool.Query(ctx, query, memberID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	permissions := make([]string, 0)
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, err
		}
		permissions = append(permissions, code)
	}
	return permissions, rows.Err()
}

func insertProviderLink(ctx context.Context, tx pgx.Tx, memberID string, link identity.ProviderLink) error {
	const stmt = `INSERT INTO member_providers (provider_link_id, member_id, provider, provider_user_id)
        VALUES ($1,$2,$3,$4)
        ON CONFLICT (member_id, provider) DO NOTHING`
	_, err := tx.Exec(ctx, stmt, uuid.NewString(), memberID, link.Provider, link.ProviderUserID)
	return err
}
