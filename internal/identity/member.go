package identity

import (
	"context"
	"time"
)

// Member is a local account linked to one or more external identity providers.
type Member struct {
	ID          string
	Email       string
	DisplayName string
	AvatarURL   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ProviderLink ties a member to an external identity provider account.
type ProviderLink struct {
	Provider       string
	ProviderUserID string
}

// MemberRepository captures persistence operations for members and their
// role-derived permissions.
type MemberRepository interface {
	// FindByEmail returns nil without error when no member matches.
	FindByEmail(ctx context.Context, email string) (*Member, error)
	// Create inserts the member together with an optional provider link and
	// social links in one transaction.
	Create(ctx context.Context, member Member, link *ProviderLink, socialURLs []string) error
	HasProviderLink(ctx context.Context, memberID, provider string) (bool, error)
	AddProviderLink(ctx context.Context, memberID string, link ProviderLink) error
	// ListPermissions returns the union of permission codes across all roles
	// the member belongs to.
	ListPermissions(ctx context.Context, memberID string) ([]string, error)
}
