// Package identity handles GitHub OAuth login, member upserts and session
// token issuance.
package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"example.com/activityadmin/internal/auth"
	"example.com/activityadmin/internal/observability"
)

var (
	// ErrAuthentication is the single failure category surfaced by the login
	// path. Network errors, provider errors and missing emails all collapse
	// into it.
	ErrAuthentication = errors.New("authentication failed")
	// ErrDevLoginDisabled is returned when dev login is requested outside
	// development mode.
	ErrDevLoginDisabled = errors.New("dev login is disabled")
)

// OAuthProvider abstracts the GitHub client for testing.
type OAuthProvider interface {
	AuthURL(state string) string
	ExchangeCode(ctx context.Context, code string) (string, error)
	Profile(ctx context.Context, accessToken string) (*GitHubProfile, error)
	Emails(ctx context.Context, accessToken string) ([]GitHubEmail, error)
	SocialAccounts(ctx context.Context, accessToken string) ([]GitHubSocialAccount, error)
}

// Session is the outcome of a successful login.
type Session struct {
	Token       string
	Member      Member
	Permissions []string
	ExpiresAt   time.Time
}

// Service orchestrates the login flows.
type Service struct {
	provider OAuthProvider
	members  MemberRepository
	tokens   auth.Config
	devMode  bool
}

// NewService constructs a Service.
func NewService(provider OAuthProvider, members MemberRepository, tokens auth.Config, devMode bool) *Service {
	return &Service{provider: provider, members: members, tokens: tokens, devMode: devMode}
}

// AuthURL builds the provider authorization URL for the supplied state token.
func (s *Service) AuthURL(state string) string {
	return s.provider.AuthURL(state)
}

// Login exchanges the authorization code for a provider profile, upserts the
// local member, computes the effective permission set and issues a session
// token. Every failure is normalized to ErrAuthentication unless it already
// carries that classification.
func (s *Service) Login(ctx context.Context, code string) (*Session, error) {
	session, err := s.login(ctx, code)
	if err != nil {
		observability.RecordLogin(githubProviderName, false)
		if errors.Is(err, ErrAuthentication) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrAuthentication, err)
	}
	observability.RecordLogin(githubProviderName, true)
	return session, nil
}

func (s *Service) login(ctx context.Context, code string) (*Session, error) {
	accessToken, err := s.provider.ExchangeCode(ctx, code)
	if err != nil {
		return nil, err
	}

	// The three lookups are independent; issue them concurrently and join.
	var (
		wg      sync.WaitGroup
		profile *GitHubProfile
		emails  []GitHubEmail
		socials []GitHubSocialAccount

		profileErr, emailsErr, socialsErr error
	)
	wg.Add(3)
	go func() {
		defer wg.Done()
		profile, profileErr = s.provider.Profile(ctx, accessToken)
	}()
	go func() {
		defer wg.Done()
		emails, emailsErr = s.provider.Emails(ctx, accessToken)
	}()
	go func() {
		defer wg.Done()
		socials, socialsErr = s.provider.SocialAccounts(ctx, accessToken)
	}()
	wg.Wait()

	if profileErr != nil {
		return nil, profileErr
	}
	if emailsErr != nil {
		return nil, emailsErr
	}
	if socialsErr != nil {
		return nil, socialsErr
	}

	email := effectiveEmail(profile, emails)
	if email == "" {
		return nil, fmt.Errorf("%w: no usable email on github account", ErrAuthentication)
	}

	member, err := s.findOrCreateMember(ctx, email, profile, socials)
	if err != nil {
		return nil, err
	}

	return s.issueSession(ctx, member)
}

// DevLogin bypasses the OAuth exchange for local development. It refuses to
// run outside development mode.
func (s *Service) DevLogin(ctx context.Context, email string) (*Session, error) {
	if !s.devMode {
		return nil, ErrDevLoginDisabled
	}

	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, fmt.Errorf("%w: email is required", ErrAuthentication)
	}

	member, err := s.members.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuthentication, err)
	}
	if member == nil {
		now := time.Now().UTC()
		created := Member{
			ID:          uuid.NewString(),
			Email:       email,
			DisplayName: email,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := s.members.Create(ctx, created, nil, nil); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrAuthentication, err)
		}
		member = &created
	}

	session, err := s.issueSession(ctx, member)
	if err != nil {
		observability.RecordLogin("dev", false)
		return nil, fmt.Errorf("%w: %v", ErrAuthentication, err)
	}
	observability.RecordLogin("dev", true)
	return session, nil
}

func (s *Service) findOrCreateMember(ctx context.Context, email string, profile *GitHubProfile, socials []GitHubSocialAccount) (*Member, error) {
	member, err := s.members.FindByEmail(ctx, email)
	if err != nil {
		return nil, err
	}

	link := ProviderLink{Provider: githubProviderName, ProviderUserID: profile.ProviderUserID()}

	if member == nil {
		displayName := profile.Name
		if strings.TrimSpace(displayName) == "" {
			displayName = profile.Login
		}
		now := time.Now().UTC()
		created := Member{
			ID:          uuid.NewString(),
			Email:       email,
			DisplayName: displayName,
			AvatarURL:   profile.AvatarURL,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := s.members.Create(ctx, created, &link, socialURLs(profile, socials)); err != nil {
			return nil, err
		}
		return &created, nil
	}

	linked, err := s.members.HasProviderLink(ctx, member.ID, githubProviderName)
	if err != nil {
		return nil, err
	}
	if !linked {
		if err := s.members.AddProviderLink(ctx, member.ID, link); err != nil {
			return nil, err
		}
	}
	return member, nil
}

func (s *Service) issueSession(ctx context.Context, member *Member) (*Session, error) {
	permissions, err := s.members.ListPermissions(ctx, member.ID)
	if err != nil {
		return nil, err
	}

	token, err := auth.Issue(member.ID, member.Email, permissions, s.tokens)
	if err != nil {
		return nil, err
	}

	return &Session{
		Token:       token,
		Member:      *member,
		Permissions: permissions,
		ExpiresAt:   time.Now().Add(s.tokens.TTL),
	}, nil
}

// effectiveEmail prefers the public profile email, falling back to the first
// email flagged primary.
func effectiveEmail(profile *GitHubProfile, emails []GitHubEmail) string {
	if email := strings.TrimSpace(profile.Email); email != "" {
		return strings.ToLower(email)
	}
	for _, entry := range emails {
		if entry.Primary && entry.Email != "" {
			return strings.ToLower(entry.Email)
		}
	}
	return ""
}

func socialURLs(profile *GitHubProfile, socials []GitHubSocialAccount) []string {
	out := make([]string, 0, len(socials)+1)
	if profile.HTMLURL != "" {
		out = append(out, profile.HTMLURL)
	}
	for _, account := range socials {
		if account.URL != "" {
			out = append(out, account.URL)
		}
	}
	return out
}
