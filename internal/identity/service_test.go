package identity

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"example.com/activityadmin/internal/auth"
)

func tokenConfig() auth.Config {
	return auth.Config{Secret: "test-secret", Issuer: "activityadmin-test", TTL: time.Hour}
}

func TestLoginCreatesMemberWithProviderLink(t *testing.T) {
	provider := &fakeProvider{
		profile: GitHubProfile{ID: 42, Login: "octocat", Name: "Octo Cat", Email: "octo@example.com", AvatarURL: "https://avatars.example/42", HTMLURL: "https://github.com/octocat"},
		socials: []GitHubSocialAccount{{Provider: "mastodon", URL: "https://example.social/@octo"}},
	}
	members := newFakeMembers()
	members.permissions["*"] = []string{"activity:manage"}

	service := NewService(provider, members, tokenConfig(), false)

	session, err := service.Login(context.Background(), "auth-code")
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if session.Member.Email != "octo@example.com" {
		t.Fatalf("unexpected email %q", session.Member.Email)
	}
	if session.Member.DisplayName != "Octo Cat" {
		t.Fatalf("unexpected display name %q", session.Member.DisplayName)
	}

	stored := members.byEmail["octo@example.com"]
	if stored == nil {
		t.Fatal("member not created")
	}
	if link := members.links[stored.ID]; len(link) != 1 || link["github"] != "42" {
		t.Fatalf("provider link not recorded: %+v", link)
	}
	if got := members.socials[stored.ID]; len(got) != 2 {
		t.Fatalf("expected profile + social links, got %+v", got)
	}

	claims, err := auth.Parse(session.Token, tokenConfig())
	if err != nil {
		t.Fatalf("issued token does not parse: %v", err)
	}
	if claims.Subject != stored.ID {
		t.Fatalf("token subject %q != member id %q", claims.Subject, stored.ID)
	}
	if !claims.HasPermission("activity:manage") {
		t.Fatal("token must embed the permission snapshot")
	}
}

func TestLoginFallsBackToPrimaryEmail(t *testing.T) {
	provider := &fakeProvider{
		profile: GitHubProfile{ID: 7, Login: "noemail"},
		emails: []GitHubEmail{
			{Email: "secondary@example.com", Primary: false},
			{Email: "Primary@Example.com", Primary: true},
		},
	}
	service := NewService(provider, newFakeMembers(), tokenConfig(), false)

	session, err := service.Login(context.Background(), "auth-code")
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if session.Member.Email != "primary@example.com" {
		t.Fatalf("expected lowercased primary email, got %q", session.Member.Email)
	}
	if session.Member.DisplayName != "noemail" {
		t.Fatalf("expected login fallback for display name, got %q", session.Member.DisplayName)
	}
}

func TestLoginFailsWithoutEmail(t *testing.T) {
	provider := &fakeProvider{
		profile: GitHubProfile{ID: 7, Login: "noemail"},
		emails:  []GitHubEmail{{Email: "secondary@example.com", Primary: false}},
	}
	service := NewService(provider, newFakeMembers(), tokenConfig(), false)

	_, err := service.Login(context.Background(), "auth-code")
	if !errors.Is(err, ErrAuthentication) {
		t.Fatalf("expected authentication failure, got %v", err)
	}
}

func TestLoginNormalizesProviderErrors(t *testing.T) {
	provider := &fakeProvider{exchangeErr: fmt.Errorf("connection refused")}
	service := NewService(provider, newFakeMembers(), tokenConfig(), false)

	_, err := service.Login(context.Background(), "auth-code")
	if !errors.Is(err, ErrAuthentication) {
		t.Fatalf("expected authentication failure, got %v", err)
	}
}

func TestLoginLinksExistingMember(t *testing.T) {
	provider := &fakeProvider{
		profile: GitHubProfile{ID: 42, Login: "octocat", Email: "octo@example.com"},
	}
	members := newFakeMembers()
	existing := Member{ID: "member-1", Email: "octo@example.com", DisplayName: "Octo"}
	members.byEmail[existing.Email] = &existing

	service := NewService(provider, members, tokenConfig(), false)

	session, err := service.Login(context.Background(), "auth-code")
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if session.Member.ID != "member-1" {
		t.Fatalf("expected existing member, got %q", session.Member.ID)
	}
	if members.links["member-1"]["github"] != "42" {
		t.Fatalf("provider link not added: %+v", members.links["member-1"])
	}
	if members.created != 0 {
		t.Fatalf("no new member expected, created %d", members.created)
	}
}

func TestDevLoginRefusesOutsideDevelopment(t *testing.T) {
	service := NewService(&fakeProvider{}, newFakeMembers(), tokenConfig(), false)

	_, err := service.DevLogin(context.Background(), "dev@example.com")
	if !errors.Is(err, ErrDevLoginDisabled) {
		t.Fatalf("expected dev login disabled, got %v", err)
	}
}

func TestDevLoginCreatesMember(t *testing.T) {
	members := newFakeMembers()
	service := NewService(&fakeProvider{}, members, tokenConfig(), true)

	session, err := service.DevLogin(context.Background(), "  Dev@Example.com ")
	if err != nil {
		t.Fatalf("dev login failed: %v", err)
	}
	if session.Member.Email != "dev@example.com" {
		t.Fatalf("expected normalized email, got %q", session.Member.Email)
	}
	if members.created != 1 {
		t.Fatalf("expected member creation, created %d", members.created)
	}
	if len(members.links[session.Member.ID]) != 0 {
		t.Fatal("dev login must not record a provider link")
	}

	// Second login reuses the member.
	again, err := service.DevLogin(context.Background(), "dev@example.com")
	if err != nil {
		t.Fatalf("second dev login failed: %v", err)
	}
	if again.Member.ID != session.Member.ID {
		t.Fatal("expected the same member on repeat login")
	}
	if members.created != 1 {
		t.Fatalf("repeat login must not create, created %d", members.created)
	}
}

type fakeProvider struct {
	profile     GitHubProfile
	emails      []GitHubEmail
	socials     []GitHubSocialAccount
	exchangeErr error
}

func (f *fakeProvider) AuthURL(state string) string {
	return "https://github.example/authorize?state=" + state
}

func (f *fakeProvider) ExchangeCode(ctx context.Context, code string) (string, error) {
	if f.exchangeErr != nil {
		return "", f.exchangeErr
	}
	return "access-token", nil
}

func (f *fakeProvider) Profile(ctx context.Context, accessToken string) (*GitHubProfile, error) {
	profile := f.profile
	return &profile, nil
}

func (f *fakeProvider) Emails(ctx context.Context, accessToken string) ([]GitHubEmail, error) {
	return f.emails, nil
}

func (f *fakeProvider) SocialAccounts(ctx context.Context, accessToken string) ([]GitHubSocialAccount, error) {
	return f.socials, nil
}

type fakeMembers struct {
	byEmail     map[string]*Member
	links       map[string]map[string]string
	socials     map[string][]string
	permissions map[string][]string
	created     int
}

func newFakeMembers() *fakeMembers {
	return &fakeMembers{
		byEmail:     make(map[string]*Member),
		links:       make(map[string]map[string]string),
		socials:     make(map[string][]string),
		permissions: make(map[string][]string),
	}
}

func (f *fakeMembers) FindByEmail(ctx context.Context, email string) (*Member, error) {
	member, ok := f.byEmail[email]
	if !ok {
		return nil, nil
	}
	copied := *member
	return &copied, nil
}

func (f *fakeMembers) Create(ctx context.Context, member Member, link *ProviderLink, socialURLs []string) error {
	stored := member
	f.byEmail[member.Email] = &stored
	f.created++
	if link != nil {
		f.addLink(member.ID, *link)
	}
	f.socials[member.ID] = append(f.socials[member.ID], socialURLs...)
	return nil
}

func (f *fakeMembers) HasProviderLink(ctx context.Context, memberID, provider string) (bool, error) {
	_, ok := f.links[memberID][provider]
	return ok, nil
}

func (f *fakeMembers) AddProviderLink(ctx context.Context, memberID string, link ProviderLink) error {
	f.addLink(memberID, link)
	return nil
}

func (f *fakeMembers) ListPermissions(ctx context.Context, memberID string) ([]string, error) {
	if codes, ok := f.permissions[memberID]; ok {
		return codes, nil
	}
	return f.permissions["*"], nil
}

func (f *fakeMembers) addLink(memberID string, link ProviderLink) {
	if f.links[memberID] == nil {
		f.links[memberID] = make(map[string]string)
	}
	f.links[memberID][link.Provider] = link.ProviderUserID
}
