package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const githubProviderName = "github"

// GitHubProfile is the subset of the GitHub user object the service needs.
type GitHubProfile struct {
	ID        int64  `json:"id"`
	Login     string `json:"login"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	AvatarURL string `json:"avatar_url"`
	HTMLURL   string `json:"html_url"`
}

// GitHubEmail is one entry from the authenticated user's email list.
type GitHubEmail struct {
	Email    string `json:"email"`
	Primary  bool   `json:"primary"`
	Verified bool   `json:"verified"`
}

// GitHubSocialAccount is a social link attached to the GitHub profile.
type GitHubSocialAccount struct {
	Provider string `json:"provider"`
	URL      string `json:"url"`
}

// GitHubClient performs the OAuth2 code exchange and profile lookups against
// the GitHub API.
type GitHubClient struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string

	// Overridable in tests.
	OAuthBaseURL string
	APIBaseURL   string

	httpClient *http.Client
}

// NewGitHubClient constructs a client with production endpoints.
func NewGitHubClient(clientID, clientSecret, redirectURI string) *GitHubClient {
	return &GitHubClient{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURI:  redirectURI,
		OAuthBaseURL: "https://github.com/login/oauth",
		APIBaseURL:   "https://api.github.com",
		httpClient:   &http.Client{Timeout: 10 * time.Second},
	}
}

// AuthURL builds the authorization redirect URL bound to the supplied
// anti-forgery state token. Only the minimal email-reading scope is requested.
func (c *GitHubClient) AuthURL(state string) string {
	query := url.Values{}
	query.Set("client_id", c.ClientID)
	query.Set("redirect_uri", c.RedirectURI)
	query.Set("scope", "user:email")
	query.Set("state", state)
	return fmt.Sprintf("%s/authorize?%s", c.OAuthBaseURL, query.Encode())
}

// ExchangeCode swaps an authorization code for an access token.
func (c *GitHubClient) ExchangeCode(ctx context.Context, code string) (string, error) {
	form := url.Values{}
	form.Set("client_id", c.ClientID)
	form.Set("client_secret", c.ClientSecret)
	form.Set("code", code)
	form.Set("redirect_uri", c.RedirectURI)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.OAuthBaseURL+"/access_token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to exchange code: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read token response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token exchange failed with status %d: %s", resp.StatusCode, body)
	}

	// GitHub answers with a URL-encoded form unless asked otherwise.
	values, err := url.ParseQuery(string(body))
	if err != nil {
		return "", fmt.Errorf("failed to parse token response: %w", err)
	}
	accessToken := values.Get("access_token")
	if accessToken == "" {
		return "", fmt.Errorf("no access token in response: %s", body)
	}
	return accessToken, nil
}

// Profile fetches the authenticated user.
func (c *GitHubClient) Profile(ctx context.Context, accessToken string) (*GitHubProfile, error) {
	var profile GitHubProfile
	if err := c.getJSON(ctx, accessToken, "/user", &profile); err != nil {
		return nil, err
	}
	return &profile, nil
}

// Emails fetches the authenticated user's email addresses.
func (c *GitHubClient) Emails(ctx context.Context, accessToken string) ([]GitHubEmail, error) {
	var emails []GitHubEmail
	if err := c.getJSON(ctx, accessToken, "/user/emails", &emails); err != nil {
		return nil, err
	}
	return emails, nil
}

// SocialAccounts fetches the social links attached to the profile.
func (c *GitHubClient) SocialAccounts(ctx context.Context, accessToken string) ([]GitHubSocialAccount, error) {
	var accounts []GitHubSocialAccount
	if err := c.getJSON(ctx, accessToken, "/user/social_accounts", &accounts); err != nil {
		return nil, err
	}
	return accounts, nil
}

func (c *GitHubClient) getJSON(ctx context.Context, accessToken, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.APIBaseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("github request %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("github request %s failed with status %d: %s", path, resp.StatusCode, body)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// ProviderUserID renders the numeric GitHub id as the stable provider key.
func (p *GitHubProfile) ProviderUserID() string {
	return strconv.FormatInt(p.ID, 10)
}
