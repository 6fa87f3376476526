package google

import (
	"strings"
	"testing"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/calendar/v3"
)

func TestDefaultOAuthConfig(t *testing.T) {
	t.Setenv("GOOGLE_CLIENT_ID", "test-id")
	t.Setenv("GOOGLE_CLIENT_SECRET", "test-secret")

	cfg := DefaultOAuthConfig()
	if cfg.ClientID != "test-id" || cfg.ClientSecret != "test-secret" {
		t.Errorf("credentials not read from environment: %+v", cfg)
	}
	if cfg.RedirectURL != "http://localhost:8765/callback" {
		t.Errorf("RedirectURL = %q", cfg.RedirectURL)
	}

	scopes := strings.Join(cfg.Scopes, " ")
	if !strings.Contains(scopes, calendar.CalendarReadonlyScope) {
		t.Error("missing readonly scope")
	}
	if !strings.Contains(scopes, calendar.CalendarEventsScope) {
		t.Error("missing events scope")
	}
}

func TestGetAuthURL(t *testing.T) {
	client := NewOAuthClient(OAuthConfig{
		ClientID:    "test-id",
		RedirectURL: "http://localhost:8765/callback",
		Scopes:      []string{calendar.CalendarReadonlyScope},
	})

	url := client.GetAuthURL("state-123")
	if !strings.Contains(url, "client_id=test-id") {
		t.Errorf("url missing client id: %s", url)
	}
	if !strings.Contains(url, "state=state-123") {
		t.Errorf("url missing state: %s", url)
	}
	if !strings.Contains(url, "access_type=offline") {
		t.Errorf("url missing offline access: %s", url)
	}
}

func TestTokenJSONRoundtrip(t *testing.T) {
	token := &oauth2.Token{
		AccessToken:  "access",
		RefreshToken: "refresh",
		TokenType:    "Bearer",
		Expiry:       time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC),
	}

	data, err := TokenToJSON(token)
	if err != nil {
		t.Fatalf("TokenToJSON: %v", err)
	}

	restored, err := TokenFromJSON(data)
	if err != nil {
		t.Fatalf("TokenFromJSON: %v", err)
	}
	if restored.AccessToken != token.AccessToken || restored.RefreshToken != token.RefreshToken {
		t.Errorf("round trip mismatch: %+v", restored)
	}
	if !restored.Expiry.Equal(token.Expiry) {
		t.Errorf("expiry = %v, want %v", restored.Expiry, token.Expiry)
	}
}

func TestTokenFromJSON_Garbage(t *testing.T) {
	if _, err := TokenFromJSON([]byte("not json")); err == nil {
		t.Error("expected error on malformed token data")
	}
}

func TestIsConfigured(t *testing.T) {
	t.Setenv("GOOGLE_CLIENT_ID", "")
	t.Setenv("GOOGLE_CLIENT_SECRET", "")
	if IsConfigured() {
		t.Error("IsConfigured with empty environment")
	}

	t.Setenv("GOOGLE_CLIENT_ID", "id")
	t.Setenv("GOOGLE_CLIENT_SECRET", "secret")
	if !IsConfigured() {
		t.Error("IsConfigured false with both variables set")
	}
}
