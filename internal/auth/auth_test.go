package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"

	apperrors "github.com/spec-kit/integration-service/pkg/util"
)

func TestTokenRoundTrip(t *testing.T) {
	tm := NewTokenManager("secret", 5)
	token, expires, err := tm.GenerateToken("scanner", []string{ScopeFindingsWrite})
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	if time.Until(expires) > 5*time.Minute {
		t.Errorf("expiry too far: %s", expires)
	}
	claims, err := tm.ParseToken(token)
	if err != nil {
		t.Fatalf("ParseToken: %v", err)
	}
	if claims.Subject != "scanner" || !claims.HasScope(ScopeFindingsWrite) || claims.HasScope(ScopeTicketsWrite) {
		t.Errorf("claims = %+v", claims)
	}
}

func TestParseTokenRejectsForeignSecretAndExpiry(t *testing.T) {
	token, _, _ := NewTokenManager("other", 5).GenerateToken("scanner", nil)
	if _, err := NewTokenManager("secret", 5).ParseToken(token); err == nil {
		t.Error("accepted token signed with another secret")
	}

	tm := NewTokenManager("secret", 1)
	tm.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	expired, _, _ := tm.GenerateToken("scanner", nil)
	if _, err := NewTokenManager("secret", 1).ParseToken(expired); err == nil {
		t.Error("accepted expired token")
	}
}

func newApp(m *AuthMiddleware) *fiber.App {
	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			return c.SendStatus(apperrors.ToDomainError(err).HTTPStatus)
		},
	})
	app.Post("/tickets", m.Handle, RequireScope(ScopeTicketsWrite), func(c *fiber.Ctx) error {
		p, _ := PrincipalFromContext(c)
		return c.SendString(p.Service)
	})
	return app
}

func TestMiddlewareEnforcesScopes(t *testing.T) {
	tm := NewTokenManager("secret", 5)
	app := newApp(NewAuthMiddleware(tm, false))
	writer, _, _ := tm.GenerateToken("scanner", []string{ScopeTicketsWrite})
	reader, _, _ := tm.GenerateToken("dashboard", []string{ScopeTicketsRead})

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"malformed", "Token abc", http.StatusUnauthorized},
		{"garbage", "Bearer abc", http.StatusUnauthorized},
		{"wrong scope", "Bearer " + reader, http.StatusForbidden},
		{"ok", "Bearer " + writer, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/tickets", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			resp, err := app.Test(req)
			if err != nil {
				t.Fatalf("app.Test: %v", err)
			}
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}
}

func TestDisabledMiddlewareGrantsAllScopes(t *testing.T) {
	app := newApp(NewAuthMiddleware(NewTokenManager("secret", 5), true))
	resp, err := app.Test(httptest.NewRequest(http.MethodPost, "/tickets", nil))
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}
}
