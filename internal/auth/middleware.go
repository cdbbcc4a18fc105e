package auth

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	apperrors "github.com/spec-kit/integration-service/pkg/util"
)

const principalKey = "auth_principal"

// Principal represents the authenticated calling service.
type Principal struct {
	Service string
	Claims  *Claims
}

// AuthMiddleware validates bearer tokens. Tokens are self-contained; no
// lookup happens per request.
type AuthMiddleware struct {
	tokens   *TokenManager
	disabled bool
}

// NewAuthMiddleware constructs middleware. When disabled every request is
// treated as an anonymous caller holding all scopes.
func NewAuthMiddleware(tokens *TokenManager, disabled bool) *AuthMiddleware {
	return &AuthMiddleware{tokens: tokens, disabled: disabled}
}

// Handle enforces authentication for protected routes.
func (m *AuthMiddleware) Handle(c *fiber.Ctx) error {
	if m.disabled {
		c.Locals(principalKey, &Principal{Service: "anonymous", Claims: &Claims{Scopes: AllScopes}})
		return c.Next()
	}

	authHeader := c.Get("Authorization")
	if authHeader == "" {
		return apperrors.NewUnauthorized("missing authorization header")
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return apperrors.NewUnauthorized("invalid authorization header")
	}

	claims, err := m.tokens.ParseToken(parts[1])
	if err != nil {
		return apperrors.NewUnauthorized("invalid token")
	}

	c.Locals(principalKey, &Principal{Service: claims.Subject, Claims: claims})
	return c.Next()
}

// RequireScope ensures the caller holds every listed scope.
func RequireScope(scopes ...string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		principal, ok := PrincipalFromContext(c)
		if !ok {
			return apperrors.NewUnauthorized("authentication required")
		}
		for _, scope := range scopes {
			if !principal.Claims.HasScope(scope) {
				return apperrors.NewForbidden("missing scope " + scope)
			}
		}
		return c.Next()
	}
}

// PrincipalFromContext retrieves the authenticated entity.
func PrincipalFromContext(c *fiber.Ctx) (*Principal, bool) {
	val := c.Locals(principalKey)
	if val == nil {
		return nil, false
	}
	principal, ok := val.(*Principal)
	return principal, ok
}
