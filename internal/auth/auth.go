// Package auth verifies the identity provider's bearer tokens so handlers act
// only on behalf of the external id the token was issued for.
package auth

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	jwtware "github.com/gofiber/jwt/v2"
	"github.com/golang-jwt/jwt/v4"
)

const localsKey = "user"

var (
	ErrUnauthorized = errors.New("missing or invalid identity token")
	ErrForbidden    = errors.New("token subject does not match requested user")
)

// Guard is a pass-through when built without a secret.
type Guard struct {
	secret []byte
}

func NewGuard(secret string) *Guard {
	if secret == "" {
		return &Guard{}
	}
	return &Guard{secret: []byte(secret)}
}

func (g *Guard) Enabled() bool {
	return g != nil && len(g.secret) > 0
}

// Middleware verifies HS256 tokens. Requests for which skip returns true pass
// without a token.
func (g *Guard) Middleware(skip func(c *fiber.Ctx) bool) fiber.Handler {
	if !g.Enabled() {
		return func(c *fiber.Ctx) error { return c.Next() }
	}
	return jwtware.New(jwtware.Config{
		SigningKey:    g.secret,
		SigningMethod: "HS256",
		ContextKey:    localsKey,
		Filter:        skip,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"message": "Unauthorized"})
		},
	})
}

// Authorize checks that the verified token belongs to externalID.
func (g *Guard) Authorize(c *fiber.Ctx, externalID string) error {
	if !g.Enabled() {
		return nil
	}
	sub, err := ExternalIDFromCtx(c)
	if err != nil {
		return err
	}
	if sub != externalID {
		return ErrForbidden
	}
	return nil
}

// ExternalIDFromCtx extracts the sub claim of the token stored by Middleware.
func ExternalIDFromCtx(c *fiber.Ctx) (string, error) {
	tok, ok := c.Locals(localsKey).(*jwt.Token)
	if !ok || tok == nil {
		return "", ErrUnauthorized
	}
	claims, ok := tok.Claims.(jwt.MapClaims)
	if !ok {
		return "", ErrUnauthorized
	}
	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return "", ErrUnauthorized
	}
	return sub, nil
}

// Deny writes the response for an Authorize failure.
func Deny(c *fiber.Ctx, err error) error {
	if errors.Is(err, ErrForbidden) {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"message": "Forbidden"})
	}
	return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"message": "Unauthorized"})
}
