// internal/middleware/service_auth.go
package middleware

import (
	"crypto/subtle"
	"log"
	"strings"

	"github.com/gofiber/fiber/v2"
)

// CallerContextKey holds the masked token of the accepted caller.
const CallerContextKey = "caller"

// ServiceAuth accepts requests carrying the expected service token, either as
// X-Service-Token or as a Bearer token. Everything else gets a 401.
func ServiceAuth(expected string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := strings.TrimSpace(c.Get("X-Service-Token"))
		if token == "" {
			authHeader := c.Get("Authorization")
			if strings.HasPrefix(authHeader, "Bearer ") {
				token = strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
			}
		}

		masked := maskToken(token)
		if token == "" || subtle.ConstantTimeCompare([]byte(token), []byte(expected)) != 1 {
			log.Printf("[SERVICE-AUTH] ❌ REJECTED | IP=%s | Path=%s | Token=%s", c.IP(), c.Path(), masked)
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Unauthorized: invalid or missing service token",
			})
		}

		c.Locals(CallerContextKey, masked)
		log.Printf("[SERVICE-AUTH] ✅ ACCEPTED | IP=%s | Path=%s", c.IP(), c.Path())
		return c.Next()
	}
}

// GetCallerFromContext returns the masked token set by ServiceAuth.
func GetCallerFromContext(c *fiber.Ctx) (string, bool) {
	caller, ok := c.Locals(CallerContextKey).(string)
	return caller, ok
}

func maskToken(token string) string {
	switch {
	case token == "":
		return "<empty>"
	case len(token) > 6:
		return token[:6] + "..."
	default:
		return "***"
	}
}
