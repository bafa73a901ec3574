package middleware

import (
	"errors"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"

	"github.com/noah-isme/gema-grader/internal/models"
	"github.com/noah-isme/gema-grader/internal/utils"
)

// Locals keys populated by JWTProtected.
const (
	LocalsUserID   = "user_id"
	LocalsUserRole = "user_role"
)

var errInvalidSubject = errors.New("invalid subject")

// JWTProtected validates HMAC bearer tokens and stores the caller's id and grading role in locals.
func JWTProtected(secret string) fiber.Handler {
	keyFunc := func(t *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}))

	return func(c *fiber.Ctx) error {
		authorization := strings.TrimSpace(c.Get(fiber.HeaderAuthorization))
		if authorization == "" {
			return utils.SendError(c, fiber.StatusUnauthorized, "authorization header missing")
		}

		scheme, tokenString, found := strings.Cut(authorization, " ")
		if !found || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(tokenString) == "" {
			return utils.SendError(c, fiber.StatusUnauthorized, "invalid authorization header")
		}

		claims := jwt.MapClaims{}
		token, err := parser.ParseWithClaims(strings.TrimSpace(tokenString), claims, keyFunc)
		if err != nil || !token.Valid {
			return utils.SendError(c, fiber.StatusUnauthorized, "invalid token")
		}

		if userID, ok := userIDFromClaims(claims); ok {
			c.Locals(LocalsUserID, userID)
		}
		if role := roleFromClaims(claims); role != "" {
			c.Locals(LocalsUserRole, role)
		}

		return c.Next()
	}
}

func userIDFromClaims(claims jwt.MapClaims) (uint, bool) {
	for _, key := range []string{"sub", "user_id", "id"} {
		value, ok := claims[key]
		if !ok {
			continue
		}
		if id, err := parseSubject(value); err == nil && id > 0 {
			return id, true
		}
	}
	return 0, false
}

func parseSubject(value interface{}) (uint, error) {
	switch v := value.(type) {
	case float64:
		if v < 0 {
			return 0, errInvalidSubject
		}
		return uint(v), nil
	case string:
		parsed, err := strconv.ParseUint(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return 0, errInvalidSubject
		}
		return uint(parsed), nil
	default:
		return 0, errInvalidSubject
	}
}

// roleFromClaims resolves the role claim; multi-role tokens resolve to their most privileged grading role.
func roleFromClaims(claims jwt.MapClaims) string {
	var roles []string
	for _, key := range []string{"role", "roles"} {
		switch v := claims[key].(type) {
		case string:
			roles = append(roles, v)
		case []interface{}:
			for _, item := range v {
				if role, ok := item.(string); ok {
					roles = append(roles, role)
				}
			}
		}
	}
	return models.HighestRole(roles...)
}
