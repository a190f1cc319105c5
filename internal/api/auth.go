package api

import (
	"crypto/subtle"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	perrors "github.com/p-blackswan/project-assistant/internal/errors"
)

// AuthConfig holds authentication configuration.
type AuthConfig struct {
	Mode   string // "api-key" or "none"
	APIKey string
}

func isProbe(path string) bool {
	return path == "/healthz" || path == "/readyz" || path == "/metrics"
}

// NewAuthMiddleware returns a Fiber middleware that validates the bearer API key.
func NewAuthMiddleware(cfg AuthConfig, logger zerolog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if cfg.Mode == "none" || isProbe(c.Path()) {
			return c.Next()
		}

		authHeader := c.Get(fiber.HeaderAuthorization)
		if authHeader == "" {
			return problemResponse(c, fiber.StatusUnauthorized,
				"missing_auth", "Unauthorized",
				"Authorization header is required")
		}
		if !strings.HasPrefix(authHeader, "Bearer ") {
			return problemResponse(c, fiber.StatusUnauthorized,
				"invalid_auth_scheme", "Unauthorized",
				"Authorization header must use Bearer scheme")
		}

		token := strings.TrimPrefix(authHeader, "Bearer ")
		if cfg.APIKey != "" && subtle.ConstantTimeCompare([]byte(token), []byte(cfg.APIKey)) == 1 {
			return c.Next()
		}

		logger.Warn().
			Str("path", c.Path()).
			Str("method", c.Method()).
			Msg("unauthorized request: invalid API key")

		return problemResponse(c, fiber.StatusUnauthorized,
			"invalid_api_key", "Unauthorized",
			"Invalid API key")
	}
}

// problemResponse returns an RFC 7807 Problem Detail error response.
func problemResponse(c *fiber.Ctx, status int, errType, title, detail string) error {
	return c.Status(status).JSON(ProblemDetail{
		Type:     errType,
		Title:    title,
		Status:   status,
		Detail:   detail,
		Instance: c.Path(),
	}, "application/problem+json")
}

// errorKinds maps error kinds to HTTP statuses, most specific first.
var errorKinds = []struct {
	kind   error
	status int
	typ    string
}{
	{perrors.ErrNotFound, fiber.StatusNotFound, "not_found"},
	{perrors.ErrNoProject, fiber.StatusConflict, "no_project"},
	{perrors.ErrAlreadyAssociated, fiber.StatusConflict, "already_associated"},
	{perrors.ErrDenied, fiber.StatusForbidden, "denied"},
	{perrors.ErrPrecondition, fiber.StatusConflict, "precondition_failed"},
	{perrors.ErrInvalidState, fiber.StatusConflict, "invalid_state"},
	{perrors.ErrInvalidInput, fiber.StatusBadRequest, "invalid_input"},
	{perrors.ErrAmbiguous, fiber.StatusBadRequest, "ambiguous"},
	{perrors.ErrNoContent, fiber.StatusUnprocessableEntity, "no_content"},
	{perrors.ErrUnsupported, fiber.StatusNotImplemented, "unsupported"},
	{perrors.ErrRateLimit, fiber.StatusTooManyRequests, "rate_limited"},
	{perrors.ErrTimeout, fiber.StatusGatewayTimeout, "timeout"},
	{perrors.ErrUnavailable, fiber.StatusServiceUnavailable, "unavailable"},
}

// errorResponse maps err onto a problem response. Only user errors expose
// their message.
func errorResponse(c *fiber.Ctx, err error) error {
	for _, k := range errorKinds {
		if errors.Is(err, k.kind) {
			return problemResponse(c, k.status, k.typ, statusTitle(k.status), perrors.Message(err))
		}
	}
	return err
}

// statusTitle returns the standard reason phrase of status.
func statusTitle(status int) string {
	return fiber.NewError(status).Message
}
