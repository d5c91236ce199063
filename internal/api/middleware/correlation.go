package middleware

import (
	"crypto/rand"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/ecoscout/ecoscout-go/internal/logger"
)

// HeaderCorrelationID carries the per-request id echoed in error bodies.
const HeaderCorrelationID = "X-Correlation-ID"

// NewCorrelationID tags every request with an id. A client supplied
// X-Correlation-ID is kept; otherwise one is generated. The id is set on the
// response and stored in the request context as the logger trace ID.
func NewCorrelationID() echo.MiddlewareFunc {
	return middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator:    GenerateCorrelationID,
		TargetHeader: HeaderCorrelationID,
		RequestIDHandler: func(c echo.Context, id string) {
			req := c.Request()
			c.SetRequest(req.WithContext(logger.WithTraceID(req.Context(), id)))
		},
	})
}

// GenerateCorrelationID returns a random 8 character alphanumeric id.
func GenerateCorrelationID() string {
	const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	const length = 8

	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		return "ERR-RAND"
	}
	for i := range b {
		b[i] = charset[int(b[i])%len(charset)]
	}
	return string(b)
}
