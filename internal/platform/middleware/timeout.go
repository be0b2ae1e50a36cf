package middleware

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// TimeoutConfig sets a request deadline. Routes overrides Default for route
// patterns that legitimately run longer, such as OCR ingestion.
type TimeoutConfig struct {
	Default time.Duration
	Routes  map[string]time.Duration
}

// RequestTimeout attaches a deadline to the request context. Handlers must
// observe the context; when the deadline expires before a response is
// written, the client receives 504.
func RequestTimeout(cfg TimeoutConfig) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			timeout := cfg.Default
			if d, ok := cfg.Routes[c.Path()]; ok {
				timeout = d
			}
			if timeout <= 0 {
				return next(c)
			}

			ctx, cancel := context.WithTimeout(c.Request().Context(), timeout)
			defer cancel()
			c.SetRequest(c.Request().WithContext(ctx))

			err := next(c)
			if errors.Is(ctx.Err(), context.DeadlineExceeded) && !c.Response().Committed {
				return gatewayTimeoutError(c)
			}
			return err
		}
	}
}

func gatewayTimeoutError(c echo.Context) error {
	return c.JSON(http.StatusGatewayTimeout, map[string]string{
		"error": "request processing exceeded the allowed time limit",
	})
}
