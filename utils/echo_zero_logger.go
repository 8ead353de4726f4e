package utils

import (
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/labstack/echo"
	"github.com/rs/zerolog"
)

// RequestLogger logs one line per request through logger. Requests to the
// quiet paths (health checks, scrapes) are logged at trace level only.
// Handler errors that end in a 5xx are also sent to Sentry.
func RequestLogger(logger *zerolog.Logger, quiet ...string) echo.MiddlewareFunc {
	quietPaths := make(map[string]struct{}, len(quiet))
	for _, p := range quiet {
		quietPaths[p] = struct{}{}
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			err := next(c)
			if err != nil {
				c.Error(err)
			}

			req := c.Request()
			res := c.Response()

			if err != nil && res.Status >= 500 {
				sentry.CaptureException(err)
			}

			id := req.Header.Get(echo.HeaderXRequestID)
			if id == "" {
				id = res.Header().Get(echo.HeaderXRequestID)
			}

			level := levelForStatus(res.Status)
			if _, ok := quietPaths[c.Path()]; ok && level < zerolog.WarnLevel {
				level = zerolog.TraceLevel
			}

			event := logger.WithLevel(level).
				Int("status", res.Status).
				Dur("latency", time.Since(start)).
				Int64("bytes_out", res.Size).
				Str("id", id).
				Str("method", req.Method).
				Str("uri", req.RequestURI).
				Str("remote_ip", c.RealIP())

			if address := c.Param("address"); address != "" {
				event = event.Str("address", address)
			}
			if err != nil {
				event = event.Err(err)
			}

			event.Msg("request")

			return nil
		}
	}
}

func levelForStatus(status int) zerolog.Level {
	switch {
	case status >= 500:
		return zerolog.ErrorLevel
	case status >= 400:
		return zerolog.WarnLevel
	case status >= 300:
		return zerolog.InfoLevel
	default:
		return zerolog.DebugLevel
	}
}
