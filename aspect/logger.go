package aspect

import (
	"encoding/json"
	"log"
	"time"

	"github.com/wattframework/ampere/router"
)

// accessLogEntry is the structured record one AccessLog aspect invocation
// emits, mirroring bolt/middleware/logger.go's LogEntry shape.
type accessLogEntry struct {
	Method     string  `json:"method"`
	Path       string  `json:"path"`
	Status     int     `json:"status"`
	DurationMS float64 `json:"duration_ms"`
	Error      string  `json:"error,omitempty"`
}

const accessLogStartKey = "aspect.accesslog.start"

// AccessLog builds a per-request access-log aspect: one JSON line per
// request to logger, recording method, path, status and duration.
//
// Grounded on bolt/middleware/logger.go's JSON LogEntry format, adapted
// from an io.Writer sink to the *log.Logger every other ampere package
// (conn, server) already threads through its Config, rather than
// introducing a second logging convention.
func AccessLog(logger *log.Logger) Aspect {
	if logger == nil {
		logger = log.Default()
	}
	return Aspect{
		Name: "accesslog",
		Before: func(ctx router.Context) (bool, error) {
			ctx.Set(accessLogStartKey, time.Now())
			return false, nil
		},
		After: func(ctx router.Context, handlerErr error) {
			entry := accessLogEntry{
				Method: ctx.Method().String(),
				Path:   ctx.Path(),
			}
			if start, ok := ctx.Get(accessLogStartKey); ok {
				entry.DurationMS = float64(time.Since(start.(time.Time)).Microseconds()) / 1000.0
			}
			if r, ok := ctx.(responder); ok {
				entry.Status = r.Response().Status()
			}
			if handlerErr != nil {
				entry.Error = handlerErr.Error()
			}
			b, err := json.Marshal(entry)
			if err != nil {
				return
			}
			logger.Println(string(b))
		},
	}
}
