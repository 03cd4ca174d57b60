package logger

import (
	"log/slog"
	"time"
)

// Error returns an empty Attr for nil errors, which slog drops.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.Any("error", err)
}

// UserID is the acting user.
func UserID(id string) slog.Attr {
	if id == "" {
		return slog.Attr{}
	}
	return slog.String("user_id", id)
}

// ResourceID is the gated resource.
func ResourceID(id string) slog.Attr {
	return slog.String("resource_id", id)
}

// Plan records a subscription tier. Accepts any fmt.Stringer-like string type.
func Plan[T ~string](p T) slog.Attr {
	return slog.String("plan", string(p))
}

// Class records a quota resource class.
func Class[T ~string](c T) slog.Attr {
	return slog.String("resource_class", string(c))
}

// Reason is the rule behind a decision.
func Reason[T ~string](r T) slog.Attr {
	return slog.String("reason", string(r))
}

// Component names the emitting package or service.
func Component(name string) slog.Attr {
	return slog.String("component", name)
}

// Event is a billing or domain event type.
func Event(name string) slog.Attr {
	return slog.String("event", name)
}

// Duration is logged in milliseconds.
func Duration(d time.Duration) slog.Attr {
	return slog.Duration("duration", d)
}

// Usage groups quota counters under "usage".
func Usage(used, limit int64) slog.Attr {
	return slog.Group("usage", slog.Int64("used", used), slog.Int64("limit", limit))
}
