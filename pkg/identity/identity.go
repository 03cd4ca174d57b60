// Package identity carries the authenticated caller through a request.
//
// Authentication itself happens upstream. This package only stores the
// result in the request context and answers whether a caller is an
// administrator, using an explicit allow-list from configuration.
package identity

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
)

// Identity is the authenticated caller.
type Identity struct {
	UserID string `json:"user_id"`
	Email  string `json:"email,omitempty"`
}

// Source yields the current caller. ok is false when no caller is resolved.
type Source interface {
	CurrentUser(ctx context.Context) (Identity, bool)
}

type contextKey struct{}

// WithContext stores id in ctx.
func WithContext(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// FromContext returns the identity stored in ctx. An identity without a
// user id is treated as absent.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(contextKey{}).(Identity)
	if !ok || id.UserID == "" {
		return Identity{}, false
	}
	return id, true
}

// ContextSource reads the identity placed in the context by middleware.
type ContextSource struct{}

// CurrentUser returns the identity stored by WithContext.
func (ContextSource) CurrentUser(ctx context.Context) (Identity, bool) {
	return FromContext(ctx)
}

// AdminList matches caller emails against configured administrators.
// Comparison is exact after trimming and lower-casing.
type AdminList struct {
	emails map[string]struct{}
}

// NewAdminList normalizes emails and drops empty entries.
func NewAdminList(emails ...string) *AdminList {
	l := &AdminList{emails: make(map[string]struct{}, len(emails))}
	for _, e := range emails {
		if e = normalizeEmail(e); e != "" {
			l.emails[e] = struct{}{}
		}
	}
	return l
}

// IsAdministrator reports whether id's email is on the list.
func (l *AdminList) IsAdministrator(id Identity) bool {
	if l == nil {
		return false
	}
	e := normalizeEmail(id.Email)
	if e == "" {
		return false
	}
	_, ok := l.emails[e]
	return ok
}

// Len reports how many administrators are configured.
func (l *AdminList) Len() int {
	if l == nil {
		return 0
	}
	return len(l.emails)
}

func normalizeEmail(e string) string {
	return strings.ToLower(strings.TrimSpace(e))
}

// Header names used by HeaderMiddleware.
const (
	HeaderUserID    = "X-User-ID"
	HeaderUserEmail = "X-User-Email"
)

// HeaderMiddleware trusts identity headers set by an authenticating proxy.
// Only mount it behind a proxy that strips these headers from client input.
func HeaderMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := strings.TrimSpace(r.Header.Get(HeaderUserID))
		if userID == "" {
			next.ServeHTTP(w, r)
			return
		}
		id := Identity{UserID: userID, Email: r.Header.Get(HeaderUserEmail)}
		next.ServeHTTP(w, r.WithContext(WithContext(r.Context(), id)))
	})
}

// LoggerExtractor adds user_id to log records.
func LoggerExtractor() func(ctx context.Context) (slog.Attr, bool) {
	return func(ctx context.Context) (slog.Attr, bool) {
		if id, ok := FromContext(ctx); ok {
			return slog.String("user_id", id.UserID), true
		}
		return slog.Attr{}, false
	}
}
