package model

import (
	"context"
	"fmt"
	"net/url"
	"strings"
)

// RequestContext describes the authenticated caller of a dashboard request.
// Vendors and their customers share the shape and are told apart by Roles.
// It is not modified once the middleware has built it.
type RequestContext struct {
	SubjectID string
	Email     string
	TenantID  string
	Roles     []string
	Claims    map[string]any

	SessionID     string
	Locale        string
	CorrelationID string
	TraceID       string
	SpanID        string

	// Token is the caller's bearer token, forwarded to rest sources.
	Token string
}

// Validate reports the identity fields the token failed to provide.
func (rc *RequestContext) Validate() error {
	var missing []string
	if rc.SubjectID == "" {
		missing = append(missing, "subject")
	}
	if rc.TenantID == "" {
		missing = append(missing, "tenant")
	}
	if len(missing) > 0 {
		return fmt.Errorf("request context: missing %s", strings.Join(missing, " and "))
	}
	return nil
}

// ViewKey identifies the view state one subject holds for one list. The
// parts are escaped so ids containing the separator cannot collide.
func (rc *RequestContext) ViewKey(listID string) string {
	return url.PathEscape(rc.TenantID) + "/" + url.PathEscape(rc.SubjectID) + "/" + url.PathEscape(listID)
}

type requestContextKey struct{}

func WithRequestContext(ctx context.Context, rctx *RequestContext) context.Context {
	return context.WithValue(ctx, requestContextKey{}, rctx)
}

// RequestContextFrom returns the caller attached to ctx, or nil.
func RequestContextFrom(ctx context.Context) *RequestContext {
	rctx, _ := ctx.Value(requestContextKey{}).(*RequestContext)
	return rctx
}
