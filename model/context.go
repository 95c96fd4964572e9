package model

import (
	"context"
	"errors"
)

// RequestContext carries the identity and tenancy of the caller for the
// lifetime of a command. It is immutable after construction and safe for
// concurrent reads. The boundary layer that authenticates callers is out of
// scope for this module; the core only consumes the resolved identity.
type RequestContext struct {
	SubjectID     UserID
	TenantID      TenantID
	CorrelationID string
	TraceID       string
	SpanID        string
}

// Validate checks that the mandatory identity fields are present.
func (rc *RequestContext) Validate() error {
	var errs []error
	if rc.SubjectID.IsZero() {
		errs = append(errs, errors.New("SubjectID is required"))
	}
	if rc.TenantID.IsZero() {
		errs = append(errs, errors.New("TenantID is required"))
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

type contextKey struct{}

// WithRequestContext attaches a RequestContext to the given context.
func WithRequestContext(ctx context.Context, rctx *RequestContext) context.Context {
	return context.WithValue(ctx, contextKey{}, rctx)
}

// RequestContextFrom extracts the RequestContext from the context, or
// returns nil if not present.
func RequestContextFrom(ctx context.Context) *RequestContext {
	rctx, _ := ctx.Value(contextKey{}).(*RequestContext)
	return rctx
}

// MustRequestContext extracts the RequestContext from the context,
// panicking if it is not present. Safe to call in code paths guaranteed to
// run behind the boundary layer that installs it.
func MustRequestContext(ctx context.Context) *RequestContext {
	rctx := RequestContextFrom(ctx)
	if rctx == nil {
		panic("model: RequestContext not found in context")
	}
	return rctx
}
