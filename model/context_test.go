package model

import (
	"context"
	"testing"
)

func TestRequestContext_Validate(t *testing.T) {
	subject := NewUserID()
	tenant := NewTenantID()

	tests := []struct {
		name    string
		rc      *RequestContext
		wantErr bool
	}{
		{
			name:    "valid context",
			rc:      &RequestContext{SubjectID: subject, TenantID: tenant},
			wantErr: false,
		},
		{
			name:    "missing SubjectID",
			rc:      &RequestContext{TenantID: tenant},
			wantErr: true,
		},
		{
			name:    "missing TenantID",
			rc:      &RequestContext{SubjectID: subject},
			wantErr: true,
		},
		{
			name:    "missing both",
			rc:      &RequestContext{},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.rc.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestRequestContext_roundTrip(t *testing.T) {
	rctx := &RequestContext{
		SubjectID:     NewUserID(),
		TenantID:      NewTenantID(),
		CorrelationID: "corr-1",
	}
	ctx := WithRequestContext(context.Background(), rctx)

	got := RequestContextFrom(ctx)
	if got != rctx {
		t.Fatalf("RequestContextFrom returned %v, want %v", got, rctx)
	}
}

func TestRequestContextFrom_absent(t *testing.T) {
	if got := RequestContextFrom(context.Background()); got != nil {
		t.Errorf("RequestContextFrom(empty) = %v, want nil", got)
	}
}

func TestMustRequestContext_panicsWhenAbsent(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("MustRequestContext did not panic on empty context")
		}
	}()
	MustRequestContext(context.Background())
}
