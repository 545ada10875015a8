package errors

import (
	"errors"
	"testing"
)

func TestPipelineError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		kind     string
		op       string
		contains string
	}{
		{
			name:     "basic error",
			err:      New(KindSchema, "parseAnomaly", "tracking_id missing"),
			kind:     KindSchema,
			op:       "parseAnomaly",
			contains: "[schema] parseAnomaly: tracking_id missing",
		},
		{
			name:     "wrapped error",
			err:      Wrap(errors.New("connection refused"), KindTransport, "lookupDevice", "registry unreachable"),
			kind:     KindTransport,
			op:       "lookupDevice",
			contains: "[transport] lookupDevice: registry unreachable: connection refused",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.contains {
				t.Errorf("Error() = %v, want %v", got, tt.contains)
			}
			if !IsKind(tt.err, tt.kind) {
				t.Errorf("IsKind(%v, %v) = false, want true", tt.err, tt.kind)
			}
			if got := GetKind(tt.err); got != tt.kind {
				t.Errorf("GetKind() = %v, want %v", got, tt.kind)
			}
		})
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil error", err: nil, want: false},
		{name: "schema error - not retryable", err: Schema("test", "bad payload"), want: false},
		{name: "policy denied - not retryable", err: PolicyDenied("test", "blocked action"), want: false},
		{name: "transport error - retryable", err: Transport("test", errors.New("timeout")), want: true},
		{name: "deadline exceeded - retryable", err: DeadlineExceeded("test", errors.New("ctx done")), want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestErrorUnwrap(t *testing.T) {
	baseErr := errors.New("base error")
	wrappedErr := Wrap(baseErr, KindTransport, "test", "wrapped")

	if !errors.Is(wrappedErr, baseErr) {
		t.Error("wrapped error should unwrap to base error")
	}

	var pe *PipelineError
	if !errors.As(wrappedErr, &pe) {
		t.Error("should be able to extract PipelineError")
	}
}

func TestDegrades(t *testing.T) {
	if !Degrades(DependencyUnavailable("lookupWeather", errors.New("timeout"))) {
		t.Error("dependency_unavailable should degrade")
	}
	if Degrades(Internal("op", errors.New("bug"))) {
		t.Error("internal should not degrade")
	}
}

func TestConvenienceFunctions(t *testing.T) {
	tests := []struct {
		name    string
		errFunc func() error
		kind    string
	}{
		{name: "Schemaf", errFunc: func() error { return Schemaf("op", "field %s missing", "ship_id") }, kind: KindSchema},
		{name: "Transportf", errFunc: func() error { return Transportf("op", errors.New("base"), "dial %s failed", "bus") }, kind: KindTransport},
		{name: "RateLimited", errFunc: func() error { return RateLimited("op", "exceeded quota") }, kind: KindRateLimited},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.errFunc()
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !IsKind(err, tt.kind) {
				t.Errorf("expected kind %s, got %s", tt.kind, GetKind(err))
			}
		})
	}
}
