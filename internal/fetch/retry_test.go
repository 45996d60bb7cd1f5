package fetch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ZebulonRouseFrantzich/tapline/internal/pkgerr"
)

func TestRetry(t *testing.T) {
	fetchErr := pkgerr.Fetch("fetch", "https://example.com", errors.New("connection reset"))
	integrityErr := pkgerr.New(pkgerr.KindIntegrity, "verify", "", nil)

	tests := []struct {
		name      string
		errs      []error // returned by successive calls; nil means success
		wantCalls int
		wantErr   error
	}{
		{"first try", []error{nil}, 1, nil},
		{"recovers", []error{fetchErr, fetchErr, nil}, 3, nil},
		{"gives up", []error{fetchErr, fetchErr, fetchErr}, 3, pkgerr.ErrFetch},
		{"not retryable", []error{integrityErr, nil}, 1, pkgerr.ErrIntegrity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			retried := 0
			policy := RetryPolicy{
				Retries:   2,
				BaseDelay: time.Millisecond,
				OnRetry:   func(int, error) { retried++ },
			}
			err := Retry(context.Background(), policy, func(ctx context.Context) error {
				e := tt.errs[calls]
				calls++
				return e
			})

			if calls != tt.wantCalls {
				t.Errorf("calls = %d, want %d", calls, tt.wantCalls)
			}
			if retried != calls-1 {
				t.Errorf("OnRetry called %d times, want %d", retried, calls-1)
			}
			if tt.wantErr == nil && err != nil {
				t.Errorf("Retry() error = %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("Retry() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestRetry_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Retry(ctx, RetryPolicy{Retries: 5, BaseDelay: time.Hour}, func(ctx context.Context) error {
		calls++
		cancel()
		return pkgerr.Fetch("fetch", "u", errors.New("reset"))
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Retry() error = %v, want context.Canceled", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}
