package modbus

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
)

type flakySession struct {
	failures int
	calls    int
	err      error
}

func (f *flakySession) ReadBlock(ctx context.Context, start, count uint16) ([]uint16, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, f.err
	}
	return make([]uint16, count), nil
}

func (f *flakySession) ReadInputBlock(ctx context.Context, start, count uint16) ([]uint16, error) {
	return f.ReadBlock(ctx, start, count)
}

func (f *flakySession) WriteRegister(ctx context.Context, address, value uint16) error {
	_, err := f.ReadBlock(ctx, address, 1)
	return err
}

func (f *flakySession) Close() error { return nil }

func TestRetryPolicy(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 3, Backoff: time.Millisecond, Multiplier: 2}

	tests := []struct {
		name      string
		failures  int
		err       error
		wantCalls int
		wantErr   bool
	}{
		{"first attempt", 0, errors.New("timeout"), 1, false},
		{"recovers", 2, errors.New("timeout"), 3, false},
		{"exhausted", 5, errors.New("timeout"), 3, true},
		{"not connected is final", 5, ErrNotConnected, 1, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := &flakySession{failures: tt.failures, err: tt.err}
			s := WithRetry(fake, policy, zap.NewNop())

			_, err := s.ReadBlock(context.Background(), 2100, 39)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if fake.calls != tt.wantCalls {
				t.Fatalf("calls = %d, want %d", fake.calls, tt.wantCalls)
			}
		})
	}
}

func TestRetryPolicy_AppliesToWrites(t *testing.T) {
	fake := &flakySession{failures: 1, err: errors.New("crc error")}
	s := WithRetry(fake, RetryPolicy{MaxAttempts: 2}, zap.NewNop())

	if err := s.WriteRegister(context.Background(), 2136, 8); err != nil {
		t.Fatalf("WriteRegister: %v", err)
	}
	if fake.calls != 2 {
		t.Fatalf("calls = %d, want 2", fake.calls)
	}
}

func TestRetryPolicy_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	fake := &flakySession{failures: 5, err: errors.New("timeout")}
	s := WithRetry(fake, RetryPolicy{MaxAttempts: 5, Backoff: time.Hour}, zap.NewNop())

	_, err := s.ReadBlock(ctx, 0, 1)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if fake.calls != 1 {
		t.Fatalf("calls = %d, want 1", fake.calls)
	}
}
