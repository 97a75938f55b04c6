package circuit

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Defaults(t *testing.T) {
	b := New("fraud-scorer")
	assert.Equal(t, "fraud-scorer", b.Name())
	assert.Equal(t, StateClosed, b.State())

	for i := 0; i < defaultFailureThreshold-1; i++ {
		useFallback, _ := b.RecordFailure()
		require.False(t, useFallback)
	}
	useFallback, change := b.RecordFailure()
	assert.True(t, useFallback)
	assert.True(t, change.Opened)
}

func TestBreaker_Transitions(t *testing.T) {
	tests := []struct {
		name      string
		calls     string // f = failure, s = success
		wantState State
		wantOpens int
		wantClose int
	}{
		{name: "below threshold stays closed", calls: "ff", wantState: StateClosed},
		{name: "consecutive failures open", calls: "fff", wantState: StateOpen, wantOpens: 1},
		{name: "success resets the failure run", calls: "ffsff", wantState: StateClosed},
		{name: "one success is not enough to close", calls: "fffs", wantState: StateOpen, wantOpens: 1},
		{name: "two successes close", calls: "fffss", wantState: StateClosed, wantOpens: 1, wantClose: 1},
		{name: "failure while recovering restarts the count", calls: "fffsfs", wantState: StateOpen, wantOpens: 1},
		{name: "reopens after closing", calls: "fffssfff", wantState: StateOpen, wantOpens: 2, wantClose: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := New("notifications", WithFailureThreshold(3), WithSuccessThreshold(2))
			opens, closes := 0, 0
			for _, c := range tt.calls {
				var change StateChange
				if c == 'f' {
					_, change = b.RecordFailure()
				} else {
					_, change = b.RecordSuccess()
				}
				if change.Opened {
					opens++
				}
				if change.Closed {
					closes++
				}
			}
			assert.Equal(t, tt.wantState, b.State())
			assert.Equal(t, tt.wantOpens, opens)
			assert.Equal(t, tt.wantClose, closes)
		})
	}
}

func TestBreaker_FallbackWhileOpen(t *testing.T) {
	b := New("notifications", WithFailureThreshold(1), WithSuccessThreshold(2))
	b.RecordFailure()
	require.True(t, b.IsOpen())

	useFallback, change := b.RecordFailure()
	assert.True(t, useFallback)
	assert.Equal(t, StateChange{}, change)

	usePrimary, _ := b.RecordSuccess()
	assert.False(t, usePrimary, "results stay on the fallback until the breaker closes")
	usePrimary, change = b.RecordSuccess()
	assert.True(t, usePrimary)
	assert.True(t, change.Closed)
}

func TestBreaker_InvalidOptionsKeepDefaults(t *testing.T) {
	b := New("x", WithFailureThreshold(0), WithSuccessThreshold(-1))
	assert.Equal(t, defaultFailureThreshold, b.failureThreshold)
	assert.Equal(t, defaultSuccessThreshold, b.successThreshold)
}

func TestBreaker_Reset(t *testing.T) {
	b := New("x", WithFailureThreshold(1))
	b.RecordFailure()
	require.True(t, b.IsOpen())
	b.Reset()
	assert.False(t, b.IsOpen())
}

func TestBreaker_ConcurrentRecords(t *testing.T) {
	b := New("x", WithFailureThreshold(50))
	var wg sync.WaitGroup
	for i := 0; i < 49; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.RecordFailure()
		}()
	}
	wg.Wait()
	assert.False(t, b.IsOpen())
	_, change := b.RecordFailure()
	assert.True(t, change.Opened)
}
