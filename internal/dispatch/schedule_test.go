package dispatch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type recordingDispatcher struct {
	mu    sync.Mutex
	kinds []Kind
}

func (r *recordingDispatcher) Enqueue(_ context.Context, kind Kind, _ any) (JobHandle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.kinds = append(r.kinds, kind)
	return JobHandle{ID: "job", Kind: kind}, nil
}

func (r *recordingDispatcher) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.kinds)
}

func TestEvery(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	d := &recordingDispatcher{}
	done := make(chan struct{})
	go func() {
		Every(ctx, 5*time.Millisecond, d, KindCleanupDrafts, nil, nil)
		close(done)
	}()

	assert.Eventually(t, func() bool { return d.count() >= 2 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done
	assert.Equal(t, KindCleanupDrafts, d.kinds[0])
}
