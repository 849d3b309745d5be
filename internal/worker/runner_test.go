package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"abilico-inference/pkg/mlruntime"
)

// trackingSession records whether Close raced an in-flight Run.
type trackingSession struct {
	mu                 sync.Mutex
	running            bool
	closed             bool
	closedWhileRunning bool
}

func (s *trackingSession) Run(mat mlruntime.Matrix) (*mlruntime.RawOutputs, error) {
	s.mu.Lock()
	s.running = true
	s.mu.Unlock()

	time.Sleep(50 * time.Millisecond)

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
	return &mlruntime.RawOutputs{Scalars: make([]float32, mat.Rows)}, nil
}

func (s *trackingSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		s.closedWhileRunning = true
	}
	s.closed = true
	return nil
}

func TestRunnerCloseWaitsForInFlightJob(t *testing.T) {
	sess := &trackingSession{}
	var counter atomic.Int64
	r := newModelRunner("width", sess, &counter)

	done := make(chan error, 1)
	go func() {
		_, err := r.run(context.Background(), mlruntime.Matrix{Data: []float32{1}, Rows: 1, Cols: 1})
		done <- err
	}()

	// Let the job reach the session, then tear down while it runs.
	time.Sleep(10 * time.Millisecond)
	r.close()

	assert.NoError(t, <-done)
	sess.mu.Lock()
	defer sess.mu.Unlock()
	assert.True(t, sess.closed)
	assert.False(t, sess.closedWhileRunning, "session must not be destroyed under a running job")
}
