package worker

import (
	"context"
	"sync/atomic"

	"abilico-inference/pkg/mlruntime"
)

// modelRunner serializes inference for one session. The underlying runtime is
// not re-entrant per session; chaining jobs through a single goroutine keeps
// it safe without a lock around Run.
type modelRunner struct {
	name string
	sess mlruntime.Session
	jobs chan runJob
	done chan struct{}
}

type runJob struct {
	mat   mlruntime.Matrix
	reply chan runResult
}

type runResult struct {
	out *mlruntime.RawOutputs
	err error
}

func newModelRunner(name string, sess mlruntime.Session, counter *atomic.Int64) *modelRunner {
	r := &modelRunner{
		name: name,
		sess: sess,
		jobs: make(chan runJob, 16),
		done: make(chan struct{}),
	}
	go func() {
		defer close(r.done)
		for job := range r.jobs {
			counter.Add(1)
			out, err := r.sess.Run(job.mat)
			job.reply <- runResult{out: out, err: err}
		}
	}()
	return r
}

// run queues one job and waits for its result. Jobs for the same model are
// served in the order queued.
func (r *modelRunner) run(ctx context.Context, mat mlruntime.Matrix) (*mlruntime.RawOutputs, error) {
	reply := make(chan runResult, 1)
	select {
	case r.jobs <- runJob{mat: mat, reply: reply}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case res := <-reply:
		return res.out, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// close drains the queue and waits for the worker goroutine before releasing
// the session, so no job can run against a destroyed session.
func (r *modelRunner) close() {
	close(r.jobs)
	<-r.done
	r.sess.Close()
}
