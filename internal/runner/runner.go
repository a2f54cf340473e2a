/*
 * MIT License
 *
 * Copyright (c) 2024 Nicolas JUHEL
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 */

// Package runner provides the named-goroutine lifecycle used by the
// Transport's maintenance loop and the Dispatcher: a single-instance
// start/stop/restart wrapper over a user function, idempotent on repeated
// Stop calls, with uptime and last-error tracking.
package runner

import (
	"context"
	"sync"
	"time"
)

// Func is a goroutine body: it must return when ctx is cancelled.
type Func func(ctx context.Context) error

// Runner wraps one named goroutine with idempotent Start/Stop and an uptime
// clock.
type Runner interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Restart(ctx context.Context) error
	IsRunning() bool
	Uptime() time.Duration
	ErrorsLast() error
}

type runner struct {
	mu      sync.Mutex
	start   Func
	stop    Func
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
	started time.Time
	lastErr error
}

func New(start, stop Func) Runner {
	return &runner{start: start, stop: stop}
}

func (r *runner) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return nil
	}

	cctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})
	r.running = true
	r.started = time.Now()
	fn := r.start
	done := r.done
	r.mu.Unlock()

	go func() {
		defer close(done)

		var err error
		if fn != nil {
			err = fn(cctx)
		}

		r.mu.Lock()
		r.lastErr = err
		r.running = false
		r.mu.Unlock()
	}()

	return nil
}

func (r *runner) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.running || r.cancel == nil {
		r.mu.Unlock()
		return nil
	}
	cancel := r.cancel
	done := r.done
	stop := r.stop
	r.mu.Unlock()

	cancel()

	if stop != nil {
		if err := stop(ctx); err != nil {
			r.mu.Lock()
			r.lastErr = err
			r.mu.Unlock()
		}
	}

	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
		}
	}

	return nil
}

func (r *runner) Restart(ctx context.Context) error {
	if err := r.Stop(ctx); err != nil {
		return err
	}
	return r.Start(ctx)
}

func (r *runner) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

func (r *runner) Uptime() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running {
		return 0
	}
	return time.Since(r.started)
}

func (r *runner) ErrorsLast() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastErr
}
