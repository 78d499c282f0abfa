// Copyright (c) 2018 DDN. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package reconcile

import (
	"context"
	"time"

	"github.com/intel-hpdd/logging/debug"
	"github.com/pkg/errors"

	"github.com/intel-hpdd/lhsm-reconcile/pkg/hsmstate"
)

// Wait defaults.
const (
	DefaultPollInterval = time.Second
	DefaultWaitTimeout  = 30 * time.Minute
)

// WaitOptions bound a completion wait. A zero Interval or Timeout
// selects the default; a negative Timeout disables it. MaxPolls of 0
// allows any number of polls.
type WaitOptions struct {
	Interval time.Duration
	Timeout  time.Duration
	MaxPolls int
}

// DefaultWaitOptions returns the default wait bounds.
func DefaultWaitOptions() WaitOptions {
	return WaitOptions{
		Interval: DefaultPollInterval,
		Timeout:  DefaultWaitTimeout,
	}
}

func (o WaitOptions) withDefaults() WaitOptions {
	if o.Interval <= 0 {
		o.Interval = DefaultPollInterval
	}
	if o.Timeout == 0 {
		o.Timeout = DefaultWaitTimeout
	}
	return o
}

// pending is true while any of clearAny is still set or not all of
// requireAll are set yet.
func pending(s, requireAll, clearAny hsmstate.State) bool {
	if !clearAny.IsEmpty() && s.HasAny(clearAny) {
		return true
	}
	return !requireAll.IsEmpty() && !s.HasAll(requireAll)
}

// WaitUntil issues action on path and then polls its state until every
// flag in requireAll is set and every flag in clearAny is clear. It
// returns false if the request could not be issued.
func (e *Engine) WaitUntil(ctx context.Context, action hsmstate.Action, path string, requireAll, clearAny hsmstate.State, opts WaitOptions) (bool, error) {
	if e.issue(path, action) != OutcomeIssued {
		return false, nil
	}
	return true, e.poll(ctx, path, requireAll, clearAny, opts)
}

func (e *Engine) poll(ctx context.Context, path string, requireAll, clearAny hsmstate.State, opts WaitOptions) error {
	opts = opts.withDefaults()

	start := time.Now()
	defer e.stats.Waited(start)

	var deadline <-chan time.Time
	if opts.Timeout > 0 {
		timer := time.NewTimer(opts.Timeout)
		defer timer.Stop()
		deadline = timer.C
	}
	ticker := time.NewTicker(opts.Interval)
	defer ticker.Stop()

	for polls := 0; ; polls++ {
		state, _, err := e.getState(path)
		if err != nil {
			return err
		}
		if !pending(state, requireAll, clearAny) {
			debug.Printf("%s: reached %s after %d polls (%v)", path, state, polls, time.Since(start))
			return nil
		}
		if opts.MaxPolls > 0 && polls >= opts.MaxPolls {
			return errors.Wrapf(ErrWaitTimeout, "%s: still %s after %d polls", path, state, polls)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline:
			return errors.Wrapf(ErrWaitTimeout, "%s: still %s after %v", path, state, opts.Timeout)
		case <-ticker.C:
		}
	}
}
