// Copyright (c) 2018 DDN. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package reconcile

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/intel-hpdd/logging/audit"
	"github.com/rcrowley/go-metrics"

	"github.com/intel-hpdd/lhsm-reconcile/pkg/hsmstate"
)

// Stats is a synchronized container of counters for a run.
type Stats struct {
	sync.Mutex

	checks    metrics.Counter
	unhealthy metrics.Counter
	refused   metrics.Counter
	deleted   metrics.Counter
	notFound  metrics.Counter
	failures  metrics.Counter
	waits     metrics.Timer

	issued map[hsmstate.Action]metrics.Counter
	failed map[hsmstate.Action]metrics.Counter
}

// NewStats initializes a new Stats container
func NewStats() *Stats {
	return &Stats{
		checks:    metrics.NewCounter(),
		unhealthy: metrics.NewCounter(),
		refused:   metrics.NewCounter(),
		deleted:   metrics.NewCounter(),
		notFound:  metrics.NewCounter(),
		failures:  metrics.NewCounter(),
		waits:     metrics.NewTimer(),
		issued:    make(map[hsmstate.Action]metrics.Counter),
		failed:    make(map[hsmstate.Action]metrics.Counter),
	}
}

func (s *Stats) actionCounter(m map[hsmstate.Action]metrics.Counter, a hsmstate.Action) metrics.Counter {
	s.Lock()
	defer s.Unlock()
	c, ok := m[a]
	if !ok {
		c = metrics.NewCounter()
		m[a] = c
	}
	return c
}

// Check records a reconciliation and whether it found the file healthy.
func (s *Stats) Check(healthy bool) {
	s.checks.Inc(1)
	if !healthy {
		s.unhealthy.Inc(1)
	}
}

// Refused records an action skipped by a precondition.
func (s *Stats) Refused() {
	s.refused.Inc(1)
}

// Issued records a successfully issued request.
func (s *Stats) Issued(a hsmstate.Action) {
	s.actionCounter(s.issued, a).Inc(1)
}

// IssueFailed records a request that could not be issued.
func (s *Stats) IssueFailed(a hsmstate.Action) {
	s.actionCounter(s.failed, a).Inc(1)
}

// Deleted records a direct backend delete. missing is true if the
// object was already gone.
func (s *Stats) Deleted(missing bool) {
	if missing {
		s.notFound.Inc(1)
		return
	}
	s.deleted.Inc(1)
}

// Failure records a file whose operation returned an error.
func (s *Stats) Failure() {
	s.failures.Inc(1)
}

// Waited records the duration of a completion wait.
func (s *Stats) Waited(start time.Time) {
	s.waits.UpdateSince(start)
}

// Failures returns the number of files that failed.
func (s *Stats) Failures() int64 {
	return s.failures.Count()
}

func sortedActions(m map[hsmstate.Action]metrics.Counter) []hsmstate.Action {
	var v []hsmstate.Action
	for a := range m {
		v = append(v, a)
	}
	sort.Slice(v, func(i, j int) bool { return v[i] < v[j] })
	return v
}

func (s *Stats) String() string {
	s.Lock()
	defer s.Unlock()

	var b strings.Builder
	fmt.Fprintf(&b, "checked:%v unhealthy:%v refused:%v deleted:%v missing:%v failed:%v",
		humanize.Comma(s.checks.Count()),
		humanize.Comma(s.unhealthy.Count()),
		humanize.Comma(s.refused.Count()),
		humanize.Comma(s.deleted.Count()),
		humanize.Comma(s.notFound.Count()),
		humanize.Comma(s.failures.Count()))
	for _, a := range sortedActions(s.issued) {
		fmt.Fprintf(&b, " %s:%v", strings.ToLower(a.String()), humanize.Comma(s.issued[a].Count()))
	}
	for _, a := range sortedActions(s.failed) {
		fmt.Fprintf(&b, " %s-failed:%v", strings.ToLower(a.String()), humanize.Comma(s.failed[a].Count()))
	}
	if s.waits.Count() > 0 {
		fmt.Fprintf(&b, " waits:%v min:%v max:%v mean:%v",
			humanize.Comma(s.waits.Count()),
			time.Duration(s.waits.Min()),
			time.Duration(s.waits.Max()),
			time.Duration(int64(s.waits.Mean())))
	}
	return b.String()
}

// Log writes the summary to the audit log.
func (s *Stats) Log() {
	audit.Logf("summary %s", s)
}
