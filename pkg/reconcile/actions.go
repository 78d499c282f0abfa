// Copyright (c) 2018 DDN. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package reconcile

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/intel-hpdd/logging/alert"
	"github.com/intel-hpdd/logging/audit"
	"github.com/intel-hpdd/logging/debug"
	"github.com/pkg/errors"

	"github.com/intel-hpdd/lhsm-reconcile/pkg/backend"
	"github.com/intel-hpdd/lhsm-reconcile/pkg/hsmstate"
)

type (
	// Operation is a per-file command.
	Operation int

	// Outcome is the result of an operation on one file.
	Outcome int
)

// Operations
const (
	OpCheck Operation = iota
	OpArchive
	OpRelease
	OpRestore
	OpRestoreWait
	OpRemove
	OpCancel
)

var operationNames = map[Operation]string{
	OpCheck:       "check",
	OpArchive:     "archive",
	OpRelease:     "release",
	OpRestore:     "restore",
	OpRestoreWait: "restore-wait",
	OpRemove:      "remove",
	OpCancel:      "cancel",
}

func (op Operation) String() string {
	if s, ok := operationNames[op]; ok {
		return s
	}
	return "unknown"
}

// ParseOperation returns the operation with the given name.
func ParseOperation(name string) (Operation, error) {
	for op, s := range operationNames {
		if strings.EqualFold(s, name) {
			return op, nil
		}
	}
	return 0, errors.Errorf("unknown operation: %s", name)
}

// Outcomes
const (
	OutcomeFailed Outcome = iota
	OutcomeHealthy
	OutcomeUnhealthy
	OutcomeIssued
	OutcomeSkipped
	OutcomeNoop
	OutcomeDeleted
)

var outcomeNames = map[Outcome]string{
	OutcomeFailed:    "failed",
	OutcomeHealthy:   "healthy",
	OutcomeUnhealthy: "unhealthy",
	OutcomeIssued:    "issued",
	OutcomeSkipped:   "skipped",
	OutcomeNoop:      "noop",
	OutcomeDeleted:   "deleted",
}

func (o Outcome) String() string {
	if s, ok := outcomeNames[o]; ok {
		return s
	}
	return "unknown"
}

// Do runs op on path, holding the path's lease if a Locker is
// configured.
func (e *Engine) Do(ctx context.Context, op Operation, path string, force bool) (Outcome, error) {
	out, err := e.do(ctx, op, path, force)
	if err != nil {
		e.stats.Failure()
		return OutcomeFailed, err
	}
	return out, nil
}

func (e *Engine) do(ctx context.Context, op Operation, path string, force bool) (Outcome, error) {
	if e.locker != nil {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return OutcomeFailed, errors.Wrapf(err, "cannot resolve absolute path for %s", path)
		}
		l, err := e.locker.Lock(absPath)
		if err != nil {
			return OutcomeFailed, err
		}
		defer func() {
			if err := l.Close(); err != nil {
				alert.Warnf("%s: releasing lease: %v", absPath, err)
			}
		}()
	}

	debug.Printf("%s %s force:%v", op, path, force)
	switch op {
	case OpCheck:
		ok, err := e.Check(ctx, path)
		if err != nil {
			return OutcomeFailed, err
		}
		if ok {
			return OutcomeHealthy, nil
		}
		return OutcomeUnhealthy, nil
	case OpArchive:
		return e.Archive(ctx, path)
	case OpRelease:
		return e.Release(ctx, path)
	case OpRestore:
		return e.Restore(ctx, path)
	case OpRestoreWait:
		return e.RestoreAndWait(ctx, path)
	case OpRemove:
		return e.Remove(ctx, path, force)
	case OpCancel:
		return e.Cancel(ctx, path)
	}
	return OutcomeFailed, errors.Errorf("unknown operation %d", op)
}

// Archive requests an archive of a healthy file, unless that would
// overwrite an object already in the backend.
func (e *Engine) Archive(ctx context.Context, path string) (Outcome, error) {
	rec, err := e.Inspect(ctx, path)
	if err != nil {
		return OutcomeFailed, err
	}
	ok, err := e.check(ctx, rec)
	if err != nil {
		return OutcomeFailed, err
	}
	if !ok {
		alert.Warnf("%s: not archiving, file is out of sync with the backend", rec.Path)
		e.stats.Refused()
		return OutcomeSkipped, nil
	}
	blocked, target, err := e.wouldOverwrite(ctx, rec)
	if err != nil {
		return OutcomeFailed, err
	}
	if blocked {
		alert.Warnf("%s: not archiving, %s already exists in the backend", rec.Path, target)
		e.stats.Refused()
		return OutcomeSkipped, nil
	}
	return e.issue(rec.Path, hsmstate.ActionArchive), nil
}

// Release requests a release of a healthy file. Releasing an already
// released file does nothing.
func (e *Engine) Release(ctx context.Context, path string) (Outcome, error) {
	rec, err := e.Inspect(ctx, path)
	if err != nil {
		return OutcomeFailed, err
	}
	ok, err := e.check(ctx, rec)
	if err != nil {
		return OutcomeFailed, err
	}
	if !ok {
		alert.Warnf("%s: not releasing, file is out of sync with the backend", rec.Path)
		e.stats.Refused()
		return OutcomeSkipped, nil
	}
	if rec.State.Has(hsmstate.Released) {
		audit.Logf("%s: already released", rec.Path)
		return OutcomeNoop, nil
	}
	return e.issue(rec.Path, hsmstate.ActionRelease), nil
}

// Restore requests a restore without checking the file first.
func (e *Engine) Restore(ctx context.Context, path string) (Outcome, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return OutcomeFailed, errors.Wrapf(err, "cannot resolve absolute path for %s", path)
	}
	return e.issue(absPath, hsmstate.ActionRestore), nil
}

// RestoreAndWait requests a restore and waits for RELEASED to clear.
func (e *Engine) RestoreAndWait(ctx context.Context, path string) (Outcome, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return OutcomeFailed, errors.Wrapf(err, "cannot resolve absolute path for %s", path)
	}
	issued, err := e.WaitUntil(ctx, hsmstate.ActionRestore, absPath, hsmstate.None, hsmstate.Of(hsmstate.Released), e.wait)
	if err != nil {
		return OutcomeFailed, err
	}
	if !issued {
		return OutcomeFailed, nil
	}
	audit.Logf("%s: restored", absPath)
	return OutcomeIssued, nil
}

// Cancel requests cancellation of pending actions on path.
func (e *Engine) Cancel(ctx context.Context, path string) (Outcome, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return OutcomeFailed, errors.Wrapf(err, "cannot resolve absolute path for %s", path)
	}
	return e.issue(absPath, hsmstate.ActionCancel), nil
}

// Remove drops the archived copy of path. With force, reconciliation
// failures are ignored and the backend object is deleted directly when
// no remove request can be issued.
func (e *Engine) Remove(ctx context.Context, path string, force bool) (Outcome, error) {
	rec, err := e.Inspect(ctx, path)
	if err == nil {
		_, err = e.check(ctx, rec)
	}
	if err != nil {
		if !force {
			return OutcomeFailed, err
		}
		alert.Warnf("%s: reconciliation failed, continuing: %v", path, err)
		if rec == nil {
			if rec, err = e.fallbackRecord(path); err != nil {
				return OutcomeFailed, err
			}
		}
	}

	if localExists(rec.Path) && !NeedsArchive(rec.State) {
		if rec.State.Has(hsmstate.Released) {
			alert.Warnf("%s: not removing, file is released and the backend holds its only copy", rec.Path)
			e.stats.Refused()
			return OutcomeSkipped, nil
		}
		out := e.issue(rec.Path, hsmstate.ActionRemove)
		if err := e.markLost(rec); err != nil {
			if !force {
				return OutcomeFailed, err
			}
			alert.Warnf("%s: %v", rec.Path, err)
		}
		return out, nil
	}

	if force {
		out := OutcomeDeleted
		err := e.oracle.Delete(ctx, rec.Key)
		switch {
		case backend.IsNotFound(err):
			audit.Logf("%s: %s is no longer in the backend", rec.Path, rec.Key)
			e.stats.Deleted(true)
			out = OutcomeNoop
		case err != nil:
			return OutcomeFailed, errors.Wrapf(err, "delete of %s failed", rec.Key)
		default:
			audit.Logf("%s: deleted %s from the backend", rec.Path, rec.Key)
			e.stats.Deleted(false)
		}
		if localExists(rec.Path) {
			if err := e.markLost(rec); err != nil {
				alert.Warnf("%s: %v", rec.Path, err)
			}
		}
		return out, nil
	}

	alert.Warnf("%s: nothing to remove (state %s), use force to delete %s from the backend", rec.Path, rec.State, rec.Key)
	e.stats.Refused()
	return OutcomeSkipped, nil
}

// fallbackRecord is used by a forced Remove when the state could not be
// read; the state is taken to be empty.
func (e *Engine) fallbackRecord(path string) (*FileRecord, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot resolve absolute path for %s", path)
	}
	key, err := e.resolver.CanonicalKey(absPath)
	if err != nil {
		return nil, err
	}
	recorded, _ := e.resolver.RecordedKey(absPath)
	return &FileRecord{Path: absPath, Key: key, Recorded: recorded}, nil
}
