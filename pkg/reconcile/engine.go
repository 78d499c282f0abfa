// Copyright (c) 2018 DDN. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package reconcile keeps the HSM state of a file consistent with the
// archived copy held in the backend, and refuses tiering actions that
// would lose data.
package reconcile

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/intel-hpdd/logging/alert"
	"github.com/intel-hpdd/logging/audit"
	"github.com/intel-hpdd/logging/debug"
	"github.com/pkg/errors"

	"github.com/intel-hpdd/lhsm-reconcile/pkg/backend"
	"github.com/intel-hpdd/lhsm-reconcile/pkg/hsmstate"
)

type (
	// Native is the HSM interface of the filesystem.
	Native interface {
		GetState(path string) (hsmstate.State, uint32, error)
		SetState(path string, set, clear hsmstate.State, archiveID uint32) error
		Request(path string, req hsmstate.Request) error
		FileID(path string) (string, error)
	}

	// Resolver maps paths to backend keys.
	Resolver interface {
		CanonicalKey(path string) (string, error)
		RecordedKey(path string) (string, bool)
	}

	// Locker serializes operations on a path across processes.
	Locker interface {
		Lock(path string) (io.Closer, error)
	}

	// LockerFunc adapts a function to the Locker interface.
	LockerFunc func(path string) (io.Closer, error)

	// Options configure an Engine.
	Options struct {
		ArchiveID uint
		Wait      WaitOptions
		Locker    Locker
		Stats     *Stats
	}

	// Engine reconciles files and performs HSM actions on them.
	Engine struct {
		native    Native
		oracle    backend.Oracle
		resolver  Resolver
		archiveID uint
		wait      WaitOptions
		locker    Locker
		stats     *Stats
	}

	// Presence records whether a backend object was found.
	Presence int

	// FileRecord is what the engine knows about a file.
	FileRecord struct {
		Path      string
		Key       string
		State     hsmstate.State
		ArchiveID uint32
		// Recorded is the key written by the copytool, or "".
		Recorded        string
		CanonicalObject Presence
		RecordedObject  Presence
	}
)

// Presence values
const (
	Unknown Presence = iota
	Present
	Absent
)

func presence(found bool) Presence {
	if found {
		return Present
	}
	return Absent
}

func (p Presence) String() string {
	switch p {
	case Present:
		return "present"
	case Absent:
		return "absent"
	default:
		return "unknown"
	}
}

// Lock calls f(path).
func (f LockerFunc) Lock(path string) (io.Closer, error) {
	return f(path)
}

// New returns an Engine.
func New(native Native, oracle backend.Oracle, resolver Resolver, opts Options) *Engine {
	e := &Engine{
		native:    native,
		oracle:    oracle,
		resolver:  resolver,
		archiveID: opts.ArchiveID,
		wait:      opts.Wait.withDefaults(),
		locker:    opts.Locker,
		stats:     opts.Stats,
	}
	if e.stats == nil {
		e.stats = NewStats()
	}
	return e
}

// Stats returns the engine's counters.
func (e *Engine) Stats() *Stats {
	return e.stats
}

func (e *Engine) getState(path string) (hsmstate.State, uint32, error) {
	s, id, err := e.native.GetState(path)
	if err != nil {
		return hsmstate.None, 0, nativeError("get state", path, err)
	}
	return s, id, nil
}

func (e *Engine) setState(path string, set, clear hsmstate.State, archiveID uint32) error {
	debug.Printf("%s: set %s clear %s", path, set, clear)
	return nativeError("set state", path, e.native.SetState(path, set, clear, archiveID))
}

// markLost flags the file as needing a fresh archive.
func (e *Engine) markLost(rec *FileRecord) error {
	lost := hsmstate.Of(hsmstate.Dirty, hsmstate.Lost)
	if err := e.setState(rec.Path, lost, hsmstate.None, rec.ArchiveID); err != nil {
		return err
	}
	rec.State = rec.State.With(hsmstate.Dirty, hsmstate.Lost)
	return nil
}

// issue sends an HSM request for path. Failures are logged and reported
// as OutcomeFailed.
func (e *Engine) issue(path string, action hsmstate.Action) Outcome {
	id, err := e.native.FileID(path)
	if err != nil {
		alert.Warnf("%s: %s request not issued: %v", path, action, nativeError("fid", path, err))
		e.stats.IssueFailed(action)
		return OutcomeFailed
	}
	req := hsmstate.NewRequest(action, id, e.archiveID)
	if err := e.native.Request(path, req); err != nil {
		alert.Warnf("%s: %s request failed: %v", path, action, nativeError("request", path, err))
		e.stats.IssueFailed(action)
		return OutcomeFailed
	}
	audit.Logf("%s: %s request issued (%s)", path, action, req)
	e.stats.Issued(action)
	return OutcomeIssued
}

// Inspect reads the keys and state of path without consulting the
// backend.
func (e *Engine) Inspect(ctx context.Context, path string) (*FileRecord, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot resolve absolute path for %s", path)
	}
	key, err := e.resolver.CanonicalKey(absPath)
	if err != nil {
		return nil, err
	}
	rec := &FileRecord{Path: absPath, Key: key}
	rec.Recorded, _ = e.resolver.RecordedKey(absPath)
	rec.State, rec.ArchiveID, err = e.getState(absPath)
	if err != nil {
		return nil, err
	}
	debug.Printf("%s: state %s key %q recorded %q", absPath, rec.State, rec.Key, rec.Recorded)
	return rec, nil
}

func (e *Engine) objectExists(ctx context.Context, key string) (bool, error) {
	ok, err := e.oracle.Exists(ctx, key)
	if err != nil {
		return false, errors.Wrapf(err, "backend lookup of %s failed", key)
	}
	return ok, nil
}

func (e *Engine) canonicalExists(ctx context.Context, rec *FileRecord) (bool, error) {
	if rec.CanonicalObject == Unknown {
		ok, err := e.objectExists(ctx, rec.Key)
		if err != nil {
			return false, err
		}
		rec.CanonicalObject = presence(ok)
	}
	return rec.CanonicalObject == Present, nil
}

// healthy consults the backend only for ARCHIVED files.
func (e *Engine) healthy(ctx context.Context, rec *FileRecord) (bool, error) {
	if !rec.State.Has(hsmstate.Archived) {
		return true, nil
	}
	found, err := e.canonicalExists(ctx, rec)
	if err != nil {
		return false, err
	}
	return Healthy(rec.State, rec.Key, rec.Recorded, found), nil
}

// wouldOverwrite consults the backend only for files needing archive.
func (e *Engine) wouldOverwrite(ctx context.Context, rec *FileRecord) (bool, string, error) {
	target := GuardTarget(rec.State, rec.Key, rec.Recorded)
	if !NeedsArchive(rec.State) {
		return false, target, nil
	}
	found, err := e.canonicalExists(ctx, rec)
	if err != nil {
		return false, target, err
	}
	return WouldOverwrite(rec.State, found), target, nil
}

// Status inspects path and checks the backend for both of its keys.
func (e *Engine) Status(ctx context.Context, path string) (*FileRecord, error) {
	rec, err := e.Inspect(ctx, path)
	if err != nil {
		return nil, err
	}
	if _, err := e.canonicalExists(ctx, rec); err != nil {
		return nil, err
	}
	switch rec.Recorded {
	case "":
	case rec.Key:
		rec.RecordedObject = rec.CanonicalObject
	default:
		ok, err := e.objectExists(ctx, rec.Recorded)
		if err != nil {
			return nil, err
		}
		rec.RecordedObject = presence(ok)
	}
	return rec, nil
}

// Check reconciles path with the backend. A healthy file, or one that
// needs a fresh archive, is left alone. Otherwise a released file is
// restored first if possible, the file is marked DIRTY and LOST, and
// Check returns false.
func (e *Engine) Check(ctx context.Context, path string) (bool, error) {
	rec, err := e.Inspect(ctx, path)
	if err != nil {
		return false, err
	}
	return e.check(ctx, rec)
}

func (e *Engine) check(ctx context.Context, rec *FileRecord) (bool, error) {
	if NeedsArchive(rec.State) {
		debug.Printf("%s: needs archive", rec.Path)
		e.stats.Check(true)
		return true, nil
	}
	ok, err := e.healthy(ctx, rec)
	if err != nil {
		return false, err
	}
	e.stats.Check(ok)
	if ok {
		debug.Printf("%s: healthy", rec.Path)
		return true, nil
	}

	if rec.Recorded != "" && rec.Recorded != rec.Key {
		alert.Warnf("%s: archived as %s but now at %s", rec.Path, rec.Recorded, rec.Key)
	} else {
		alert.Warnf("%s: archived copy %s is missing from the backend", rec.Path, rec.Key)
	}

	if rec.State.Has(hsmstate.Released) {
		audit.Logf("%s: restoring released file before marking it lost", rec.Path)
		issued, err := e.WaitUntil(ctx, hsmstate.ActionRestore, rec.Path, hsmstate.None, hsmstate.Of(hsmstate.Released), e.wait)
		switch {
		case IsNative(err):
			return false, err
		case err != nil:
			alert.Warnf("%s: restore did not complete: %v", rec.Path, err)
		case !issued:
			alert.Warnf("%s: restore could not be issued", rec.Path)
		default:
			rec.State = rec.State.Without(hsmstate.Released)
		}
	}

	if err := e.markLost(rec); err != nil {
		return false, err
	}
	audit.Logf("%s: marked DIRTY and LOST", rec.Path)
	return false, nil
}

func localExists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}
