package reconcile

import (
	"context"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/intel-hpdd/lhsm-reconcile/internal/hsmtest"
	"github.com/intel-hpdd/lhsm-reconcile/internal/testhelpers"
	"github.com/intel-hpdd/lhsm-reconcile/pkg/backend"
	"github.com/intel-hpdd/lhsm-reconcile/pkg/fileid"
	"github.com/intel-hpdd/lhsm-reconcile/pkg/fsroot"
	"github.com/intel-hpdd/lhsm-reconcile/pkg/hsmstate"
	"github.com/intel-hpdd/lhsm-reconcile/pkg/pathkey"
)

var (
	archived = hsmstate.Of(hsmstate.Exists, hsmstate.Archived)
	released = archived.With(hsmstate.Released)
	lost     = hsmstate.Of(hsmstate.Dirty, hsmstate.Lost)

	fastWait = WaitOptions{Interval: time.Millisecond, Timeout: 5 * time.Second}
)

type fixture struct {
	dir    string
	native *hsmtest.Native
	oracle *backend.TestOracle
	engine *Engine
}

func withEngine(t *testing.T, tester func(t *testing.T, f *fixture)) {
	dir, cleanup := testhelpers.TempDir(t)
	defer cleanup()

	fileid.EnableTestMode()
	defer fileid.DisableTestMode()

	f := &fixture{
		dir:    dir,
		native: hsmtest.New(),
		oracle: backend.NewTest(),
	}
	resolver := pathkey.New(pathkey.WithRoot(fsroot.Test(dir)))
	f.engine = New(f.native, f.oracle, resolver, Options{ArchiveID: 1, Wait: fastWait})
	tester(t, f)
}

// file creates key under the fixture root with the given state.
func (f *fixture) file(t *testing.T, key string, state hsmstate.State) string {
	p := filepath.Join(f.dir, key)
	testhelpers.MakeFile(t, p, []byte("data"))
	f.native.Add(p, state, 1)
	return p
}

func (f *fixture) record(t *testing.T, p, value string) {
	if err := fileid.Seed(fileid.URL, p, []byte(value)); err != nil {
		t.Fatalf("err: %s", err)
	}
}

func actions(a ...hsmstate.Action) []hsmstate.Action {
	return a
}

// An archived file whose object is at its canonical key needs nothing.
func TestArchiveHealthyArchivedFile(t *testing.T) {
	withEngine(t, func(t *testing.T, f *fixture) {
		p := f.file(t, "a/b.dat", archived)
		f.oracle.Put("a/b.dat")

		ok, err := f.engine.Check(context.Background(), p)
		if err != nil {
			t.Fatalf("err: %s", err)
		}
		if !ok {
			t.Fatal("expected healthy")
		}

		out, err := f.engine.Archive(context.Background(), p)
		if err != nil {
			t.Fatalf("err: %s", err)
		}
		if out != OutcomeIssued {
			t.Fatalf("expected issued, got %s", out)
		}
		if got := f.native.Actions(p); !reflect.DeepEqual(got, actions(hsmstate.ActionArchive)) {
			t.Fatalf("unexpected requests %v", got)
		}
		req := f.native.Requests[0].Request
		if !req.Extent.IsWholeFile() || req.ItemCount != 1 || req.ArchiveID != 1 {
			t.Fatalf("unexpected request %s", req)
		}
		if len(f.native.Sets) != 0 {
			t.Fatalf("unexpected state changes %v", f.native.Sets)
		}
	})
}

// Archiving must not replace an object another file already owns.
func TestArchiveRefusedWhenKeyOccupied(t *testing.T) {
	withEngine(t, func(t *testing.T, f *fixture) {
		p := f.file(t, "a/b.dat", hsmstate.Of(hsmstate.Exists))
		f.oracle.Put("a/b.dat")

		out, err := f.engine.Archive(context.Background(), p)
		if err != nil {
			t.Fatalf("err: %s", err)
		}
		if out != OutcomeSkipped {
			t.Fatalf("expected skipped, got %s", out)
		}
		if len(f.native.Requests) != 0 {
			t.Fatalf("unexpected requests %v", f.native.Requests)
		}
		if !reflect.DeepEqual(f.oracle.Keys(), []string{"a/b.dat"}) {
			t.Fatalf("backend changed: %v", f.oracle.Keys())
		}
	})
}

func TestArchiveNewFile(t *testing.T) {
	withEngine(t, func(t *testing.T, f *fixture) {
		p := f.file(t, "a/b.dat", hsmstate.None)

		out, err := f.engine.Archive(context.Background(), p)
		if err != nil {
			t.Fatalf("err: %s", err)
		}
		if out != OutcomeIssued {
			t.Fatalf("expected issued, got %s", out)
		}
	})
}

// Releasing an already released file issues nothing.
func TestReleaseAlreadyReleased(t *testing.T) {
	withEngine(t, func(t *testing.T, f *fixture) {
		p := f.file(t, "a/b.dat", released)
		f.oracle.Put("a/b.dat")

		out, err := f.engine.Release(context.Background(), p)
		if err != nil {
			t.Fatalf("err: %s", err)
		}
		if out != OutcomeNoop {
			t.Fatalf("expected noop, got %s", out)
		}
		if len(f.native.Requests) != 0 || len(f.native.Sets) != 0 {
			t.Fatalf("unexpected native calls %v %v", f.native.Requests, f.native.Sets)
		}
	})
}

func TestReleaseHealthy(t *testing.T) {
	withEngine(t, func(t *testing.T, f *fixture) {
		p := f.file(t, "a/b.dat", archived)
		f.oracle.Put("a/b.dat")

		out, err := f.engine.Release(context.Background(), p)
		if err != nil {
			t.Fatalf("err: %s", err)
		}
		if out != OutcomeIssued {
			t.Fatalf("expected issued, got %s", out)
		}
		if got := f.native.Actions(p); !reflect.DeepEqual(got, actions(hsmstate.ActionRelease)) {
			t.Fatalf("unexpected requests %v", got)
		}
	})
}

func TestReleaseRefusedWhenMissing(t *testing.T) {
	withEngine(t, func(t *testing.T, f *fixture) {
		p := f.file(t, "a/b.dat", archived)

		out, err := f.engine.Release(context.Background(), p)
		if err != nil {
			t.Fatalf("err: %s", err)
		}
		if out != OutcomeSkipped {
			t.Fatalf("expected skipped, got %s", out)
		}
		if !f.native.State(p).HasAll(lost) {
			t.Fatalf("expected DIRTY LOST, got %s", f.native.State(p))
		}
	})
}

// A file renamed after archive no longer matches its recorded key.
func TestCheckRenamedFile(t *testing.T) {
	withEngine(t, func(t *testing.T, f *fixture) {
		p := f.file(t, "new/name.dat", archived)
		f.record(t, p, "old/name.dat")
		f.oracle.Put("new/name.dat")
		f.oracle.Put("old/name.dat")

		ok, err := f.engine.Check(context.Background(), p)
		if err != nil {
			t.Fatalf("err: %s", err)
		}
		if ok {
			t.Fatal("expected unhealthy")
		}
		if len(f.native.Requests) != 0 {
			t.Fatalf("restore issued for unreleased file: %v", f.native.Requests)
		}
		if !f.native.State(p).HasAll(lost) {
			t.Fatalf("expected DIRTY LOST, got %s", f.native.State(p))
		}

		// Now it needs a fresh archive, which would overwrite new/name.dat.
		out, err := f.engine.Archive(context.Background(), p)
		if err != nil {
			t.Fatalf("err: %s", err)
		}
		if out != OutcomeSkipped {
			t.Fatalf("expected skipped, got %s", out)
		}
	})
}

// A released file with no object is restored and waited on before it is marked.
func TestCheckRestoresReleasedFile(t *testing.T) {
	withEngine(t, func(t *testing.T, f *fixture) {
		f.native.RestorePolls = 3
		p := f.file(t, "a/b.dat", released)

		ok, err := f.engine.Check(context.Background(), p)
		if err != nil {
			t.Fatalf("err: %s", err)
		}
		if ok {
			t.Fatal("expected unhealthy")
		}
		if got := f.native.Actions(p); !reflect.DeepEqual(got, actions(hsmstate.ActionRestore)) {
			t.Fatalf("unexpected requests %v", got)
		}
		state := f.native.State(p)
		if state.Has(hsmstate.Released) {
			t.Fatalf("RELEASED not cleared: %s", state)
		}
		if !state.HasAll(lost) {
			t.Fatalf("expected DIRTY LOST, got %s", state)
		}
	})
}

func TestCheckMarksLostWhenRestoreStalls(t *testing.T) {
	withEngine(t, func(t *testing.T, f *fixture) {
		f.native.StallRestore = true
		f.engine.wait = WaitOptions{Interval: time.Millisecond, MaxPolls: 3}
		p := f.file(t, "a/b.dat", released)

		ok, err := f.engine.Check(context.Background(), p)
		if err != nil {
			t.Fatalf("err: %s", err)
		}
		if ok {
			t.Fatal("expected unhealthy")
		}
		if !f.native.State(p).HasAll(lost.With(hsmstate.Released)) {
			t.Fatalf("unexpected state %s", f.native.State(p))
		}
	})
}

func TestCheckNoMutation(t *testing.T) {
	withEngine(t, func(t *testing.T, f *fixture) {
		healthy := f.file(t, "a/healthy.dat", archived)
		f.oracle.Put("a/healthy.dat")
		fresh := f.file(t, "a/fresh.dat", hsmstate.Of(hsmstate.Exists))
		relost := f.file(t, "a/relost.dat", archived.With(hsmstate.Dirty, hsmstate.Lost))

		for _, p := range []string{healthy, fresh, relost} {
			ok, err := f.engine.Check(context.Background(), p)
			if err != nil {
				t.Fatalf("err: %s", err)
			}
			if !ok {
				t.Fatalf("%s: expected healthy", p)
			}
		}
		if len(f.native.Sets) != 0 || len(f.native.Requests) != 0 {
			t.Fatalf("unexpected native calls %v %v", f.native.Sets, f.native.Requests)
		}
		// Only the ARCHIVED file without DIRTY+LOST needs a lookup.
		if f.oracle.ExistsCalls != 1 {
			t.Fatalf("expected 1 backend lookup, got %d", f.oracle.ExistsCalls)
		}
	})
}

func TestCheckPropagatesNativeError(t *testing.T) {
	withEngine(t, func(t *testing.T, f *fixture) {
		p := f.file(t, "a/b.dat", archived)
		f.native.GetErr = errors.Wrap(unix.EIO, "hsm_state")

		_, err := f.engine.Check(context.Background(), p)
		ne, ok := err.(*NativeError)
		if !ok {
			t.Fatalf("expected *NativeError, got %v", err)
		}
		if ne.Errno != unix.EIO {
			t.Fatalf("expected EIO, got %v", ne.Errno)
		}
	})
}

func TestCheckPropagatesBackendError(t *testing.T) {
	withEngine(t, func(t *testing.T, f *fixture) {
		p := f.file(t, "a/b.dat", archived)
		f.oracle.Err = errors.New("connection reset")

		if _, err := f.engine.Check(context.Background(), p); err == nil {
			t.Fatal("expected error")
		}
		if len(f.native.Sets) != 0 {
			t.Fatalf("unexpected state changes %v", f.native.Sets)
		}
	})
}

func TestArchiveIssueFailure(t *testing.T) {
	withEngine(t, func(t *testing.T, f *fixture) {
		p := f.file(t, "a/b.dat", hsmstate.None)
		f.native.RequestErr = unix.EBUSY

		out, err := f.engine.Archive(context.Background(), p)
		if err != nil {
			t.Fatalf("err: %s", err)
		}
		if out != OutcomeFailed {
			t.Fatalf("expected failed, got %s", out)
		}
	})
}

func TestRestoreUngated(t *testing.T) {
	withEngine(t, func(t *testing.T, f *fixture) {
		p := f.file(t, "a/b.dat", released)
		f.oracle.Err = errors.New("backend down")

		out, err := f.engine.Restore(context.Background(), p)
		if err != nil {
			t.Fatalf("err: %s", err)
		}
		if out != OutcomeIssued {
			t.Fatalf("expected issued, got %s", out)
		}
		if f.oracle.ExistsCalls != 0 {
			t.Fatal("restore consulted the backend")
		}
	})
}

func TestRestoreAndWait(t *testing.T) {
	withEngine(t, func(t *testing.T, f *fixture) {
		f.native.RestorePolls = 2
		p := f.file(t, "a/b.dat", released)

		out, err := f.engine.RestoreAndWait(context.Background(), p)
		if err != nil {
			t.Fatalf("err: %s", err)
		}
		if out != OutcomeIssued {
			t.Fatalf("expected issued, got %s", out)
		}
		if f.native.State(p).Has(hsmstate.Released) {
			t.Fatal("still released")
		}
	})
}

func TestCancel(t *testing.T) {
	withEngine(t, func(t *testing.T, f *fixture) {
		p := f.file(t, "a/b.dat", archived)

		out, err := f.engine.Do(context.Background(), OpCancel, p, false)
		if err != nil {
			t.Fatalf("err: %s", err)
		}
		if out != OutcomeIssued {
			t.Fatalf("expected issued, got %s", out)
		}
		if got := f.native.Actions(p); !reflect.DeepEqual(got, actions(hsmstate.ActionCancel)) {
			t.Fatalf("unexpected requests %v", got)
		}
	})
}

func TestDoCheck(t *testing.T) {
	withEngine(t, func(t *testing.T, f *fixture) {
		good := f.file(t, "a/good.dat", archived)
		f.oracle.Put("a/good.dat")
		bad := f.file(t, "a/bad.dat", archived)

		if out, _ := f.engine.Do(context.Background(), OpCheck, good, false); out != OutcomeHealthy {
			t.Fatalf("expected healthy, got %s", out)
		}
		if out, _ := f.engine.Do(context.Background(), OpCheck, bad, false); out != OutcomeUnhealthy {
			t.Fatalf("expected unhealthy, got %s", out)
		}
		if out, err := f.engine.Do(context.Background(), OpCheck, filepath.Join(f.dir, "missing"), false); err == nil || out != OutcomeFailed {
			t.Fatalf("expected failure, got %s %v", out, err)
		}
		if f.engine.Stats().Failures() != 1 {
			t.Fatalf("expected 1 failure, got %d", f.engine.Stats().Failures())
		}
	})
}

func TestParseOperation(t *testing.T) {
	for op, name := range operationNames {
		got, err := ParseOperation(name)
		if err != nil {
			t.Fatalf("err: %s", err)
		}
		if got != op {
			t.Fatalf("expected %s, got %s", op, got)
		}
	}
	if _, err := ParseOperation("migrate"); err == nil {
		t.Fatal("expected error")
	}
}
