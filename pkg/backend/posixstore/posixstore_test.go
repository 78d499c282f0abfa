package posixstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/intel-hpdd/lhsm-reconcile/internal/testhelpers"
	"github.com/intel-hpdd/lhsm-reconcile/pkg/backend"
)

func WithPosixOracle(t *testing.T, prefix string, tester func(t *testing.T, o *Oracle)) {
	dir, cleanup := testhelpers.TempDir(t)
	defer cleanup()

	o, err := New(dir, prefix)
	if err != nil {
		t.Fatalf("err: %s", err)
	}
	tester(t, o)
}

func TestExistsAndDelete(t *testing.T) {
	WithPosixOracle(t, "archive", func(t *testing.T, o *Oracle) {
		ctx := context.Background()
		testhelpers.MakeFile(t, filepath.Join(o.ArchiveDir, "archive", "a", "b.dat"), []byte("data"))

		ok, err := o.Exists(ctx, "a/b.dat")
		if err != nil {
			t.Fatalf("err: %s", err)
		}
		if !ok {
			t.Fatal("expected a/b.dat to exist")
		}

		if err := o.Delete(ctx, "a/b.dat"); err != nil {
			t.Fatalf("err: %s", err)
		}
		ok, err = o.Exists(ctx, "a/b.dat")
		if err != nil || ok {
			t.Fatalf("expected a/b.dat to be gone (err: %v)", err)
		}
		if err := o.Delete(ctx, "a/b.dat"); !backend.IsNotFound(err) {
			t.Fatalf("expected not found, got %v", err)
		}
	})
}

func TestDirectoryIsNotAnObject(t *testing.T) {
	WithPosixOracle(t, "", func(t *testing.T, o *Oracle) {
		if err := os.MkdirAll(filepath.Join(o.ArchiveDir, "a"), 0755); err != nil {
			t.Fatal(err)
		}
		ok, err := o.Exists(context.Background(), "a")
		if err != nil {
			t.Fatalf("err: %s", err)
		}
		if ok {
			t.Fatal("directory reported as object")
		}
		if err := o.Delete(context.Background(), "a"); !backend.IsNotFound(err) {
			t.Fatalf("expected not found, got %v", err)
		}
	})
}

func TestKeyEscape(t *testing.T) {
	WithPosixOracle(t, "", func(t *testing.T, o *Oracle) {
		if _, err := o.Exists(context.Background(), "../../etc/passwd"); err == nil {
			t.Fatal("expected escaping key to be rejected")
		}
	})
}

func TestNewRejectsMissingRoot(t *testing.T) {
	if _, err := New("", ""); err == nil {
		t.Fatal("expected error for empty root")
	}
	if _, err := New("/nonexistent/archive/root", ""); err == nil {
		t.Fatal("expected error for missing root")
	}
}
