package config

import (
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/intel-hpdd/lhsm-reconcile/internal/testhelpers"
	"github.com/intel-hpdd/lhsm-reconcile/pkg/reconcile"
)

func TestLoadLegacyJSON(t *testing.T) {
	cfgFile, cleanup := testhelpers.TempCopy(t, "./test-fixtures/amlfs.json", 0644)
	defer cleanup()

	loaded, err := Load(cfgFile)
	if err != nil {
		t.Fatalf("err: %s", err)
	}

	expected := New()
	expected.Backend = BackendAzure
	expected.AccountURL = "https://lustrearchive.blob.core.windows.net/"
	expected.Container = "hsm"
	expected.LegacyAccountURL = expected.AccountURL
	expected.LegacyContainer = expected.Container

	if !reflect.DeepEqual(loaded, expected) {
		t.Fatalf("\nexpected: \n\n%#v\ngot: \n\n%#v\n\n", expected, loaded)
	}
	if loaded.WaitOptions() != reconcile.DefaultWaitOptions() {
		t.Fatalf("unexpected wait options %#v", loaded.WaitOptions())
	}
}

func TestLoadHCL(t *testing.T) {
	cfgFile, cleanup := testhelpers.TempCopy(t, "./test-fixtures/s3.hcl", 0600)
	defer cleanup()

	loaded, err := Load(cfgFile)
	if err != nil {
		t.Fatalf("err: %s", err)
	}

	expected := New()
	expected.Backend = BackendS3
	expected.Region = "us-west-1"
	expected.Bucket = "hpdd-test-bucket"
	expected.Prefix = "archive-test"
	expected.ArchiveID = 2
	expected.PollInterval = "250ms"
	expected.WaitTimeout = "0s"
	expected.MaxPolls = 100
	expected.LockDir = "/var/run/lhsm-reconcile"

	if !reflect.DeepEqual(loaded, expected) {
		t.Fatalf("\nexpected: \n\n%#v\ngot: \n\n%#v\n\n", expected, loaded)
	}

	opts := loaded.WaitOptions()
	want := reconcile.WaitOptions{Interval: 250 * time.Millisecond, Timeout: -1, MaxPolls: 100}
	if opts != want {
		t.Fatalf("expected %#v, got %#v", want, opts)
	}
}

func TestInsecureConfig(t *testing.T) {
	cfgFile, cleanup := testhelpers.TempCopy(t, "./test-fixtures/s3.hcl", 0666)
	defer cleanup()

	if _, err := Load(cfgFile); err == nil {
		t.Fatal("Used insecure file, expected error")
	}
}

func TestCheckValid(t *testing.T) {
	cfgFile, cleanup := testhelpers.TempCopy(t, "./test-fixtures/bad.hcl", 0600)
	defer cleanup()

	_, err := Load(cfgFile)
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{"unknown backend", "poll_interval", "max_polls"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("%q missing from %q", want, err)
		}
	}

	cfg := New()
	cfg.Backend = BackendPosix
	if err := cfg.CheckValid(); err == nil {
		t.Fatal("expected error for posix without root")
	}
	cfg.Root = "/archive"
	if err := cfg.CheckValid(); err != nil {
		t.Fatalf("err: %s", err)
	}
}

func TestString(t *testing.T) {
	cfg := New()
	cfg.Backend = BackendGCS
	cfg.Bucket = "b"
	s := cfg.String()
	if !strings.Contains(s, "\"bucket\": \"b\"") {
		t.Fatalf("unexpected output %s", s)
	}
	if strings.Contains(s, "accountURL") {
		t.Fatalf("legacy keys shown: %s", s)
	}
}

func TestConfigPathFallsBackToLegacy(t *testing.T) {
	dir, cleanup := testhelpers.TempDir(t)
	defer cleanup()

	def := filepath.Join(dir, "lhsm-reconcile.json")
	legacy := filepath.Join(dir, "amlfs_hsm_tools.json")

	if got := configPath(def, def, legacy); got != def {
		t.Fatalf("expected %s with neither file present, got %s", def, got)
	}

	testhelpers.MakeFile(t, legacy, []byte("{}"))
	if got := configPath(def, def, legacy); got != legacy {
		t.Fatalf("expected fallback to %s, got %s", legacy, got)
	}
	other := filepath.Join(dir, "other.json")
	if got := configPath(other, def, legacy); got != other {
		t.Fatalf("named file replaced: %s", got)
	}

	testhelpers.MakeFile(t, def, []byte("{}"))
	if got := configPath(def, def, legacy); got != def {
		t.Fatalf("expected %s once it exists, got %s", def, got)
	}
}
