package testhelpers

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"
)

var testPrefix = "rtest"

// TempDir creates a temporary directory and returns it with a cleanup func.
func TempDir(t *testing.T) (string, func()) {
	tdir, err := ioutil.TempDir("", testPrefix)
	if err != nil {
		t.Fatal(err)
	}
	return tdir, func() {
		err = os.RemoveAll(tdir)
		if err != nil {
			t.Fatal(err)
		}
	}
}

// Fill writes size bytes of patterned data to fp.
func Fill(t *testing.T, fp *os.File, size uint64) {
	var bs uint64 = 1024 * 1024
	buf := make([]byte, bs)

	for i := 0; i < len(buf); i++ {
		buf[i] = byte(i)
	}

	for i := uint64(0); i < size; i += bs {
		if size-i < bs {
			bs = size - i
		}
		if _, err := fp.Write(buf[:bs]); err != nil {
			t.Fatal(err)
		}
	}
}

// TempFile creates a file of the given size in dir ("" means the
// system temp dir).
func TempFile(t *testing.T, dir string, size uint64) (string, func()) {
	fp, err := ioutil.TempFile(dir, testPrefix)
	if err != nil {
		t.Fatal(err)
	}
	defer fp.Close()

	if size > 0 {
		Fill(t, fp, size)
	}
	name := fp.Name()
	return name, func() {
		err := os.Remove(name)
		if err != nil && !os.IsNotExist(err) {
			t.Fatal(err)
		}
	}
}

// MakeFile creates path, and any missing parent directories, holding data.
func MakeFile(t *testing.T, path string, data []byte) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := ioutil.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}
}

// CopyFile copies src to dest with the given mode.
func CopyFile(t *testing.T, src string, dest string, mode os.FileMode) {
	buf, err := ioutil.ReadFile(src)
	if err != nil {
		t.Fatal(err)
	}

	err = ioutil.WriteFile(dest, buf, mode)
	if err != nil {
		t.Fatal(err)
	}
}

// TempCopy copies src into a new temp file with the given mode.
func TempCopy(t *testing.T, src string, mode os.FileMode) (string, func()) {
	tmpFile, cleanup := TempFile(t, "", 0)
	CopyFile(t, src, tmpFile, mode)

	/* ensure file has correct mode, in case we're overwriting */
	err := os.Chmod(tmpFile, mode)
	if err != nil {
		t.Fatal(err)
	}

	return tmpFile, cleanup
}
