// Copyright (c) 2018 DDN. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package lease provides advisory per-path leases so that concurrent
// invocations do not act on the same file at once.
package lease

import (
	"crypto/sha1"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"

	"github.com/intel-hpdd/logging/debug"
	"github.com/pborman/uuid"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// ErrHeld is returned when another process holds the lease.
var ErrHeld = errors.New("lease is held by another process")

type (
	// Dir hands out leases backed by lock files in a directory.
	Dir struct {
		path string
	}

	// Lease is a held lease. Close releases it.
	Lease struct {
		Path  string
		Token string
		f     *os.File
	}
)

// New returns a Dir rooted at dir, creating it if needed.
func New(dir string) (*Dir, error) {
	if dir == "" {
		return nil, errors.New("lease directory not set")
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, errors.Wrapf(err, "create lease directory %s", dir)
	}
	return &Dir{path: dir}, nil
}

func (d *Dir) lockFile(path string) string {
	return filepath.Join(d.path, fmt.Sprintf("%x.lock", sha1.Sum([]byte(path))))
}

// Lock takes the lease for path without blocking.
func (d *Dir) Lock(path string) (*Lease, error) {
	name := d.lockFile(path)
	f, err := os.OpenFile(name, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", name)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if err == unix.EWOULDBLOCK {
			return nil, errors.Wrapf(ErrHeld, "%s (holder %s)", path, holder(name))
		}
		return nil, errors.Wrapf(err, "flock %s", name)
	}

	l := &Lease{Path: path, Token: uuid.New(), f: f}
	if err := f.Truncate(0); err == nil {
		_, err = f.WriteAt([]byte(fmt.Sprintf("%s %d %s\n", l.Token, os.Getpid(), path)), 0)
		if err != nil {
			debug.Printf("recording lease holder in %s: %v", name, err)
		}
	}
	debug.Printf("lease %s taken for %s", l.Token, path)
	return l, nil
}

func holder(name string) string {
	buf, err := ioutil.ReadFile(name)
	if err != nil {
		return "unknown"
	}
	fields := strings.Fields(string(buf))
	if len(fields) < 2 {
		return "unknown"
	}
	return fmt.Sprintf("%s pid %s", fields[0], fields[1])
}

// Close releases the lease.
func (l *Lease) Close() error {
	if l.f == nil {
		return nil
	}
	defer func() { l.f = nil }()
	if err := unix.Flock(int(l.f.Fd()), unix.LOCK_UN); err != nil {
		l.f.Close()
		return errors.Wrapf(err, "unlock %s", l.Path)
	}
	debug.Printf("lease %s released for %s", l.Token, l.Path)
	return l.f.Close()
}

// IsHeld is true if err was caused by ErrHeld.
func IsHeld(err error) bool {
	return err != nil && errors.Cause(err) == ErrHeld
}
