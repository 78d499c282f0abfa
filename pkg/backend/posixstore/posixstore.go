// Copyright (c) 2018 DDN. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package posixstore implements backend.Oracle on a directory tree, for
// archives kept on a POSIX filesystem.
package posixstore

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/intel-hpdd/logging/debug"
	"github.com/pkg/errors"

	"github.com/intel-hpdd/lhsm-reconcile/pkg/backend"
)

// Oracle maps keys to regular files below ArchiveDir.
type Oracle struct {
	ArchiveDir string
	Prefix     string
}

// New returns an Oracle rooted at dir.
func New(dir, prefix string) (*Oracle, error) {
	if dir == "" {
		return nil, errors.New("posix: archive root is unset")
	}
	fi, err := os.Stat(dir)
	if err != nil {
		return nil, errors.Wrap(err, "posix: stat archive root failed")
	}
	if !fi.IsDir() {
		return nil, errors.Errorf("posix: %s is not a directory", dir)
	}
	return &Oracle{ArchiveDir: dir, Prefix: prefix}, nil
}

// Destination returns the file path for key.
func (o *Oracle) Destination(key string) (string, error) {
	name := backend.ObjectName(o.Prefix, key)
	dst := filepath.Join(o.ArchiveDir, filepath.FromSlash(name))
	root := filepath.Clean(o.ArchiveDir)
	if dst != root && !strings.HasPrefix(dst, root+string(filepath.Separator)) {
		return "", errors.Errorf("posix: key %q escapes archive root", key)
	}
	return dst, nil
}

// Exists is true if a regular file is stored for key.
func (o *Oracle) Exists(ctx context.Context, key string) (bool, error) {
	dst, err := o.Destination(key)
	if err != nil {
		return false, err
	}
	fi, err := os.Stat(dst)
	if os.IsNotExist(err) {
		debug.Printf("%s does not exist", dst)
		return false, nil
	}
	if err != nil {
		return false, errors.Wrapf(err, "%s: stat failed", dst)
	}
	return fi.Mode().IsRegular(), nil
}

// Delete removes the file stored for key.
func (o *Oracle) Delete(ctx context.Context, key string) error {
	dst, err := o.Destination(key)
	if err != nil {
		return err
	}
	fi, err := os.Stat(dst)
	if os.IsNotExist(err) || (err == nil && !fi.Mode().IsRegular()) {
		return backend.NotFound(dst)
	}
	if err != nil {
		return errors.Wrapf(err, "%s: stat failed", dst)
	}
	if err := os.Remove(dst); err != nil {
		if os.IsNotExist(err) {
			return backend.NotFound(dst)
		}
		return errors.Wrapf(err, "%s: remove failed", dst)
	}
	debug.Printf("removed %s", dst)
	return nil
}

func (o *Oracle) String() string {
	return "posix://" + filepath.Join(o.ArchiveDir, o.Prefix)
}
