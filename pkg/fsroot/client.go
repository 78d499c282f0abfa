// Copyright (c) 2018 DDN. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package fsroot locates the mount point that contains a path.
package fsroot

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/intel-hpdd/go-lustre/pkg/mntent"
	"github.com/intel-hpdd/logging/debug"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

type (
	// Client describes the filesystem mounted at a root directory.
	Client interface {
		FsName() string
		FsType() string
		Path() string
		RelPath(absPath string) (string, error)
	}

	fsClient struct {
		root   string
		fsName string
		fsType string
	}
)

// existingAncestor returns p if it exists, otherwise its closest
// existing parent.
func existingAncestor(p string) (string, unix.Stat_t, error) {
	var st unix.Stat_t
	for {
		err := unix.Lstat(p, &st)
		if err == nil {
			return p, st, nil
		}
		if err != unix.ENOENT && err != unix.ENOTDIR {
			return "", st, errors.Wrapf(err, "lstat %s failed", p)
		}
		parent := filepath.Dir(p)
		if parent == p {
			return "", st, errors.Wrapf(err, "lstat %s failed", p)
		}
		p = parent
	}
}

// isMount follows os.path.ismount: p is a mount point if its device
// differs from its parent's, or if p and its parent are the same inode.
func isMount(p string, st *unix.Stat_t) (bool, error) {
	if st.Mode&unix.S_IFMT == unix.S_IFLNK {
		return false, nil
	}
	var parent unix.Stat_t
	if err := unix.Lstat(filepath.Join(p, ".."), &parent); err != nil {
		return false, errors.Wrapf(err, "lstat %s/.. failed", p)
	}
	if uint64(st.Dev) != uint64(parent.Dev) {
		return true, nil
	}
	return st.Ino == parent.Ino, nil
}

// MountRoot walks upward from path until it finds the mount point
// that contains it.
func MountRoot(path string) (string, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", errors.Wrapf(err, "cannot resolve absolute path for %s", path)
	}

	p, st, err := existingAncestor(absPath)
	if err != nil {
		return "", err
	}
	for {
		mnt, err := isMount(p, &st)
		if err != nil {
			return "", err
		}
		if mnt {
			return p, nil
		}
		parent := filepath.Dir(p)
		if parent == p {
			return p, nil
		}
		p = parent
		if err := unix.Lstat(p, &st); err != nil {
			return "", errors.Wrapf(err, "lstat %s failed", p)
		}
	}
}

// relPath returns absPath relative to root, without a leading separator.
func relPath(root, absPath string) (string, error) {
	absPath = filepath.Clean(absPath)
	root = filepath.Clean(root)
	if absPath == root {
		return "", nil
	}
	prefix := root
	if !strings.HasSuffix(prefix, string(os.PathSeparator)) {
		prefix += string(os.PathSeparator)
	}
	if !strings.HasPrefix(absPath, prefix) {
		return "", errors.Errorf("%s is not below %s", absPath, root)
	}
	return filepath.ToSlash(strings.TrimPrefix(absPath, prefix)), nil
}

// New returns a Client for the filesystem containing path.
func New(path string) (Client, error) {
	root, err := MountRoot(path)
	if err != nil {
		return nil, err
	}
	c := &fsClient{root: root}
	if entry, err := mntent.GetEntryByDir(root); err == nil {
		c.fsName = entry.Fsname
		c.fsType = entry.Type
	} else {
		debug.Printf("no mount table entry for %s: %v", root, err)
	}
	return c, nil
}

// FsName returns the mounted device name
func (c *fsClient) FsName() string {
	return c.fsName
}

// FsType returns the mounted filesystem type
func (c *fsClient) FsType() string {
	return c.fsType
}

// Path returns the filesystem root path
func (c *fsClient) Path() string {
	return c.root
}

// RelPath returns absPath relative to the root
func (c *fsClient) RelPath(absPath string) (string, error) {
	return relPath(c.root, absPath)
}
