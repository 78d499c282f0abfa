// Copyright (c) 2018 DDN. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package pathkey maps filesystem paths to the object keys used for
// their archived copies.
package pathkey

import (
	"net/url"
	"path"
	"path/filepath"
	"strings"

	"github.com/intel-hpdd/logging/debug"
	"github.com/pkg/errors"

	"github.com/intel-hpdd/lhsm-reconcile/pkg/fileid"
	"github.com/intel-hpdd/lhsm-reconcile/pkg/fsroot"
)

type (
	// Resolver computes canonical and recorded keys for paths.
	Resolver struct {
		attr   fileid.Attribute
		prefix string
		fsType string
		root   func(string) (fsroot.Client, error)
	}

	// Option configures a Resolver.
	Option func(*Resolver)
)

// WithAttribute sets the extended attribute holding the recorded key.
func WithAttribute(name string) Option {
	return func(r *Resolver) {
		if name != "" {
			r.attr = fileid.NewAttribute(name)
		}
	}
}

// WithPrefix sets the backend prefix stripped from recorded keys.
func WithPrefix(prefix string) Option {
	return func(r *Resolver) {
		r.prefix = strings.Trim(prefix, "/")
	}
}

// WithRoot pins the mount root rather than discovering it per path.
func WithRoot(root fsroot.Client) Option {
	return func(r *Resolver) {
		r.root = func(string) (fsroot.Client, error) {
			return root, nil
		}
	}
}

// WithFsType refuses paths on any other type of filesystem.
func WithFsType(fsType string) Option {
	return func(r *Resolver) {
		r.fsType = fsType
	}
}

// New returns a Resolver.
func New(opts ...Option) *Resolver {
	r := &Resolver{
		attr: fileid.URL,
		root: fsroot.New,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Root returns the filesystem that contains path.
func (r *Resolver) Root(p string) (fsroot.Client, error) {
	absPath, err := filepath.Abs(p)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot resolve absolute path for %s", p)
	}
	root, err := r.root(absPath)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot find mount root for %s", absPath)
	}
	if r.fsType != "" && root.FsType() != r.fsType {
		return nil, errors.Errorf("%s is on %s (%q) mounted at %s, not %s. Are you sure the path is on a %s mount?",
			absPath, root.FsName(), root.FsType(), root.Path(), r.fsType, r.fsType)
	}
	return root, nil
}

// CanonicalKey returns path relative to the root of the filesystem
// that contains it, without a leading separator.
func (r *Resolver) CanonicalKey(p string) (string, error) {
	absPath, err := filepath.Abs(p)
	if err != nil {
		return "", errors.Wrapf(err, "cannot resolve absolute path for %s", p)
	}
	root, err := r.Root(absPath)
	if err != nil {
		return "", err
	}
	key, err := root.RelPath(absPath)
	if err != nil {
		return "", err
	}
	return key, nil
}

// RecordedKey returns the key the copytool recorded for path. Any
// failure to read the attribute is reported as absent.
func (r *Resolver) RecordedKey(p string) (string, bool) {
	val, err := r.attr.Get(p)
	if err != nil {
		debug.Printf("%s: no recorded key: %v", p, err)
		return "", false
	}
	return ParseRecorded(string(val), r.prefix)
}

// ParseRecorded converts an attribute value into a key comparable with
// canonical keys. URL values yield the object path within their bucket
// or container; anything else is taken as the key itself.
func ParseRecorded(value, prefix string) (string, bool) {
	value = strings.TrimRight(value, "\x00")
	value = strings.TrimSpace(value)
	if value == "" {
		return "", false
	}

	key := value
	if u, err := url.Parse(value); err == nil && u.Scheme != "" && u.Host != "" {
		key = objectPath(u)
	}

	key = strings.TrimPrefix(path.Clean("/"+key), "/")
	prefix = strings.Trim(prefix, "/")
	if prefix != "" {
		if key == prefix {
			key = ""
		} else {
			key = strings.TrimPrefix(key, prefix+"/")
		}
	}
	if key == "" {
		return "", false
	}
	return key, true
}

func objectPath(u *url.URL) string {
	p := strings.TrimPrefix(u.Path, "/")
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		// https://<account>.blob.core.windows.net/<container>/<key>
		if i := strings.Index(p, "/"); i >= 0 {
			return p[i+1:]
		}
		return ""
	default:
		// s3://bucket/key, gs://bucket/key, az://container/key
		return p
	}
}
