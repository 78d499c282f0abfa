// Copyright (c) 2018 DDN. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package backend defines the object-store surface used to verify and
// remove archived copies of files.
package backend

import (
	"context"
	"path"
	"strings"

	"github.com/pkg/errors"
)

// ErrNotFound is returned by Delete when no object exists at the key.
var ErrNotFound = errors.New("object not found")

// Oracle answers existence questions about archived objects and can
// delete them. Implementations do not retry.
type Oracle interface {
	Exists(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) error
}

// IsNotFound is true if err was caused by ErrNotFound.
func IsNotFound(err error) bool {
	return err != nil && errors.Cause(err) == ErrNotFound
}

// NotFound wraps ErrNotFound with the key that was missing.
func NotFound(key string) error {
	return errors.Wrap(ErrNotFound, key)
}

// ObjectName joins a configured prefix and a mount-relative key into
// the name of the object in the store.
func ObjectName(prefix, key string) string {
	key = strings.TrimPrefix(key, "/")
	if prefix == "" {
		return key
	}
	return path.Join(strings.Trim(prefix, "/"), key)
}
