// Copyright (c) 2018 DDN. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package reconcile

import (
	"fmt"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// ErrWaitTimeout is returned by WaitUntil when the wait exceeds its
// duration or poll bound.
var ErrWaitTimeout = errors.New("timed out waiting for HSM state")

// NativeError is a failure from the native HSM interface.
type NativeError struct {
	Op    string
	Path  string
	Errno unix.Errno
	Err   error
}

func (e *NativeError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

// Cause returns the underlying error.
func (e *NativeError) Cause() error {
	return e.Err
}

// nativeError wraps err as a *NativeError unless it already is one.
func nativeError(op, path string, err error) error {
	if err == nil {
		return nil
	}
	if ne, ok := err.(*NativeError); ok {
		return ne
	}
	ne := &NativeError{Op: op, Path: path, Err: err}
	if errno, ok := errors.Cause(err).(unix.Errno); ok {
		ne.Errno = errno
	}
	return ne
}

// IsNative is true if err is a *NativeError.
func IsNative(err error) bool {
	_, ok := err.(*NativeError)
	return ok
}
