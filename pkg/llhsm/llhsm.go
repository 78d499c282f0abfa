// Copyright (c) 2018 DDN. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package llhsm is the Lustre HSM interface used by the reconcile
// engine, implemented with liblustreapi through go-lustre.
package llhsm

import (
	"path/filepath"
	"sync"

	"github.com/intel-hpdd/go-lustre"
	"github.com/intel-hpdd/go-lustre/fs"
	"github.com/intel-hpdd/go-lustre/hsm"
	"github.com/intel-hpdd/go-lustre/llapi"
	"github.com/intel-hpdd/logging/debug"
	"github.com/pkg/errors"

	"github.com/intel-hpdd/lhsm-reconcile/pkg/hsmstate"
)

type requestFunc func(fs.RootDir, uint, []*lustre.Fid) error

var requestFuncs = map[hsmstate.Action]requestFunc{
	hsmstate.ActionArchive: hsm.RequestArchive,
	hsmstate.ActionRestore: hsm.RequestRestore,
	hsmstate.ActionRelease: hsm.RequestRelease,
	hsmstate.ActionRemove:  hsm.RequestRemove,
	hsmstate.ActionCancel:  hsm.RequestCancel,
}

// Binding issues HSM calls against mounted Lustre filesystems.
type Binding struct {
	mu    sync.Mutex
	roots map[string]fs.RootDir
}

// New returns a Binding.
func New() *Binding {
	return &Binding{roots: make(map[string]fs.RootDir)}
}

// GetState returns the HSM state and archive id of path.
func (b *Binding) GetState(path string) (hsmstate.State, uint32, error) {
	s, archiveID, err := llapi.GetHsmFileStatus(path)
	if err != nil {
		return hsmstate.None, 0, errors.Wrap(err, "llapi_hsm_state_get")
	}
	return hsmstate.Decode(uint64(s)), archiveID, nil
}

// SetState sets and clears HSM flags on path.
func (b *Binding) SetState(path string, set, clear hsmstate.State, archiveID uint32) error {
	err := hsm.SetFileStatus(path, set.Encode(), clear.Encode(), archiveID)
	return errors.Wrap(err, "llapi_hsm_state_set")
}

// FileID returns the FID of path.
func (b *Binding) FileID(path string) (string, error) {
	fid, err := fs.LookupFid(path)
	if err != nil {
		return "", errors.Wrap(err, "path2fid")
	}
	return fid.String(), nil
}

// root returns the filesystem root for path, cached by parent directory.
func (b *Binding) root(path string) (fs.RootDir, error) {
	dir := filepath.Dir(path)

	b.mu.Lock()
	cached, ok := b.roots[dir]
	b.mu.Unlock()
	if ok {
		return cached, nil
	}

	root, err := fs.MountRoot(path)
	if err != nil {
		return root, errors.Wrapf(err, "%s: not on a lustre filesystem", path)
	}
	b.mu.Lock()
	b.roots[dir] = root
	b.mu.Unlock()
	return root, nil
}

// Request issues req for the file at path.
func (b *Binding) Request(path string, req hsmstate.Request) error {
	fn, err := lookupRequest(req)
	if err != nil {
		return err
	}
	fid, err := lustre.ParseFid(req.FileID)
	if err != nil {
		return err
	}
	root, err := b.root(path)
	if err != nil {
		return err
	}
	debug.Printf("%s: llapi_hsm_request %s", path, req)
	return errors.Wrapf(fn(root, req.ArchiveID, []*lustre.Fid{fid}), "%s request", req.Action)
}

// lookupRequest validates req and returns the call that issues it. The
// go-lustre request calls cover one whole file per FID.
func lookupRequest(req hsmstate.Request) (requestFunc, error) {
	if !req.Action.Valid() {
		return nil, errors.Errorf("unknown HSM action code %d", uint32(req.Action))
	}
	fn, ok := requestFuncs[req.Action]
	if !ok {
		return nil, errors.Errorf("unsupported HSM action %s", req.Action)
	}
	if !req.Extent.IsWholeFile() {
		return nil, errors.Errorf("partial extent %s is not supported", req.Extent)
	}
	if req.ItemCount != 1 {
		return nil, errors.Errorf("expected 1 item, got %d", req.ItemCount)
	}
	if req.FileID == "" {
		return nil, errors.New("missing file id")
	}
	return fn, nil
}
