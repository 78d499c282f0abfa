// Copyright (c) 2018 DDN. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"io"

	"github.com/intel-hpdd/logging/debug"
	"github.com/pkg/errors"

	"github.com/intel-hpdd/lhsm-reconcile/pkg/backend"
	"github.com/intel-hpdd/lhsm-reconcile/pkg/backend/azstore"
	"github.com/intel-hpdd/lhsm-reconcile/pkg/backend/gcsstore"
	"github.com/intel-hpdd/lhsm-reconcile/pkg/backend/posixstore"
	"github.com/intel-hpdd/lhsm-reconcile/pkg/backend/s3store"
	"github.com/intel-hpdd/lhsm-reconcile/pkg/config"
	"github.com/intel-hpdd/lhsm-reconcile/pkg/lease"
	"github.com/intel-hpdd/lhsm-reconcile/pkg/llhsm"
	"github.com/intel-hpdd/lhsm-reconcile/pkg/pathkey"
	"github.com/intel-hpdd/lhsm-reconcile/pkg/reconcile"
)

func noClose() error { return nil }

// newOracle connects to the backend named in cfg.
func newOracle(ctx context.Context, cfg *config.Config) (backend.Oracle, func() error, error) {
	switch cfg.Backend {
	case config.BackendAzure:
		o, err := azstore.Open(cfg.AccountURL, cfg.Container, cfg.Prefix)
		if err != nil {
			return nil, nil, err
		}
		return o, noClose, nil
	case config.BackendS3:
		o, err := s3store.Open(&s3store.Config{
			Region:   cfg.Region,
			Endpoint: cfg.Endpoint,
			Bucket:   cfg.Bucket,
			Prefix:   cfg.Prefix,
		})
		if err != nil {
			return nil, nil, err
		}
		return o, noClose, nil
	case config.BackendGCS:
		o, err := gcsstore.Open(ctx, cfg.Credentials, cfg.Bucket, cfg.Prefix)
		if err != nil {
			return nil, nil, err
		}
		return o, o.Close, nil
	case config.BackendPosix:
		o, err := posixstore.New(cfg.Root, cfg.Prefix)
		if err != nil {
			return nil, nil, err
		}
		return o, noClose, nil
	}
	return nil, nil, errors.Errorf("unknown backend %q", cfg.Backend)
}

func newLocker(dir string) (reconcile.Locker, error) {
	d, err := lease.New(dir)
	if err != nil {
		return nil, err
	}
	return reconcile.LockerFunc(func(path string) (io.Closer, error) {
		l, err := d.Lock(path)
		if err != nil {
			return nil, err
		}
		return l, nil
	}), nil
}

// lustreFsType is the mount type HSM requests can be issued on.
const lustreFsType = "lustre"

// newEngine builds an engine from the configuration file.
func newEngine(ctx context.Context, cfgFile string) (*reconcile.Engine, *pathkey.Resolver, func() error, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, nil, err
	}
	debug.Printf("Config: %s", cfg)

	oracle, closeFn, err := newOracle(ctx, cfg)
	if err != nil {
		return nil, nil, nil, errors.Wrapf(err, "%s backend", cfg.Backend)
	}

	opts := reconcile.Options{
		ArchiveID: uint(cfg.ArchiveID),
		Wait:      cfg.WaitOptions(),
		Stats:     reconcile.NewStats(),
	}
	if cfg.LockDir != "" {
		if opts.Locker, err = newLocker(cfg.LockDir); err != nil {
			closeFn()
			return nil, nil, nil, err
		}
	}

	resolver := pathkey.New(
		pathkey.WithAttribute(cfg.TargetXattr),
		pathkey.WithPrefix(cfg.Prefix),
		pathkey.WithFsType(lustreFsType),
	)
	return reconcile.New(llhsm.New(), oracle, resolver, opts), resolver, closeFn, nil
}
