// Copyright (c) 2018 DDN. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package gcsstore implements backend.Oracle on a Google Cloud Storage bucket.
package gcsstore

import (
	"context"

	"cloud.google.com/go/storage"
	"github.com/intel-hpdd/logging/debug"
	"github.com/pkg/errors"
	"google.golang.org/api/option"

	"github.com/intel-hpdd/lhsm-reconcile/pkg/backend"
)

// Oracle checks and deletes objects in one GCS bucket.
type Oracle struct {
	client *storage.Client
	bucket string
	prefix string
}

// New returns an Oracle using an existing client.
func New(client *storage.Client, bucket, prefix string) *Oracle {
	return &Oracle{
		client: client,
		bucket: bucket,
		prefix: prefix,
	}
}

// Open creates a storage client. An empty credentials path uses
// application default credentials.
func Open(ctx context.Context, credentials, bucket, prefix string) (*Oracle, error) {
	if bucket == "" {
		return nil, errors.New("gcs: bucket not set")
	}
	var opts []option.ClientOption
	if credentials != "" {
		opts = append(opts, option.WithCredentialsFile(credentials))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "gcs: create client failed")
	}
	return New(client, bucket, prefix), nil
}

func (o *Oracle) object(key string) *storage.ObjectHandle {
	return o.client.Bucket(o.bucket).Object(backend.ObjectName(o.prefix, key))
}

// Exists fetches the object's attributes.
func (o *Oracle) Exists(ctx context.Context, key string) (bool, error) {
	obj := o.object(key)
	_, err := obj.Attrs(ctx)
	if err == storage.ErrObjectNotExist {
		debug.Printf("gs://%s/%s does not exist", o.bucket, obj.ObjectName())
		return false, nil
	}
	if err != nil {
		return false, errors.Wrapf(err, "gcs attrs of %s failed", obj.ObjectName())
	}
	return true, nil
}

// Delete removes the object.
func (o *Oracle) Delete(ctx context.Context, key string) error {
	obj := o.object(key)
	err := obj.Delete(ctx)
	if err == storage.ErrObjectNotExist {
		return backend.NotFound(obj.ObjectName())
	}
	if err != nil {
		return errors.Wrapf(err, "gcs delete of %s failed", obj.ObjectName())
	}
	debug.Printf("deleted gs://%s/%s", o.bucket, obj.ObjectName())
	return nil
}

// Close releases the underlying client.
func (o *Oracle) Close() error {
	return o.client.Close()
}

func (o *Oracle) String() string {
	return "gs://" + backend.ObjectName(o.bucket, o.prefix)
}
