// Copyright (c) 2018 DDN. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package s3store implements backend.Oracle on an S3 bucket.
package s3store

import (
	"context"
	"net/http"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/intel-hpdd/logging/debug"
	"github.com/pkg/errors"

	"github.com/intel-hpdd/lhsm-reconcile/pkg/backend"
)

// Oracle checks and deletes objects in one S3 bucket.
type Oracle struct {
	svc    s3iface.S3API
	bucket string
	prefix string
}

// Config holds the settings needed to reach a bucket.
type Config struct {
	Region   string
	Endpoint string
	Bucket   string
	Prefix   string
}

// New returns an Oracle using an existing S3 client.
func New(svc s3iface.S3API, bucket, prefix string) *Oracle {
	return &Oracle{
		svc:    svc,
		bucket: bucket,
		prefix: prefix,
	}
}

// Open creates an S3 session from cfg. Credentials come from the usual
// AWS environment/shared config chain.
func Open(cfg *Config) (*Oracle, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3: bucket not set")
	}
	awsCfg := aws.NewConfig().WithRegion(cfg.Region)
	if cfg.Endpoint != "" {
		// Non-AWS endpoints (minio, ceph) generally need path-style addressing.
		awsCfg = awsCfg.WithEndpoint(cfg.Endpoint).WithS3ForcePathStyle(true)
	}
	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, errors.Wrap(err, "s3: create session failed")
	}
	return New(s3.New(sess), cfg.Bucket, cfg.Prefix), nil
}

func (o *Oracle) objectKey(key string) string {
	return backend.ObjectName(o.prefix, key)
}

func isNotFound(err error) bool {
	if reqErr, ok := err.(awserr.RequestFailure); ok && reqErr.StatusCode() == http.StatusNotFound {
		return true
	}
	if aerr, ok := err.(awserr.Error); ok {
		switch aerr.Code() {
		case s3.ErrCodeNoSuchKey, "NotFound":
			return true
		}
	}
	return false
}

// Exists issues a HEAD on the object.
func (o *Oracle) Exists(ctx context.Context, key string) (bool, error) {
	obj := o.objectKey(key)
	_, err := o.svc.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(o.bucket),
		Key:    aws.String(obj),
	})
	if err != nil {
		if isNotFound(err) {
			debug.Printf("s3://%s/%s does not exist", o.bucket, obj)
			return false, nil
		}
		return false, errors.Wrapf(err, "s3.HeadObject() on %s failed", obj)
	}
	return true, nil
}

// Delete removes the object. S3 reports success for missing keys, so a
// HEAD is issued first in order to report backend.ErrNotFound.
func (o *Oracle) Delete(ctx context.Context, key string) error {
	exists, err := o.Exists(ctx, key)
	if err != nil {
		return err
	}
	obj := o.objectKey(key)
	if !exists {
		return backend.NotFound(obj)
	}
	_, err = o.svc.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(o.bucket),
		Key:    aws.String(obj),
	})
	if err != nil {
		if isNotFound(err) {
			return backend.NotFound(obj)
		}
		return errors.Wrapf(err, "s3.DeleteObject() on %s failed", obj)
	}
	debug.Printf("deleted s3://%s/%s", o.bucket, obj)
	return nil
}

func (o *Oracle) String() string {
	return "s3://" + backend.ObjectName(o.bucket, o.prefix)
}
