// Copyright (c) 2018 DDN. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package azstore implements backend.Oracle on an Azure Blob Storage container.
package azstore

import (
	"context"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/intel-hpdd/logging/debug"
	"github.com/pkg/errors"

	"github.com/intel-hpdd/lhsm-reconcile/pkg/backend"
)

type (
	blobClient interface {
		GetProperties(context.Context, *blob.GetPropertiesOptions) (blob.GetPropertiesResponse, error)
		Delete(context.Context, *blob.DeleteOptions) (blob.DeleteResponse, error)
	}

	// Oracle checks and deletes blobs in one container.
	Oracle struct {
		container string
		prefix    string
		blob      func(name string) blobClient
	}
)

// New returns an Oracle using an existing azblob client.
func New(client *azblob.Client, container, prefix string) *Oracle {
	cc := client.ServiceClient().NewContainerClient(container)
	return &Oracle{
		container: container,
		prefix:    prefix,
		blob: func(name string) blobClient {
			return cc.NewBlobClient(name)
		},
	}
}

// credentialChain returns the credentials tried in order. Environment
// and workload identity credentials are never tried.
func credentialChain() ([]azcore.TokenCredential, error) {
	mi, err := azidentity.NewManagedIdentityCredential(nil)
	if err != nil {
		return nil, errors.Wrap(err, "managed identity credential")
	}
	cli, err := azidentity.NewAzureCLICredential(nil)
	if err != nil {
		return nil, errors.Wrap(err, "Azure CLI credential")
	}
	dev, err := azidentity.NewAzureDeveloperCLICredential(nil)
	if err != nil {
		return nil, errors.Wrap(err, "Azure Developer CLI credential")
	}
	return []azcore.TokenCredential{mi, cli, dev}, nil
}

// Open connects to accountURL with managed identity, falling back to
// the Azure CLI logins.
func Open(accountURL, container, prefix string) (*Oracle, error) {
	if accountURL == "" || container == "" {
		return nil, errors.New("azblob: account URL and container must both be set")
	}
	creds, err := credentialChain()
	if err != nil {
		return nil, errors.Wrap(err, "azblob")
	}
	cred, err := azidentity.NewChainedTokenCredential(creds, nil)
	if err != nil {
		return nil, errors.Wrap(err, "azblob: credential chain failed")
	}
	client, err := azblob.NewClient(accountURL, cred, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "azblob: client for %s failed", accountURL)
	}
	return New(client, container, prefix), nil
}

func isNotFound(err error) bool {
	return bloberror.HasCode(err, bloberror.BlobNotFound, bloberror.ContainerNotFound)
}

// Exists fetches the blob's properties.
func (o *Oracle) Exists(ctx context.Context, key string) (bool, error) {
	name := backend.ObjectName(o.prefix, key)
	_, err := o.blob(name).GetProperties(ctx, nil)
	if err != nil {
		if isNotFound(err) {
			debug.Printf("blob %s/%s does not exist", o.container, name)
			return false, nil
		}
		return false, errors.Wrapf(err, "get properties of %s failed", name)
	}
	return true, nil
}

// Delete removes the blob.
func (o *Oracle) Delete(ctx context.Context, key string) error {
	name := backend.ObjectName(o.prefix, key)
	_, err := o.blob(name).Delete(ctx, nil)
	if err != nil {
		if isNotFound(err) {
			return backend.NotFound(name)
		}
		return errors.Wrapf(err, "delete of %s failed", name)
	}
	debug.Printf("deleted blob %s/%s", o.container, name)
	return nil
}

func (o *Oracle) String() string {
	return "az://" + backend.ObjectName(o.container, o.prefix)
}
