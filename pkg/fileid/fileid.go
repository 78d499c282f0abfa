// Copyright (c) 2018 DDN. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package fileid

import (
	"fmt"
	"syscall"

	"github.com/intel-hpdd/go-lustre/pkg/xattr"
	"github.com/pkg/errors"
)

// DefaultURLAttr is the extended attribute holding the archive
// location recorded by the copytool.
const DefaultURLAttr = "trusted.lhsm_url"

const maxAttrSize = 64 * 1024

type (
	manager interface {
		get(string) ([]byte, error)
	}
	attrManager struct {
		attr string
	}
	// Attribute is an interface for managing extended attributes.
	Attribute struct {
		name string
		mgr  manager
	}
)

// URL is the attribute holding a file's recorded archive location.
var URL Attribute

func init() {
	defaultAttrs()
}

func defaultAttrs() {
	URL = NewAttribute(DefaultURLAttr)
}

// NewAttribute returns an Attribute for the named extended attribute.
func NewAttribute(name string) Attribute {
	if testMgr != nil {
		return Attribute{name: name, mgr: testMgr.forAttr(name)}
	}
	return Attribute{name: name, mgr: newManager(name)}
}

func newManager(attr string) *attrManager {
	return &attrManager{attr: attr}
}

func (m *attrManager) String() string {
	return m.attr
}

func (m *attrManager) get(p string) ([]byte, error) {
	size := 256
	for {
		buf := make([]byte, size)
		sz, err := xattr.Lgetxattr(p, m.attr, buf)
		if err == syscall.ERANGE && size < maxAttrSize {
			size *= 4
			continue
		}
		if err != nil {
			return nil, err
		}
		return buf[0:sz], nil
	}
}

func (a Attribute) String() string {
	return fmt.Sprintf("%s", a.name)
}

// Get gets the attribute for a file
func (a Attribute) Get(p string) ([]byte, error) {
	val, err := a.mgr.get(p)
	if err != nil {
		return nil, errors.Wrap(err, a.name)
	}
	return val, nil
}
