// Copyright (c) 2016 DDN. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package fsroot

// testClient implements the Client interface over a fixed root
type testClient struct {
	root string
}

// Test returns a test client.
func Test(root string) Client {
	return &testClient{root: root}
}

// FsName returns a fake filesystem name
func (c *testClient) FsName() string {
	return "test"
}

// FsType returns a fake filesystem type
func (c *testClient) FsType() string {
	return "lustre"
}

// Path returns a fake filesystem path
func (c *testClient) Path() string {
	return c.root
}

// RelPath returns absPath relative to the fake root
func (c *testClient) RelPath(absPath string) (string, error) {
	return relPath(c.root, absPath)
}
