package fileid

import (
	"fmt"
	"sync"

	"github.com/pkg/errors"
)

type (
	fileMap map[string][]byte

	testStore struct {
		sync.Mutex
		attrs map[string]fileMap
	}

	testManager struct {
		store *testStore
		attr  string
	}
)

var testMgr *testStore

func (s *testStore) forAttr(attr string) *testManager {
	return &testManager{store: s, attr: attr}
}

func (m *testManager) set(p string, value []byte) error {
	m.store.Lock()
	defer m.store.Unlock()
	files, ok := m.store.attrs[m.attr]
	if !ok {
		files = make(fileMap)
		m.store.attrs[m.attr] = files
	}
	files[p] = append([]byte(nil), value...)
	return nil
}

func (m *testManager) get(p string) ([]byte, error) {
	m.store.Lock()
	defer m.store.Unlock()
	if attr, ok := m.store.attrs[m.attr][p]; ok {
		return attr, nil
	}
	return nil, fmt.Errorf("%s was not found in fileAttr map", p)
}

// EnableTestMode swaps out the real implementation for a test-friendly
// mock. Attributes created afterwards share the same in-memory store.
func EnableTestMode() {
	testMgr = &testStore{attrs: make(map[string]fileMap)}
	defaultAttrs()
}

// DisableTestMode re-enables normal operation.
func DisableTestMode() {
	testMgr = nil
	defaultAttrs()
}

// Seed stores value for attribute a on path p. It only works in test mode.
func Seed(a Attribute, p string, value []byte) error {
	m, ok := a.mgr.(*testManager)
	if !ok {
		return errors.Errorf("%s: test mode is not enabled", a.name)
	}
	return m.set(p, value)
}
