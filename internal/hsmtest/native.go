// Package hsmtest provides an in-memory HSM interface for tests.
package hsmtest

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/intel-hpdd/lhsm-reconcile/pkg/hsmstate"
)

type (
	// Call records a request or state change made through Native.
	Call struct {
		Path    string
		Request hsmstate.Request
		Set     hsmstate.State
		Clear   hsmstate.State
	}

	file struct {
		state     hsmstate.State
		archiveID uint32
		// restoring counts down polls until RELEASED clears; -1 stalls.
		restoring int
		fid       string
	}

	// Native is an in-memory HSM interface. Restore requests clear
	// RELEASED after RestorePolls further state reads, or never if
	// StallRestore is set.
	Native struct {
		sync.Mutex
		files    map[string]*file
		nextOid  int
		Requests []Call
		Sets     []Call
		Gets     int

		RestorePolls int
		StallRestore bool

		GetErr     error
		SetErr     error
		RequestErr error
		FileIDErr  error
	}
)

// New returns an empty Native.
func New() *Native {
	return &Native{files: make(map[string]*file)}
}

// Add registers path with the given state.
func (n *Native) Add(path string, state hsmstate.State, archiveID uint32) {
	n.Lock()
	defer n.Unlock()
	n.nextOid++
	n.files[path] = &file{
		state:     state,
		archiveID: archiveID,
		fid:       fmt.Sprintf("[0x200000400:0x%x:0x0]", n.nextOid),
	}
}

// State returns the current state of path.
func (n *Native) State(path string) hsmstate.State {
	n.Lock()
	defer n.Unlock()
	if f, ok := n.files[path]; ok {
		return f.state
	}
	return hsmstate.None
}

// Actions returns the actions requested for path, in order.
func (n *Native) Actions(path string) []hsmstate.Action {
	n.Lock()
	defer n.Unlock()
	var v []hsmstate.Action
	for _, c := range n.Requests {
		if c.Path == path {
			v = append(v, c.Request.Action)
		}
	}
	return v
}

func (n *Native) lookup(path string) (*file, error) {
	f, ok := n.files[path]
	if !ok {
		return nil, unix.ENOENT
	}
	return f, nil
}

// GetState returns the state of path.
func (n *Native) GetState(path string) (hsmstate.State, uint32, error) {
	n.Lock()
	defer n.Unlock()
	n.Gets++
	if n.GetErr != nil {
		return hsmstate.None, 0, n.GetErr
	}
	f, err := n.lookup(path)
	if err != nil {
		return hsmstate.None, 0, err
	}
	if f.restoring > 0 {
		f.restoring--
		if f.restoring == 0 {
			f.state = f.state.Without(hsmstate.Released)
		}
	}
	return f.state, f.archiveID, nil
}

// SetState sets and clears flags on path.
func (n *Native) SetState(path string, set, clear hsmstate.State, archiveID uint32) error {
	n.Lock()
	defer n.Unlock()
	if n.SetErr != nil {
		return n.SetErr
	}
	f, err := n.lookup(path)
	if err != nil {
		return err
	}
	n.Sets = append(n.Sets, Call{Path: path, Set: set, Clear: clear})
	f.state = hsmstate.State(f.state.Encode()&^clear.Encode() | set.Encode())
	if archiveID != 0 {
		f.archiveID = archiveID
	}
	return nil
}

// Request records req. A Restore starts the countdown to RELEASED
// clearing.
func (n *Native) Request(path string, req hsmstate.Request) error {
	n.Lock()
	defer n.Unlock()
	if n.RequestErr != nil {
		return n.RequestErr
	}
	f, err := n.lookup(path)
	if err != nil {
		return err
	}
	n.Requests = append(n.Requests, Call{Path: path, Request: req})
	if req.Action == hsmstate.ActionRestore && f.state.Has(hsmstate.Released) {
		switch {
		case n.StallRestore:
			f.restoring = -1
		case n.RestorePolls <= 0:
			f.state = f.state.Without(hsmstate.Released)
		default:
			f.restoring = n.RestorePolls
		}
	}
	return nil
}

// FileID returns a fake FID for path.
func (n *Native) FileID(path string) (string, error) {
	n.Lock()
	defer n.Unlock()
	if n.FileIDErr != nil {
		return "", n.FileIDErr
	}
	f, err := n.lookup(path)
	if err != nil {
		return "", err
	}
	return f.fid, nil
}
