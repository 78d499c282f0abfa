// Copyright (c) 2018 DDN. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package hsmstate

import "fmt"

// Action is an HSM user action code as understood by the coordinator
// (enum hsm_user_action).
type Action uint32

// HSM user actions
const (
	ActionNone    = Action(1)
	ActionArchive = Action(10)
	ActionRestore = Action(11)
	ActionRelease = Action(12)
	ActionRemove  = Action(13)
	ActionCancel  = Action(14)
)

var actionNames = map[Action]string{
	ActionNone:    "NOOP",
	ActionArchive: "ARCHIVE",
	ActionRestore: "RESTORE",
	ActionRelease: "RELEASE",
	ActionRemove:  "REMOVE",
	ActionCancel:  "CANCEL",
}

func (a Action) String() string {
	if name, ok := actionNames[a]; ok {
		return name
	}
	return fmt.Sprintf("ACTION(%d)", uint32(a))
}

// Valid is true for a known action code.
func (a Action) Valid() bool {
	_, ok := actionNames[a]
	return ok
}

// WholeFile is the extent length that covers a file from Offset to EOF.
const WholeFile = ^uint64(0)

// Extent is a byte range of a file.
type Extent struct {
	Offset uint64
	Length uint64
}

// IsWholeFile is true if the extent covers the entire file.
func (e Extent) IsWholeFile() bool {
	return e.Offset == 0 && e.Length == WholeFile
}

func (e Extent) String() string {
	if e.IsWholeFile() {
		return "[0, EOF)"
	}
	return fmt.Sprintf("[%d, %d)", e.Offset, e.Offset+e.Length)
}

// Request describes a single HSM action request.
type Request struct {
	Action    Action
	FileID    string
	Extent    Extent
	ItemCount int
	ArchiveID uint
}

// NewRequest returns a whole-file request for one item.
func NewRequest(action Action, fileID string, archiveID uint) Request {
	return Request{
		Action:    action,
		FileID:    fileID,
		Extent:    Extent{Offset: 0, Length: WholeFile},
		ItemCount: 1,
		ArchiveID: archiveID,
	}
}

func (r Request) String() string {
	return fmt.Sprintf("%s %s %s items:%d archive:%d", r.Action, r.FileID, r.Extent, r.ItemCount, r.ArchiveID)
}
