// Copyright (c) 2018 DDN. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package hsmstate maps Lustre HSM state bitmasks to named flag sets.
package hsmstate

import (
	"fmt"
	"strings"
)

type (
	// Flag is a single HSM state bit.
	Flag uint64

	// State is a set of HSM state flags for a file.
	State uint64
)

// HSM state flags, as defined by lustre_user.h (HS_*).
const (
	Exists    = Flag(0x00000001)
	Dirty     = Flag(0x00000002)
	Released  = Flag(0x00000004)
	Archived  = Flag(0x00000008)
	NoRelease = Flag(0x00000010)
	NoArchive = Flag(0x00000020)
	Lost      = Flag(0x00000040)
)

// None is the empty state.
const None = State(0)

// flagTable is the only source of flag names and bits; every conversion
// walks it in order so output is stable.
var flagTable = []struct {
	flag Flag
	name string
}{
	{Exists, "EXISTS"},
	{Dirty, "DIRTY"},
	{Released, "RELEASED"},
	{Archived, "ARCHIVED"},
	{NoRelease, "NO_RELEASE"},
	{NoArchive, "NO_ARCHIVE"},
	{Lost, "LOST"},
}

func (f Flag) String() string {
	for _, e := range flagTable {
		if e.flag == f {
			return e.name
		}
	}
	return fmt.Sprintf("FLAG(%#x)", uint64(f))
}

// Decode converts a raw flag integer into a State. Bits without a
// known flag are dropped.
func Decode(bits uint64) State {
	var s State
	for _, e := range flagTable {
		if bits&uint64(e.flag) != 0 {
			s |= State(e.flag)
		}
	}
	return s
}

// Of returns a State holding the given flags.
func Of(flags ...Flag) State {
	var s State
	for _, f := range flags {
		s |= State(f)
	}
	return s
}

// Encode returns the bitmask for the state.
func (s State) Encode() uint64 {
	var bits uint64
	for _, e := range flagTable {
		if s.Has(e.flag) {
			bits |= uint64(e.flag)
		}
	}
	return bits
}

// Has is true if flag is set in s.
func (s State) Has(flag Flag) bool {
	return flag != 0 && uint64(s)&uint64(flag) == uint64(flag)
}

// HasAll is true if every flag in other is set in s. An empty other
// is trivially satisfied.
func (s State) HasAll(other State) bool {
	return s&other == other
}

// HasAny is true if at least one flag in other is set in s.
func (s State) HasAny(other State) bool {
	return s&other != 0
}

// With returns s with the given flags set.
func (s State) With(flags ...Flag) State {
	return s | Of(flags...)
}

// Without returns s with the given flags cleared.
func (s State) Without(flags ...Flag) State {
	return s &^ Of(flags...)
}

// IsEmpty is true for the NONE state.
func (s State) IsEmpty() bool {
	return s == None
}

// Flags returns the flags in s in table order.
func (s State) Flags() []Flag {
	var flags []Flag
	for _, e := range flagTable {
		if s.Has(e.flag) {
			flags = append(flags, e.flag)
		}
	}
	return flags
}

// Names returns the flag names in s in table order.
func (s State) Names() []string {
	var names []string
	for _, f := range s.Flags() {
		names = append(names, f.String())
	}
	return names
}

func (s State) String() string {
	if s.IsEmpty() {
		return fmt.Sprintf("0x%08x (NONE)", uint64(s))
	}
	return fmt.Sprintf("0x%08x (%s)", uint64(s), strings.Join(s.Names(), " "))
}
