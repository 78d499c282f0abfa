// Copyright (c) 2018 DDN. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package reconcile

import "github.com/intel-hpdd/lhsm-reconcile/pkg/hsmstate"

// NeedsArchive is true for a file that was never archived, or whose
// archived copy has been marked inconsistent.
func NeedsArchive(s hsmstate.State) bool {
	return s.HasAll(hsmstate.Of(hsmstate.Dirty, hsmstate.Lost)) || !s.Has(hsmstate.Archived)
}

// Healthy reports whether state agrees with the backend. A file that is
// not ARCHIVED is always healthy. An empty recorded key means none was
// recorded.
func Healthy(s hsmstate.State, canonical, recorded string, existsAtCanonical bool) bool {
	if !s.Has(hsmstate.Archived) {
		return true
	}
	return existsAtCanonical && (recorded == "" || recorded == canonical)
}

// GuardTarget is the key an archive of the file would write or refer to.
func GuardTarget(s hsmstate.State, canonical, recorded string) string {
	if NeedsArchive(s) || recorded == "" {
		return canonical
	}
	return recorded
}

// WouldOverwrite reports whether archiving would replace an existing
// object at the file's target key.
func WouldOverwrite(s hsmstate.State, existsAtTarget bool) bool {
	return NeedsArchive(s) && existsAtTarget
}
