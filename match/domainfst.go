// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package match

import (
	"strings"

	"github.com/blevesearch/vellum"

	"grimm.is/k2rule/container"
	kerrors "grimm.is/k2rule/internal/errors"
)

// DomainFSTMatcher implements the V2 FstDomain slice: a finite-state
// transducer set over reversed, dot-prefixed patterns. Suffix
// containment is tested as a series of prefix probes by reversing the
// query and each of its dot-aligned parents -- see
// container.EncodeFSTReversalKey for the key transform both the
// writer and this matcher share.
type DomainFSTMatcher struct {
	fst *vellum.FST
}

// NewDomainFSTMatcher loads a matcher from a decoded V2 FstDomain
// slice's raw FST bytes.
func NewDomainFSTMatcher(data []byte) (*DomainFSTMatcher, error) {
	fst, err := vellum.Load(data)
	if err != nil {
		return nil, kerrors.Wrap(err, kerrors.KindMalformedContainer, "load domain fst slice")
	}
	return &DomainFSTMatcher{fst: fst}, nil
}

// Contains reports whether query matches any pattern stored in the
// slice, either as an exact registration or, for a suffix
// registration, as one of query's dot-aligned parents.
func (m *DomainFSTMatcher) Contains(query string) bool {
	if query == "" {
		return false
	}
	lower := strings.ToLower(query)

	if ok, _ := m.fst.Contains(container.EncodeFSTReversalKey(lower)); ok {
		return true
	}

	candidate := lower
	for {
		pos := strings.IndexByte(candidate, '.')
		if pos < 0 {
			return false
		}
		candidate = candidate[pos+1:]
		if ok, _ := m.fst.Contains(container.EncodeFSTReversalKey(candidate)); ok {
			return true
		}
	}
}
