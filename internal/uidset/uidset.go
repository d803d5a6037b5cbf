// Copyright 2019 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package uidset holds sets of message identifiers in the compact form
// used on the wire: standalone identifiers plus contiguous ranges.
package uidset

import (
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// LastID is the protocol's "*": whatever the highest identifier in the
// mailbox currently is.  It is never a real identifier.
const LastID uint64 = math.MaxUint64

var (
	// ErrUnbounded is returned when enumerating a range that ends at
	// LastID.
	ErrUnbounded = errors.New("uidset: range is open ended")
)

// Range is an inclusive span of identifiers.
type Range struct {
	Start uint64
	End   uint64
}

// String renders the range as "N:M", "N:*" or "*:*".
func (r Range) String() string {
	if r.End == LastID {
		if r.Start == LastID {
			return "*:*"
		}
		return strconv.FormatUint(r.Start, 10) + ":*"
	}
	return strconv.FormatUint(r.Start, 10) + ":" + strconv.FormatUint(r.End, 10)
}

// Set is a set of standalone identifiers plus a list of ranges.  The zero
// value is an empty set.  Singles and ranges are expected to be disjoint;
// Compact restores that property for arbitrary input.
type Set struct {
	Singles []uint64
	Ranges  []Range
}

// New returns a set holding the given identifiers as singles.
func New(ids ...uint64) Set {
	s := Set{}
	s.Singles = append(s.Singles, ids...)
	return s
}

// AddID adds a standalone identifier.
func (s *Set) AddID(id uint64) {
	s.Singles = append(s.Singles, id)
}

// AddRange adds an inclusive range.  Reversed bounds are swapped.
func (s *Set) AddRange(start, end uint64) {
	if start > end {
		start, end = end, start
	}
	s.Ranges = append(s.Ranges, Range{Start: start, End: end})
}

// IsEmpty reports whether the set has neither singles nor ranges.
func (s Set) IsEmpty() bool {
	return len(s.Singles) == 0 && len(s.Ranges) == 0
}

// Unbounded reports whether some range runs up to LastID.
func (s Set) Unbounded() bool {
	for _, r := range s.Ranges {
		if r.End == LastID {
			return true
		}
	}
	return false
}

// Contains reports whether id is in s.
func (s Set) Contains(id uint64) bool {
	for _, v := range s.Singles {
		if v == id {
			return true
		}
	}
	for _, r := range s.Ranges {
		if r.Start <= id && id <= r.End {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of s.
func (s Set) Clone() Set {
	c := Set{}
	if len(s.Singles) > 0 {
		c.Singles = append([]uint64(nil), s.Singles...)
	}
	if len(s.Ranges) > 0 {
		c.Ranges = append([]Range(nil), s.Ranges...)
	}
	return c
}

// Compact merges singles and ranges into the minimal set of singles and
// maximal disjoint ranges, both sorted ascending.  A run of one value
// becomes a single, longer runs become ranges.  Sets holding an open
// ended range are returned unchanged.
func (s Set) Compact() Set {
	if s.Unbounded() {
		return s.Clone()
	}

	spans := make([]Range, 0, len(s.Singles)+len(s.Ranges))
	for _, id := range s.Singles {
		spans = append(spans, Range{Start: id, End: id})
	}
	for _, r := range s.Ranges {
		if r.Start > r.End {
			r.Start, r.End = r.End, r.Start
		}
		if r.End == LastID {
			return s.Clone()
		}
		spans = append(spans, r)
	}
	if len(spans) == 0 {
		return Set{}
	}
	sort.Slice(spans, func(i, j int) bool { return spans[i].Start < spans[j].Start })

	out := Set{}
	flush := func(r Range) {
		if r.Start == r.End {
			out.Singles = append(out.Singles, r.Start)
		} else {
			out.Ranges = append(out.Ranges, r)
		}
	}
	// Bounded sets never reach LastID, so cur.End+1 cannot wrap.
	cur := spans[0]
	for _, r := range spans[1:] {
		if r.Start <= cur.End+1 {
			if r.End > cur.End {
				cur.End = r.End
			}
			continue
		}
		flush(cur)
		cur = r
	}
	flush(cur)
	return out
}

// Values enumerates every identifier in s in ascending order without
// duplicates.
func (s Set) Values() ([]uint64, error) {
	if s.Unbounded() {
		return nil, ErrUnbounded
	}
	c := s.Compact()
	var ids []uint64
	ids = append(ids, c.Singles...)
	for _, r := range c.Ranges {
		for id := r.Start; id <= r.End; id++ {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// String renders the identifier list: singles first, then ranges, comma
// separated, followed by exactly one space.  The empty set renders as "".
func (s Set) String() string {
	if s.IsEmpty() {
		return ""
	}
	singles := append([]uint64(nil), s.Singles...)
	sort.Slice(singles, func(i, j int) bool { return singles[i] < singles[j] })
	ranges := append([]Range(nil), s.Ranges...)
	sort.Slice(ranges, func(i, j int) bool { return ranges[i].Start < ranges[j].Start })

	var sb strings.Builder
	for i, id := range singles {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(strconv.FormatUint(id, 10))
	}
	for i, r := range ranges {
		if i > 0 || len(singles) > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(r.String())
	}
	sb.WriteByte(' ')
	return sb.String()
}

// Parse reads the wire form produced by String (the trailing space is
// optional).  It accepts "*" as shorthand for "*:*".
func Parse(text string) (Set, error) {
	s := Set{}
	text = strings.TrimSpace(text)
	if text == "" {
		return s, nil
	}
	for _, tok := range strings.Split(text, ",") {
		lo, hi, isRange := strings.Cut(tok, ":")
		start, err := parseID(lo)
		if err != nil {
			return Set{}, errors.Wrapf(err, "parsing %q", tok)
		}
		if !isRange {
			if start == LastID {
				s.Ranges = append(s.Ranges, Range{Start: LastID, End: LastID})
			} else {
				s.AddID(start)
			}
			continue
		}
		end, err := parseID(hi)
		if err != nil {
			return Set{}, errors.Wrapf(err, "parsing %q", tok)
		}
		s.AddRange(start, end)
	}
	return s, nil
}

func parseID(tok string) (uint64, error) {
	if tok == "*" {
		return LastID, nil
	}
	id, err := strconv.ParseUint(tok, 10, 64)
	if err != nil {
		return 0, err
	}
	if id == LastID {
		return 0, errors.New("identifier collides with the highest-identifier sentinel")
	}
	return id, nil
}
