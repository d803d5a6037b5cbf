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

package message

import (
	"strings"
)

// Flags is a set of message flags.
type Flags uint8

const (
	Seen Flags = 1 << iota
	Answered
	Flagged
	Deleted
	Draft
	Forwarded
)

// SyncedFlags are the flags whose state is copied from the remote to the
// local store on every pass.  Deleted is handled separately.
var SyncedFlags = []Flags{Seen, Flagged, Answered, Forwarded}

var flagNames = []struct {
	flag Flags
	name string
}{
	{Seen, `\Seen`},
	{Answered, `\Answered`},
	{Flagged, `\Flagged`},
	{Deleted, `\Deleted`},
	{Draft, `\Draft`},
	{Forwarded, `$Forwarded`},
}

// Has reports whether every flag in f is set.
func (fs Flags) Has(f Flags) bool {
	return fs&f == f
}

// With returns fs with f set or cleared.
func (fs Flags) With(f Flags, on bool) Flags {
	if on {
		return fs | f
	}
	return fs &^ f
}

// Names returns the protocol names of the flags in fs.
func (fs Flags) Names() []string {
	var names []string
	for _, fn := range flagNames {
		if fs.Has(fn.flag) {
			names = append(names, fn.name)
		}
	}
	return names
}

func (fs Flags) String() string {
	return "(" + strings.Join(fs.Names(), " ") + ")"
}

// ParseFlag maps a protocol flag name to a flag; unknown keywords map to
// zero.
func ParseFlag(name string) Flags {
	for _, fn := range flagNames {
		if strings.EqualFold(fn.name, name) {
			return fn.flag
		}
	}
	return 0
}

// ParseFlags maps protocol flag names, ignoring keywords this program
// does not track.
func ParseFlags(names []string) Flags {
	var fs Flags
	for _, n := range names {
		fs |= ParseFlag(n)
	}
	return fs
}

// LookupFlag maps a user facing name ("seen", "flagged", ...) to a flag.
func LookupFlag(name string) (Flags, bool) {
	for _, fn := range flagNames {
		bare := strings.TrimLeft(fn.name, `\$`)
		if strings.EqualFold(bare, name) {
			return fn.flag, true
		}
	}
	return 0, false
}
