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

// Package command builds the UID commands issued against a selected
// mailbox and splits commands whose identifier lists are too long for a
// single protocol line.
package command

import (
	"fmt"
	"strings"

	"github.com/matta/mailsync/internal/message"
	"github.com/matta/mailsync/internal/uidset"
)

// Kind names a selected-state command.
type Kind int

const (
	Search Kind = iota
	Fetch
	Store
	Copy
	Move
	Expunge
)

func (k Kind) String() string {
	switch k {
	case Search:
		return "SEARCH"
	case Fetch:
		return "FETCH"
	case Store:
		return "STORE"
	case Copy:
		return "COPY"
	case Move:
		return "MOVE"
	case Expunge:
		return "EXPUNGE"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Command is an immutable UID command addressed at a set of identifiers.
// Its rendering is a pure function of its fields.  Build commands with
// NewSearch, NewFetch, NewStore, NewCopy, NewMove and NewExpunge.
type Command struct {
	kind Kind
	set  uidset.Set

	criteria string        // Search
	profile  Profile       // Fetch
	flags    message.Flags // Store
	value    bool          // Store: add (true) or remove (false)
	mailbox  string        // Copy, Move
}

// NewSearch returns a UID SEARCH restricted to set (when non-empty) and
// further narrowed by criteria, given in protocol syntax.  An empty
// criteria string searches ALL.
func NewSearch(set uidset.Set, criteria string) Command {
	return Command{kind: Search, set: set.Clone(), criteria: strings.TrimSpace(criteria)}
}

// NewFetch returns a UID FETCH of the items selected by p.
func NewFetch(set uidset.Set, p Profile) Command {
	return Command{kind: Fetch, set: set.Clone(), profile: p}
}

// NewStore returns a silent UID STORE that sets (value true) or clears
// flags.
func NewStore(set uidset.Set, flags message.Flags, value bool) Command {
	return Command{kind: Store, set: set.Clone(), flags: flags, value: value}
}

// NewCopy returns a UID COPY into mailbox.
func NewCopy(set uidset.Set, mailbox string) Command {
	return Command{kind: Copy, set: set.Clone(), mailbox: mailbox}
}

// NewMove returns a UID MOVE into mailbox.
func NewMove(set uidset.Set, mailbox string) Command {
	return Command{kind: Move, set: set.Clone(), mailbox: mailbox}
}

// NewExpunge returns a UID EXPUNGE of set.
func NewExpunge(set uidset.Set) Command {
	return Command{kind: Expunge, set: set.Clone()}
}

func (c Command) Kind() Kind           { return c.kind }
func (c Command) Set() uidset.Set      { return c.set.Clone() }
func (c Command) Criteria() string     { return c.criteria }
func (c Command) Profile() Profile     { return c.profile }
func (c Command) Flags() message.Flags { return c.flags }
func (c Command) Value() bool          { return c.value }
func (c Command) Mailbox() string      { return c.mailbox }

// WithSet returns a copy of c addressed at set instead; every other
// parameter is kept.
func (c Command) WithSet(set uidset.Set) Command {
	c.set = set.Clone()
	return c
}

// parts returns the text before the identifier list, the keyword that
// introduces a non-empty list, and the text after it.
func (c Command) parts() (head, key, tail string) {
	switch c.kind {
	case Search:
		criteria := c.criteria
		if criteria == "" {
			criteria = "ALL"
		}
		return "UID SEARCH ", "UID ", criteria
	case Fetch:
		return "UID FETCH ", "", "(" + strings.Join(c.profile.Items(), " ") + ")"
	case Store:
		op := "-FLAGS.SILENT"
		if c.value {
			op = "+FLAGS.SILENT"
		}
		return "UID STORE ", "", op + " " + c.flags.String()
	case Copy:
		return "UID COPY ", "", quote(c.mailbox)
	case Move:
		return "UID MOVE ", "", quote(c.mailbox)
	case Expunge:
		return "UID EXPUNGE ", "", ""
	}
	panic(fmt.Sprintf("command: unknown kind %v", c.kind))
}

// String renders the command line without tag or line terminator.
func (c Command) String() string {
	head, key, tail := c.parts()
	var sb strings.Builder
	sb.WriteString(head)
	if !c.set.IsEmpty() {
		sb.WriteString(key)
		sb.WriteString(c.set.String())
	}
	sb.WriteString(tail)
	return strings.TrimRight(sb.String(), " ")
}

// overhead is the length of c's rendering once at least one identifier
// is present, not counting the identifiers and their separators.
func (c Command) overhead() int {
	head, key, tail := c.parts()
	return len(head) + len(key) + len(tail)
}

// quote renders a mailbox name as a quoted string.
func quote(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`)
	return `"` + r.Replace(s) + `"`
}
