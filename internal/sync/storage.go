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

package sync

// This file declares the message stores on either side of a
// synchronization.

import (
	"context"
	"iter"
	"time"

	"github.com/matta/mailsync/internal/command"
	"github.com/matta/mailsync/internal/message"
)

// MoreMessages records whether messages older than the synchronized
// window are known to exist remotely.
type MoreMessages int

const (
	MoreUnknown MoreMessages = iota
	MoreFalse
	MoreTrue
)

func (m MoreMessages) String() string {
	switch m {
	case MoreFalse:
		return "false"
	case MoreTrue:
		return "true"
	}
	return "unknown"
}

// ParseMoreMessages is the inverse of MoreMessages.String.  Anything
// unrecognized is MoreUnknown.
func ParseMoreMessages(s string) MoreMessages {
	switch s {
	case "false":
		return MoreFalse
	case "true":
		return MoreTrue
	}
	return MoreUnknown
}

// LocalFolder is the on-device cache of one folder.
type LocalFolder interface {
	Name() string

	// Open prepares the folder for reading and writing, creating it
	// if needed.
	Open(ctx context.Context) error
	Close() error

	// MessagesAndDates returns every UID in the folder, local-only
	// ones included, mapped to the message's internal date.
	MessagesAndDates(ctx context.Context) (map[string]time.Time, error)

	// Message returns the stored message, or nil if there is none.
	Message(ctx context.Context, uid string) (*message.Message, error)

	// LastUID returns the highest numeric UID stored, 0 when empty.
	LastUID(ctx context.Context) (uint64, error)

	// AppendMessages stores messages, replacing any stored under the
	// same UID.
	AppendMessages(ctx context.Context, msgs []*message.Message) error

	SetFlags(ctx context.Context, uid string, flags message.Flags) error
	DestroyMessages(ctx context.Context, uids []string) error

	// PurgeToVisibleLimit removes the oldest messages until at most
	// limit remain and returns the removed UIDs.
	PurgeToVisibleLimit(ctx context.Context, limit int) ([]string, error)

	PushState(ctx context.Context) (string, error)
	SetPushState(ctx context.Context, state string) error
	MoreMessages(ctx context.Context) (MoreMessages, error)
	SetMoreMessages(ctx context.Context, more MoreMessages) error
	SetLastChecked(ctx context.Context, t time.Time) error

	// SetStatus records a human readable status; "" clears it.
	SetStatus(ctx context.Context, status string) error
}

// LocalStore hands out local folders by name.
type LocalStore interface {
	Folder(ctx context.Context, name string) (LocalFolder, error)
}

// OpenMode selects how a remote folder is selected.
type OpenMode int

const (
	ReadOnly OpenMode = iota
	ReadWrite
)

// RemoteFolder is one folder of the remote message store, reached over a
// single stateful connection.
type RemoteFolder interface {
	command.Prober

	Name() string
	Open(ctx context.Context, mode OpenMode) error
	Close() error

	MessageCount(ctx context.Context) (int, error)

	// Messages lists the messages with sequence numbers start..end
	// (1 based, inclusive) that are not deleted and, if earliest is
	// set, arrived no earlier than it.  Only UID, flags and internal
	// date are filled in.
	Messages(ctx context.Context, start, end int, earliest time.Time) ([]*message.Message, error)

	// Fetch runs one FETCH command and yields its results in the
	// order the server sends them.  Iteration stops at the first
	// error, which is yielded with a nil message.
	Fetch(ctx context.Context, cmd command.Command) iter.Seq2[*message.Message, error]

	// AreMoreMessagesAvailable reports whether any message before
	// sequence number start arrived no earlier than earliest.
	AreMoreMessagesAvailable(ctx context.Context, start int, earliest time.Time) (bool, error)

	Expunge(ctx context.Context) error
}

// RemoteStore hands out unopened remote folders by name.
type RemoteStore interface {
	Folder(ctx context.Context, name string) (RemoteFolder, error)
}
