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

// This file provides the common data objects used by the rest of the
// program.

import (
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// LocalUIDPrefix marks messages that only exist in the local store
// (drafts, queued outgoing mail).  They have no remote counterpart.
const LocalUIDPrefix = "local:"

// NewLocalUID returns a fresh local-only UID.
func NewLocalUID() string {
	return LocalUIDPrefix + uuid.NewString()
}

// IsLocalUID reports whether uid names a local-only message.
func IsLocalUID(uid string) bool {
	return strings.HasPrefix(uid, LocalUIDPrefix)
}

// FormatUID renders a remote identifier as a UID string.
func FormatUID(id uint64) string {
	return strconv.FormatUint(id, 10)
}

// ParseUID returns the numeric remote identifier for uid.  ok is false
// for local-only or malformed UIDs.
func ParseUID(uid string) (id uint64, ok bool) {
	id, err := strconv.ParseUint(uid, 10, 64)
	return id, err == nil
}

// DownloadState records how much of a message's content is held
// locally.
type DownloadState int

const (
	// NotDownloaded means only the envelope is known.
	NotDownloaded DownloadState = iota
	// Partial means only some parts, or a truncated body, are stored.
	Partial
	// Full means the complete message is stored.
	Full
)

func (d DownloadState) String() string {
	switch d {
	case Partial:
		return "partial"
	case Full:
		return "full"
	}
	return "none"
}

// Downloaded reports whether any content has been stored.
func (d DownloadState) Downloaded() bool {
	return d == Partial || d == Full
}

// Header holds the envelope fields requested during header sync.
type Header struct {
	Date        time.Time
	Subject     string
	From        []string
	To          []string
	Cc          []string
	ReplyTo     []string
	MessageID   string
	References  []string
	InReplyTo   string
	ContentType string
	Identity    string
}

// Message is a message as seen by either side of a synchronization.
type Message struct {
	// The permanent identifier of the message within its folder.
	// Numeric for messages known to the remote store, prefixed with
	// LocalUIDPrefix for local-only ones.
	UID string

	Flags Flags

	// Server receive time; the local store uses it to order
	// messages for purging.
	InternalDate time.Time

	// Declared size in bytes (RFC822.SIZE).
	Size int64

	Header Header

	// The message's MIME structure, if it was fetched.
	Structure *Part

	// The raw RFC 5322 content, complete or truncated according to
	// Download.
	Body []byte

	// Content of individually fetched parts, keyed by Part.Path().
	Parts map[string][]byte

	Download DownloadState
}

// Num returns the message's numeric UID, or false for a local-only
// message.
func (m *Message) Num() (uint64, bool) {
	return ParseUID(m.UID)
}
