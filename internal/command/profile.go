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

package command

import (
	"fmt"
	"strings"
)

// IdentityHeader is a private header naming the sending identity of
// messages written by this program.
const IdentityHeader = "X-Mailsync-Identity"

// HeaderFields are the envelope headers fetched during header sync, in
// wire order.
var HeaderFields = []string{
	"date",
	"subject",
	"from",
	"content-type",
	"to",
	"cc",
	"reply-to",
	"message-id",
	"references",
	"in-reply-to",
	IdentityHeader,
}

// Profile selects the data items of a FETCH.
type Profile struct {
	Flags        bool
	InternalDate bool
	Envelope     bool // internal date, size and HeaderFields
	Structure    bool

	// Body fetches the complete message.  BodySane fetches at most
	// MaxBodySize bytes of it (all of it when MaxBodySize <= 0).
	// Body wins when both are set.
	Body        bool
	BodySane    bool
	MaxBodySize int64

	// Sections lists body part specifiers ("1.2") to fetch.
	Sections []string
}

// Items returns the FETCH data items for p, UID first.
func (p Profile) Items() []string {
	items := []string{"UID"}
	if p.Flags {
		items = append(items, "FLAGS")
	}
	if p.InternalDate && !p.Envelope {
		items = append(items, "INTERNALDATE")
	}
	if p.Envelope {
		items = append(items,
			"INTERNALDATE",
			"RFC822.SIZE",
			"BODY.PEEK[HEADER.FIELDS ("+strings.Join(HeaderFields, " ")+")]")
	}
	if p.Structure {
		items = append(items, "BODYSTRUCTURE")
	}
	switch {
	case p.Body:
		items = append(items, "BODY.PEEK[]")
	case p.BodySane && p.MaxBodySize > 0:
		items = append(items, fmt.Sprintf("BODY.PEEK[]<0.%d>", p.MaxBodySize))
	case p.BodySane:
		items = append(items, "BODY.PEEK[]")
	}
	for _, s := range p.Sections {
		items = append(items, "BODY.PEEK["+s+"]")
	}
	return items
}
