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
	"strconv"
	"strings"
)

// Part is one node of a message's MIME structure.
type Part struct {
	// Section number of the part, e.g. [1 2] for "1.2".  Empty for
	// the root of a single part message.
	Number []int

	Type    string // "text", "multipart", ...
	Subtype string // "plain", "alternative", ...

	// Content-Disposition value, lower case, if any.
	Disposition string

	Size int64

	Children []*Part
}

// MediaType returns "type/subtype" in lower case.
func (p *Part) MediaType() string {
	return strings.ToLower(p.Type + "/" + p.Subtype)
}

// Path returns the section specifier for p ("1.2"), or "1" for the body
// of a single part message.
func (p *Part) Path() string {
	if len(p.Number) == 0 {
		return "1"
	}
	parts := make([]string, len(p.Number))
	for i, n := range p.Number {
		parts[i] = strconv.Itoa(n)
	}
	return strings.Join(parts, ".")
}

// IsMultipart reports whether p is a container.
func (p *Part) IsMultipart() bool {
	return strings.EqualFold(p.Type, "multipart")
}

// Viewables returns the leaf parts of root that carry displayable text:
// text/plain and text/html parts not marked as attachments.  Parts are
// returned in structure order.
func Viewables(root *Part) []*Part {
	var out []*Part
	var walk func(p *Part)
	walk = func(p *Part) {
		if p == nil {
			return
		}
		if p.IsMultipart() {
			for _, c := range p.Children {
				walk(c)
			}
			return
		}
		if p.Disposition == "attachment" {
			return
		}
		switch p.MediaType() {
		case "text/plain", "text/html":
			out = append(out, p)
		}
	}
	walk(root)
	return out
}
