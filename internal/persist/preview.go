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

package persist

import (
	"bytes"
	"io"
	"strings"

	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
	"golang.org/x/net/html"

	"github.com/matta/mailsync/internal/message"
)

const (
	// PreviewLength is the most runes a preview holds.
	PreviewLength = 160

	maxPreviewRead = 16 << 10
)

// Preview returns the start of a message's readable text with
// whitespace collapsed.  Plain text is preferred over HTML.  Truncated
// bodies yield whatever text precedes the cut.
func Preview(m *message.Message) string {
	var text string
	switch {
	case len(m.Body) > 0:
		text = bodyText(m.Body)
	case m.Structure != nil:
		text = partsText(m)
	}
	return abbreviate(text, PreviewLength)
}

func bodyText(raw []byte) string {
	// An unknown charset still yields a usable reader.
	mr, _ := mail.CreateReader(bytes.NewReader(raw))
	if mr == nil {
		return ""
	}
	defer mr.Close()

	var htmlText string
	for {
		part, err := mr.NextPart()
		if err != nil {
			// io.EOF, or a body cut short by a partial download.
			break
		}
		h, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		ct, _, _ := h.ContentType()
		body, rerr := io.ReadAll(io.LimitReader(part.Body, maxPreviewRead))
		if len(body) == 0 && rerr != nil {
			continue
		}
		switch ct {
		case "", "text/plain":
			return string(body)
		case "text/html":
			if htmlText == "" {
				htmlText = htmlToText(string(body))
			}
		}
	}
	return htmlText
}

// partsText uses individually downloaded parts.  They are still in
// their transfer encoding, which is fine for the common 7bit and
// quoted-printable text.
func partsText(m *message.Message) string {
	var htmlText string
	for _, p := range message.Viewables(m.Structure) {
		content, ok := m.Parts[p.Path()]
		if !ok {
			continue
		}
		switch p.MediaType() {
		case "text/plain":
			return string(content)
		case "text/html":
			if htmlText == "" {
				htmlText = htmlToText(string(content))
			}
		}
	}
	return htmlText
}

func htmlToText(body string) string {
	z := html.NewTokenizer(strings.NewReader(body))
	var b strings.Builder
	skip := false
	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			return b.String()
		case html.StartTagToken, html.EndTagToken:
			name, _ := z.TagName()
			switch string(name) {
			case "style", "script", "head":
				skip = tt == html.StartTagToken
			}
		case html.TextToken:
			if skip {
				continue
			}
			if b.Len() > 0 {
				b.WriteByte(' ')
			}
			b.Write(z.Text())
		}
	}
}

func abbreviate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
