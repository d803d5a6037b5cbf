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
	"strings"
	"testing"

	"github.com/matta/mailsync/internal/message"
)

const multipartMessage = "From: a@example.com\r\n" +
	"Subject: test\r\n" +
	"MIME-Version: 1.0\r\n" +
	"Content-Type: multipart/alternative; boundary=XX\r\n" +
	"\r\n" +
	"--XX\r\n" +
	"Content-Type: text/html\r\n" +
	"\r\n" +
	"<p>html   version</p>\r\n" +
	"--XX\r\n" +
	"Content-Type: text/plain\r\n" +
	"\r\n" +
	"plain\r\n   version\r\n" +
	"--XX--\r\n"

const htmlMessage = "From: a@example.com\r\n" +
	"Content-Type: text/html; charset=utf-8\r\n" +
	"\r\n" +
	"<html><head><style>p {}</style></head><body><p>Hello</p><p>world</p></body></html>\r\n"

func TestPreview(t *testing.T) {
	cases := []struct {
		name string
		msg  *message.Message
		want string
	}{
		{
			name: "plain preferred",
			msg:  &message.Message{Body: []byte(multipartMessage)},
			want: "plain version",
		},
		{
			name: "html only",
			msg:  &message.Message{Body: []byte(htmlMessage)},
			want: "Hello world",
		},
		{
			name: "single part without type",
			msg:  &message.Message{Body: []byte("Subject: x\r\n\r\nJust  text\r\n")},
			want: "Just text",
		},
		{
			name: "parts",
			msg: &message.Message{
				Structure: &message.Part{
					Type: "multipart", Subtype: "mixed",
					Children: []*message.Part{
						{Number: []int{1}, Type: "text", Subtype: "html"},
						{Number: []int{2}, Type: "text", Subtype: "plain", Disposition: "attachment"},
					},
				},
				Parts: map[string][]byte{"1": []byte("<b>bold</b> move")},
			},
			want: "bold move",
		},
		{
			name: "nothing downloaded",
			msg:  &message.Message{},
			want: "",
		},
	}
	for _, tc := range cases {
		if got := Preview(tc.msg); got != tc.want {
			t.Errorf("Preview(%s) = %q, want %q", tc.name, got, tc.want)
		}
	}
}

func TestAbbreviate(t *testing.T) {
	long := strings.Repeat("é", 200)
	got := abbreviate(long, 10)
	if n := len([]rune(got)); n != 10 || !strings.HasSuffix(got, "…") {
		t.Errorf("abbreviate(200 runes, 10) = %q (%d runes)", got, n)
	}
	if got := abbreviate(" a \n b ", 10); got != "a b" {
		t.Errorf("abbreviate() = %q, want %q", got, "a b")
	}
}
