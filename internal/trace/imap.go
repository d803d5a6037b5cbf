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

package trace

import (
	"bytes"
	"strings"

	"github.com/rs/zerolog"
)

// IMAPWriter logs the raw IMAP stream one line per event.  Commands
// carrying credentials are logged with their arguments removed.
type IMAPWriter struct {
	Log zerolog.Logger
}

func NewIMAPWriter(log zerolog.Logger) *IMAPWriter {
	return &IMAPWriter{Log: log}
}

func (w *IMAPWriter) Write(p []byte) (int, error) {
	for _, line := range bytes.Split(bytes.TrimRight(p, "\r\n"), []byte("\n")) {
		s := strings.TrimRight(string(line), "\r")
		if s == "" {
			continue
		}
		w.Log.Trace().Str("imap", Redact(s)).Msg("protocol")
	}
	return len(p), nil
}

// Redact removes the arguments of a LOGIN or AUTHENTICATE command line.
func Redact(line string) string {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return line
	}
	cmd := strings.ToUpper(fields[1])
	switch cmd {
	case "LOGIN":
		return fields[0] + " " + fields[1] + " [redacted]"
	case "AUTHENTICATE":
		if len(fields) > 2 {
			return fields[0] + " " + fields[1] + " " + fields[2] + " [redacted]"
		}
	}
	return line
}
