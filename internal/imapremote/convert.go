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

package imapremote

// This file converts between the program's message types and the
// go-imap wire types.

import (
	"bufio"
	"bytes"
	"math"
	"strconv"
	"strings"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	gomessage "github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-message/textproto"
	"github.com/pkg/errors"

	"github.com/matta/mailsync/internal/command"
	"github.com/matta/mailsync/internal/message"
	"github.com/matta/mailsync/internal/uidset"
)

// toUIDSet converts s to the wire type.  LastID becomes "*".
func toUIDSet(s uidset.Set) (imap.UIDSet, error) {
	conv := func(id uint64) (imap.UID, error) {
		if id == uidset.LastID {
			return 0, nil
		}
		if id == 0 || id > math.MaxUint32 {
			return 0, errors.Errorf("UID %d out of range", id)
		}
		return imap.UID(id), nil
	}
	var out imap.UIDSet
	for _, id := range s.Singles {
		u, err := conv(id)
		if err != nil {
			return nil, err
		}
		out = append(out, imap.UIDRange{Start: u, Stop: u})
	}
	for _, r := range s.Ranges {
		start, err := conv(r.Start)
		if err != nil {
			return nil, err
		}
		stop, err := conv(r.End)
		if err != nil {
			return nil, err
		}
		out = append(out, imap.UIDRange{Start: start, Stop: stop})
	}
	return out, nil
}

func toIMAPFlags(fs message.Flags) []imap.Flag {
	var out []imap.Flag
	for _, n := range fs.Names() {
		out = append(out, imap.Flag(n))
	}
	return out
}

func fromIMAPFlags(flags []imap.Flag) message.Flags {
	names := make([]string, len(flags))
	for i, f := range flags {
		names[i] = string(f)
	}
	return message.ParseFlags(names)
}

// parseSection turns a section specifier ("1.2") into part numbers.
func parseSection(s string) ([]int, error) {
	var part []int
	for _, tok := range strings.Split(s, ".") {
		n, err := strconv.Atoi(tok)
		if err != nil || n <= 0 {
			return nil, errors.Errorf("bad section specifier %q", s)
		}
		part = append(part, n)
	}
	return part, nil
}

// fetchRequest pairs the go-imap options for one FETCH with the body
// sections whose contents must be read back from each response.
type fetchRequest struct {
	opts     *imap.FetchOptions
	header   *imap.FetchItemBodySection
	body     *imap.FetchItemBodySection
	sections map[string]*imap.FetchItemBodySection
}

func newFetchRequest(p command.Profile) (*fetchRequest, error) {
	req := &fetchRequest{
		opts: &imap.FetchOptions{
			UID:          true,
			Flags:        p.Flags,
			InternalDate: p.InternalDate || p.Envelope,
			RFC822Size:   p.Envelope,
		},
	}
	if p.Envelope {
		req.header = &imap.FetchItemBodySection{
			Specifier:    imap.PartSpecifierHeader,
			HeaderFields: command.HeaderFields,
			Peek:         true,
		}
		req.opts.BodySection = append(req.opts.BodySection, req.header)
	}
	if p.Structure {
		req.opts.BodyStructure = &imap.FetchItemBodyStructure{Extended: true}
	}
	switch {
	case p.Body, p.BodySane && p.MaxBodySize <= 0:
		req.body = &imap.FetchItemBodySection{Peek: true}
	case p.BodySane:
		req.body = &imap.FetchItemBodySection{
			Peek:    true,
			Partial: &imap.SectionPartial{Offset: 0, Size: p.MaxBodySize},
		}
	}
	if req.body != nil {
		req.opts.BodySection = append(req.opts.BodySection, req.body)
	}
	for _, s := range p.Sections {
		part, err := parseSection(s)
		if err != nil {
			return nil, err
		}
		if req.sections == nil {
			req.sections = make(map[string]*imap.FetchItemBodySection)
		}
		sec := &imap.FetchItemBodySection{Part: part, Peek: true}
		req.sections[s] = sec
		req.opts.BodySection = append(req.opts.BodySection, sec)
	}
	return req, nil
}

// message builds a message from one FETCH response.
func (req *fetchRequest) message(buf *imapclient.FetchMessageBuffer) (*message.Message, error) {
	m := &message.Message{
		UID:          message.FormatUID(uint64(buf.UID)),
		Flags:        fromIMAPFlags(buf.Flags),
		InternalDate: buf.InternalDate,
		Size:         buf.RFC822Size,
	}
	if req.header != nil {
		if raw := buf.FindBodySection(req.header); raw != nil {
			h, err := parseHeader(raw)
			if err != nil {
				return nil, errors.Wrapf(err, "UID %d", buf.UID)
			}
			m.Header = h
		}
	}
	if buf.BodyStructure != nil {
		m.Structure = partFromStructure(buf.BodyStructure, nil)
	}
	if req.body != nil {
		m.Body = buf.FindBodySection(req.body)
	}
	for path, sec := range req.sections {
		if b := buf.FindBodySection(sec); b != nil {
			if m.Parts == nil {
				m.Parts = make(map[string][]byte)
			}
			m.Parts[path] = b
		}
	}
	return m, nil
}

// partFromStructure converts a BODYSTRUCTURE tree.  number is the
// section number of bs; nil for the root.
func partFromStructure(bs imap.BodyStructure, number []int) *message.Part {
	switch bs := bs.(type) {
	case *imap.BodyStructureMultiPart:
		p := &message.Part{
			Number:  number,
			Type:    "multipart",
			Subtype: strings.ToLower(bs.Subtype),
		}
		for i, child := range bs.Children {
			n := append(append([]int(nil), number...), i+1)
			p.Children = append(p.Children, partFromStructure(child, n))
		}
		return p
	case *imap.BodyStructureSinglePart:
		p := &message.Part{
			Number:  number,
			Type:    strings.ToLower(bs.Type),
			Subtype: strings.ToLower(bs.Subtype),
			Size:    int64(bs.Size),
		}
		if d := bs.Disposition(); d != nil {
			p.Disposition = strings.ToLower(d.Value)
		}
		return p
	}
	return nil
}

// parseHeader decodes the envelope header fields.  Malformed address
// lists are kept verbatim rather than failing the whole message.
func parseHeader(raw []byte) (message.Header, error) {
	th, err := textproto.ReadHeader(bufio.NewReader(bytes.NewReader(raw)))
	if err != nil {
		return message.Header{}, errors.Wrap(err, "reading header")
	}
	h := mail.Header{Header: gomessage.Header{Header: th}}

	var out message.Header
	if out.Subject, err = h.Subject(); err != nil {
		out.Subject = h.Get("Subject")
	}
	if d, err := h.Date(); err == nil {
		out.Date = d
	}
	out.From = addresses(h, "From")
	out.To = addresses(h, "To")
	out.Cc = addresses(h, "Cc")
	out.ReplyTo = addresses(h, "Reply-To")
	if out.MessageID, err = h.MessageID(); err != nil {
		out.MessageID = strings.Trim(h.Get("Message-Id"), "<> ")
	}
	out.References, _ = h.MsgIDList("References")
	if ids, _ := h.MsgIDList("In-Reply-To"); len(ids) > 0 {
		out.InReplyTo = ids[0]
	}
	if ct := h.Get("Content-Type"); ct != "" {
		if t, _, err := h.ContentType(); err == nil {
			out.ContentType = t
		} else {
			out.ContentType = ct
		}
	}
	out.Identity = h.Get(command.IdentityHeader)
	return out, nil
}

func addresses(h mail.Header, key string) []string {
	list, err := h.AddressList(key)
	if err != nil {
		if v := h.Get(key); v != "" {
			return []string{v}
		}
		return nil
	}
	var out []string
	for _, a := range list {
		out = append(out, a.String())
	}
	return out
}
