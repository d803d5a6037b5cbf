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

// Package bodystore keeps downloaded message content in a directory farm.
package bodystore

import (
	"hash/fnv"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

const (
	dirFileMode     = 0700
	messageFileMode = 0600

	pathFarm16 = "abcdefghijklmnop"

	// Depth of the directory farm below the root.
	farmDepth = 2
)

// Store writes message content under a root directory.  Files are
// spread over a two level farm of 16x16 directories so no single
// directory grows large.
type Store struct {
	path string
}

// Key identifies one stored blob.
type Key struct {
	// The account the folder belongs to, usually its login.
	Account string
	Folder  string
	UID     string

	// Section names a body part ("1.2"); empty for the whole
	// message.
	Section string
}

type path struct {
	root string
	dirs []string
	base string
}

func (p path) Join() string {
	parts := make([]string, 1, len(p.dirs)+2)
	parts[0] = p.root
	parts = append(parts, p.dirs...)
	parts = append(parts, p.base)
	return filepath.Join(parts...)
}

// New returns a Store rooted at dir, creating the farm if needed.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dir), dirFileMode); err != nil {
		return nil, errors.Wrapf(err, "creating parent of %s", dir)
	}
	if err := mkdirfarm(dir, farmDepth); err != nil {
		return nil, errors.Wrapf(err, "creating body store at %s", dir)
	}
	return &Store{path: dir}, nil
}

// Path returns the root directory of the store.
func (s *Store) Path() string {
	return s.path
}

// Has reports whether content is stored under k.
func (s *Store) Has(k Key) bool {
	_, err := os.Stat(s.makePath(k).Join())
	return err == nil
}

// Put stores content under k, replacing anything already there.  The
// write is atomic: readers see the old content or the new.
func (s *Store) Put(k Key, content []byte) error {
	if k.UID == "" {
		return errors.New("message has no UID")
	}
	p := s.makePath(k)
	dir := filepath.Join(append([]string{p.root}, p.dirs...)...)
	tmp, err := os.CreateTemp(dir, ".tmp-")
	if err != nil {
		return errors.Wrap(err, "creating temporary file")
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		return errors.Wrapf(err, "writing %s", tmp.Name())
	}
	if err := tmp.Chmod(messageFileMode); err != nil {
		tmp.Close()
		return errors.Wrapf(err, "chmod %s", tmp.Name())
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrapf(err, "closing %s", tmp.Name())
	}
	return errors.Wrap(os.Rename(tmp.Name(), p.Join()), "renaming into place")
}

// Get returns the content stored under k.  A missing blob is reported
// with an error satisfying os.IsNotExist.
func (s *Store) Get(k Key) ([]byte, error) {
	b, err := os.ReadFile(s.makePath(k).Join())
	if err != nil {
		return nil, err
	}
	return b, nil
}

// Delete removes the content stored under k.  Deleting a missing blob is
// not an error.
func (s *Store) Delete(k Key) error {
	err := os.Remove(s.makePath(k).Join())
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// basename holds the fields encoded into the file name of a stored blob.
type basename struct {
	// The scope under which uid is unique: account and folder.
	account string
	folder  string
	uid     string
	section string
}

// Return the specified string with characters that should not appear
// in a filename escaped.
func escape(s string) string {
	hexCount := 0
	for i := 0; i < len(s); i++ {
		if shouldEscape(s[i]) {
			hexCount++
		}
	}

	if hexCount == 0 {
		return s
	}

	t := make([]byte, len(s)+2*hexCount)
	j := 0
	for i := 0; i < len(s); i++ {
		switch c := s[i]; {
		case shouldEscape(c):
			t[j] = '='
			t[j+1] = "0123456789ABCDEF"[c>>4]
			t[j+2] = "0123456789ABCDEF"[c&15]
			j += 3
		default:
			t[j] = s[i]
			j++
		}
	}
	return string(t)
}

// Return true if the specified character should be escaped when
// appearing in a filename.
//
// The encoding uses '=' to designate the next two characters as a hex
// encoded byte.  Only the alphanumeric characters of the Portable
// Filename Character Set (IEEE Std 1003.1-2017, 3.282) pass through.
func shouldEscape(c byte) bool {
	if 'A' <= c && c <= 'Z' || 'a' <= c && c <= 'z' || '0' <= c && c <= '9' {
		return false
	}

	// Everything else must be escaped.
	return true
}

// encode returns the basename in a filename safe form, prefixed with
// "mailsync-1-" as a distinguisher followed by an encoding version.
func (b basename) encode() string {
	var sb strings.Builder
	const prefix = "mailsync-1-"
	sb.WriteString(prefix)
	sb.WriteString(escape(b.account))
	sb.WriteRune('-')
	sb.WriteString(escape(b.folder))
	sb.WriteRune('-')
	sb.WriteString(escape(b.uid))
	if b.section != "" {
		sb.WriteRune('-')
		sb.WriteString(escape(b.section))
	}
	return sb.String()
}

func mkdir(dir string) error {
	if err := os.Mkdir(dir, dirFileMode); err != nil && !os.IsExist(err) {
		return err
	}
	return nil
}

func mkdirfarm(path string, depth int) error {
	if err := mkdir(path); err != nil {
		return err
	}
	if depth == 0 {
		return nil
	}

	for i := 0; i < len(pathFarm16); i++ {
		path := filepath.Join(path, pathFarm16[i:i+1])
		if err := mkdirfarm(path, depth-1); err != nil {
			return err
		}
	}
	return nil
}

func fingerprint(b []byte) uint32 {
	hash := fnv.New32a()
	hash.Write(b)
	return hash.Sum32()
}

func pathParts(id string) []string {
	fp := fingerprint([]byte(id))
	nibble1 := fp & 0xf
	nibble2 := (fp >> 4) & 0xf
	return []string{pathFarm16[nibble1 : nibble1+1], pathFarm16[nibble2 : nibble2+1]}
}

func (s *Store) makePath(k Key) path {
	b := basename{account: k.Account, folder: k.Folder, uid: k.UID, section: k.Section}
	// Parts of a message land next to it.
	return path{
		root: s.path,
		dirs: pathParts(k.Account + "\x00" + k.Folder + "\x00" + k.UID),
		base: b.encode(),
	}
}
