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

// Package persist is the SQLite backed local message store.
package persist

import (
	"context"
	"fmt"
	"math"
	"net/url"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

var (
	createTableSql = []string{
		// The folders table holds the state kept per folder
		// between synchronization passes.
		//
		// Field: account
		//
		//   The configured account name.  Folder names are only
		//   unique within an account.
		//
		// Field: push_state
		//
		//   Opaque cursor written by the sync engine, currently
		//   "uidNext=<n>".  Empty before the first pass.
		//
		// Field: more_messages
		//
		//   "true", "false" or "unknown": whether the remote holds
		//   messages older than the synchronized window.
		//
		// Field: last_checked
		//
		//   Unix milliseconds of the end of the last pass, whether
		//   it succeeded or not.  0 if never checked.
		//
		// Field: status
		//
		//   Root cause of the last failed pass, or empty.
		`
CREATE TABLE IF NOT EXISTS folders (
account TEXT NOT NULL,
name TEXT NOT NULL,
push_state TEXT NOT NULL DEFAULT '',
more_messages TEXT NOT NULL DEFAULT 'unknown',
last_checked INTEGER NOT NULL DEFAULT 0,
status TEXT NOT NULL DEFAULT '',
PRIMARY KEY (account, name)
);`,
		// The messages table holds one row per locally stored
		// message.  Content lives in the body store.
		//
		// Field: uid
		//
		//   The message UID as text.  Numeric for messages known
		//   to the server, "local:<uuid>" for local-only ones.
		//
		// Field: uid_num
		//
		//   The numeric UID mapped through orderedToSigned, so
		//   SQLite's signed integers sort like the UIDs.  NULL for
		//   local-only messages.
		//
		// Field: flags
		//
		//   message.Flags bitmask.
		//
		// Field: internal_date, sent_date
		//
		//   Unix milliseconds; 0 when unknown.
		//
		// Field: download
		//
		//   message.DownloadState.
		//
		// Field: from_addrs, to_addrs, cc_addrs, reply_to, refs
		//
		//   Newline separated lists.
		//
		// Field: structure
		//
		//   JSON encoded message.Part tree, NULL if never fetched.
		`
CREATE TABLE IF NOT EXISTS messages (
account TEXT NOT NULL,
folder TEXT NOT NULL,
uid TEXT NOT NULL,
uid_num INTEGER,
flags INTEGER NOT NULL DEFAULT 0,
internal_date INTEGER NOT NULL DEFAULT 0,
size INTEGER NOT NULL DEFAULT 0,
download INTEGER NOT NULL DEFAULT 0,
subject TEXT NOT NULL DEFAULT '',
from_addrs TEXT NOT NULL DEFAULT '',
to_addrs TEXT NOT NULL DEFAULT '',
cc_addrs TEXT NOT NULL DEFAULT '',
reply_to TEXT NOT NULL DEFAULT '',
message_id TEXT NOT NULL DEFAULT '',
in_reply_to TEXT NOT NULL DEFAULT '',
refs TEXT NOT NULL DEFAULT '',
content_type TEXT NOT NULL DEFAULT '',
identity TEXT NOT NULL DEFAULT '',
sent_date INTEGER NOT NULL DEFAULT 0,
structure TEXT,
preview TEXT NOT NULL DEFAULT '',
PRIMARY KEY (account, folder, uid)
);`,
		`
CREATE INDEX IF NOT EXISTS messages_by_date
ON messages (account, folder, internal_date, uid_num);`,
	}
)

type DB struct {
	db  *sqlx.DB
	log zerolog.Logger
}

type Tx struct {
	tx *sqlx.Tx
}

func dsnFromPath(path string, addValues url.Values) (string, error) {
	var u *url.URL
	if !strings.HasPrefix(path, "file:") {
		u = &url.URL{Scheme: "file", Path: path}
	} else {
		var err error
		u, err = url.Parse(path)
		if err != nil {
			return "", err
		}
	}
	values := u.Query()
	for k, v := range addValues {
		for _, item := range v {
			values.Add(k, item)
		}
	}
	u.RawQuery = values.Encode()
	return u.String(), nil
}

// Open opens (creating if needed) the database at path.
func Open(ctx context.Context, path string, log zerolog.Logger) (*DB, error) {
	// The _busy_timeout is a SQLite extension that controls how
	// long SQLite will poll before giving up.  Concurrent folder
	// passes contend for the write lock, so be generous.
	var busyTimeout = int(5*time.Minute) / int(time.Millisecond)

	dsn, err := dsnFromPath(path, url.Values{
		"_busy_timeout": {fmt.Sprintf("%d", busyTimeout)},
		"_journal_mode": {"WAL"},
	})
	if err != nil {
		return nil, errors.Wrapf(err,
			"Open(%q) failed: could not form a DB DSN from "+
				"the given path",
			path)
	}
	log.Debug().Str("dsn", dsn).Msg("opening database")
	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.Wrapf(err,
			"Open(%q) failed: could not open database at %q",
			path, dsn)
	}

	if err = initSchema(ctx, db, log); err != nil {
		db.Close()
		return nil, errors.Wrapf(err,
			"Open(%q) failed: could not initialize the "+
				"database schema", path)
	}

	return &DB{db: db, log: log}, nil
}

func (db *DB) Close() error {
	return db.db.Close()
}

func (db *DB) Begin(ctx context.Context) (*Tx, error) {
	tx, err := db.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "begin transaction failed")
	}
	return &Tx{tx}, nil
}

func (tx *Tx) Commit() error {
	return tx.tx.Commit()
}

func (tx *Tx) Rollback() error {
	return tx.tx.Rollback()
}

func initSchema(ctx context.Context, db *sqlx.DB, log zerolog.Logger) error {
	for _, sql := range createTableSql {
		log.Trace().Str("sql", sql).Msg("SQL Exec")
		if _, err := db.ExecContext(ctx, sql); err != nil {
			return errors.Wrapf(err, "while executing %q", sql)
		}
	}

	return nil
}

func orderedToSigned(u uint64) int64 {
	return int64(u - -math.MinInt64) // Imagine 0..255 -> -128..127
}

func orderedToUnsigned(s int64) uint64 {
	return uint64(s) + -math.MinInt64 // Imagine -128..127 -> 0..255
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
