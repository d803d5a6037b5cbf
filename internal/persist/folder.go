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
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/matta/mailsync/internal/bodystore"
	"github.com/matta/mailsync/internal/message"
	"github.com/matta/mailsync/internal/sync"
)

// Store is the local view of one account's folders.
type Store struct {
	db      *DB
	account string
	bodies  *bodystore.Store
}

// Account returns the local store for account, keeping message content
// in bodies.
func (db *DB) Account(account string, bodies *bodystore.Store) *Store {
	return &Store{db: db, account: account, bodies: bodies}
}

// Folder returns the named folder.  It is created by Open.
func (s *Store) Folder(ctx context.Context, name string) (sync.LocalFolder, error) {
	return s.folder(name), nil
}

func (s *Store) folder(name string) *Folder {
	return &Folder{s: s, name: name}
}

// FolderInfo summarizes one folder for display.
type FolderInfo struct {
	Name        string    `db:"name"`
	Messages    int       `db:"messages"`
	Unread      int       `db:"unread"`
	LastChecked time.Time `db:"-"`
	Status      string    `db:"status"`
	PushState   string    `db:"push_state"`

	LastCheckedMillis int64 `db:"last_checked"`
}

// Folders lists the account's folders that have been synchronized at
// least once.
func (s *Store) Folders(ctx context.Context) ([]FolderInfo, error) {
	const q = `
SELECT f.name, f.last_checked, f.status, f.push_state,
  COUNT(m.uid) AS messages,
  COALESCE(SUM(CASE WHEN m.flags & ? = 0 THEN 1 ELSE 0 END), 0) AS unread
FROM folders f
LEFT JOIN messages m ON m.account = f.account AND m.folder = f.name
WHERE f.account = ?
GROUP BY f.name
ORDER BY f.name`
	var infos []FolderInfo
	if err := s.db.db.SelectContext(ctx, &infos, q, int64(message.Seen), s.account); err != nil {
		return nil, errors.Wrap(err, "listing folders")
	}
	for i := range infos {
		infos[i].LastChecked = fromMillis(infos[i].LastCheckedMillis)
	}
	return infos, nil
}

// Folder is one local folder.  It implements sync.LocalFolder.
type Folder struct {
	s    *Store
	name string
}

var _ sync.LocalFolder = (*Folder)(nil)

func (f *Folder) Name() string { return f.name }

func (f *Folder) Open(ctx context.Context) error {
	const q = `INSERT OR IGNORE INTO folders (account, name) VALUES (?, ?)`
	if _, err := f.s.db.db.ExecContext(ctx, q, f.s.account, f.name); err != nil {
		return errors.Wrapf(err, "creating folder %s", f.name)
	}
	return nil
}

func (f *Folder) Close() error { return nil }

func (f *Folder) MessagesAndDates(ctx context.Context) (map[string]time.Time, error) {
	const q = `SELECT uid, internal_date FROM messages WHERE account = ? AND folder = ?`
	rows, err := f.s.db.db.QueryxContext(ctx, q, f.s.account, f.name)
	if err != nil {
		return nil, errors.Wrap(err, "db query failed in MessagesAndDates")
	}
	defer rows.Close()

	out := make(map[string]time.Time)
	for rows.Next() {
		var uid string
		var date int64
		if err := rows.Scan(&uid, &date); err != nil {
			return nil, errors.Wrap(err, "db scan failed in MessagesAndDates")
		}
		out[uid] = fromMillis(date)
	}
	return out, errors.Wrap(rows.Err(), "db rows failed in MessagesAndDates")
}

// Message returns the stored message's metadata.  Content is read
// separately with Body and Part.
func (f *Folder) Message(ctx context.Context, uid string) (*message.Message, error) {
	const q = `SELECT * FROM messages WHERE account = ? AND folder = ? AND uid = ?`
	var row messageRow
	err := f.s.db.db.GetContext(ctx, &row, q, f.s.account, f.name, uid)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "reading message %s", uid)
	}
	return row.message()
}

// Messages returns the metadata of every message in the folder, newest
// first.
func (f *Folder) Messages(ctx context.Context) ([]*message.Message, error) {
	const q = `
SELECT * FROM messages WHERE account = ? AND folder = ?
ORDER BY internal_date DESC, uid_num DESC`
	var rows []messageRow
	if err := f.s.db.db.SelectContext(ctx, &rows, q, f.s.account, f.name); err != nil {
		return nil, errors.Wrap(err, "listing messages")
	}
	out := make([]*message.Message, 0, len(rows))
	for i := range rows {
		m, err := rows[i].message()
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

func (f *Folder) LastUID(ctx context.Context) (uint64, error) {
	const q = `SELECT MAX(uid_num) FROM messages WHERE account = ? AND folder = ? AND uid_num IS NOT NULL`
	var n sql.NullInt64
	if err := f.s.db.db.GetContext(ctx, &n, q, f.s.account, f.name); err != nil {
		return 0, errors.Wrap(err, "reading last UID")
	}
	if !n.Valid {
		return 0, nil
	}
	return orderedToUnsigned(n.Int64), nil
}

func (f *Folder) key(uid, section string) bodystore.Key {
	return bodystore.Key{Account: f.s.account, Folder: f.name, UID: uid, Section: section}
}

// Body returns the stored raw content of a message.
func (f *Folder) Body(ctx context.Context, uid string) ([]byte, error) {
	return f.s.bodies.Get(f.key(uid, ""))
}

// Part returns the stored content of one body part.
func (f *Folder) Part(ctx context.Context, uid, section string) ([]byte, error) {
	return f.s.bodies.Get(f.key(uid, section))
}

func (f *Folder) AppendMessages(ctx context.Context, msgs []*message.Message) error {
	const q = `
INSERT OR REPLACE INTO messages (
  account, folder, uid, uid_num, flags, internal_date, size, download,
  subject, from_addrs, to_addrs, cc_addrs, reply_to, message_id,
  in_reply_to, refs, content_type, identity, sent_date, structure, preview
) VALUES (
  :account, :folder, :uid, :uid_num, :flags, :internal_date, :size, :download,
  :subject, :from_addrs, :to_addrs, :cc_addrs, :reply_to, :message_id,
  :in_reply_to, :refs, :content_type, :identity, :sent_date, :structure, :preview
)`
	tx, err := f.s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, m := range msgs {
		row, err := f.row(m)
		if err != nil {
			return err
		}
		if _, err := tx.tx.NamedExecContext(ctx, q, row); err != nil {
			return errors.Wrapf(err, "db upsert failed for %s", m.UID)
		}
		if len(m.Body) > 0 {
			if err := f.s.bodies.Put(f.key(m.UID, ""), m.Body); err != nil {
				return errors.Wrapf(err, "storing body of %s", m.UID)
			}
		}
		for section, content := range m.Parts {
			if err := f.s.bodies.Put(f.key(m.UID, section), content); err != nil {
				return errors.Wrapf(err, "storing part %s of %s", section, m.UID)
			}
		}
	}
	return tx.Commit()
}

// AppendLocal stores a message that exists only locally, such as a
// draft, under a fresh local-only UID which it returns.
func (f *Folder) AppendLocal(ctx context.Context, m *message.Message) (string, error) {
	c := *m
	c.UID = message.NewLocalUID()
	if c.Download == message.NotDownloaded {
		c.Download = message.Full
	}
	if err := f.AppendMessages(ctx, []*message.Message{&c}); err != nil {
		return "", err
	}
	return c.UID, nil
}

func (f *Folder) SetFlags(ctx context.Context, uid string, flags message.Flags) error {
	const q = `UPDATE messages SET flags = ? WHERE account = ? AND folder = ? AND uid = ?`
	res, err := f.s.db.db.ExecContext(ctx, q, int64(flags), f.s.account, f.name, uid)
	if err != nil {
		return errors.Wrapf(err, "updating flags of %s", uid)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return errors.Errorf("no message %s in %s", uid, f.name)
	}
	return nil
}

func (f *Folder) DestroyMessages(ctx context.Context, uids []string) error {
	if len(uids) == 0 {
		return nil
	}
	tx, err := f.s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	keys, err := f.deleteRows(ctx, tx, uids)
	if err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	f.deleteContent(keys)
	return nil
}

// maxDeleteBatch bounds the number of UIDs bound into one statement, keeping
// queries under SQLite's host parameter limit.
const maxDeleteBatch = 500

// deleteRows removes the rows of uids and returns the body store keys
// of their content.
func (f *Folder) deleteRows(ctx context.Context, tx *Tx, uids []string) ([]bodystore.Key, error) {
	var keys []bodystore.Key
	for len(uids) > 0 {
		n := min(len(uids), maxDeleteBatch)
		batch, err := f.deleteBatch(ctx, tx, uids[:n])
		if err != nil {
			return nil, err
		}
		keys = append(keys, batch...)
		uids = uids[n:]
	}
	return keys, nil
}

func (f *Folder) deleteBatch(ctx context.Context, tx *Tx, uids []string) ([]bodystore.Key, error) {
	q, args, err := sqlx.In(`SELECT uid, structure FROM messages WHERE account = ? AND folder = ? AND uid IN (?)`,
		f.s.account, f.name, uids)
	if err != nil {
		return nil, errors.Wrap(err, "building select")
	}
	var rows []struct {
		UID       string         `db:"uid"`
		Structure sql.NullString `db:"structure"`
	}
	if err := tx.tx.SelectContext(ctx, &rows, tx.tx.Rebind(q), args...); err != nil {
		return nil, errors.Wrap(err, "db select failed")
	}
	var keys []bodystore.Key
	for _, r := range rows {
		keys = append(keys, f.key(r.UID, ""))
		if !r.Structure.Valid {
			continue
		}
		var root message.Part
		if err := json.Unmarshal([]byte(r.Structure.String), &root); err != nil {
			continue
		}
		for _, p := range message.Viewables(&root) {
			keys = append(keys, f.key(r.UID, p.Path()))
		}
	}

	q, args, err = sqlx.In(`DELETE FROM messages WHERE account = ? AND folder = ? AND uid IN (?)`,
		f.s.account, f.name, uids)
	if err != nil {
		return nil, errors.Wrap(err, "building delete")
	}
	if _, err := tx.tx.ExecContext(ctx, tx.tx.Rebind(q), args...); err != nil {
		return nil, errors.Wrap(err, "db delete failed")
	}
	return keys, nil
}

// deleteContent removes stored content.  Rows are gone already, so
// leftover files are only logged.
func (f *Folder) deleteContent(keys []bodystore.Key) {
	for _, k := range keys {
		if err := f.s.bodies.Delete(k); err != nil {
			f.s.db.log.Warn().Err(err).Str("uid", k.UID).Msg("removing message content")
		}
	}
}

func (f *Folder) PurgeToVisibleLimit(ctx context.Context, limit int) ([]string, error) {
	if limit < 0 {
		limit = 0
	}
	tx, err := f.s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var count int
	const countQ = `SELECT COUNT(*) FROM messages WHERE account = ? AND folder = ?`
	if err := tx.tx.GetContext(ctx, &count, countQ, f.s.account, f.name); err != nil {
		return nil, errors.Wrap(err, "counting messages")
	}
	if count <= limit {
		return nil, nil
	}
	var uids []string
	const oldestQ = `
SELECT uid FROM messages WHERE account = ? AND folder = ?
ORDER BY internal_date ASC, uid_num ASC
LIMIT ?`
	if err := tx.tx.SelectContext(ctx, &uids, oldestQ, f.s.account, f.name, count-limit); err != nil {
		return nil, errors.Wrap(err, "selecting messages to purge")
	}
	keys, err := f.deleteRows(ctx, tx, uids)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	f.deleteContent(keys)
	return uids, nil
}

func (f *Folder) PushState(ctx context.Context) (string, error) {
	var s string
	err := f.getState(ctx, "push_state", &s)
	return s, err
}

func (f *Folder) SetPushState(ctx context.Context, state string) error {
	return f.setState(ctx, "push_state", state)
}

func (f *Folder) MoreMessages(ctx context.Context) (sync.MoreMessages, error) {
	var s string
	if err := f.getState(ctx, "more_messages", &s); err != nil {
		return sync.MoreUnknown, err
	}
	return sync.ParseMoreMessages(s), nil
}

func (f *Folder) SetMoreMessages(ctx context.Context, more sync.MoreMessages) error {
	return f.setState(ctx, "more_messages", more.String())
}

// LastChecked returns when the folder was last synchronized.
func (f *Folder) LastChecked(ctx context.Context) (time.Time, error) {
	var ms int64
	err := f.getState(ctx, "last_checked", &ms)
	return fromMillis(ms), err
}

func (f *Folder) SetLastChecked(ctx context.Context, t time.Time) error {
	return f.setState(ctx, "last_checked", toMillis(t))
}

// Status returns the recorded status, empty unless the last pass
// failed.
func (f *Folder) Status(ctx context.Context) (string, error) {
	var s string
	err := f.getState(ctx, "status", &s)
	return s, err
}

func (f *Folder) SetStatus(ctx context.Context, status string) error {
	return f.setState(ctx, "status", status)
}

// getState reads one column of the folder's row.  column is always a
// constant.
func (f *Folder) getState(ctx context.Context, column string, dest interface{}) error {
	q := `SELECT ` + column + ` FROM folders WHERE account = ? AND name = ?`
	err := f.s.db.db.GetContext(ctx, dest, q, f.s.account, f.name)
	if err == sql.ErrNoRows {
		return errors.Errorf("folder %s is not open", f.name)
	}
	return errors.Wrapf(err, "reading %s", column)
}

func (f *Folder) setState(ctx context.Context, column string, value interface{}) error {
	q := `UPDATE folders SET ` + column + ` = ? WHERE account = ? AND name = ?`
	res, err := f.s.db.db.ExecContext(ctx, q, value, f.s.account, f.name)
	if err != nil {
		return errors.Wrapf(err, "writing %s", column)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return errors.Errorf("folder %s is not open", f.name)
	}
	return nil
}

// messageRow is the messages table row.
type messageRow struct {
	Account      string         `db:"account"`
	Folder       string         `db:"folder"`
	UID          string         `db:"uid"`
	UIDNum       sql.NullInt64  `db:"uid_num"`
	Flags        int64          `db:"flags"`
	InternalDate int64          `db:"internal_date"`
	Size         int64          `db:"size"`
	Download     int            `db:"download"`
	Subject      string         `db:"subject"`
	From         string         `db:"from_addrs"`
	To           string         `db:"to_addrs"`
	Cc           string         `db:"cc_addrs"`
	ReplyTo      string         `db:"reply_to"`
	MessageID    string         `db:"message_id"`
	InReplyTo    string         `db:"in_reply_to"`
	References   string         `db:"refs"`
	ContentType  string         `db:"content_type"`
	Identity     string         `db:"identity"`
	SentDate     int64          `db:"sent_date"`
	Structure    sql.NullString `db:"structure"`
	Preview      string         `db:"preview"`
}

func (f *Folder) row(m *message.Message) (*messageRow, error) {
	row := &messageRow{
		Account:      f.s.account,
		Folder:       f.name,
		UID:          m.UID,
		Flags:        int64(m.Flags),
		InternalDate: toMillis(m.InternalDate),
		Size:         m.Size,
		Download:     int(m.Download),
		Subject:      m.Header.Subject,
		From:         joinList(m.Header.From),
		To:           joinList(m.Header.To),
		Cc:           joinList(m.Header.Cc),
		ReplyTo:      joinList(m.Header.ReplyTo),
		MessageID:    m.Header.MessageID,
		InReplyTo:    m.Header.InReplyTo,
		References:   joinList(m.Header.References),
		ContentType:  m.Header.ContentType,
		Identity:     m.Header.Identity,
		SentDate:     toMillis(m.Header.Date),
		Preview:      Preview(m),
	}
	if num, ok := m.Num(); ok {
		row.UIDNum = sql.NullInt64{Int64: orderedToSigned(num), Valid: true}
	}
	if m.Structure != nil {
		b, err := json.Marshal(m.Structure)
		if err != nil {
			return nil, errors.Wrapf(err, "encoding structure of %s", m.UID)
		}
		row.Structure = sql.NullString{String: string(b), Valid: true}
	}
	return row, nil
}

func (r *messageRow) message() (*message.Message, error) {
	m := &message.Message{
		UID:          r.UID,
		Flags:        message.Flags(r.Flags),
		InternalDate: fromMillis(r.InternalDate),
		Size:         r.Size,
		Download:     message.DownloadState(r.Download),
		Header: message.Header{
			Date:        fromMillis(r.SentDate),
			Subject:     r.Subject,
			From:        splitList(r.From),
			To:          splitList(r.To),
			Cc:          splitList(r.Cc),
			ReplyTo:     splitList(r.ReplyTo),
			MessageID:   r.MessageID,
			References:  splitList(r.References),
			InReplyTo:   r.InReplyTo,
			ContentType: r.ContentType,
			Identity:    r.Identity,
		},
	}
	if r.Structure.Valid {
		m.Structure = &message.Part{}
		if err := json.Unmarshal([]byte(r.Structure.String), m.Structure); err != nil {
			return nil, errors.Wrapf(err, "decoding structure of %s", r.UID)
		}
	}
	return m, nil
}

func joinList(l []string) string {
	return strings.Join(l, "\n")
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}
