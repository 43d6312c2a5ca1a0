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

// Package persist records how far the mailbox has been processed, so
// that a restarted poller can skip searches that cannot find anything
// new.
package persist

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"math"
	"net/url"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	// Registers the "sqlite3" driver.
	_ "github.com/mattn/go-sqlite3"
)

var (
	createTableSql = []string{
		// The search_marker table holds the mailbox history ID
		// observed at the start of each poll cycle that processed
		// every message its search found.
		//
		// Field: mailbox
		//
		//   The account address (GMail API: Users.getProfile
		//   "emailAddress").
		//
		// Field: query
		//
		//   The search the cycle ran.  A marker only vouches for
		//   the query that produced it, so one is kept per
		//   (mailbox, query) pair.
		//
		// Field: history_id
		//
		//   GMail API: Users.getProfile "historyId", stored as an
		//   order preserving signed integer (see orderedToSigned).
		//
		// Field: updated_at
		//
		//   Unix seconds of the last write.  Informational.
		`
CREATE TABLE IF NOT EXISTS search_marker (
mailbox TEXT NOT NULL,
query TEXT NOT NULL,
history_id INTEGER NOT NULL,
updated_at INTEGER NOT NULL,
PRIMARY KEY (mailbox, query)
);`,
	}
)

type DB struct {
	db *sqlx.DB
}

type Tx struct {
	tx *sqlx.Tx
}

// marker is a search_marker row.
type marker struct {
	Mailbox   string `db:"mailbox"`
	Query     string `db:"query"`
	HistoryID int64  `db:"history_id"`
	UpdatedAt int64  `db:"updated_at"`
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

func Open(ctx context.Context, path string) (*DB, error) {
	// The _busy_timeout is a SQLite extension that controls how
	// long SQLite will poll before giving up.  Only one poller
	// should run against a database, so a short wait is plenty.
	var busyTimeout = int(30*time.Second) / int(time.Millisecond)

	dsn, err := dsnFromPath(path, url.Values{
		"_busy_timeout": {fmt.Sprintf("%d", busyTimeout)}})
	if err != nil {
		return nil, errors.Wrapf(err,
			"Open(%q) failed: could not form a DB DSN from "+
				"the given path",
			path)
	}
	log.Printf("opening state database at %q", dsn)
	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.Wrapf(err,
			"Open(%q) failed: could not open database at %q",
			path, dsn)
	}

	if err = initSchema(ctx, db); err != nil {
		db.Close()
		return nil, errors.Wrapf(err,
			"Open(%q) failed: could not initialize the "+
				"database schema", path)
	}

	return &DB{db}, nil
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

func initSchema(ctx context.Context, db *sqlx.DB) error {
	for _, sql := range createTableSql {
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

// LatestHistoryID returns the stored marker for query on mailbox, or
// zero if there is none.
func (tx *Tx) LatestHistoryID(ctx context.Context, mailbox, query string) (uint64, error) {
	const q = `SELECT mailbox, query, history_id, updated_at FROM search_marker
		WHERE mailbox = $1 AND query = $2`
	var m marker
	if err := tx.tx.GetContext(ctx, &m, q, mailbox, query); err != nil {
		if err == sql.ErrNoRows {
			err = nil // a non-error
		}
		return 0, errors.Wrap(err, "LatestHistoryID")
	}
	return orderedToUnsigned(m.HistoryID), nil
}

// WriteHistoryID stores a new marker for query on mailbox.  Writing
// the current value again is a no-op; moving the marker backwards is
// an error.
func (tx *Tx) WriteHistoryID(ctx context.Context, mailbox, query string, historyID uint64) error {
	latest, err := tx.LatestHistoryID(ctx, mailbox, query)
	if err != nil {
		return err
	}
	if historyID == latest {
		return nil
	}
	if historyID < latest {
		return errors.Errorf("attempt to decrease the latest history_id from %d to %d", latest, historyID)
	}

	const q = `INSERT INTO search_marker (mailbox, query, history_id, updated_at)
		VALUES (:mailbox, :query, :history_id, :updated_at)
		ON CONFLICT (mailbox, query)
		DO UPDATE SET history_id = excluded.history_id, updated_at = excluded.updated_at`
	_, err = tx.tx.NamedExecContext(ctx, q, marker{
		Mailbox:   mailbox,
		Query:     query,
		HistoryID: orderedToSigned(historyID),
		UpdatedAt: time.Now().Unix(),
	})
	if err != nil {
		return errors.Wrap(err, "db upsert failed")
	}
	return nil
}

// Marker reads the stored marker in its own transaction.
func (db *DB) Marker(ctx context.Context, mailbox, query string) (uint64, error) {
	tx, err := db.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()
	return tx.LatestHistoryID(ctx, mailbox, query)
}

// SetMarker writes a marker in its own transaction.
func (db *DB) SetMarker(ctx context.Context, mailbox, query string, historyID uint64) error {
	tx, err := db.Begin(ctx)
	if err != nil {
		return err
	}
	if err := tx.WriteHistoryID(ctx, mailbox, query, historyID); err != nil {
		tx.Rollback()
		return err
	}
	return errors.Wrap(tx.Commit(), "commit failed")
}
