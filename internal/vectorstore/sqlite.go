// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package vectorstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/pdiddy/recall-engine/internal/vecmath"
	"github.com/pdiddy/recall-engine/pkg/types"
)

const sqliteBackend = "sqlite"

// SQLiteStore keeps messages in one SQLite table. Embeddings are stored
// as little-endian float32 blobs and queried by exhaustive cosine scan,
// which is adequate for single-room history sizes.
type SQLiteStore struct {
	db  *sql.DB
	dim int
}

// NewSQLiteStore opens or creates the database at path and creates the
// schema if needed. dim is the required embedding dimension; zero
// accepts any dimension.
func NewSQLiteStore(path string, dim int) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &SQLiteStore{db: db, dim: dim}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) createSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			text TEXT NOT NULL,
			author TEXT NOT NULL,
			room TEXT NOT NULL,
			ts INTEGER NOT NULL,
			message_type TEXT NOT NULL,
			classification_confidence REAL NOT NULL,
			contains_code INTEGER NOT NULL,
			code_language TEXT,
			topic_tags TEXT,
			tech_keywords TEXT,
			embedding BLOB
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_room_type ON messages(room, message_type)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_ts ON messages(ts)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("executing schema statement: %w", err)
		}
	}
	return nil
}

// Store upserts msg in a single transaction.
func (s *SQLiteStore) Store(ctx context.Context, msg types.StoredMessage) error {
	if err := validate(sqliteBackend, msg, s.dim); err != nil {
		return err
	}
	topicsJSON, _ := json.Marshal(msg.TopicTags)
	keywordsJSON, _ := json.Marshal(msg.TechKeywords)
	var blob []byte
	if msg.HasEmbedding() {
		blob = vecmath.Encode(msg.Embedding)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return opErr(sqliteBackend, "store", CodeWrite, "beginning transaction", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO messages (id, text, author, room, ts, message_type, classification_confidence,
			contains_code, code_language, topic_tags, tech_keywords, embedding)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			text=excluded.text, author=excluded.author, room=excluded.room, ts=excluded.ts,
			message_type=excluded.message_type,
			classification_confidence=excluded.classification_confidence,
			contains_code=excluded.contains_code, code_language=excluded.code_language,
			topic_tags=excluded.topic_tags, tech_keywords=excluded.tech_keywords,
			embedding=excluded.embedding`,
		msg.ID, msg.Text, msg.Author, msg.Room, msg.Timestamp.UTC().UnixNano(),
		string(msg.Type), msg.ClassificationConfidence,
		msg.ContainsCode, msg.CodeLanguage, string(topicsJSON), string(keywordsJSON), blob,
	)
	if err != nil {
		return opErr(sqliteBackend, "store", CodeWrite, "upserting message "+msg.ID, err)
	}
	if err := tx.Commit(); err != nil {
		return opErr(sqliteBackend, "store", CodeWrite, "committing", err)
	}
	return nil
}

const selectColumns = `id, text, author, room, ts, message_type, classification_confidence,
	contains_code, code_language, topic_tags, tech_keywords, embedding`

// Query scans the embedded rows that match f and ranks them by cosine
// similarity rescaled to [0,1].
func (s *SQLiteStore) Query(ctx context.Context, vec []float32, f Filter, limit int) ([]types.SearchResult, error) {
	if err := checkDim(sqliteBackend, "query", vec, s.dim, false); err != nil {
		return nil, err
	}

	var (
		qb   strings.Builder
		args []any
	)
	qb.WriteString(`SELECT ` + selectColumns + ` FROM messages WHERE embedding IS NOT NULL AND room = ?`)
	args = append(args, f.Room)
	if f.Type != "" {
		qb.WriteString(` AND message_type = ?`)
		args = append(args, string(f.Type))
	}

	rows, err := s.db.QueryContext(ctx, qb.String(), args...)
	if err != nil {
		return nil, opErr(sqliteBackend, "query", CodeQuery, "selecting candidates", err)
	}
	defer rows.Close()

	var results []types.SearchResult
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, opErr(sqliteBackend, "query", CodeDecode, "scanning row", err)
		}
		if f.excludes(msg.ID) || len(msg.Embedding) != len(vec) {
			continue
		}
		results = append(results, types.SearchResult{
			StoredMessage:   msg,
			SimilarityScore: vecmath.Similarity(vecmath.Cosine(vec, msg.Embedding)),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, opErr(sqliteBackend, "query", CodeQuery, "iterating rows", err)
	}
	return rank(results, limit), nil
}

// GetByID returns the message with the given id.
func (s *SQLiteStore) GetByID(ctx context.Context, id string) (types.StoredMessage, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM messages WHERE id = ?`, id)
	msg, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return types.StoredMessage{}, notFound(sqliteBackend, id)
	}
	if err != nil {
		return types.StoredMessage{}, opErr(sqliteBackend, "get", CodeDecode, "scanning row", err)
	}
	return msg, nil
}

// ListOptions filters List. Zero values match everything.
type ListOptions struct {
	Room  string
	Type  types.MessageType
	Tag   string
	Limit int
}

// List returns messages newest first. Tag matches either a topic tag or
// a tech keyword.
func (s *SQLiteStore) List(ctx context.Context, opts ListOptions) ([]types.StoredMessage, error) {
	var (
		qb   strings.Builder
		args []any
	)
	qb.WriteString(`SELECT ` + selectColumns + ` FROM messages WHERE 1=1`)
	if opts.Room != "" {
		qb.WriteString(` AND room = ?`)
		args = append(args, opts.Room)
	}
	if opts.Type != "" {
		qb.WriteString(` AND message_type = ?`)
		args = append(args, string(opts.Type))
	}
	if opts.Tag != "" {
		qb.WriteString(` AND (EXISTS (SELECT 1 FROM json_each(topic_tags) WHERE value = ?)
			OR EXISTS (SELECT 1 FROM json_each(tech_keywords) WHERE value = ?))`)
		tag := strings.ToLower(opts.Tag)
		args = append(args, tag, tag)
	}
	qb.WriteString(` ORDER BY ts DESC, id`)
	if opts.Limit > 0 {
		qb.WriteString(` LIMIT ?`)
		args = append(args, opts.Limit)
	}

	rows, err := s.db.QueryContext(ctx, qb.String(), args...)
	if err != nil {
		return nil, opErr(sqliteBackend, "list", CodeQuery, "selecting messages", err)
	}
	defer rows.Close()

	var out []types.StoredMessage
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, opErr(sqliteBackend, "list", CodeDecode, "scanning row", err)
		}
		out = append(out, msg)
	}
	return out, rows.Err()
}

// Stats holds row counts for a store.
type Stats struct {
	Total    int            `json:"total" yaml:"total"`
	Embedded int            `json:"embedded" yaml:"embedded"`
	ByType   map[string]int `json:"by_type" yaml:"by_type"`
}

// Stats counts stored messages, overall and by type.
func (s *SQLiteStore) Stats(ctx context.Context) (Stats, error) {
	st := Stats{ByType: map[string]int{}}
	if err := s.db.QueryRowContext(ctx,
		`SELECT count(*), count(embedding) FROM messages`,
	).Scan(&st.Total, &st.Embedded); err != nil {
		return Stats{}, fmt.Errorf("counting messages: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT message_type, count(*) FROM messages GROUP BY message_type`)
	if err != nil {
		return Stats{}, fmt.Errorf("counting by type: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			t string
			n int
		)
		if err := rows.Scan(&t, &n); err != nil {
			return Stats{}, err
		}
		st.ByType[t] = n
	}
	return st, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMessage(sc scanner) (types.StoredMessage, error) {
	var (
		msg                  types.StoredMessage
		ts                   int64
		msgType              string
		codeLang             sql.NullString
		topicsJSON, keywords sql.NullString
		blob                 []byte
	)
	if err := sc.Scan(&msg.ID, &msg.Text, &msg.Author, &msg.Room, &ts, &msgType,
		&msg.ClassificationConfidence, &msg.ContainsCode, &codeLang,
		&topicsJSON, &keywords, &blob); err != nil {
		return types.StoredMessage{}, err
	}
	msg.Timestamp = time.Unix(0, ts).UTC()
	msg.Type = types.MessageType(msgType)
	msg.CodeLanguage = codeLang.String
	if topicsJSON.Valid && topicsJSON.String != "" {
		if err := json.Unmarshal([]byte(topicsJSON.String), &msg.TopicTags); err != nil {
			return types.StoredMessage{}, fmt.Errorf("decoding topic tags of %s: %w", msg.ID, err)
		}
	}
	if keywords.Valid && keywords.String != "" {
		if err := json.Unmarshal([]byte(keywords.String), &msg.TechKeywords); err != nil {
			return types.StoredMessage{}, fmt.Errorf("decoding tech keywords of %s: %w", msg.ID, err)
		}
	}
	if len(blob) > 0 {
		vec, err := vecmath.Decode(blob)
		if err != nil {
			return types.StoredMessage{}, err
		}
		msg.Embedding = vec
	}
	return msg, nil
}
