package sqlite

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	jsoniter "github.com/json-iterator/go"
	"github.com/klauspost/compress/zstd"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"

	"github.com/ottermq/otterlane/pkg/persistence"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const schema = `
CREATE TABLE IF NOT EXISTS queues (
	vhost       TEXT NOT NULL,
	name        TEXT NOT NULL,
	durable     INTEGER NOT NULL DEFAULT 0,
	auto_delete INTEGER NOT NULL DEFAULT 0,
	arguments   TEXT,
	expired     INTEGER NOT NULL DEFAULT 0,
	killed      INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (vhost, name)
);
CREATE TABLE IF NOT EXISTS messages (
	vhost       TEXT NOT NULL,
	queue       TEXT NOT NULL,
	seq         INTEGER NOT NULL,
	id          TEXT NOT NULL,
	data        BLOB NOT NULL,
	compressed  INTEGER NOT NULL DEFAULT 0,
	enqueued_at INTEGER NOT NULL,
	expires_at  INTEGER NOT NULL,
	PRIMARY KEY (vhost, queue, seq)
);`

// SqlitePersistence stores the message log in a single SQLite database in WAL
// mode. Records larger than the compression threshold are zstd compressed.
type SqlitePersistence struct {
	path      string
	db        *sql.DB
	threshold int
	encoder   *zstd.Encoder
	decoder   *zstd.Decoder
}

// NewSqlitePersistence opens <DataDir>/otterlane.db. Options:
//
//	compress_threshold: record size in bytes above which data is compressed ("0" disables)
func NewSqlitePersistence(config *persistence.Config) (*SqlitePersistence, error) {
	sp := &SqlitePersistence{
		path:      filepath.Join(config.DataDir, "otterlane.db"),
		threshold: 1024,
	}
	if v, ok := config.Options["compress_threshold"]; ok {
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err != nil {
			return nil, fmt.Errorf("invalid compress_threshold %q: %w", v, err)
		}
		sp.threshold = n
	}
	return sp, sp.Initialize()
}

func (sp *SqlitePersistence) Initialize() error {
	if err := os.MkdirAll(filepath.Dir(sp.path), 0755); err != nil {
		return err
	}
	db, err := sql.Open("sqlite3", sp.path+"?_journal_mode=WAL&_synchronous=FULL&_busy_timeout=5000")
	if err != nil {
		return err
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return fmt.Errorf("create schema: %w", err)
	}
	sp.db = db

	if sp.encoder, err = zstd.NewWriter(nil); err != nil {
		return err
	}
	if sp.decoder, err = zstd.NewReader(nil); err != nil {
		return err
	}
	return nil
}

func (sp *SqlitePersistence) Close() error {
	if sp.encoder != nil {
		sp.encoder.Close()
		sp.encoder = nil
	}
	if sp.decoder != nil {
		sp.decoder.Close()
		sp.decoder = nil
	}
	if sp.db == nil {
		return nil
	}
	err := sp.db.Close()
	sp.db = nil
	return err
}

func (sp *SqlitePersistence) SaveQueueMetadata(vhost, name string, props persistence.QueueProperties) error {
	args, err := json.Marshal(props.Arguments)
	if err != nil {
		return err
	}
	_, err = sp.db.Exec(`INSERT INTO queues (vhost, name, durable, auto_delete, arguments) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (vhost, name) DO UPDATE SET durable = excluded.durable, auto_delete = excluded.auto_delete, arguments = excluded.arguments`,
		vhost, name, props.Durable, props.AutoDelete, string(args))
	return err
}

func (sp *SqlitePersistence) DeleteQueueMetadata(vhost, name string) error {
	tx, err := sp.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.Exec(`DELETE FROM messages WHERE vhost = ? AND queue = ?`, vhost, name); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM queues WHERE vhost = ? AND name = ?`, vhost, name); err != nil {
		return err
	}
	return tx.Commit()
}

func (sp *SqlitePersistence) SaveQueueStats(vhost, name string, stats persistence.QueueStats) error {
	res, err := sp.db.Exec(`UPDATE queues SET expired = ?, killed = ? WHERE vhost = ? AND name = ?`,
		int64(stats.ExpiredCount), int64(stats.KilledCount), vhost, name)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", persistence.ErrQueueNotFound, name)
	}
	return nil
}

func (sp *SqlitePersistence) SaveMessage(vhost, queue string, msg persistence.Message) error {
	var exists int
	if err := sp.db.QueryRow(`SELECT COUNT(1) FROM queues WHERE vhost = ? AND name = ?`, vhost, queue).Scan(&exists); err != nil {
		return err
	}
	if exists == 0 {
		return fmt.Errorf("%w: %s", persistence.ErrQueueNotFound, queue)
	}

	data, compressed := msg.Data, false
	if data == nil {
		data = []byte{}
	}
	if sp.threshold > 0 && len(data) > sp.threshold {
		data, compressed = sp.encoder.EncodeAll(msg.Data, nil), true
	}
	_, err := sp.db.Exec(`INSERT OR REPLACE INTO messages (vhost, queue, seq, id, data, compressed, enqueued_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		vhost, queue, int64(msg.Seq), msg.ID, data, compressed, msg.EnqueuedAt, msg.ExpiresAt)
	return err
}

func (sp *SqlitePersistence) DeleteMessage(vhost, queue string, seq uint64) error {
	_, err := sp.db.Exec(`DELETE FROM messages WHERE vhost = ? AND queue = ? AND seq = ?`, vhost, queue, int64(seq))
	return err
}

func (sp *SqlitePersistence) LoadAllQueues(vhost string) ([]persistence.QueueSnapshot, error) {
	rows, err := sp.db.Query(`SELECT name, durable, auto_delete, arguments, expired, killed FROM queues WHERE vhost = ? ORDER BY name`, vhost)
	if err != nil {
		return nil, err
	}
	var snapshots []persistence.QueueSnapshot
	for rows.Next() {
		var (
			snap            persistence.QueueSnapshot
			args            sql.NullString
			expired, killed int64
		)
		if err := rows.Scan(&snap.Name, &snap.Properties.Durable, &snap.Properties.AutoDelete, &args, &expired, &killed); err != nil {
			rows.Close()
			return nil, err
		}
		if args.Valid && args.String != "" && args.String != "null" {
			if err := json.Unmarshal([]byte(args.String), &snap.Properties.Arguments); err != nil {
				log.Warn().Err(err).Str("queue", snap.Name).Msg("Ignoring unreadable queue arguments")
			}
		}
		snap.Stats = persistence.QueueStats{ExpiredCount: uint64(expired), KilledCount: uint64(killed)}
		snapshots = append(snapshots, snap)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}

	for i := range snapshots {
		msgs, err := sp.loadMessages(vhost, snapshots[i].Name)
		if err != nil {
			return nil, err
		}
		snapshots[i].Messages = msgs
	}
	return snapshots, nil
}

func (sp *SqlitePersistence) loadMessages(vhost, queue string) ([]persistence.Message, error) {
	rows, err := sp.db.Query(`SELECT seq, id, data, compressed, enqueued_at, expires_at FROM messages
		WHERE vhost = ? AND queue = ? ORDER BY seq`, vhost, queue)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []persistence.Message
	for rows.Next() {
		var (
			msg        persistence.Message
			seq        int64
			compressed bool
		)
		if err := rows.Scan(&seq, &msg.ID, &msg.Data, &compressed, &msg.EnqueuedAt, &msg.ExpiresAt); err != nil {
			return nil, err
		}
		msg.Seq = uint64(seq)
		if compressed {
			if msg.Data, err = sp.decoder.DecodeAll(msg.Data, nil); err != nil {
				log.Error().Err(err).Str("queue", queue).Uint64("seq", msg.Seq).Msg("Skipping corrupt message record")
				continue
			}
		}
		msgs = append(msgs, msg)
	}
	return msgs, rows.Err()
}
