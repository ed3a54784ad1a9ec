// Package audit keeps the configuration of nodes at the time they were condemned.
package audit

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/gammadia/nimbus/retention"
	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
)

const keyPrefix = "audit/"

// Record is the state of a node when it was marked pending delete.
type Record struct {
	ID         string            `json:"id"`
	Node       string            `json:"node"`
	RecordedAt time.Time         `json:"recorded-at"`
	IdleSince  time.Time         `json:"idle-since"`
	Retention  time.Duration     `json:"retention"`
	Offline    bool              `json:"offline"`
	Details    map[string]string `json:"details,omitempty"`
}

type describer interface {
	Describe() map[string]string
}

// Store persists audit records in Badger.
type Store struct {
	db  *badger.DB
	log *slog.Logger
	now func() time.Time
}

// Store implements retention.Auditor
var _ retention.Auditor = (*Store)(nil)

// Open opens the store at path, or an in-memory one when path is empty.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	var opts badger.Options
	if path == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(filepath.Clean(path)).WithValueLogFileSize(1 << 20)
	}
	opts = opts.WithLogger(badgerLogger{logger.With("component", "badger")})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit store: %w", err)
	}
	return &Store{db: db, log: logger, now: time.Now}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func nodePrefix(node string) []byte {
	return []byte(keyPrefix + node + "/")
}

// Keys sort chronologically within a node.
func recordKey(record Record) []byte {
	return fmt.Appendf(nil, "%s%s/%020d", keyPrefix, record.Node, record.RecordedAt.UnixNano())
}

// Record stores the current state of node.
func (s *Store) Record(node retention.Node) error {
	record := Record{
		ID:         uuid.NewString(),
		Node:       node.Name(),
		RecordedAt: s.now().UTC(),
		IdleSince:  node.IdleSince(),
		Retention:  node.Retention(),
		Offline:    node.IsOfflineByUser(),
	}
	if d, ok := node.(describer); ok {
		record.Details = d.Describe()
	}

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode audit record of '%s': %w", record.Node, err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(recordKey(record), data)
	})
	if err != nil {
		return fmt.Errorf("failed to store audit record of '%s': %w", record.Node, err)
	}

	s.log.Info("Recorded node before removal", "node", record.Node, "details", record.Details)
	return nil
}

// List returns the records of node, oldest first.
func (s *Store) List(node string) ([]Record, error) {
	records := []Record{}
	err := s.scan(nodePrefix(node), func(data []byte) error {
		var record Record
		if err := json.Unmarshal(data, &record); err != nil {
			return err
		}
		records = append(records, record)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list audit records of '%s': %w", node, err)
	}
	return records, nil
}

// Export writes every record as zstd compressed JSON lines.
func (s *Store) Export(w io.Writer) error {
	zw, err := zstd.NewWriter(w)
	if err != nil {
		return fmt.Errorf("failed to create zstd writer: %w", err)
	}

	err = s.scan([]byte(keyPrefix), func(data []byte) error {
		if _, err := zw.Write(data); err != nil {
			return err
		}
		_, err := zw.Write([]byte{'\n'})
		return err
	})
	if err != nil {
		_ = zw.Close()
		return fmt.Errorf("failed to export audit records: %w", err)
	}
	return zw.Close()
}

func (s *Store) scan(prefix []byte, fn func(data []byte) error) error {
	return s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := it.Item().Value(fn); err != nil {
				return err
			}
		}
		return nil
	})
}

// badgerLogger routes badger logs to slog, demoting its chatty info level.
type badgerLogger struct {
	log *slog.Logger
}

func (l badgerLogger) Errorf(format string, args ...any) {
	l.log.Error(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l badgerLogger) Warningf(format string, args ...any) {
	l.log.Warn(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l badgerLogger) Infof(format string, args ...any) {
	l.log.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l badgerLogger) Debugf(format string, args ...any) {
	l.log.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}
