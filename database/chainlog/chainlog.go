// Copyright 2025 Verdin Energy
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package chainlog provides the append-only per-certificate event log
// backed by Badger. Appends carry at-least-once semantics; readers
// (the chain verifier) must tolerate duplicate delivery.
package chainlog

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	eventKeyPrefix = "chain/"
	seqKeyPrefix   = "seq/"

	gcInterval     = 5 * time.Minute
	gcDiscardRatio = 0.5
)

// EventType identifies a chain event kind
type EventType string

const (
	EventTypeIssuance   EventType = "issuance"
	EventTypeTransfer   EventType = "transfer"
	EventTypeSplit      EventType = "split"
	EventTypeAllocation EventType = "allocation"
	// EventTypeCredit records a compensating balance restoration after
	// a failed downstream persistence step
	EventTypeCredit EventType = "credit"
)

// Event is one entry in a certificate's traceability chain.
type Event struct {
	Timestamp     time.Time `json:"timestamp"`
	Type          EventType `json:"type"`
	CertificateID string    `json:"certificate_id"`
	Entity        string    `json:"entity,omitempty"`
	Counterparty  string    `json:"counterparty,omitempty"`
	// Reference points at the originating record (consumption,
	// transfer, or split record id)
	Reference string `json:"reference,omitempty"`
	AmountKWh uint64 `json:"amount_kwh"`
	Seq       uint64 `json:"seq"`
}

// Debit reports whether the event reduces the certificate balance.
func (e *Event) Debit() bool {
	switch e.Type {
	case EventTypeTransfer, EventTypeSplit, EventTypeAllocation:
		return true
	default:
		return false
	}
}

// Store is the Badger-backed chain log.
type Store struct {
	promRegistry prometheus.Registerer
	db           *badger.DB
	logger       *slog.Logger
	appends      *prometheus.CounterVec
	gcStopCh     chan struct{}
	dataDir      string
	gcWg         sync.WaitGroup
	closeOnce    sync.Once
}

// Config describes how to open the chain log.
type Config struct {
	Logger       *slog.Logger
	PromRegistry prometheus.Registerer
	// DataDir is the storage directory. Empty keeps the log in
	// memory, useful for testing
	DataDir string
}

// New creates a new chain log store.
func New(cfg Config) (*Store, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	var opts badger.Options
	if cfg.DataDir == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(filepath.Join(cfg.DataDir, "chain"))
	}
	opts = opts.WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open chain log: %w", err)
	}
	s := &Store{
		db:           db,
		logger:       logger,
		dataDir:      cfg.DataDir,
		promRegistry: cfg.PromRegistry,
		gcStopCh:     make(chan struct{}),
	}
	if cfg.PromRegistry != nil {
		s.appends = promauto.With(cfg.PromRegistry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "verdin_chainlog_appends_total",
				Help: "total chain events appended by type",
			},
			[]string{"type"},
		)
	}
	// Value log GC only applies to disk-backed stores
	if cfg.DataDir != "" {
		s.gcWg.Add(1)
		go s.gcWorker()
	}
	return s, nil
}

func (s *Store) gcWorker() {
	defer s.gcWg.Done()
	ticker := time.NewTicker(gcInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.gcStopCh:
			return
		case <-ticker.C:
			err := s.db.RunValueLogGC(gcDiscardRatio)
			if err != nil &&
				!errors.Is(err, badger.ErrNoRewrite) {
				s.logger.Warn(
					"chain log value GC failed",
					"error", err,
				)
			}
		}
	}
}

func eventKey(certificateID string, seq uint64) []byte {
	key := make([]byte, 0, len(eventKeyPrefix)+len(certificateID)+9)
	key = append(key, []byte(eventKeyPrefix)...)
	key = append(key, []byte(certificateID)...)
	key = append(key, '/')
	// Big-endian sequence keeps lexicographic key order numeric
	key = binary.BigEndian.AppendUint64(key, seq)
	return key
}

func seqKey(certificateID string) []byte {
	return []byte(seqKeyPrefix + certificateID)
}

// Append adds an event to a certificate's chain, assigning the next
// sequence number. Returns the stored event.
func (s *Store) Append(certificateID string, ev Event) (Event, error) {
	ev.CertificateID = certificateID
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		var lastSeq uint64
		item, err := txn.Get(seqKey(certificateID))
		if err == nil {
			if err := item.Value(func(val []byte) error {
				if len(val) == 8 {
					lastSeq = binary.BigEndian.Uint64(val)
				}
				return nil
			}); err != nil {
				return err
			}
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		ev.Seq = lastSeq + 1
		payload, err := json.Marshal(&ev)
		if err != nil {
			return err
		}
		if err := txn.Set(eventKey(certificateID, ev.Seq), payload); err != nil {
			return err
		}
		seqVal := binary.BigEndian.AppendUint64(nil, ev.Seq)
		return txn.Set(seqKey(certificateID), seqVal)
	})
	if err != nil {
		return Event{}, fmt.Errorf("chain append failed: %w", err)
	}
	if s.appends != nil {
		s.appends.WithLabelValues(string(ev.Type)).Inc()
	}
	return ev, nil
}

// ReadAll returns a certificate's events in sequence order. An empty
// chain is not an error; the verifier decides what a missing issuance
// means.
func (s *Store) ReadAll(certificateID string) ([]Event, error) {
	var events []Event
	prefix := []byte(eventKeyPrefix + certificateID + "/")
	err := s.db.View(func(txn *badger.Txn) error {
		itOpts := badger.DefaultIteratorOptions
		itOpts.Prefix = prefix
		it := txn.NewIterator(itOpts)
		defer it.Close()
		for it.Rewind(); it.ValidForPrefix(prefix); it.Next() {
			var ev Event
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &ev)
			})
			if err != nil {
				return err
			}
			events = append(events, ev)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("chain read failed: %w", err)
	}
	return events, nil
}

// Close stops the GC worker and closes the underlying store.
func (s *Store) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.gcStopCh)
		s.gcWg.Wait()
		err = s.db.Close()
	})
	return err
}
