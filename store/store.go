// Package store keeps named model sets in a key-value store. Each entry is a
// msgpack record holding the encoded set and a little metadata about the run
// that produced it.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/ieee0824/hsmmtrain/acoustic"
)

// ErrNotFound is returned when no model set has the requested name.
var ErrNotFound = errors.New("store: not found")

const keyPrefix = "model:"

// Info describes a stored model set.
type Info struct {
	Name  string    `msgpack:"name"`
	RunID string    `msgpack:"run_id,omitempty"`
	Saved time.Time `msgpack:"saved"`
	HMMs  int       `msgpack:"hmms"`
}

// Record is a stored model set.
type Record struct {
	Info
	Payload []byte `msgpack:"payload"` // acoustic.Set encoding
}

// Store is the interface for model set storage.
type Store interface {
	// Get returns the named record, or ErrNotFound.
	Get(ctx context.Context, name string) (*Record, error)

	// Put stores rec under rec.Name, replacing any previous record.
	Put(ctx context.Context, rec *Record) error

	// Delete removes the named record. Deleting a missing name is not an error.
	Delete(ctx context.Context, name string) error

	// List returns the metadata of every record ordered by name.
	List(ctx context.Context) ([]Info, error)

	Close() error
}

func key(name string) []byte { return []byte(keyPrefix + name) }

func validName(name string) error {
	if name == "" {
		return errors.New("store: empty model name")
	}
	return nil
}

func encodeRecord(rec *Record) ([]byte, error) {
	return msgpack.Marshal(rec)
}

func decodeRecord(b []byte) (*Record, error) {
	var rec Record
	if err := msgpack.Unmarshal(b, &rec); err != nil {
		return nil, fmt.Errorf("store: decode record: %w", err)
	}
	return &rec, nil
}

// SaveSet encodes set and stores it under name.
func SaveSet(ctx context.Context, s Store, name string, set *acoustic.Set, runID uuid.UUID) error {
	payload, err := set.Marshal()
	if err != nil {
		return fmt.Errorf("store: encode %q: %w", name, err)
	}
	rec := &Record{
		Info: Info{
			Name:  name,
			Saved: time.Now().UTC(),
			HMMs:  len(set.HMMs()),
		},
		Payload: payload,
	}
	if runID != uuid.Nil {
		rec.RunID = runID.String()
	}
	return s.Put(ctx, rec)
}

// LoadSet fetches and decodes the named set.
func LoadSet(ctx context.Context, s Store, name string) (*acoustic.Set, error) {
	rec, err := s.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	set, err := acoustic.Unmarshal(rec.Payload)
	if err != nil {
		return nil, fmt.Errorf("store: decode %q: %w", name, err)
	}
	return set, nil
}
