package schemaindex

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"github.com/kailas-cloud/askdb/internal/domain/retrieval"
	"github.com/kailas-cloud/askdb/internal/domain/schema"
)

var elementPrefix = []byte("el:")

// Badger is an embedded backend. Search is a brute-force cosine scan, which is
// fine for schemas of a few thousand elements.
type Badger struct {
	db *badger.DB
}

// OpenBadger opens a store in dir, or an in-memory store when dir is empty.
func OpenBadger(dir string) (*Badger, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	opts = opts.
		WithMemTableSize(16 << 20).
		WithValueLogFileSize(64 << 20).
		WithNumMemtables(2)

	bdb, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB: %w", err)
	}
	return &Badger{db: bdb}, nil
}

// Close closes the underlying database.
func (b *Badger) Close() error { return b.db.Close() }

// EnsureIndex is a no-op: vectors are scanned directly.
func (b *Badger) EnsureIndex(context.Context, int) error { return nil }

type badgerRecord struct {
	Kind        string    `json:"kind"`
	Name        string    `json:"name"`
	Parent      string    `json:"parent,omitempty"`
	Description string    `json:"description,omitempty"`
	DataType    string    `json:"data_type,omitempty"`
	Hash        string    `json:"hash"`
	Vector      []float32 `json:"vector,omitempty"`
}

func encodeRecord(rec schema.Indexed) ([]byte, error) {
	e := rec.Element
	return json.Marshal(badgerRecord{
		Kind:        string(e.Kind()),
		Name:        e.QualifiedName(),
		Parent:      e.Parent(),
		Description: e.Description(),
		DataType:    e.DataType(),
		Hash:        rec.Hash,
		Vector:      e.Embedding(),
	})
}

func decodeRecord(val []byte) (schema.Indexed, error) {
	var r badgerRecord
	if err := json.Unmarshal(val, &r); err != nil {
		return schema.Indexed{}, err
	}
	kind, err := schema.ParseKind(r.Kind)
	if err != nil {
		return schema.Indexed{}, err
	}
	e := schema.New(kind, r.Name, r.Parent, r.Description).WithDataType(r.DataType)
	if len(r.Vector) > 0 {
		e = e.WithEmbedding(r.Vector)
	}
	return schema.Indexed{Element: e, Hash: r.Hash}, nil
}

func badgerKey(name string) []byte {
	return append(append([]byte{}, elementPrefix...), name...)
}

// Put writes one element in its own transaction.
func (b *Badger) Put(_ context.Context, rec schema.Indexed) error {
	val, err := encodeRecord(rec)
	if err != nil {
		return fmt.Errorf("encode %s: %w", rec.Element.QualifiedName(), err)
	}
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(badgerKey(rec.Element.QualifiedName()), val)
	})
}

// Delete removes elements by qualified name.
func (b *Badger) Delete(_ context.Context, names ...string) error {
	return b.db.Update(func(txn *badger.Txn) error {
		for _, n := range names {
			if err := txn.Delete(badgerKey(n)); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}
		}
		return nil
	})
}

// Load reads every stored element.
func (b *Badger) Load(ctx context.Context) ([]schema.Indexed, error) {
	var out []schema.Indexed
	err := b.scan(ctx, func(rec schema.Indexed) {
		out = append(out, rec)
	})
	return out, err
}

// Search scans all embedded elements and returns the k most similar.
func (b *Badger) Search(ctx context.Context, vector []float32, k int, kinds []schema.Kind) ([]schema.Hit, error) {
	allowed := make(map[schema.Kind]bool, len(kinds))
	for _, kd := range kinds {
		allowed[kd] = true
	}

	var matches []retrieval.Match
	err := b.scan(ctx, func(rec schema.Indexed) {
		e := rec.Element
		if !e.HasEmbedding() || (len(allowed) > 0 && !allowed[e.Kind()]) {
			return
		}
		matches = append(matches, retrieval.Match{Element: e, Score: cosine(vector, e.Embedding())})
	})
	if err != nil {
		return nil, err
	}

	matches = retrieval.Rank(matches, k)
	hits := make([]schema.Hit, len(matches))
	for i, m := range matches {
		hits[i] = schema.Hit{Name: m.Element.QualifiedName(), Score: m.Score}
	}
	return hits, nil
}

func (b *Badger) scan(ctx context.Context, fn func(schema.Indexed)) error {
	return b.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(elementPrefix); it.ValidForPrefix(elementPrefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var rec schema.Indexed
			err := it.Item().Value(func(val []byte) error {
				var decodeErr error
				rec, decodeErr = decodeRecord(val)
				return decodeErr
			})
			if err != nil {
				return fmt.Errorf("decode %s: %w", it.Item().Key(), err)
			}
			fn(rec)
		}
		return nil
	})
}
