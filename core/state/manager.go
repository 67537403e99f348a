package state

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/rlp"

	"itemescrow/native/market"
	"itemescrow/storage"
)

var errReadOnly = errors.New("state: write attempted in read-only transaction")

// Manager is the ledger store. It serialises mutations behind a single write
// lock and commits each transaction's staged writes as one storage batch, so
// readers never observe a partially applied transition.
type Manager struct {
	mu sync.RWMutex
	db storage.Database
}

// NewManager creates a state manager backed by db.
func NewManager(db storage.Database) *Manager {
	if db == nil {
		panic("state: nil database")
	}
	return &Manager{db: db}
}

// Update runs fn against a writable overlay. The overlay is committed only if
// fn returns nil; otherwise every staged write is discarded. Hooks registered
// through AfterCommit run after the batch is durable and before the write lock
// is released. If a hook fails, the values the batch overwrote are written back
// and the hook's error is returned; later hooks do not run.
func (m *Manager) Update(fn func(market.LedgerTx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	overlay := newTx(m.db, false)
	if err := fn(overlay); err != nil {
		return err
	}
	prior, err := overlay.preimage()
	if err != nil {
		return err
	}
	if err := writeBatch(m.db, overlay.writes); err != nil {
		return fmt.Errorf("state: commit: %w", err)
	}
	for _, hook := range overlay.hooks {
		if err := hook(); err != nil {
			if restoreErr := writeBatch(m.db, prior); restoreErr != nil {
				return fmt.Errorf("%w; state: restore: %w", err, restoreErr)
			}
			return err
		}
	}
	return nil
}

// View runs fn against the committed state. Writes are rejected.
func (m *Manager) View(fn func(market.LedgerTx) error) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return fn(newTx(m.db, true))
}

// Close releases the underlying database.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.db.Close()
}

// tx stages writes in memory on top of the committed database. A nil value in
// writes marks a deletion.
type tx struct {
	db       storage.Database
	writes   map[string][]byte
	hooks    []func() error
	readOnly bool
}

func newTx(db storage.Database, readOnly bool) *tx {
	return &tx{db: db, writes: make(map[string][]byte), readOnly: readOnly}
}

func (t *tx) get(key []byte) ([]byte, bool, error) {
	if value, ok := t.writes[string(key)]; ok {
		return value, value != nil, nil
	}
	value, err := t.db.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

// kvPut stores value under key using RLP encoding.
func (t *tx) kvPut(key []byte, value interface{}) error {
	if t.readOnly {
		return errReadOnly
	}
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	t.writes[string(key)] = encoded
	return nil
}

func (t *tx) kvDelete(key []byte) error {
	if t.readOnly {
		return errReadOnly
	}
	t.writes[string(key)] = nil
	return nil
}

// kvGet decodes the value stored under key into out. The boolean reports
// whether the key existed.
func (t *tx) kvGet(key []byte, out interface{}) (bool, error) {
	if len(key) == 0 {
		return false, fmt.Errorf("kv: key must not be empty")
	}
	data, ok, err := t.get(key)
	if err != nil || !ok {
		return false, err
	}
	if out == nil {
		return true, nil
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, fmt.Errorf("kv: decode %s: %w", key, err)
	}
	return true, nil
}

// kvGetList decodes an RLP list stored under key into out, which must be a
// pointer to a slice. Missing keys yield an empty slice rather than nil.
func (t *tx) kvGetList(key []byte, out interface{}) error {
	val := reflect.ValueOf(out)
	if val.Kind() != reflect.Ptr || val.IsNil() {
		return fmt.Errorf("kv: destination must be a non-nil pointer")
	}
	elem := val.Elem()
	if elem.Kind() != reflect.Slice {
		return fmt.Errorf("kv: destination must point to a slice")
	}
	ok, err := t.kvGet(key, out)
	if err != nil {
		return err
	}
	if !ok || elem.IsNil() {
		elem.Set(reflect.MakeSlice(elem.Type(), 0, 0))
	}
	return nil
}

// AfterCommit queues hook to run once the transaction has been written.
// Read-only transactions never commit, so the hook is dropped.
func (t *tx) AfterCommit(hook func() error) {
	if t.readOnly || hook == nil {
		return
	}
	t.hooks = append(t.hooks, hook)
}

// preimage captures the committed value of every key the transaction is about
// to write. A nil value marks a key that does not exist yet.
func (t *tx) preimage() (map[string][]byte, error) {
	prior := make(map[string][]byte, len(t.writes))
	for key := range t.writes {
		value, err := t.db.Get([]byte(key))
		if errors.Is(err, storage.ErrNotFound) {
			prior[key] = nil
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("state: preimage %s: %w", key, err)
		}
		prior[key] = value
	}
	return prior, nil
}

// writeBatch applies writes to db as one batch in key order. Nil values are
// deletions.
func writeBatch(db storage.Database, writes map[string][]byte) error {
	if len(writes) == 0 {
		return nil
	}
	keys := make([]string, 0, len(writes))
	for key := range writes {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	batch := db.NewBatch()
	for _, key := range keys {
		if value := writes[key]; value != nil {
			batch.Put([]byte(key), value)
		} else {
			batch.Delete([]byte(key))
		}
	}
	return db.WriteBatch(batch)
}
