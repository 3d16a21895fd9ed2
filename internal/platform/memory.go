package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"

	"jilt-connector/internal/model"
)

// MemorySessionStore keeps sessions in process memory. Sessions are stored
// as JSON so callers never share a pointer with the store.
type MemorySessionStore struct {
	mu       sync.Mutex
	sessions map[string][]byte
	seq      atomic.Int64
}

// NewMemorySessionStore returns an empty store.
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{sessions: map[string][]byte{}}
}

func (m *MemorySessionStore) Load(ctx context.Context, id string) (*Session, error) {
	m.mu.Lock()
	data, ok := m.sessions[id]
	m.mu.Unlock()
	if !ok {
		return nil, nil
	}
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decoding session %s: %w", id, err)
	}
	if s.Values == nil {
		s.Values = map[string]string{}
	}
	return &s, nil
}

func (m *MemorySessionStore) Save(ctx context.Context, s *Session) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encoding session %s: %w", s.ID, err)
	}
	m.mu.Lock()
	m.sessions[s.ID] = data
	m.mu.Unlock()
	return nil
}

func (m *MemorySessionStore) New() *Session {
	return NewSession("mem-" + strconv.FormatInt(m.seq.Add(1), 10))
}

// MemoryMetaStore is an in-memory MetaStore.
type MemoryMetaStore struct {
	mu   sync.Mutex
	meta map[int64]map[string]string
}

// NewMemoryMetaStore returns an empty store.
func NewMemoryMetaStore() *MemoryMetaStore {
	return &MemoryMetaStore{meta: map[int64]map[string]string{}}
}

func (m *MemoryMetaStore) GetMeta(ctx context.Context, objectID int64, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.meta[objectID][key], nil
}

func (m *MemoryMetaStore) SetMeta(ctx context.Context, objectID int64, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.meta[objectID] == nil {
		m.meta[objectID] = map[string]string{}
	}
	m.meta[objectID][key] = value
	return nil
}

func (m *MemoryMetaStore) DeleteMeta(ctx context.Context, objectID int64, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.meta[objectID], key)
	return nil
}

// FindByMeta returns the lowest matching object id so results are stable.
func (m *MemoryMetaStore) FindByMeta(ctx context.Context, key, value string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var found int64
	for id, kv := range m.meta {
		if v, ok := kv[key]; ok && v == value && (found == 0 || id < found) {
			found = id
		}
	}
	return found, nil
}

// MemoryOptionStore is an in-memory OptionStore.
type MemoryOptionStore struct {
	mu      sync.Mutex
	options map[string]string
}

// NewMemoryOptionStore returns an empty store.
func NewMemoryOptionStore() *MemoryOptionStore {
	return &MemoryOptionStore{options: map[string]string{}}
}

func (m *MemoryOptionStore) GetOption(ctx context.Context, name string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.options[name], nil
}

func (m *MemoryOptionStore) SetOption(ctx context.Context, name, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.options[name] = value
	return nil
}

// MemoryOrderStore is an in-memory OrderStore. Notes records every note
// added per order.
type MemoryOrderStore struct {
	mu     sync.Mutex
	orders map[int64]*OrderRecord
	Notes  map[int64][]string
}

// NewMemoryOrderStore returns a store holding orders.
func NewMemoryOrderStore(orders ...*OrderRecord) *MemoryOrderStore {
	s := &MemoryOrderStore{orders: map[int64]*OrderRecord{}, Notes: map[int64][]string{}}
	for _, o := range orders {
		s.orders[o.OrderID] = o
	}
	return s
}

// Put adds or replaces an order.
func (m *MemoryOrderStore) Put(o *OrderRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[o.OrderID] = o
}

func (m *MemoryOrderStore) GetOrder(ctx context.Context, id int64) (Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, model.NewNotFoundError("order")
	}
	cp := *o
	return &cp, nil
}

func (m *MemoryOrderStore) UpdateStatus(ctx context.Context, id int64, status, note string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return model.NewNotFoundError("order")
	}
	o.OrderStatus = status
	if note != "" {
		m.Notes[id] = append(m.Notes[id], note)
	}
	return nil
}

func (m *MemoryOrderStore) AddNote(ctx context.Context, id int64, note string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.orders[id]; !ok {
		return model.NewNotFoundError("order")
	}
	m.Notes[id] = append(m.Notes[id], note)
	return nil
}

// MemoryUsers is an in-memory UserDirectory.
type MemoryUsers map[int64]*User

func (m MemoryUsers) GetUser(ctx context.Context, id int64) (*User, error) {
	u, ok := m[id]
	if !ok {
		return nil, model.NewNotFoundError("user")
	}
	return u, nil
}

// MemoryCoupons is a CouponValidator backed by a set of valid codes.
type MemoryCoupons map[string]bool

func (m MemoryCoupons) IsValid(ctx context.Context, code string) bool {
	return m[code]
}
