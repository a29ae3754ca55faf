package clients

import (
	"context"
	"encoding/binary"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

type memoryEntity struct {
	key     common.Hash
	payload []byte
	expires uint64
	strs    map[string]string
	nums    map[string]uint64
	meta    EntityMetaData
}

// MemoryEntityStore is a process-local EntityStore with the same query language
// as GolemDB. Every CreateEntities call advances the block height by one.
type MemoryEntityStore struct {
	owner common.Address

	mu       sync.RWMutex
	block    uint64
	counter  uint64
	entities []*memoryEntity
	byKey    map[common.Hash]*memoryEntity
}

// NewMemoryEntityStore creates an empty store owned by owner.
func NewMemoryEntityStore(owner common.Address) *MemoryEntityStore {
	return &MemoryEntityStore{owner: owner, block: 1, byKey: make(map[common.Hash]*memoryEntity)}
}

func (m *MemoryEntityStore) Connect(context.Context) error { return nil }
func (m *MemoryEntityStore) Close()                        {}

// BlockNumber returns the current simulated block height.
func (m *MemoryEntityStore) BlockNumber() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.block
}

// AdvanceBlocks moves the simulated height forward, expiring entities past their BTL.
func (m *MemoryEntityStore) AdvanceBlocks(n uint64) {
	m.mu.Lock()
	m.block += n
	m.mu.Unlock()
}

func (m *MemoryEntityStore) CreateEntities(ctx context.Context, creates []EntityCreate) ([]CreateReceipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.block++
	receipts := make([]CreateReceipt, 0, len(creates))
	for _, c := range creates {
		m.counter++
		var seed [8]byte
		binary.BigEndian.PutUint64(seed[:], m.counter)
		key := crypto.Keccak256Hash(m.owner.Bytes(), seed[:])

		e := &memoryEntity{
			key:     key,
			payload: append([]byte(nil), c.Data...),
			expires: m.block + c.BTL,
			strs:    make(map[string]string, len(c.StringAnnotations)),
			nums:    make(map[string]uint64, len(c.NumericAnnotations)),
		}
		for _, a := range c.StringAnnotations {
			e.strs[a.Key] = a.Value
		}
		for _, a := range c.NumericAnnotations {
			e.nums[a.Key] = a.Value
		}
		e.meta = EntityMetaData{
			Owner:              m.owner,
			ExpiresAtBlock:     e.expires,
			StringAnnotations:  append([]StringAnnotation(nil), c.StringAnnotations...),
			NumericAnnotations: append([]NumericAnnotation(nil), c.NumericAnnotations...),
		}

		m.entities = append(m.entities, e)
		m.byKey[key] = e
		receipts = append(receipts, CreateReceipt{EntityKey: key, ExpirationBlock: e.expires})
	}
	return receipts, nil
}

// QueryEntities returns live entities matching query in insertion order.
func (m *MemoryEntityStore) QueryEntities(ctx context.Context, query string) ([]EntityResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	pred, err := ParseEntityQuery(query)
	if err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	var results []EntityResult
	for _, e := range m.entities {
		if e.expires <= m.block || !pred(e.strs, e.nums) {
			continue
		}
		results = append(results, EntityResult{EntityKey: e.key, StorageValue: append([]byte(nil), e.payload...)})
	}
	return results, nil
}

func (m *MemoryEntityStore) GetEntityMetaData(ctx context.Context, key common.Hash) (*EntityMetaData, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.byKey[key]
	if !ok || e.expires <= m.block {
		return nil, ErrEntityNotFound
	}
	meta := e.meta
	return &meta, nil
}
