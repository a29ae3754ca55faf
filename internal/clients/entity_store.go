package clients

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"
)

var (
	// ErrStoreNotConnected is returned when an entity store call fails to establish its connection.
	ErrStoreNotConnected = errors.New("entity store: not connected")
	// ErrEntityNotFound is returned by GetEntityMetaData for unknown or expired keys.
	ErrEntityNotFound = errors.New("entity store: entity not found")
)

// StringAnnotation is a string-typed queryable tag on an entity.
type StringAnnotation struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// NumericAnnotation is a numeric queryable tag on an entity.
type NumericAnnotation struct {
	Key   string `json:"key"`
	Value uint64 `json:"value"`
}

// EntityCreate describes one entity to write. BTL is the lifetime in blocks.
type EntityCreate struct {
	Data               []byte
	BTL                uint64
	StringAnnotations  []StringAnnotation
	NumericAnnotations []NumericAnnotation
}

// CreateReceipt is returned for every created entity, in request order.
type CreateReceipt struct {
	EntityKey       common.Hash `json:"entityKey"`
	ExpirationBlock uint64      `json:"expirationBlock"`
}

// EntityResult is one row of a query.
type EntityResult struct {
	EntityKey    common.Hash
	StorageValue []byte
}

// EntityMetaData carries an entity's annotations and expiry.
type EntityMetaData struct {
	Owner              common.Address      `json:"owner"`
	ExpiresAtBlock     uint64              `json:"expiresAtBlock"`
	StringAnnotations  []StringAnnotation  `json:"stringAnnotations"`
	NumericAnnotations []NumericAnnotation `json:"numericAnnotations"`
}

// EntityStore is an append-only annotated entity store. Implementations connect
// lazily and Connect is idempotent.
type EntityStore interface {
	Connect(ctx context.Context) error
	CreateEntities(ctx context.Context, creates []EntityCreate) ([]CreateReceipt, error)
	QueryEntities(ctx context.Context, query string) ([]EntityResult, error)
	GetEntityMetaData(ctx context.Context, key common.Hash) (*EntityMetaData, error)
	Close()
}
