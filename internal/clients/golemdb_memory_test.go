package clients

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestMemoryEntityStoreCreateAndQuery(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryEntityStore(common.HexToAddress("0x0000000000000000000000000000000000000001"))

	receipts, err := store.CreateEntities(ctx, []EntityCreate{
		{
			Data:               []byte(`{"n":1}`),
			BTL:                10,
			StringAnnotations:  []StringAnnotation{{Key: "type", Value: "game_result"}},
			NumericAnnotations: []NumericAnnotation{{Key: "score", Value: 100}},
		},
		{
			Data:               []byte(`{"n":2}`),
			BTL:                10,
			StringAnnotations:  []StringAnnotation{{Key: "type", Value: "other"}},
			NumericAnnotations: []NumericAnnotation{{Key: "score", Value: 200}},
		},
	})
	if err != nil {
		t.Fatalf("CreateEntities: %v", err)
	}
	if len(receipts) != 2 || receipts[0].EntityKey == receipts[1].EntityKey {
		t.Fatalf("receipts = %+v, want two distinct keys", receipts)
	}
	if receipts[0].ExpirationBlock != store.BlockNumber()+10 {
		t.Errorf("ExpirationBlock = %d, want %d", receipts[0].ExpirationBlock, store.BlockNumber()+10)
	}

	results, err := store.QueryEntities(ctx, `type = "game_result"`)
	if err != nil {
		t.Fatalf("QueryEntities: %v", err)
	}
	if len(results) != 1 || string(results[0].StorageValue) != `{"n":1}` {
		t.Fatalf("results = %+v", results)
	}

	meta, err := store.GetEntityMetaData(ctx, receipts[1].EntityKey)
	if err != nil {
		t.Fatalf("GetEntityMetaData: %v", err)
	}
	if len(meta.NumericAnnotations) != 1 || meta.NumericAnnotations[0].Value != 200 {
		t.Errorf("meta = %+v", meta)
	}
}

func TestMemoryEntityStoreExpiry(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryEntityStore(common.Address{})
	receipts, err := store.CreateEntities(ctx, []EntityCreate{{Data: []byte("x"), BTL: 5,
		StringAnnotations: []StringAnnotation{{Key: "type", Value: "game_result"}}}})
	if err != nil {
		t.Fatalf("CreateEntities: %v", err)
	}

	store.AdvanceBlocks(4)
	if results, _ := store.QueryEntities(ctx, `type = "game_result"`); len(results) != 1 {
		t.Fatalf("entity expired early: %d results", len(results))
	}

	store.AdvanceBlocks(1)
	if results, _ := store.QueryEntities(ctx, `type = "game_result"`); len(results) != 0 {
		t.Errorf("expired entity still returned")
	}
	if _, err := store.GetEntityMetaData(ctx, receipts[0].EntityKey); !errors.Is(err, ErrEntityNotFound) {
		t.Errorf("GetEntityMetaData err = %v, want ErrEntityNotFound", err)
	}
}

func TestMemoryEntityStoreBadQuery(t *testing.T) {
	store := NewMemoryEntityStore(common.Address{})
	if _, err := store.QueryEntities(context.Background(), `type =`); err == nil {
		t.Error("QueryEntities accepted a malformed query")
	}
}
