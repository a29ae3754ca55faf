package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"defeatthememe-backend/internal/clients"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
)

// Quantity accepts a JSON number, a decimal string or a 0x-prefixed hex string.
// Negative values are rejected.
type Quantity struct {
	Int *big.Int
	Set bool
}

func (q *Quantity) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	s := strings.Trim(string(data), `"`)
	if s == "" {
		return nil
	}
	v, ok := math.ParseBig256(s)
	if !ok || v.Sign() < 0 {
		return fmt.Errorf("invalid quantity %q", s)
	}
	q.Int, q.Set = v, true
	return nil
}

func (q Quantity) MarshalJSON() ([]byte, error) {
	if q.Int == nil {
		return []byte(`"0"`), nil
	}
	return json.Marshal(q.Int.String())
}

// ForwardRequestDTO is the wire shape of a forward request.
type ForwardRequestDTO struct {
	From  string   `json:"from"`
	To    string   `json:"to"`
	Value Quantity `json:"value"`
	Gas   Quantity `json:"gas"`
	Nonce Quantity `json:"nonce"`
	Data  string   `json:"data"`
}

// RelayExecuteRequest is the body of POST /api/relay/execute and POST /api/relay.
type RelayExecuteRequest struct {
	ChainID   Quantity           `json:"chainId"`
	Request   *ForwardRequestDTO `json:"request"`
	Signature string             `json:"signature"`
}

// PrepareRelayRequest is the body of POST /api/relay/prepare.
type PrepareRelayRequest struct {
	ChainID   Quantity `json:"chainId"`
	From      string   `json:"from"`
	To        string   `json:"to"`
	Data      string   `json:"data"`
	Value     Quantity `json:"value"`
	Operation string   `json:"operation"`
	Gas       Quantity `json:"gas"`
}

// toForwardRequest validates and converts the DTO. A missing gas defaults to defaultGas.
func (d *ForwardRequestDTO) toForwardRequest(defaultGas uint64) (clients.ForwardRequest, error) {
	if !common.IsHexAddress(d.From) {
		return clients.ForwardRequest{}, fmt.Errorf("request.from must be a hex address")
	}
	if !common.IsHexAddress(d.To) {
		return clients.ForwardRequest{}, fmt.Errorf("request.to must be a hex address")
	}
	if !d.Nonce.Set {
		return clients.ForwardRequest{}, fmt.Errorf("request.nonce is required")
	}
	data, err := decodeHexData(d.Data)
	if err != nil {
		return clients.ForwardRequest{}, fmt.Errorf("request.data: %w", err)
	}
	gas := new(big.Int).SetUint64(defaultGas)
	if d.Gas.Set {
		gas = d.Gas.Int
	}
	return clients.ForwardRequest{
		From:  common.HexToAddress(d.From),
		To:    common.HexToAddress(d.To),
		Value: d.Value.Int,
		Gas:   gas,
		Nonce: d.Nonce.Int,
		Data:  data,
	}.Normalized(), nil
}

func decodeHexData(s string) ([]byte, error) {
	if s == "" || s == "0x" {
		return []byte{}, nil
	}
	if !strings.HasPrefix(s, "0x") {
		s = "0x" + s
	}
	return hexutil.Decode(s)
}

func chainIDOr(q Quantity, fallback int64) int64 {
	if !q.Set || !q.Int.IsInt64() {
		return fallback
	}
	return q.Int.Int64()
}
