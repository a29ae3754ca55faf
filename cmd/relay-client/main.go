// Command relay-client builds a forward request, signs it with a local key and
// posts it to the relay, the same way the game client does from a wallet.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"os"
	"strings"
	"time"

	"defeatthememe-backend/internal/clients"
	"defeatthememe-backend/internal/config"
	"defeatthememe-backend/internal/logger"
	"defeatthememe-backend/internal/services"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

func init() {
	logger.Init()
}

type prepareResponse struct {
	ChainID   int64              `json:"chainId"`
	Request   json.RawMessage    `json:"request"`
	TypedData apitypes.TypedData `json:"typedData"`
	Error     string             `json:"error"`
}

func main() {
	var (
		server    string
		rpcURL    string
		chainID   int64
		forwarder string
		to        string
		data      string
		value     string
		operation string
	)
	flag.StringVar(&server, "server", "http://127.0.0.1:8080", "relay backend base URL")
	flag.StringVar(&rpcURL, "rpc", "", "chain RPC URL; when set the request is built locally instead of via /api/relay/prepare")
	flag.Int64Var(&chainID, "chain-id", 31337, "chain id")
	flag.StringVar(&forwarder, "forwarder", "", "forwarder address (local build only; default: ask the backend)")
	flag.StringVar(&to, "to", "", "target contract address")
	flag.StringVar(&data, "data", "0x", "calldata for the target")
	flag.StringVar(&value, "value", "0", "wei forwarded with the call")
	flag.StringVar(&operation, "operation", "submitResult", "operation name used to pick the gas ceiling")
	flag.Parse()

	log := logger.Component("relay-client")

	key := os.Getenv("USER_PRIVATE_KEY")
	if key == "" {
		log.Fatal("USER_PRIVATE_KEY not set")
	}
	signer, err := services.NewKeySigner(key)
	if err != nil {
		log.WithError(err).Fatal("Invalid USER_PRIVATE_KEY")
	}
	if !common.IsHexAddress(to) {
		log.Fatal("-to must be a hex address")
	}
	calldata, err := hexutil.Decode(normalizeHex(data))
	if err != nil {
		log.WithError(err).Fatal("-data must be hex")
	}
	amount, ok := new(big.Int).SetString(value, 10)
	if !ok {
		log.Fatal("-value must be a decimal integer")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	httpClient := &http.Client{Timeout: 90 * time.Second}

	params := services.BuildParams{
		To:        common.HexToAddress(to),
		Data:      calldata,
		Value:     amount,
		Operation: operation,
	}

	var signed *services.SignedForwardRequest
	if rpcURL != "" {
		signed, err = buildLocally(ctx, httpClient, server, rpcURL, chainID, forwarder, signer, params)
	} else {
		signed, err = buildRemotely(ctx, httpClient, server, chainID, signer, params)
	}
	if err != nil {
		log.WithError(err).Fatal("Failed to build forward request")
	}

	req := signed.Request
	body := map[string]interface{}{
		"chainId": chainID,
		"request": map[string]string{
			"from":  req.From.Hex(),
			"to":    req.To.Hex(),
			"value": req.Value.String(),
			"gas":   req.Gas.String(),
			"nonce": req.Nonce.String(),
			"data":  hexutil.Encode(req.Data),
		},
		"signature": hexutil.Encode(signed.Signature),
	}
	status, resp, err := postJSON(ctx, httpClient, server+"/api/relay/execute", body)
	if err != nil {
		log.WithError(err).Fatal("Relay request failed")
	}
	fmt.Printf("HTTP %d\n%s\n", status, resp)
	if status != http.StatusOK {
		os.Exit(1)
	}
}

func buildLocally(ctx context.Context, httpClient *http.Client, server, rpcURL string, chainID int64, forwarder string, signer *services.KeySigner, params services.BuildParams) (*services.SignedForwardRequest, error) {
	if forwarder == "" {
		addr, err := fetchForwarder(ctx, httpClient, server, chainID)
		if err != nil {
			return nil, err
		}
		forwarder = addr
	}
	if !common.IsHexAddress(forwarder) {
		return nil, fmt.Errorf("invalid forwarder address %q", forwarder)
	}

	backend, err := clients.DialChain(ctx, chainID, []string{rpcURL}, logger.Component("relay-client"))
	if err != nil {
		return nil, err
	}
	defer backend.Close()

	fc := clients.NewForwarderClient(backend, common.HexToAddress(forwarder), big.NewInt(chainID))
	builder := services.NewRequestBuilder(fc, config.DefaultGasCeilings, 1_000_000)
	return builder.Build(ctx, signer, params)
}

// buildRemotely asks the backend for the typed data, then signs it locally.
func buildRemotely(ctx context.Context, httpClient *http.Client, server string, chainID int64, signer *services.KeySigner, params services.BuildParams) (*services.SignedForwardRequest, error) {
	value := "0"
	if params.Value != nil {
		value = params.Value.String()
	}
	status, raw, err := postJSON(ctx, httpClient, server+"/api/relay/prepare", map[string]interface{}{
		"chainId":   chainID,
		"from":      signer.Address().Hex(),
		"to":        params.To.Hex(),
		"data":      hexutil.Encode(params.Data),
		"value":     value,
		"operation": params.Operation,
	})
	if err != nil {
		return nil, err
	}
	var prepared prepareResponse
	if err := json.Unmarshal(raw, &prepared); err != nil {
		return nil, fmt.Errorf("decode prepare response: %w", err)
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("prepare failed with HTTP %d: %s", status, prepared.Error)
	}

	var wire struct {
		From, To, Value, Gas, Nonce, Data string
	}
	if err := json.Unmarshal(prepared.Request, &wire); err != nil {
		return nil, fmt.Errorf("decode prepared request: %w", err)
	}
	req, err := parseWireRequest(wire.From, wire.To, wire.Value, wire.Gas, wire.Nonce, wire.Data)
	if err != nil {
		return nil, err
	}

	sig, err := signer.SignTypedData(ctx, prepared.TypedData)
	if err != nil {
		return nil, err
	}
	return &services.SignedForwardRequest{Request: req, Signature: sig, TypedData: prepared.TypedData}, nil
}

func parseWireRequest(from, to, value, gas, nonce, data string) (clients.ForwardRequest, error) {
	parse := func(name, s string) (*big.Int, error) {
		v, ok := new(big.Int).SetString(s, 10)
		if !ok {
			return nil, fmt.Errorf("prepared %s %q is not decimal", name, s)
		}
		return v, nil
	}
	v, err := parse("value", value)
	if err != nil {
		return clients.ForwardRequest{}, err
	}
	g, err := parse("gas", gas)
	if err != nil {
		return clients.ForwardRequest{}, err
	}
	n, err := parse("nonce", nonce)
	if err != nil {
		return clients.ForwardRequest{}, err
	}
	d, err := hexutil.Decode(normalizeHex(data))
	if err != nil {
		return clients.ForwardRequest{}, err
	}
	return clients.ForwardRequest{
		From:  common.HexToAddress(from),
		To:    common.HexToAddress(to),
		Value: v,
		Gas:   g,
		Nonce: n,
		Data:  d,
	}.Normalized(), nil
}

func fetchForwarder(ctx context.Context, httpClient *http.Client, server string, chainID int64) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/api/relay/forwarder?chainId=%d", server, chainID), nil)
	if err != nil {
		return "", err
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var out struct {
		Address string `json:"address"`
		Error   string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("forwarder lookup failed: %s", out.Error)
	}
	return out.Address, nil
}

func postJSON(ctx context.Context, httpClient *http.Client, url string, body interface{}) (int, []byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return 0, nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	return resp.StatusCode, raw, err
}

func normalizeHex(s string) string {
	if s == "" {
		return "0x"
	}
	if !strings.HasPrefix(s, "0x") {
		return "0x" + s
	}
	return s
}
