package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// ContractAddresses are the game contracts deployed on one network.
type ContractAddresses struct {
	Forwarder  string `yaml:"forwarder" json:"forwarder"`
	Registrar  string `yaml:"registrar" json:"registrar"`
	GameEngine string `yaml:"game_engine" json:"game_engine"`
	PlanetNFT  string `yaml:"planet_nft" json:"planet_nft"`
}

// ContractRegistry resolves contract addresses and ABI documents per chain.
type ContractRegistry struct {
	cfg *Config

	mu   sync.RWMutex
	abis map[string]string // path -> JSON
}

// NewContractRegistry creates a registry over cfg.
func NewContractRegistry(cfg *Config) *ContractRegistry {
	return &ContractRegistry{cfg: cfg, abis: make(map[string]string)}
}

// Contracts returns the parsed addresses for chainID. Unset addresses are the zero address.
func (r *ContractRegistry) Contracts(chainID int64) (ResolvedContracts, bool) {
	_, network, ok := r.cfg.NetworkByChainID(chainID)
	if !ok {
		return ResolvedContracts{}, false
	}
	forwarder := network.Contracts.Forwarder
	if r.cfg.Relay.ForwarderOverride != "" {
		forwarder = r.cfg.Relay.ForwarderOverride
	}
	return ResolvedContracts{
		ChainID:    chainID,
		Forwarder:  parseAddress(forwarder),
		Registrar:  parseAddress(network.Contracts.Registrar),
		GameEngine: parseAddress(network.Contracts.GameEngine),
		PlanetNFT:  parseAddress(network.Contracts.PlanetNFT),
	}, true
}

// ForwarderAddress returns the forwarder for chainID, or false when none is deployed.
func (r *ContractRegistry) ForwarderAddress(chainID int64) (common.Address, bool) {
	if r.cfg.Relay.ForwarderOverride != "" && common.IsHexAddress(r.cfg.Relay.ForwarderOverride) {
		return common.HexToAddress(r.cfg.Relay.ForwarderOverride), true
	}
	contracts, ok := r.Contracts(chainID)
	if !ok || contracts.Forwarder == (common.Address{}) {
		return common.Address{}, false
	}
	return contracts.Forwarder, true
}

// ABI returns the JSON ABI referenced as name for chainID, or "" when none is configured.
func (r *ContractRegistry) ABI(chainID int64, name string) (string, error) {
	_, network, ok := r.cfg.NetworkByChainID(chainID)
	if !ok {
		return "", nil
	}
	path := network.ABIReferences[name]
	if path == "" {
		return "", nil
	}

	r.mu.RLock()
	doc, cached := r.abis[path]
	r.mu.RUnlock()
	if cached {
		return doc, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read ABI %s: %w", path, err)
	}
	doc = extractABI(string(data))

	r.mu.Lock()
	r.abis[path] = doc
	r.mu.Unlock()
	return doc, nil
}

// ResolvedContracts holds parsed addresses for one chain.
type ResolvedContracts struct {
	ChainID    int64
	Forwarder  common.Address
	Registrar  common.Address
	GameEngine common.Address
	PlanetNFT  common.Address
}

func parseAddress(s string) common.Address {
	if !common.IsHexAddress(s) {
		return common.Address{}
	}
	return common.HexToAddress(s)
}

// extractABI accepts either a bare ABI array or a deployment artifact with an "abi" field.
func extractABI(doc string) string {
	trimmed := strings.TrimSpace(doc)
	if strings.HasPrefix(trimmed, "[") {
		return trimmed
	}
	var artifact struct {
		ABI json.RawMessage `json:"abi"`
	}
	if err := json.Unmarshal([]byte(trimmed), &artifact); err != nil || len(artifact.ABI) == 0 {
		return trimmed
	}
	return string(artifact.ABI)
}
