package clients

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

const forwardRequestComponents = `[
	{"name":"from","type":"address"},
	{"name":"to","type":"address"},
	{"name":"value","type":"uint256"},
	{"name":"gas","type":"uint256"},
	{"name":"nonce","type":"uint256"},
	{"name":"data","type":"bytes"}
]`

// MinimalForwarderABI covers the forwarder functions the relay calls.
const MinimalForwarderABI = `[
	{"type":"function","name":"getNonce","stateMutability":"view",
	 "inputs":[{"name":"from","type":"address"}],
	 "outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"verify","stateMutability":"view",
	 "inputs":[{"name":"req","type":"tuple","components":` + forwardRequestComponents + `},{"name":"signature","type":"bytes"}],
	 "outputs":[{"name":"","type":"bool"}]},
	{"type":"function","name":"execute","stateMutability":"payable",
	 "inputs":[{"name":"req","type":"tuple","components":` + forwardRequestComponents + `},{"name":"signature","type":"bytes"}],
	 "outputs":[{"name":"success","type":"bool"},{"name":"ret","type":"bytes"}]}
]`

// GameEngineABI holds the GameEngine views used by preflight and the calls players relay.
const GameEngineABI = `[
	{"type":"function","name":"isTrustedForwarder","stateMutability":"view",
	 "inputs":[{"name":"forwarder","type":"address"}],"outputs":[{"name":"","type":"bool"}]},
	{"type":"function","name":"enemyTypesCount","stateMutability":"view",
	 "inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"startGame","stateMutability":"nonpayable","inputs":[],"outputs":[]}
]`

// PlanetNFTABI holds the PlanetNFT ownership views.
const PlanetNFTABI = `[
	{"type":"function","name":"ownedPlanet","stateMutability":"view",
	 "inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"getPlanetIdByOwner","stateMutability":"view",
	 "inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"","type":"uint256"}]}
]`

// GameRegistrarABI holds the registration entry point.
const GameRegistrarABI = `[
	{"type":"function","name":"register","stateMutability":"nonpayable","inputs":[],"outputs":[]}
]`

var (
	forwarderABI  = mustParseABI(MinimalForwarderABI)
	gameEngineABI = mustParseABI(GameEngineABI)
	planetNFTABI  = mustParseABI(PlanetNFTABI)
	registrarABI  = mustParseABI(GameRegistrarABI)
)

// ForwarderABI returns the parsed forwarder ABI.
func ForwarderABI() abi.ABI { return forwarderABI }

// GameEngineContractABI returns the parsed GameEngine view ABI.
func GameEngineContractABI() abi.ABI { return gameEngineABI }

// PlanetNFTContractABI returns the parsed PlanetNFT view ABI.
func PlanetNFTContractABI() abi.ABI { return planetNFTABI }

// RegistrarContractABI returns the parsed registrar ABI.
func RegistrarContractABI() abi.ABI { return registrarABI }

func mustParseABI(doc string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(doc))
	if err != nil {
		panic("invalid embedded ABI: " + err.Error())
	}
	return parsed
}
