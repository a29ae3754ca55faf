package services

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
)

// SimulationRevertFallback is reported when no decoder understands the revert data.
const SimulationRevertFallback = "Inner call would revert (forwarder.execute returned success=false). " +
	"Ensure you own a Planet NFT and that the forwarder is trusted by the target contract."

// SimulationRevertHint accompanies every simulated revert.
const SimulationRevertHint = "Common causes: need planet, enemyTypesCount=0, active session not expired, or wrong forwarder address"

// RevertDecoder turns revert data into a human-readable reason. ok is false when
// the decoder does not recognise the data.
type RevertDecoder interface {
	DecodeRevert(data []byte) (reason string, ok bool)
}

// RevertDecoderFunc adapts a function to RevertDecoder.
type RevertDecoderFunc func(data []byte) (string, bool)

func (f RevertDecoderFunc) DecodeRevert(data []byte) (string, bool) { return f(data) }

// ABIErrorDecoder decodes custom errors declared in a contract ABI.
type ABIErrorDecoder struct {
	ABI abi.ABI
}

func (d ABIErrorDecoder) DecodeRevert(data []byte) (string, bool) {
	if len(data) < 4 || len(d.ABI.Errors) == 0 {
		return "", false
	}
	errDef, err := d.ABI.ErrorByID([4]byte(data[:4]))
	if err != nil {
		return "", false
	}
	args, err := errDef.Unpack(data)
	if err != nil {
		return errDef.Name, true
	}
	values, _ := args.([]interface{})
	if len(values) == 0 {
		return errDef.Name, true
	}
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = fmt.Sprint(v)
	}
	return fmt.Sprintf("%s(%s)", errDef.Name, strings.Join(parts, ", ")), true
}

// StandardRevertDecoder decodes Error(string) and Panic(uint256).
type StandardRevertDecoder struct{}

func (StandardRevertDecoder) DecodeRevert(data []byte) (string, bool) {
	reason, err := abi.UnpackRevert(data)
	if err != nil || reason == "" {
		return "", false
	}
	return reason, true
}

// OpaqueRevertDecoder always succeeds with a fixed message, naming the selector when present.
type OpaqueRevertDecoder struct {
	Message string
}

func (d OpaqueRevertDecoder) DecodeRevert(data []byte) (string, bool) {
	msg := d.Message
	if msg == "" {
		msg = SimulationRevertFallback
	}
	if len(data) >= 4 {
		return fmt.Sprintf("%s (error selector %s)", msg, hexutil.Encode(data[:4])), true
	}
	return msg, true
}

// RevertDecoderChain tries each decoder in order; the first match wins.
type RevertDecoderChain []RevertDecoder

// NewRevertDecoderChain builds target ABI -> standard -> opaque. targetABI may be nil.
func NewRevertDecoderChain(targetABI *abi.ABI) RevertDecoderChain {
	chain := RevertDecoderChain{}
	if targetABI != nil {
		chain = append(chain, ABIErrorDecoder{ABI: *targetABI})
	}
	return append(chain, StandardRevertDecoder{}, OpaqueRevertDecoder{})
}

// Decode never returns an empty string.
func (c RevertDecoderChain) Decode(data []byte) string {
	for _, d := range c {
		if reason, ok := d.DecodeRevert(data); ok && reason != "" {
			return reason
		}
	}
	return SimulationRevertFallback
}

// revertDataFromError extracts revert data from a node "execution reverted" error.
func revertDataFromError(err error) ([]byte, bool) {
	var dataErr rpc.DataError
	if !errors.As(err, &dataErr) {
		return nil, false
	}
	switch v := dataErr.ErrorData().(type) {
	case string:
		data, decodeErr := hexutil.Decode(v)
		if decodeErr != nil {
			return nil, false
		}
		return data, true
	case []byte:
		return v, true
	}
	return nil, false
}
