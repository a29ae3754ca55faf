package services

import (
	"context"
	"fmt"
	"math/big"

	"defeatthememe-backend/internal/clients"
	"defeatthememe-backend/internal/config"
	"defeatthememe-backend/internal/metrics"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
)

// ProbeResult is the tri-state outcome of a capability probe.
type ProbeResult int

const (
	// ProbeUnsupported means the check could not be evaluated on this deployment.
	ProbeUnsupported ProbeResult = iota
	// ProbeTrue means the precondition holds.
	ProbeTrue
	// ProbeFalse means the precondition definitively does not hold.
	ProbeFalse
)

func (r ProbeResult) String() string {
	switch r {
	case ProbeTrue:
		return "supported-true"
	case ProbeFalse:
		return "supported-false"
	default:
		return "unsupported"
	}
}

// Probe is one best-effort precondition check.
type Probe struct {
	Name string
	// Check reports whether the precondition holds. err is only informative and
	// should accompany ProbeUnsupported.
	Check func(ctx context.Context) (ProbeResult, error)
	// Reason and Hint are reported when Check returns ProbeFalse.
	Reason string
	Hint   string
}

// ProbeOutcome records what a probe returned.
type ProbeOutcome struct {
	Name   string
	Result ProbeResult
	Err    error
}

// PreflightFailure is a definitive negative from a probe.
type PreflightFailure struct {
	Probe  string
	Reason string
	Hint   string
}

// PreflightTarget is what policies inspect to choose probes.
type PreflightTarget struct {
	Backend   clients.ChainBackend
	Forwarder *clients.ForwarderClient
	Contracts config.ResolvedContracts
	Request   clients.ForwardRequest
}

// PreflightPolicy selects the probes relevant to a request.
type PreflightPolicy interface {
	Probes(target PreflightTarget) []Probe
}

// PreflightValidator runs probes in order and stops at the first ProbeFalse.
type PreflightValidator struct {
	log *logrus.Entry
}

func NewPreflightValidator(log *logrus.Entry) *PreflightValidator {
	return &PreflightValidator{log: log}
}

// Run evaluates probes sequentially. Unsupported probes are logged and skipped.
func (v *PreflightValidator) Run(ctx context.Context, probes []Probe) ([]ProbeOutcome, *PreflightFailure) {
	outcomes := make([]ProbeOutcome, 0, len(probes))
	for _, p := range probes {
		result, err := p.Check(ctx)
		if err != nil && result != ProbeUnsupported {
			result = ProbeUnsupported
		}
		outcomes = append(outcomes, ProbeOutcome{Name: p.Name, Result: result, Err: err})
		metrics.PreflightProbesTotal.WithLabelValues(p.Name, result.String()).Inc()

		switch result {
		case ProbeFalse:
			v.log.WithField("probe", p.Name).Infof("🚫 Preflight check failed: %s", p.Reason)
			return outcomes, &PreflightFailure{Probe: p.Name, Reason: p.Reason, Hint: p.Hint}
		case ProbeUnsupported:
			entry := v.log.WithField("probe", p.Name)
			if err != nil {
				entry = entry.WithError(err)
			}
			entry.Debug("Preflight probe unsupported, skipping")
		}
	}
	return outcomes, nil
}

// GameEnginePolicy checks GameEngine preconditions for requests targeting it.
type GameEnginePolicy struct{}

func (GameEnginePolicy) Probes(t PreflightTarget) []Probe {
	engine := t.Contracts.GameEngine
	if engine == (common.Address{}) || t.Request.To != engine {
		return nil
	}
	return []Probe{
		TrustedForwarderProbe(t.Backend, engine, t.Forwarder.Address()),
		EnemyTypesProbe(t.Backend, engine),
		PlanetOwnershipProbe(t.Backend, t.Contracts.PlanetNFT, t.Request.From),
	}
}

// RegistrarPolicy only allows registrar calls through a deployed forwarder.
type RegistrarPolicy struct{}

func (RegistrarPolicy) Probes(t PreflightTarget) []Probe {
	return []Probe{
		ForwarderDeployedProbe(t.Forwarder),
		TargetProbe("registrar_target", t.Request.To, t.Contracts.Registrar, "target must be the registrar"),
	}
}

// TrustedForwarderProbe checks GameEngine.isTrustedForwarder(forwarder).
func TrustedForwarderProbe(backend clients.ChainBackend, engine, forwarder common.Address) Probe {
	return Probe{
		Name:   "trusted_forwarder",
		Reason: "forwarder not trusted by GameEngine",
		Hint:   "The GameEngine must be deployed with this forwarder as its trusted forwarder",
		Check: func(ctx context.Context) (ProbeResult, error) {
			out, err := clients.CallView(ctx, backend, common.Address{}, engine, nil, clients.GameEngineContractABI(), "isTrustedForwarder", forwarder)
			if err != nil {
				return ProbeUnsupported, err
			}
			return boolProbe(out)
		},
	}
}

// EnemyTypesProbe checks GameEngine.enemyTypesCount() > 0.
func EnemyTypesProbe(backend clients.ChainBackend, engine common.Address) Probe {
	return Probe{
		Name:   "enemy_types",
		Reason: "no enemies: enemyTypesCount is 0",
		Hint:   "An operator must register enemy types on the GameEngine",
		Check: func(ctx context.Context) (ProbeResult, error) {
			return nonZeroProbe(ctx, backend, engine, clients.GameEngineContractABI(), "enemyTypesCount")
		},
	}
}

// PlanetOwnershipProbe checks PlanetNFT.ownedPlanet(owner) != 0.
func PlanetOwnershipProbe(backend clients.ChainBackend, planetNFT, owner common.Address) Probe {
	return Probe{
		Name:   "planet_ownership",
		Reason: "need planet: mint a Planet NFT first",
		Hint:   "Register or mint a Planet NFT, then retry",
		Check: func(ctx context.Context) (ProbeResult, error) {
			if planetNFT == (common.Address{}) {
				return ProbeUnsupported, nil
			}
			return nonZeroProbe(ctx, backend, planetNFT, clients.PlanetNFTContractABI(), "ownedPlanet", owner)
		},
	}
}

// ForwarderDeployedProbe checks that the forwarder address holds bytecode.
func ForwarderDeployedProbe(forwarder *clients.ForwarderClient) Probe {
	return Probe{
		Name:   "forwarder_deployed",
		Reason: fmt.Sprintf("No contract code at forwarder %s", forwarder.Address().Hex()),
		Hint:   "Check the forwarder address configured for this chain",
		Check: func(ctx context.Context) (ProbeResult, error) {
			ok, err := forwarder.HasCode(ctx)
			if err != nil {
				return ProbeUnsupported, err
			}
			if !ok {
				return ProbeFalse, nil
			}
			return ProbeTrue, nil
		},
	}
}

// TargetProbe requires actual == expected. An unconfigured expected address is unsupported.
func TargetProbe(name string, actual, expected common.Address, reason string) Probe {
	return Probe{
		Name:   name,
		Reason: reason,
		Check: func(context.Context) (ProbeResult, error) {
			if expected == (common.Address{}) {
				return ProbeUnsupported, nil
			}
			if actual != expected {
				return ProbeFalse, nil
			}
			return ProbeTrue, nil
		},
	}
}

func boolProbe(out []interface{}) (ProbeResult, error) {
	v, ok := out[0].(bool)
	if !ok {
		return ProbeUnsupported, fmt.Errorf("unexpected output type %T", out[0])
	}
	if v {
		return ProbeTrue, nil
	}
	return ProbeFalse, nil
}

func nonZeroProbe(ctx context.Context, backend clients.ChainBackend, contract common.Address, parsed abi.ABI, method string, args ...interface{}) (ProbeResult, error) {
	if contract == (common.Address{}) {
		return ProbeUnsupported, nil
	}
	out, err := clients.CallView(ctx, backend, common.Address{}, contract, nil, parsed, method, args...)
	if err != nil {
		return ProbeUnsupported, err
	}
	n, ok := out[0].(*big.Int)
	if !ok {
		return ProbeUnsupported, fmt.Errorf("%s: unexpected output type %T", method, out[0])
	}
	if n.Sign() == 0 {
		return ProbeFalse, nil
	}
	return ProbeTrue, nil
}
