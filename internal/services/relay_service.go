package services

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"defeatthememe-backend/internal/clients"
	"defeatthememe-backend/internal/config"
	"defeatthememe-backend/internal/metrics"
	"defeatthememe-backend/internal/models"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

var (
	// ErrUnknownChain is returned when neither the requested nor the default chain is configured.
	ErrUnknownChain = errors.New("relay: chain not configured")
	// ErrVerificationUnavailable wraps a failed forwarder.verify call.
	ErrVerificationUnavailable = errors.New("relay: signature verification unavailable")
)

const (
	MessageInvalidSignature = "Invalid meta-tx signature"
	MessageConfirmedRevert  = "Relayed transaction reverted"
	MessageDuplicate        = "A relay for this sender and nonce is already in progress"
)

var fallbackGasPrice = big.NewInt(5_000_000_000) // 5 gwei

// ChainRelay bundles everything needed to relay on one chain.
type ChainRelay struct {
	ChainID   *big.Int
	Backend   clients.ChainBackend
	Forwarder *clients.ForwarderClient
	Contracts config.ResolvedContracts
	// Relayer is nil when no key is configured; Execute then fails with ErrRelayerKeyMissing.
	Relayer SigningStrategy
	// Decoders maps a target contract to its revert decoder chain.
	Decoders map[common.Address]RevertDecoderChain
}

func (c *ChainRelay) decoderFor(target common.Address) RevertDecoderChain {
	if chain, ok := c.Decoders[target]; ok {
		return chain
	}
	return NewRevertDecoderChain(nil)
}

// RelayOptions tunes submission and confirmation.
type RelayOptions struct {
	DefaultChainID      int64
	ConfirmationTimeout time.Duration
	PollInterval        time.Duration
	GasPriceBumpPercent int64
	GasLimitOverhead    uint64
}

// RelayRequest is one signed forward request to relay.
type RelayRequest struct {
	ChainID   int64
	Request   clients.ForwardRequest
	Signature []byte
	Route     string
}

// RelayResult is the typed terminal outcome of a relay attempt.
type RelayResult struct {
	AttemptID   string             `json:"attemptId"`
	ChainID     int64              `json:"chainId"`
	Status      models.RelayStatus `json:"status"`
	Reason      string             `json:"reason,omitempty"`
	Hint        string             `json:"hint,omitempty"`
	TxHash      string             `json:"hash,omitempty"`
	BlockNumber uint64             `json:"blockNumber,omitempty"`
	GasUsed     uint64             `json:"gasUsed,omitempty"`
	Simulated   bool               `json:"simulated"`
	// InnerSuccess is the target call's outcome as reported by the simulation;
	// nil when the simulation did not run.
	InnerSuccess *bool          `json:"innerSuccess,omitempty"`
	Preflight    []ProbeOutcome `json:"-"`
}

// RelayEvent is published for every finished attempt.
type RelayEvent struct {
	AttemptID string             `json:"attemptId"`
	ChainID   int64              `json:"chainId"`
	From      string             `json:"from"`
	To        string             `json:"to"`
	Status    models.RelayStatus `json:"status"`
	Reason    string             `json:"reason,omitempty"`
	TxHash    string             `json:"hash,omitempty"`
	Timestamp int64              `json:"timestamp"`
}

// RelayService is the verify -> preflight -> simulate -> submit -> confirm pipeline.
type RelayService struct {
	opts      RelayOptions
	chains    map[int64]*ChainRelay
	validator *PreflightValidator
	recorder  RelayAttemptRecorder
	events    EventPublisher
	tracer    trace.Tracer
	log       *logrus.Entry

	senders  *senderLocks
	relayers *relayerNonces
	inflight *inflightSet
}

// NewRelayService creates a service without chains; add them with RegisterChain.
func NewRelayService(opts RelayOptions, validator *PreflightValidator, recorder RelayAttemptRecorder, events EventPublisher, tracer trace.Tracer, log *logrus.Entry) *RelayService {
	if opts.ConfirmationTimeout == 0 {
		opts.ConfirmationTimeout = 60 * time.Second
	}
	if opts.PollInterval == 0 {
		opts.PollInterval = time.Second
	}
	if recorder == nil {
		recorder = NoopRecorder{}
	}
	if events == nil {
		events = NoopPublisher{}
	}
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("")
	}
	return &RelayService{
		opts:      opts,
		chains:    make(map[int64]*ChainRelay),
		validator: validator,
		recorder:  recorder,
		events:    events,
		tracer:    tracer,
		log:       log,
		senders:   newSenderLocks(),
		relayers:  newRelayerNonces(),
		inflight:  newInflightSet(),
	}
}

// RegisterChain makes a chain available for relaying. Not safe once serving.
func (s *RelayService) RegisterChain(chain *ChainRelay) {
	s.chains[chain.ChainID.Int64()] = chain
}

// Chain resolves chainID, falling back to the default chain for unknown ids.
func (s *RelayService) Chain(chainID int64) (*ChainRelay, error) {
	if chain, ok := s.chains[chainID]; ok {
		return chain, nil
	}
	if chain, ok := s.chains[s.opts.DefaultChainID]; ok {
		return chain, nil
	}
	return nil, fmt.Errorf("%w: %d", ErrUnknownChain, chainID)
}

// DefaultChainID is used when a request carries no chain id.
func (s *RelayService) DefaultChainID() int64 { return s.opts.DefaultChainID }

// ChainIDs lists the registered chains.
func (s *RelayService) ChainIDs() []int64 {
	ids := make([]int64, 0, len(s.chains))
	for id := range s.chains {
		ids = append(ids, id)
	}
	return ids
}

// Execute runs the pipeline once. The returned error is non-nil only for
// infrastructure failures; every other outcome is a RelayResult status.
// Nothing is retried.
func (s *RelayService) Execute(ctx context.Context, in RelayRequest, policy PreflightPolicy) (*RelayResult, error) {
	chain, err := s.Chain(in.ChainID)
	if err != nil {
		return nil, err
	}
	if chain.Relayer == nil {
		return nil, ErrRelayerKeyMissing
	}

	req := in.Request.Normalized()
	started := time.Now()
	chainID := chain.ChainID.Int64()
	result := &RelayResult{AttemptID: uuid.New().String(), ChainID: chainID}
	log := s.log.WithFields(logrus.Fields{
		"attempt_id": result.AttemptID,
		"chain_id":   chainID,
		"from":       req.From.Hex(),
		"to":         req.To.Hex(),
		"nonce":      req.Nonce.String(),
	})

	ctx, span := s.tracer.Start(ctx, "relay.execute", trace.WithAttributes(
		attribute.Int64("chain.id", chainID),
		attribute.String("relay.from", req.From.Hex()),
		attribute.String("relay.to", req.To.Hex()),
		attribute.String("relay.nonce", req.Nonce.String()),
	))
	defer span.End()

	attempt := &models.RelayAttempt{
		ID:        result.AttemptID,
		ChainID:   chainID,
		Forwarder: chain.Forwarder.Address().Hex(),
		Route:     in.Route,
		Status:    models.RelayStatusReceived,
		From:      req.From.Hex(),
		To:        req.To.Hex(),
		Nonce:     req.Nonce.String(),
		Gas:       req.Gas.String(),
		Value:     req.Value.String(),
		Data:      hexutil.Encode(req.Data),
	}

	finish := func(status models.RelayStatus, reason string) {
		result.Status = status
		result.Reason = reason
		attempt.Hint = result.Hint
		attempt.Simulated = result.Simulated
		attempt.TxHash = result.TxHash
		if result.BlockNumber != 0 {
			bn := result.BlockNumber
			attempt.BlockNumber = &bn
		}
		if result.GasUsed != 0 {
			gu := result.GasUsed
			attempt.GasUsed = &gu
		}
		attempt.Complete(status, reason, started)
		s.recorder.Finish(ctx, attempt)

		metrics.RelayAttemptsTotal.WithLabelValues(strconv.FormatInt(chainID, 10), string(status)).Inc()
		span.SetAttributes(attribute.String("relay.status", string(status)))
		if status != models.RelayStatusConfirmedSuccess {
			span.SetStatus(codes.Error, reason)
		}
		if err := s.events.Publish(SubjectRelayPrefix+string(status), RelayEvent{
			AttemptID: result.AttemptID,
			ChainID:   chainID,
			From:      attempt.From,
			To:        attempt.To,
			Status:    status,
			Reason:    reason,
			TxHash:    result.TxHash,
			Timestamp: time.Now().UnixMilli(),
		}); err != nil {
			log.WithError(err).Warn("⚠️  Failed to publish relay event")
		}
		log.WithFields(logrus.Fields{"status": status, "tx_hash": result.TxHash, "reason": reason}).Info("📨 Relay attempt finished")
	}

	inflightKey := strings.ToLower(req.From.Hex()) + ":" + req.Nonce.String()
	if !s.inflight.claim(inflightKey) {
		result.Status = models.RelayStatusRejectedDuplicate
		result.Reason = MessageDuplicate
		metrics.RelayAttemptsTotal.WithLabelValues(strconv.FormatInt(chainID, 10), string(result.Status)).Inc()
		log.Warn("⚠️  Duplicate relay rejected")
		return result, nil
	}
	defer s.inflight.release(inflightKey)

	unlock, err := s.senders.Lock(ctx, req.From)
	if err != nil {
		return nil, fmt.Errorf("wait for sender lock: %w", err)
	}
	defer unlock()

	s.recorder.Start(ctx, attempt)

	// received -> verified
	stageStart := time.Now()
	valid, err := chain.Forwarder.Verify(ctx, req, in.Signature)
	observeStage("verify", stageStart)
	if err != nil {
		finish(models.RelayStatusInfrastructureError, err.Error())
		return result, fmt.Errorf("%w: %v", ErrVerificationUnavailable, err)
	}
	if !valid {
		finish(models.RelayStatusRejectedInvalidSignature, MessageInvalidSignature)
		return result, nil
	}

	// verified -> preflight-passed
	if policy != nil && s.validator != nil {
		stageStart = time.Now()
		outcomes, failure := s.validator.Run(ctx, policy.Probes(PreflightTarget{
			Backend:   chain.Backend,
			Forwarder: chain.Forwarder,
			Contracts: chain.Contracts,
			Request:   req,
		}))
		observeStage("preflight", stageStart)
		result.Preflight = outcomes
		if failure != nil {
			result.Hint = failure.Hint
			finish(models.RelayStatusRejectedPreflight, failure.Reason)
			return result, nil
		}
	}

	// preflight-passed -> simulation-passed
	stageStart = time.Now()
	outcome, simErr := chain.Forwarder.SimulateExecute(ctx, chain.Relayer.Address(), req, in.Signature)
	observeStage("simulate", stageStart)
	switch {
	case simErr != nil:
		if data, reverted := revertDataFromError(simErr); reverted {
			result.Simulated = true
			result.InnerSuccess = boolPtr(false)
			result.Hint = SimulationRevertHint
			finish(models.RelayStatusSimulationReverted, chain.decoderFor(req.To).Decode(data))
			return result, nil
		}
		log.WithError(simErr).Warn("⚠️  Simulation unavailable, submitting without it")
	case !outcome.Success:
		result.Simulated = true
		result.InnerSuccess = boolPtr(false)
		result.Hint = SimulationRevertHint
		finish(models.RelayStatusSimulationReverted, chain.decoderFor(req.To).Decode(outcome.ReturnData))
		return result, nil
	default:
		result.Simulated = true
		result.InnerSuccess = boolPtr(true)
	}

	// simulation-passed -> submitted
	stageStart = time.Now()
	tx, err := s.submit(ctx, chain, req, in.Signature)
	observeStage("submit", stageStart)
	if err != nil {
		finish(models.RelayStatusSubmitFailed, err.Error())
		return result, nil
	}
	result.TxHash = tx.Hash().Hex()
	attempt.TxHash = result.TxHash
	span.SetAttributes(attribute.String("relay.tx_hash", result.TxHash))
	log.WithField("tx_hash", result.TxHash).Info("🚀 Relayed transaction submitted")

	// submitted -> confirmed
	stageStart = time.Now()
	receipt, err := s.waitForReceipt(ctx, chain.Backend, tx.Hash())
	observeStage("confirm", stageStart)
	if err != nil {
		finish(models.RelayStatusConfirmationUnknown, err.Error())
		return result, nil
	}
	if receipt.BlockNumber != nil {
		result.BlockNumber = receipt.BlockNumber.Uint64()
	}
	result.GasUsed = receipt.GasUsed
	if receipt.Status != types.ReceiptStatusSuccessful {
		finish(models.RelayStatusConfirmedReverted, MessageConfirmedRevert)
		return result, nil
	}
	finish(models.RelayStatusConfirmedSuccess, "")
	return result, nil
}

// submit signs and broadcasts forwarder.execute from the relayer.
func (s *RelayService) submit(ctx context.Context, chain *ChainRelay, req clients.ForwardRequest, sig []byte) (*types.Transaction, error) {
	input, err := chain.Forwarder.PackExecute(req, sig)
	if err != nil {
		return nil, fmt.Errorf("pack execute: %w", err)
	}
	from := chain.Relayer.Address()
	to := chain.Forwarder.Address()

	nonce, done, err := s.relayers.acquire(ctx, from, func(ctx context.Context) (uint64, error) {
		return chain.Backend.PendingNonceAt(ctx, from)
	})
	if err != nil {
		return nil, fmt.Errorf("get relayer nonce: %w", err)
	}
	sent := false
	defer func() { done(sent) }()
	metrics.RelayerNonce.WithLabelValues(chain.ChainID.String()).Set(float64(nonce))

	gasPrice, err := chain.Backend.SuggestGasPrice(ctx)
	if err != nil || gasPrice == nil || gasPrice.Sign() == 0 {
		s.log.WithError(err).Warn("⚠️  Gas price unavailable, using 5 gwei")
		gasPrice = new(big.Int).Set(fallbackGasPrice)
	} else {
		gasPrice = bumpPercent(gasPrice, s.opts.GasPriceBumpPercent)
	}

	msg := ethereum.CallMsg{From: from, To: &to, GasPrice: gasPrice, Data: input}
	if req.Value.Sign() > 0 {
		msg.Value = req.Value
	}
	gasLimit, err := chain.Backend.EstimateGas(ctx, msg)
	if err != nil || gasLimit == 0 {
		gasLimit = req.Gas.Uint64() + s.opts.GasLimitOverhead
	} else {
		gasLimit = gasLimit * 120 / 100
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    req.Value,
		Gas:      gasLimit,
		GasPrice: gasPrice,
		Data:     input,
	})
	signed, err := chain.Relayer.SignTx(tx, chain.ChainID)
	if err != nil {
		return nil, fmt.Errorf("sign transaction: %w", err)
	}
	if err := chain.Backend.SendTransaction(ctx, signed); err != nil {
		return nil, err
	}
	sent = true
	return signed, nil
}

// waitForReceipt polls until a receipt appears or the confirmation timeout elapses.
// Lookup errors other than not-found are tolerated until the deadline.
func (s *RelayService) waitForReceipt(ctx context.Context, backend clients.ChainBackend, hash common.Hash) (*types.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.ConfirmationTimeout)
	defer cancel()

	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()

	var lastErr error
	for {
		receipt, err := backend.TransactionReceipt(ctx, hash)
		if err == nil && receipt != nil {
			return receipt, nil
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) {
			lastErr = err
		}
		select {
		case <-ctx.Done():
			if lastErr != nil {
				return nil, fmt.Errorf("waiting for receipt of %s: %w", hash.Hex(), lastErr)
			}
			return nil, fmt.Errorf("waiting for receipt of %s: %w", hash.Hex(), ctx.Err())
		case <-ticker.C:
		}
	}
}

// LookupPlanetID reads PlanetNFT.getPlanetIdByOwner(owner). Errors and unset contracts return nil.
func (s *RelayService) LookupPlanetID(ctx context.Context, chainID int64, owner common.Address) *big.Int {
	chain, err := s.Chain(chainID)
	if err != nil || chain.Contracts.PlanetNFT == (common.Address{}) {
		return nil
	}
	out, err := clients.CallView(ctx, chain.Backend, common.Address{}, chain.Contracts.PlanetNFT, nil, clients.PlanetNFTContractABI(), "getPlanetIdByOwner", owner)
	if err != nil {
		s.log.WithError(err).Debug("Planet id lookup failed")
		return nil
	}
	id, _ := out[0].(*big.Int)
	return id
}

func bumpPercent(v *big.Int, percent int64) *big.Int {
	out := new(big.Int).Mul(v, big.NewInt(100+percent))
	return out.Div(out, big.NewInt(100))
}

func observeStage(stage string, started time.Time) {
	metrics.RelayStageDuration.WithLabelValues(stage).Observe(time.Since(started).Seconds())
}

func boolPtr(b bool) *bool { return &b }
