package services

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"defeatthememe-backend/internal/clients"
	"defeatthememe-backend/internal/clients/chaintest"
	"defeatthememe-backend/internal/config"
	"defeatthememe-backend/internal/logger"
	"defeatthememe-backend/internal/models"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

const testChainID = 31337

type recordingPublisher struct {
	mu       sync.Mutex
	subjects []string
	payloads []interface{}
}

func (p *recordingPublisher) Publish(subject string, payload interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subjects = append(p.subjects, subject)
	p.payloads = append(p.payloads, payload)
	return nil
}

type recordingRecorder struct {
	mu       sync.Mutex
	started  int
	finished []models.RelayStatus
}

func (r *recordingRecorder) Start(context.Context, *models.RelayAttempt) {
	r.mu.Lock()
	r.started++
	r.mu.Unlock()
}

func (r *recordingRecorder) Finish(_ context.Context, a *models.RelayAttempt) {
	r.mu.Lock()
	r.finished = append(r.finished, a.Status)
	r.mu.Unlock()
}

type relayFixture struct {
	chain     *chaintest.Chain
	svc       *RelayService
	forwarder *clients.ForwarderClient
	user      *KeySigner
	events    *recordingPublisher
	recorder  *recordingRecorder
}

func newRelayFixture(t *testing.T) *relayFixture {
	t.Helper()
	chain := newFakeChain(testChainID)

	relayerKey, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate relayer key: %v", err)
	}
	relayer, err := NewPrivateKeySigningStrategy(hexutil.Encode(crypto.FromECDSA(relayerKey)))
	if err != nil {
		t.Fatalf("relayer strategy: %v", err)
	}
	userKey, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate user key: %v", err)
	}

	forwarder := clients.NewForwarderClient(chain, testForwarder, big.NewInt(testChainID))
	events := &recordingPublisher{}
	recorder := &recordingRecorder{}
	log := logger.Discard()
	svc := NewRelayService(RelayOptions{
		DefaultChainID:      testChainID,
		ConfirmationTimeout: 200 * time.Millisecond,
		PollInterval:        5 * time.Millisecond,
		GasLimitOverhead:    50_000,
	}, NewPreflightValidator(log), recorder, events, nil, log)
	svc.RegisterChain(&ChainRelay{
		ChainID:   big.NewInt(testChainID),
		Backend:   chain,
		Forwarder: forwarder,
		Contracts: config.ResolvedContracts{
			ChainID:    testChainID,
			Forwarder:  testForwarder,
			GameEngine: testEngine,
			PlanetNFT:  testPlanetNFT,
		},
		Relayer: relayer,
	})

	return &relayFixture{
		chain:     chain,
		svc:       svc,
		forwarder: forwarder,
		user:      NewKeySignerFromECDSA(userKey),
		events:    events,
		recorder:  recorder,
	}
}

func (f *relayFixture) signed(t *testing.T, to common.Address) RelayRequest {
	t.Helper()
	return f.signedBy(t, f.user, to)
}

func (f *relayFixture) signedBy(t *testing.T, user *KeySigner, to common.Address) RelayRequest {
	t.Helper()
	builder := NewRequestBuilder(f.forwarder, config.DefaultGasCeilings, 1_000_000)
	signed, err := builder.Build(context.Background(), user, BuildParams{To: to, Data: []byte{0x01, 0x02}, Operation: "startGame"})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return RelayRequest{ChainID: testChainID, Request: signed.Request, Signature: signed.Signature, Route: "execute"}
}

func TestExecuteConfirmedSuccess(t *testing.T) {
	f := newRelayFixture(t)
	f.chain.Planets[f.user.Address()] = 7

	result, err := f.svc.Execute(context.Background(), f.signed(t, testEngine), GameEnginePolicy{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Status != models.RelayStatusConfirmedSuccess {
		t.Fatalf("status = %s (%s), want confirmed-success", result.Status, result.Reason)
	}
	if f.chain.SentCount() != 1 {
		t.Fatalf("sent %d transactions, want 1", f.chain.SentCount())
	}
	if want := f.chain.Sent()[0].Hash().Hex(); result.TxHash != want {
		t.Errorf("TxHash = %s, want submitted hash %s", result.TxHash, want)
	}
	if !result.Simulated {
		t.Error("Simulated = false, want true")
	}
	if result.InnerSuccess == nil || !*result.InnerSuccess {
		t.Errorf("InnerSuccess = %v, want true", result.InnerSuccess)
	}
	if result.BlockNumber != 42 || result.GasUsed != 80_000 {
		t.Errorf("receipt fields = %d/%d", result.BlockNumber, result.GasUsed)
	}
	if len(f.events.subjects) != 1 || f.events.subjects[0] != SubjectRelayPrefix+string(models.RelayStatusConfirmedSuccess) {
		t.Errorf("events = %v", f.events.subjects)
	}
	if f.recorder.started != 1 || len(f.recorder.finished) != 1 {
		t.Errorf("recorder started=%d finished=%v", f.recorder.started, f.recorder.finished)
	}

	signer, err := types.Sender(types.LatestSignerForChainID(big.NewInt(testChainID)), f.chain.Sent()[0])
	if err != nil {
		t.Fatalf("recover tx sender: %v", err)
	}
	if signer == f.user.Address() {
		t.Error("outer transaction was signed by the user instead of the relayer")
	}
}

func TestExecuteSimulationRevertDoesNotSubmit(t *testing.T) {
	f := newRelayFixture(t)
	f.chain.Planets[f.user.Address()] = 1
	f.chain.InnerSuccess = false
	f.chain.InnerReturn = []byte{0x12, 0x34, 0x56, 0x78}

	result, err := f.svc.Execute(context.Background(), f.signed(t, testEngine), GameEnginePolicy{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Status != models.RelayStatusSimulationReverted {
		t.Fatalf("status = %s, want simulation-reverted", result.Status)
	}
	if result.Reason == "" {
		t.Error("simulated revert carried an empty reason")
	}
	if !strings.Contains(result.Reason, "0x12345678") {
		t.Errorf("reason %q does not name the selector", result.Reason)
	}
	if result.Hint != SimulationRevertHint {
		t.Errorf("hint = %q", result.Hint)
	}
	if result.InnerSuccess == nil || *result.InnerSuccess {
		t.Errorf("InnerSuccess = %v, want false", result.InnerSuccess)
	}
	if f.chain.SentCount() != 0 {
		t.Errorf("sent %d transactions after a simulated revert", f.chain.SentCount())
	}
}

func TestExecuteSimulationRevertFromNodeError(t *testing.T) {
	f := newRelayFixture(t)
	f.chain.Planets[f.user.Address()] = 1
	f.chain.SimulateErr = chaintest.RevertWithReason("session still active")

	result, err := f.svc.Execute(context.Background(), f.signed(t, testEngine), GameEnginePolicy{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Status != models.RelayStatusSimulationReverted || result.Reason != "session still active" {
		t.Fatalf("result = %s %q", result.Status, result.Reason)
	}
	if f.chain.SentCount() != 0 {
		t.Error("transaction submitted after simulated revert")
	}
}

func TestExecuteSimulationUnavailableStillSubmits(t *testing.T) {
	f := newRelayFixture(t)
	f.chain.Planets[f.user.Address()] = 1
	f.chain.SimulateErr = errors.New("connection reset")

	result, err := f.svc.Execute(context.Background(), f.signed(t, testEngine), GameEnginePolicy{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Status != models.RelayStatusConfirmedSuccess {
		t.Fatalf("status = %s, want confirmed-success", result.Status)
	}
	if result.Simulated {
		t.Error("Simulated = true although simulation failed")
	}
	if result.InnerSuccess != nil {
		t.Errorf("InnerSuccess = %v, want unknown without a simulation", *result.InnerSuccess)
	}
}

func TestExecuteConfirmedReverted(t *testing.T) {
	f := newRelayFixture(t)
	f.chain.Planets[f.user.Address()] = 1
	f.chain.ReceiptStatus = types.ReceiptStatusFailed

	result, err := f.svc.Execute(context.Background(), f.signed(t, testEngine), GameEnginePolicy{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Status != models.RelayStatusConfirmedReverted {
		t.Fatalf("status = %s, want confirmed-reverted", result.Status)
	}
	if result.TxHash == "" {
		t.Error("confirmed-reverted result has no hash")
	}
}

func TestExecuteConfirmationUnknown(t *testing.T) {
	f := newRelayFixture(t)
	f.chain.Planets[f.user.Address()] = 1
	f.chain.ReceiptErr = errors.New("rpc down")

	result, err := f.svc.Execute(context.Background(), f.signed(t, testEngine), GameEnginePolicy{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Status != models.RelayStatusConfirmationUnknown || result.TxHash == "" {
		t.Fatalf("result = %s hash=%q", result.Status, result.TxHash)
	}
}

func TestExecuteInvalidSignature(t *testing.T) {
	f := newRelayFixture(t)
	in := f.signed(t, testEngine)
	in.Request.Value = big.NewInt(1)

	result, err := f.svc.Execute(context.Background(), in, GameEnginePolicy{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Status != models.RelayStatusRejectedInvalidSignature || result.Reason != MessageInvalidSignature {
		t.Fatalf("result = %s %q", result.Status, result.Reason)
	}
	if f.chain.SentCount() != 0 {
		t.Error("transaction submitted for a bad signature")
	}
}

func TestExecuteStaleNonceRejected(t *testing.T) {
	f := newRelayFixture(t)
	f.chain.Planets[f.user.Address()] = 1
	in := f.signed(t, testEngine)
	if _, err := f.svc.Execute(context.Background(), in, GameEnginePolicy{}); err != nil {
		t.Fatalf("first Execute: %v", err)
	}

	replay, err := f.svc.Execute(context.Background(), in, GameEnginePolicy{})
	if err != nil {
		t.Fatalf("replay Execute: %v", err)
	}
	if replay.Status != models.RelayStatusRejectedInvalidSignature {
		t.Errorf("replayed request status = %s, want rejected-invalid-signature", replay.Status)
	}
}

func TestExecuteVerifyUnavailable(t *testing.T) {
	f := newRelayFixture(t)
	f.chain.VerifyErr = errors.New("dial tcp: refused")

	result, err := f.svc.Execute(context.Background(), f.signed(t, testEngine), GameEnginePolicy{})
	if !errors.Is(err, ErrVerificationUnavailable) {
		t.Fatalf("err = %v, want ErrVerificationUnavailable", err)
	}
	if result == nil || result.Status != models.RelayStatusInfrastructureError {
		t.Fatalf("result = %+v", result)
	}
}

func TestExecutePreflightRejections(t *testing.T) {
	cases := []struct {
		name   string
		setup  func(f *relayFixture)
		reason string
	}{
		{"untrusted forwarder", func(f *relayFixture) { f.chain.Trusted = false }, "forwarder not trusted by GameEngine"},
		{"no enemies", func(f *relayFixture) { f.chain.EnemyTypes = 0 }, "no enemies: enemyTypesCount is 0"},
		{"no planet", func(f *relayFixture) {}, "need planet: mint a Planet NFT first"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newRelayFixture(t)
			if tc.name != "no planet" {
				f.chain.Planets[f.user.Address()] = 1
			}
			tc.setup(f)

			result, err := f.svc.Execute(context.Background(), f.signed(t, testEngine), GameEnginePolicy{})
			if err != nil {
				t.Fatalf("Execute: %v", err)
			}
			if result.Status != models.RelayStatusRejectedPreflight {
				t.Fatalf("status = %s, want rejected-preflight-failed", result.Status)
			}
			if result.Reason != tc.reason {
				t.Errorf("reason = %q, want %q", result.Reason, tc.reason)
			}
			if result.Hint == "" {
				t.Error("preflight rejection without a hint")
			}
			if f.chain.SentCount() != 0 {
				t.Error("transaction submitted despite failed preflight")
			}
		})
	}
}

func TestExecuteUnsupportedProbesDoNotBlock(t *testing.T) {
	f := newRelayFixture(t)
	f.chain.EngineErr = errors.New("execution reverted: function selector was not recognized")
	f.chain.Planets[f.user.Address()] = 1

	result, err := f.svc.Execute(context.Background(), f.signed(t, testEngine), GameEnginePolicy{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Status != models.RelayStatusConfirmedSuccess {
		t.Fatalf("status = %s (%s), want confirmed-success", result.Status, result.Reason)
	}
	unsupported := 0
	for _, o := range result.Preflight {
		if o.Result == ProbeUnsupported {
			unsupported++
		}
	}
	if unsupported != 2 {
		t.Errorf("unsupported probes = %d, want 2 (%+v)", unsupported, result.Preflight)
	}
}

func TestExecuteOtherTargetSkipsGameEngineProbes(t *testing.T) {
	f := newRelayFixture(t)
	f.chain.Trusted = false
	other := common.HexToAddress("0x00000000000000000000000000000000000000c0")

	result, err := f.svc.Execute(context.Background(), f.signed(t, other), GameEnginePolicy{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Status != models.RelayStatusConfirmedSuccess {
		t.Fatalf("status = %s, want confirmed-success", result.Status)
	}
	if len(result.Preflight) != 0 {
		t.Errorf("ran %d probes for a non-engine target", len(result.Preflight))
	}
}

func TestExecuteDuplicateInFlight(t *testing.T) {
	f := newRelayFixture(t)
	f.chain.Planets[f.user.Address()] = 1
	f.chain.SendGate = make(chan struct{})
	f.chain.Sending = make(chan struct{}, 1)
	in := f.signed(t, testEngine)

	done := make(chan *RelayResult, 1)
	go func() {
		result, _ := f.svc.Execute(context.Background(), in, GameEnginePolicy{})
		done <- result
	}()

	select {
	case <-f.chain.Sending:
	case <-time.After(5 * time.Second):
		t.Fatal("first attempt never reached submission")
	}

	dup, err := f.svc.Execute(context.Background(), in, GameEnginePolicy{})
	if err != nil {
		t.Fatalf("duplicate Execute: %v", err)
	}
	if dup.Status != models.RelayStatusRejectedDuplicate {
		t.Errorf("duplicate status = %s, want rejected-duplicate", dup.Status)
	}

	close(f.chain.SendGate)
	first := <-done
	if first == nil || first.Status != models.RelayStatusConfirmedSuccess {
		t.Fatalf("first attempt = %+v", first)
	}
}

func TestExecuteConcurrentUsersGetDistinctRelayerNonces(t *testing.T) {
	f := newRelayFixture(t)
	otherKey, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	other := NewKeySignerFromECDSA(otherKey)
	f.chain.Planets[f.user.Address()] = 1
	f.chain.Planets[other.Address()] = 2
	f.chain.SendGate = make(chan struct{})
	f.chain.Sending = make(chan struct{}, 2)

	requests := []RelayRequest{f.signed(t, testEngine), f.signedBy(t, other, testEngine)}
	results := make(chan *RelayResult, len(requests))
	for _, in := range requests {
		go func(in RelayRequest) {
			result, _ := f.svc.Execute(context.Background(), in, GameEnginePolicy{})
			results <- result
		}(in)
	}

	select {
	case <-f.chain.Sending:
	case <-time.After(5 * time.Second):
		t.Fatal("no attempt reached submission")
	}
	select {
	case <-f.chain.Sending:
		t.Error("second relayer transaction reached broadcast while the first held the relayer nonce")
	case <-time.After(100 * time.Millisecond):
	}
	close(f.chain.SendGate)

	for range requests {
		select {
		case result := <-results:
			if result == nil || result.Status != models.RelayStatusConfirmedSuccess {
				t.Errorf("result = %+v, want confirmed-success", result)
			}
		case <-time.After(5 * time.Second):
			t.Fatal("attempt did not finish")
		}
	}

	sent := f.chain.Sent()
	if len(sent) != 2 {
		t.Fatalf("sent %d transactions, want 2", len(sent))
	}
	if a, b := sent[0].Nonce(), sent[1].Nonce(); a == b {
		t.Errorf("both relayer transactions signed with nonce %d", a)
	}
}

func TestExecuteRelayerKeyMissing(t *testing.T) {
	f := newRelayFixture(t)
	chain, _ := f.svc.Chain(testChainID)
	chain.Relayer = nil

	if _, err := f.svc.Execute(context.Background(), f.signed(t, testEngine), nil); !errors.Is(err, ErrRelayerKeyMissing) {
		t.Errorf("err = %v, want ErrRelayerKeyMissing", err)
	}
}

func TestChainFallsBackToDefault(t *testing.T) {
	f := newRelayFixture(t)
	chain, err := f.svc.Chain(999)
	if err != nil {
		t.Fatalf("Chain: %v", err)
	}
	if chain.ChainID.Int64() != testChainID {
		t.Errorf("chain = %d, want default %d", chain.ChainID.Int64(), testChainID)
	}

	empty := NewRelayService(RelayOptions{DefaultChainID: 1}, nil, nil, nil, nil, logger.Discard())
	if _, err := empty.Chain(1); !errors.Is(err, ErrUnknownChain) {
		t.Errorf("err = %v, want ErrUnknownChain", err)
	}
}

func TestLookupPlanetID(t *testing.T) {
	f := newRelayFixture(t)
	f.chain.Planets[f.user.Address()] = 12
	id := f.svc.LookupPlanetID(context.Background(), testChainID, f.user.Address())
	if id == nil || id.Int64() != 12 {
		t.Errorf("planet id = %v, want 12", id)
	}
}
