package handlers

import (
	"errors"
	"net/http"

	"defeatthememe-backend/internal/config"
	"defeatthememe-backend/internal/models"
	"defeatthememe-backend/internal/services"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// RelayHandler exposes the meta-transaction relay.
type RelayHandler struct {
	relay       *services.RelayService
	contracts   *config.ContractRegistry
	gasCeilings map[string]uint64
	defaultGas  uint64
	devMode     bool
	log         *logrus.Entry
}

// NewRelayHandler creates the handler. contracts may be nil, in which case the
// forwarder endpoint only reports registered chains.
func NewRelayHandler(relay *services.RelayService, contracts *config.ContractRegistry, gasCeilings map[string]uint64, defaultGas uint64, devMode bool, log *logrus.Entry) *RelayHandler {
	if defaultGas == 0 {
		defaultGas = 1_000_000
	}
	return &RelayHandler{
		relay:       relay,
		contracts:   contracts,
		gasCeilings: gasCeilings,
		defaultGas:  defaultGas,
		devMode:     devMode,
		log:         log,
	}
}

// ExecuteHandler relays a signed forward request.
// POST /api/relay/execute
func (h *RelayHandler) ExecuteHandler(c *gin.Context) {
	in, ok := h.bindRelayRequest(c, "execute")
	if !ok {
		return
	}

	result, err := h.relay.Execute(c.Request.Context(), in, services.GameEnginePolicy{})
	if err != nil {
		h.writeRelayError(c, err)
		return
	}

	code, body := relayResponse(result)
	c.JSON(code, body)
}

// LegacyRelayHandler relays a registrar call and reports the player's planet id.
// POST /api/relay
func (h *RelayHandler) LegacyRelayHandler(c *gin.Context) {
	in, ok := h.bindRelayRequest(c, "registrar")
	if !ok {
		return
	}

	result, err := h.relay.Execute(c.Request.Context(), in, services.RegistrarPolicy{})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": h.errorMessage(err)})
		return
	}

	switch result.Status {
	case models.RelayStatusConfirmedSuccess, models.RelayStatusConfirmationUnknown:
		var planetID interface{}
		if id := h.relay.LookupPlanetID(c.Request.Context(), result.ChainID, in.Request.From); id != nil {
			planetID = id.String()
		}
		c.JSON(http.StatusOK, gin.H{
			"ok":           true,
			"txHash":       result.TxHash,
			"innerSuccess": result.InnerSuccess,
			"planetId":     planetID,
		})
	default:
		code, _ := relayResponse(result)
		body := gin.H{"ok": false, "error": result.Reason}
		if result.TxHash != "" {
			body["txHash"] = result.TxHash
		}
		c.JSON(code, body)
	}
}

// ForwarderHandler reports the forwarder address for a chain.
// GET /api/relay/forwarder?chainId=
func (h *RelayHandler) ForwarderHandler(c *gin.Context) {
	var q Quantity
	if raw := c.Query("chainId"); raw != "" {
		if err := q.UnmarshalJSON([]byte(raw)); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "chainId must be a number"})
			return
		}
	}
	chainID := chainIDOr(q, h.relay.DefaultChainID())

	if h.contracts != nil {
		if addr, ok := h.contracts.ForwarderAddress(chainID); ok {
			c.JSON(http.StatusOK, gin.H{"chainId": chainID, "address": addr.Hex()})
			return
		}
	}
	c.JSON(http.StatusNotFound, gin.H{"error": "MinimalForwarder not found for chain"})
}

// PrepareHandler returns the typed data a wallet must sign for a call.
// POST /api/relay/prepare
func (h *RelayHandler) PrepareHandler(c *gin.Context) {
	var body PrepareRelayRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	if !common.IsHexAddress(body.From) || !common.IsHexAddress(body.To) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "from and to must be hex addresses"})
		return
	}
	data, err := decodeHexData(body.Data)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "data must be hex"})
		return
	}

	chain, err := h.relay.Chain(chainIDOr(body.ChainID, h.relay.DefaultChainID()))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "MinimalForwarder not found for chain"})
		return
	}

	params := services.BuildParams{
		To:        common.HexToAddress(body.To),
		Data:      data,
		Value:     body.Value.Int,
		Operation: body.Operation,
	}
	if body.Gas.Set && body.Gas.Int.IsUint64() {
		params.Gas = body.Gas.Int.Uint64()
	}

	builder := services.NewRequestBuilder(chain.Forwarder, h.gasCeilings, h.defaultGas)
	req, typed, err := builder.Prepare(c.Request.Context(), common.HexToAddress(body.From), params)
	if err != nil {
		h.writeRelayError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"chainId": chain.ChainID.Int64(),
		"request": gin.H{
			"from":  req.From.Hex(),
			"to":    req.To.Hex(),
			"value": req.Value.String(),
			"gas":   req.Gas.String(),
			"nonce": req.Nonce.String(),
			"data":  hexutil.Encode(req.Data),
		},
		"typedData": typed,
	})
}

func (h *RelayHandler) bindRelayRequest(c *gin.Context, route string) (services.RelayRequest, bool) {
	var body RelayExecuteRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		h.badRequest(c, route, "Invalid request body")
		return services.RelayRequest{}, false
	}
	if body.Request == nil || body.Signature == "" {
		h.badRequest(c, route, "Missing request or signature")
		return services.RelayRequest{}, false
	}
	req, err := body.Request.toForwardRequest(h.defaultGas)
	if err != nil {
		h.badRequest(c, route, err.Error())
		return services.RelayRequest{}, false
	}
	sig, err := hexutil.Decode(body.Signature)
	if err != nil {
		h.badRequest(c, route, "signature must be 0x-prefixed hex")
		return services.RelayRequest{}, false
	}
	return services.RelayRequest{
		ChainID:   chainIDOr(body.ChainID, h.relay.DefaultChainID()),
		Request:   req,
		Signature: sig,
		Route:     route,
	}, true
}

func (h *RelayHandler) badRequest(c *gin.Context, route, msg string) {
	if route == "registrar" {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": msg})
		return
	}
	c.JSON(http.StatusBadRequest, gin.H{"error": msg})
}

func (h *RelayHandler) writeRelayError(c *gin.Context, err error) {
	h.log.WithError(err).Error("❌ Relay request failed")
	switch {
	case errors.Is(err, services.ErrRelayerKeyMissing):
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	case errors.Is(err, services.ErrUnknownChain):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unsupported chain"})
	default:
		body := gin.H{"error": "Relay infrastructure unavailable"}
		if h.devMode {
			body["details"] = err.Error()
		}
		c.JSON(http.StatusBadGateway, body)
	}
}

func (h *RelayHandler) errorMessage(err error) string {
	if h.devMode || errors.Is(err, services.ErrRelayerKeyMissing) {
		return err.Error()
	}
	return "Relay infrastructure unavailable"
}

// relayResponse maps a terminal RelayResult onto the HTTP surface.
func relayResponse(r *services.RelayResult) (int, gin.H) {
	switch r.Status {
	case models.RelayStatusConfirmedSuccess:
		return http.StatusOK, gin.H{"hash": r.TxHash}
	case models.RelayStatusRejectedDuplicate:
		return http.StatusConflict, gin.H{"error": r.Reason}
	case models.RelayStatusSubmitFailed, models.RelayStatusInfrastructureError:
		return http.StatusBadGateway, gin.H{"error": r.Reason}
	case models.RelayStatusConfirmationUnknown, models.RelayStatusConfirmedReverted:
		return http.StatusInternalServerError, gin.H{"error": r.Reason, "hash": r.TxHash}
	default:
		body := gin.H{"error": r.Reason}
		if r.Hint != "" {
			body["hint"] = r.Hint
		}
		return http.StatusBadRequest, body
	}
}
