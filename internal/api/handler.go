package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/holiman/uint256"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/0gfoundation/0g-pos-settlement/internal/auth"
	"github.com/0gfoundation/0g-pos-settlement/internal/brand"
	"github.com/0gfoundation/0g-pos-settlement/internal/metrics"
	"github.com/0gfoundation/0g-pos-settlement/internal/order"
	"github.com/0gfoundation/0g-pos-settlement/internal/settlement"
	"github.com/0gfoundation/0g-pos-settlement/internal/settler"
	"github.com/0gfoundation/0g-pos-settlement/internal/sigverify"
)

// Signed actions. Each authenticated route accepts only its own action.
const (
	ActionSettle           = "settle"
	ActionPreview          = "preview"
	ActionDeposit          = "deposit"
	ActionSetDefaultFee    = "set_default_fee"
	ActionSetFeeLimit      = "set_fee_limit"
	ActionSetFeeReceiver   = "set_fee_receiver"
	ActionRegisterAgent    = "register_agent"
	ActionSelectAgent      = "select_agent"
	ActionClearSponsorship = "clear_sponsorship"
	ActionSetCustomFee     = "set_custom_fee"
	ActionAuthorizeSigner  = "authorize_brand_signer"
	ActionRevokeSigner     = "revoke_brand_signer"
	ActionCommitBrand      = "commit_brand"
)

// Handler serves the settlement HTTP API.
type Handler struct {
	engine   *settlement.Engine
	brands   *brand.Registry
	verifier *sigverify.Registry
	codec    order.Codec
	rdb      *redis.Client
	metrics  *metrics.Metrics
	log      *zap.Logger
}

func NewHandler(engine *settlement.Engine, brands *brand.Registry, verifier *sigverify.Registry, codec order.Codec, rdb *redis.Client, m *metrics.Metrics, log *zap.Logger) *Handler {
	return &Handler{
		engine:   engine,
		brands:   brands,
		verifier: verifier,
		codec:    codec,
		rdb:      rdb,
		metrics:  m,
		log:      log,
	}
}

// Register mounts all routes. Public /v1 reads go through limiter; writes are
// wallet-signed and authenticated per action.
func (h *Handler) Register(r *gin.Engine, limiter *RateLimiter) {
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if h.metrics != nil {
		r.GET("/metrics", gin.WrapH(h.metrics.Handler()))
	}

	// ── Public reads ───────────────────────────────────────────────────────
	pub := r.Group("/v1", limiter.Middleware())
	pub.POST("/orders/decode", h.handleDecode)
	pub.GET("/settings", h.handleSettings)
	pub.GET("/fees/:payer", h.handleFeeSplit)
	pub.GET("/agents/:agent", h.handleAgent)
	pub.GET("/rewards/:signer/:asset", h.handleRewardBalance)
	pub.GET("/balances/:account", h.handleBalance)
	pub.GET("/brands/:brand/signers", h.handleBrandSigners)
	pub.GET("/settlements/jobs/:id", h.handleJob)

	// ── Signed writes ──────────────────────────────────────────────────────
	signed := func(action string) gin.HandlerFunc { return auth.Middleware(h.rdb, action) }
	v1 := r.Group("/v1")
	v1.POST("/settlements", signed(ActionSettle), h.handleSettle)
	v1.POST("/settlements/preview", signed(ActionPreview), h.handlePreview)
	v1.POST("/rewards/deposit", signed(ActionDeposit), h.handleDeposit)

	v1.PUT("/settings/default-fee", signed(ActionSetDefaultFee), h.handleSetDefaultFee)
	v1.PUT("/settings/fee-limit", signed(ActionSetFeeLimit), h.handleSetFeeLimit)
	v1.PUT("/settings/fee-receiver", signed(ActionSetFeeReceiver), h.handleSetFeeReceiver)

	v1.PUT("/agents/:agent", signed(ActionRegisterAgent), h.handleRegisterAgent)
	v1.PUT("/sponsorship", signed(ActionSelectAgent), h.handleSelectAgent)
	v1.DELETE("/sponsorship/:payer", signed(ActionClearSponsorship), h.handleClearSponsorship)
	v1.PUT("/sponsorship/:payer/fee", signed(ActionSetCustomFee), h.handleSetCustomFee)

	v1.PUT("/brands/:brand/signers/:signer", signed(ActionAuthorizeSigner), h.handleAuthorizeSigner)
	v1.DELETE("/brands/:brand/signers/:signer", signed(ActionRevokeSigner), h.handleRevokeSigner)
	v1.PUT("/brands/:brand/committed", signed(ActionCommitBrand), h.handleCommitBrand)
}

// fail logs internal errors and writes the mapped response.
func (h *Handler) fail(c *gin.Context, err error) {
	if statusFor(err) == http.StatusInternalServerError {
		h.log.Error("api: request failed",
			zap.String("path", c.FullPath()),
			zap.Error(err),
		)
	}
	abortWithError(c, err)
}

// bindPayload decodes the signed payload into v.
func bindPayload(c *gin.Context, v any) error {
	raw := auth.Payload(c)
	if len(raw) == 0 {
		raw = []byte("{}")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %v", errInvalidPayload, err)
	}
	return nil
}

func paramAddress(c *gin.Context, name string) (common.Address, error) {
	return order.ParseAddress(name, c.Param(name))
}

// ── Orders ─────────────────────────────────────────────────────────────────

type settleRequest struct {
	URI     string          `json:"uri"`
	Payment json.RawMessage `json:"payment,omitempty"`
}

func (h *Handler) request(submitter common.Address, body settleRequest) (settlement.Request, error) {
	o, err := h.codec.Decode(body.URI)
	if err != nil {
		return settlement.Request{}, err
	}
	req := settlement.Request{Submitter: submitter, Order: o}
	if len(body.Payment) > 0 && string(body.Payment) != "null" {
		m, err := order.DecodeMethodJSON(body.Payment)
		if err != nil {
			return settlement.Request{}, err
		}
		req.Payment = &m
	}
	return req, nil
}

func (h *Handler) handleDecode(c *gin.Context) {
	var body settleRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		h.fail(c, fmt.Errorf("%w: %v", errInvalidPayload, err))
		return
	}
	o, err := h.codec.Decode(body.URI)
	if err != nil {
		h.fail(c, err)
		return
	}
	digest := order.Digest(o, h.engine.Domain())
	settledAt, err := h.engine.ProcessedAt(c.Request.Context(), digest)
	if err != nil {
		h.fail(c, err)
		return
	}

	resp := gin.H{
		"order":     o,
		"digest":    digest.Hex(),
		"processed": settledAt != 0,
	}
	if settledAt != 0 {
		resp["settled_at"] = strconv.FormatUint(settledAt, 10)
	}
	if signer, err := order.Recover(o, h.engine.Domain(), h.verifier); err != nil {
		resp["signature_error"] = err.Error()
	} else {
		resp["signer"] = signer.Hex()
		resp["signer_matches"] = signer == o.POSAddress
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) handleSettle(c *gin.Context) {
	var body settleRequest
	if err := bindPayload(c, &body); err != nil {
		h.fail(c, err)
		return
	}
	submitter := auth.Wallet(c)

	if c.Query("async") == "1" {
		job := settler.Job{Submitter: submitter, URI: body.URI, Payment: body.Payment}
		// Reject undecodable orders up front instead of queueing them.
		if _, err := h.request(submitter, body); err != nil {
			h.fail(c, err)
			return
		}
		job, err := settler.Enqueue(c.Request.Context(), h.rdb, job)
		if err != nil {
			h.fail(c, err)
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"job_id": job.ID, "status": settler.StatusQueued})
		return
	}

	req, err := h.request(submitter, body)
	if err != nil {
		h.fail(c, err)
		return
	}
	rec, err := h.engine.Settle(c.Request.Context(), req)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (h *Handler) handlePreview(c *gin.Context) {
	var body settleRequest
	if err := bindPayload(c, &body); err != nil {
		h.fail(c, err)
		return
	}
	req, err := h.request(auth.Wallet(c), body)
	if err != nil {
		h.fail(c, err)
		return
	}
	rec, err := h.engine.Preview(c.Request.Context(), req)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (h *Handler) handleJob(c *gin.Context) {
	st, err := settler.GetJob(c.Request.Context(), h.rdb, c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	if st == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	c.JSON(http.StatusOK, st)
}

// ── Balances & rewards ─────────────────────────────────────────────────────

func (h *Handler) handleBalance(c *gin.Context) {
	account, err := paramAddress(c, "account")
	if err != nil {
		h.fail(c, err)
		return
	}
	var assetID *uint256.Int
	if s := c.Query("asset"); s != "" {
		if assetID, err = order.ParseAmount("asset", s); err != nil {
			h.fail(c, err)
			return
		}
	}
	bal, err := h.engine.Balance(c.Request.Context(), account, assetID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"account": account.Hex(), "asset": c.Query("asset"), "balance": bal.Dec()})
}

func (h *Handler) handleRewardBalance(c *gin.Context) {
	signer, err := paramAddress(c, "signer")
	if err != nil {
		h.fail(c, err)
		return
	}
	assetID, err := order.ParseAmount("asset", c.Param("asset"))
	if err != nil {
		h.fail(c, err)
		return
	}
	bal, err := h.engine.RewardBalance(c.Request.Context(), signer, assetID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"signer": signer.Hex(), "asset": assetID.Dec(), "balance": bal.Dec()})
}

type depositRequest struct {
	Signer  string `json:"signer"`
	AssetID string `json:"assetId"`
	Amount  string `json:"amount"`
}

func (h *Handler) handleDeposit(c *gin.Context) {
	var body depositRequest
	if err := bindPayload(c, &body); err != nil {
		h.fail(c, err)
		return
	}
	signer, err := order.ParseAddress("signer", body.Signer)
	if err != nil {
		h.fail(c, err)
		return
	}
	assetID, err := order.ParseAmount("assetId", body.AssetID)
	if err != nil {
		h.fail(c, err)
		return
	}
	amount, err := order.ParseAmount("amount", body.Amount)
	if err != nil {
		h.fail(c, err)
		return
	}
	ctx := c.Request.Context()
	if err := h.engine.Deposit(ctx, auth.Wallet(c), signer, assetID, amount); err != nil {
		h.fail(c, err)
		return
	}
	bal, err := h.engine.RewardBalance(ctx, signer, assetID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"signer": signer.Hex(), "asset": assetID.Dec(), "balance": bal.Dec()})
}

// ── Fee settings ───────────────────────────────────────────────────────────

func (h *Handler) handleSettings(c *gin.Context) {
	s, err := h.engine.Settings(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, s)
}

func (h *Handler) handleFeeSplit(c *gin.Context) {
	payer, err := paramAddress(c, "payer")
	if err != nil {
		h.fail(c, err)
		return
	}
	split, err := h.engine.FeeSplit(c.Request.Context(), payer)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, split)
}

func (h *Handler) handleAgent(c *gin.Context) {
	addr, err := paramAddress(c, "agent")
	if err != nil {
		h.fail(c, err)
		return
	}
	a, ok, err := h.engine.Agent(c.Request.Context(), addr)
	if err != nil {
		h.fail(c, err)
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "agent not found"})
		return
	}
	c.JSON(http.StatusOK, a)
}

func (h *Handler) handleSetDefaultFee(c *gin.Context) {
	var body struct {
		DefaultFee uint32 `json:"defaultFee"`
	}
	if err := bindPayload(c, &body); err != nil {
		h.fail(c, err)
		return
	}
	h.respondSettings(c, h.engine.SetDefaultFee(c.Request.Context(), auth.Wallet(c), body.DefaultFee))
}

func (h *Handler) handleSetFeeLimit(c *gin.Context) {
	var body struct {
		FeeLimit uint32 `json:"feeLimit"`
	}
	if err := bindPayload(c, &body); err != nil {
		h.fail(c, err)
		return
	}
	h.respondSettings(c, h.engine.SetFeeLimit(c.Request.Context(), auth.Wallet(c), body.FeeLimit))
}

func (h *Handler) handleSetFeeReceiver(c *gin.Context) {
	var body struct {
		FeeReceiver string `json:"feeReceiver"`
	}
	if err := bindPayload(c, &body); err != nil {
		h.fail(c, err)
		return
	}
	receiver, err := order.ParseAddress("feeReceiver", body.FeeReceiver)
	if err != nil {
		h.fail(c, err)
		return
	}
	h.respondSettings(c, h.engine.SetFeeReceiver(c.Request.Context(), auth.Wallet(c), receiver))
}

func (h *Handler) respondSettings(c *gin.Context, err error) {
	if err != nil {
		h.fail(c, err)
		return
	}
	h.handleSettings(c)
}

// ── Agents & sponsorship ───────────────────────────────────────────────────

func (h *Handler) handleRegisterAgent(c *gin.Context) {
	agent, err := paramAddress(c, "agent")
	if err != nil {
		h.fail(c, err)
		return
	}
	var body struct {
		FeeFraction uint32 `json:"feeFraction"`
	}
	if err := bindPayload(c, &body); err != nil {
		h.fail(c, err)
		return
	}
	ctx := c.Request.Context()
	if err := h.engine.RegisterOrUpdateAgent(ctx, auth.Wallet(c), agent, body.FeeFraction); err != nil {
		h.fail(c, err)
		return
	}
	a, _, err := h.engine.Agent(ctx, agent)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

func (h *Handler) handleSelectAgent(c *gin.Context) {
	var body struct {
		Agent string `json:"agent"`
	}
	if err := bindPayload(c, &body); err != nil {
		h.fail(c, err)
		return
	}
	agent, err := order.ParseAddress("agent", body.Agent)
	if err != nil {
		h.fail(c, err)
		return
	}
	payer := auth.Wallet(c)
	if err := h.engine.SelectAgent(c.Request.Context(), payer, agent); err != nil {
		h.fail(c, err)
		return
	}
	h.respondSponsorship(c, payer)
}

func (h *Handler) handleClearSponsorship(c *gin.Context) {
	payer, err := paramAddress(c, "payer")
	if err != nil {
		h.fail(c, err)
		return
	}
	if err := h.engine.ClearSponsorship(c.Request.Context(), auth.Wallet(c), payer); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) handleSetCustomFee(c *gin.Context) {
	payer, err := paramAddress(c, "payer")
	if err != nil {
		h.fail(c, err)
		return
	}
	var body struct {
		CustomFee uint32 `json:"customFee"`
	}
	if err := bindPayload(c, &body); err != nil {
		h.fail(c, err)
		return
	}
	if err := h.engine.SetCustomFee(c.Request.Context(), auth.Wallet(c), payer, body.CustomFee); err != nil {
		h.fail(c, err)
		return
	}
	h.respondSponsorship(c, payer)
}

func (h *Handler) respondSponsorship(c *gin.Context, payer common.Address) {
	s, _, err := h.engine.Sponsorship(c.Request.Context(), payer)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, s)
}

// ── Brands ─────────────────────────────────────────────────────────────────

// brandParams parses :brand and :signer and checks the caller is the manager.
func (h *Handler) brandParams(c *gin.Context) (brandAddr, signer common.Address, ok bool) {
	if err := h.engine.RequireManager(c.Request.Context(), auth.Wallet(c)); err != nil {
		h.fail(c, err)
		return brandAddr, signer, false
	}
	brandAddr, err := paramAddress(c, "brand")
	if err != nil {
		h.fail(c, err)
		return brandAddr, signer, false
	}
	if c.Param("signer") != "" {
		if signer, err = paramAddress(c, "signer"); err != nil {
			h.fail(c, err)
			return brandAddr, signer, false
		}
	}
	return brandAddr, signer, true
}

func (h *Handler) handleBrandSigners(c *gin.Context) {
	brandAddr, err := paramAddress(c, "brand")
	if err != nil {
		h.fail(c, err)
		return
	}
	ctx := c.Request.Context()
	signers, err := h.brands.Signers(ctx, brandAddr)
	if err != nil {
		h.fail(c, err)
		return
	}
	committed, err := h.brands.IsBrandCommitted(ctx, brandAddr)
	if err != nil {
		h.fail(c, err)
		return
	}
	out := make([]string, len(signers))
	for i, s := range signers {
		out[i] = s.Hex()
	}
	c.JSON(http.StatusOK, gin.H{"brand": brandAddr.Hex(), "committed": committed, "signers": out})
}

func (h *Handler) handleAuthorizeSigner(c *gin.Context) {
	brandAddr, signer, ok := h.brandParams(c)
	if !ok {
		return
	}
	if err := h.brands.Authorize(c.Request.Context(), brandAddr, signer); err != nil {
		h.fail(c, err)
		return
	}
	h.log.Info("brand signer authorized", zap.String("brand", brandAddr.Hex()), zap.String("signer", signer.Hex()))
	c.Status(http.StatusNoContent)
}

func (h *Handler) handleRevokeSigner(c *gin.Context) {
	brandAddr, signer, ok := h.brandParams(c)
	if !ok {
		return
	}
	if err := h.brands.Revoke(c.Request.Context(), brandAddr, signer); err != nil {
		h.fail(c, err)
		return
	}
	h.log.Info("brand signer revoked", zap.String("brand", brandAddr.Hex()), zap.String("signer", signer.Hex()))
	c.Status(http.StatusNoContent)
}

func (h *Handler) handleCommitBrand(c *gin.Context) {
	brandAddr, _, ok := h.brandParams(c)
	if !ok {
		return
	}
	var body struct {
		Committed bool `json:"committed"`
	}
	if err := bindPayload(c, &body); err != nil {
		h.fail(c, err)
		return
	}
	if err := h.brands.SetCommitted(c.Request.Context(), brandAddr, body.Committed); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"brand": brandAddr.Hex(), "committed": body.Committed})
}
