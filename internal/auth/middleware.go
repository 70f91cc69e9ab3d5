package auth

import (
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/0gfoundation/0g-pos-settlement/internal/sigverify"
)

// SignedRequest is the JSON payload inside X-Signed-Message (fields sorted).
type SignedRequest struct {
	Action    string          `json:"action"`
	ExpiresAt int64           `json:"expires_at"`
	Nonce     string          `json:"nonce"`
	Payload   json.RawMessage `json:"payload"`
}

// Context keys set by Middleware.
const (
	WalletKey  = "wallet_address"
	PayloadKey = "signed_payload"
)

const (
	maxFutureWindow = 5 * time.Minute
	nonceKeyPrefix  = "auth:nonce:"
)

// Middleware returns a Gin handler that validates EIP-191 wallet signatures
// over a SignedRequest whose action must equal action. The recovered wallet
// and the signed payload are stored on the context.
func Middleware(rdb *redis.Client, action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		walletAddr := c.GetHeader("X-Wallet-Address")
		signedMsgB64 := c.GetHeader("X-Signed-Message")
		sigHex := c.GetHeader("X-Wallet-Signature")

		if walletAddr == "" || signedMsgB64 == "" || sigHex == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing auth headers"})
			return
		}
		if !common.IsHexAddress(walletAddr) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid X-Wallet-Address"})
			return
		}
		wallet := common.HexToAddress(walletAddr)

		msgBytes, err := base64.StdEncoding.DecodeString(signedMsgB64)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid X-Signed-Message encoding"})
			return
		}

		var req SignedRequest
		if err := json.Unmarshal(msgBytes, &req); err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid signed message JSON"})
			return
		}
		if req.Action != action {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "action mismatch"})
			return
		}
		if req.Nonce == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing nonce"})
			return
		}

		now := time.Now().Unix()
		if req.ExpiresAt <= now {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "request expired"})
			return
		}
		if req.ExpiresAt > now+int64(maxFutureWindow.Seconds()) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "expires_at too far in future"})
			return
		}

		sig, err := hex.DecodeString(strings.TrimPrefix(sigHex, "0x"))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid signature hex"})
			return
		}
		recovered, err := sigverify.RecoverMessage(msgBytes, sig)
		if err != nil || recovered != wallet {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
			return
		}

		// Nonces are scoped per wallet and live until the request expires.
		nonceKey := nonceKeyPrefix + strings.ToLower(wallet.Hex()) + ":" + req.Nonce
		ttl := time.Duration(req.ExpiresAt-now) * time.Second
		set, err := rdb.SetNX(c.Request.Context(), nonceKey, 1, ttl).Result()
		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
		if !set {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "nonce already used"})
			return
		}

		c.Set(WalletKey, wallet)
		c.Set(PayloadKey, []byte(req.Payload))
		c.Next()
	}
}

// Wallet returns the authenticated wallet, or the zero address outside Middleware.
func Wallet(c *gin.Context) common.Address {
	v, _ := c.Get(WalletKey)
	addr, _ := v.(common.Address)
	return addr
}

// Payload returns the signed payload carried by the request.
func Payload(c *gin.Context) []byte {
	v, _ := c.Get(PayloadKey)
	b, _ := v.([]byte)
	return b
}
