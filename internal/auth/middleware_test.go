package auth

import (
	"crypto/ecdsa"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/0gfoundation/0g-pos-settlement/internal/sigverify"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const testAction = "deposit"

// testSetup creates a miniredis instance and a Gin engine with the auth
// middleware wired up for testAction.
func testSetup(t *testing.T) (*miniredis.Miniredis, *gin.Engine) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	r := gin.New()
	r.POST("/test", Middleware(rdb, testAction), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"wallet":  Wallet(c).Hex(),
			"payload": string(Payload(c)),
		})
	})
	return mr, r
}

func newKey(t *testing.T) *ecdsa.PrivateKey {
	t.Helper()
	k, err := crypto.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	return k
}

// buildRequest creates a signed HTTP request.
// expiresOffset is relative to now (e.g. +2*time.Minute for valid, -1 for expired).
func buildRequest(t *testing.T, key *ecdsa.PrivateKey, action string, expiresOffset time.Duration, nonce string) *http.Request {
	t.Helper()
	sr := SignedRequest{
		Action:    action,
		ExpiresAt: time.Now().Add(expiresOffset).Unix(),
		Nonce:     nonce,
		Payload:   json.RawMessage(`{"amount":"5"}`),
	}
	msgBytes, _ := json.Marshal(sr)

	sig, err := crypto.Sign(sigverify.HashMessage(msgBytes), key)
	if err != nil {
		t.Fatal(err)
	}
	sig[64] += 27

	req := httptest.NewRequest(http.MethodPost, "/test", nil)
	req.Header.Set("X-Wallet-Address", crypto.PubkeyToAddress(key.PublicKey).Hex())
	req.Header.Set("X-Signed-Message", base64.StdEncoding.EncodeToString(msgBytes))
	req.Header.Set("X-Wallet-Signature", "0x"+hex.EncodeToString(sig))
	return req
}

func serve(r *gin.Engine, req *http.Request) (*httptest.ResponseRecorder, map[string]string) {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	var resp map[string]string
	json.Unmarshal(w.Body.Bytes(), &resp) //nolint:errcheck
	return w, resp
}

func TestMiddleware_ValidRequest(t *testing.T) {
	_, r := testSetup(t)
	key := newKey(t)

	w, resp := serve(r, buildRequest(t, key, testAction, 2*time.Minute, "nonce-valid-1"))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if want := crypto.PubkeyToAddress(key.PublicKey).Hex(); resp["wallet"] != want {
		t.Errorf("wallet: got %s, want %s", resp["wallet"], want)
	}
	if resp["payload"] != `{"amount":"5"}` {
		t.Errorf("payload: got %s", resp["payload"])
	}
}

func TestMiddleware_MissingHeaders(t *testing.T) {
	_, r := testSetup(t)

	w, _ := serve(r, httptest.NewRequest(http.MethodPost, "/test", nil))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestMiddleware_Expired(t *testing.T) {
	_, r := testSetup(t)

	w, resp := serve(r, buildRequest(t, newKey(t), testAction, -1*time.Second, "nonce-expired-1"))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d: %s", w.Code, w.Body.String())
	}
	if resp["error"] != "request expired" {
		t.Errorf("unexpected error: %s", resp["error"])
	}
}

func TestMiddleware_TooFarInFuture(t *testing.T) {
	_, r := testSetup(t)

	w, resp := serve(r, buildRequest(t, newKey(t), testAction, 10*time.Minute, "nonce-future-1"))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d: %s", w.Code, w.Body.String())
	}
	if resp["error"] != "expires_at too far in future" {
		t.Errorf("unexpected error: %s", resp["error"])
	}
}

func TestMiddleware_ActionMismatch(t *testing.T) {
	_, r := testSetup(t)

	w, resp := serve(r, buildRequest(t, newKey(t), "set_fee_receiver", 2*time.Minute, "nonce-action-1"))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d: %s", w.Code, w.Body.String())
	}
	if resp["error"] != "action mismatch" {
		t.Errorf("unexpected error: %s", resp["error"])
	}
}

func TestMiddleware_InvalidSignature(t *testing.T) {
	_, r := testSetup(t)

	// Valid request, then swap in a different wallet address
	req := buildRequest(t, newKey(t), testAction, 2*time.Minute, "nonce-badsig-1")
	req.Header.Set("X-Wallet-Address", "0x000000000000000000000000000000000000dEaD")

	w, resp := serve(r, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d: %s", w.Code, w.Body.String())
	}
	if resp["error"] != "invalid signature" {
		t.Errorf("unexpected error: %s", resp["error"])
	}
}

func TestMiddleware_NonceReplay(t *testing.T) {
	_, r := testSetup(t)
	key := newKey(t)

	w1, _ := serve(r, buildRequest(t, key, testAction, 2*time.Minute, "nonce-replay-1"))
	if w1.Code != http.StatusOK {
		t.Fatalf("first request: expected 200, got %d: %s", w1.Code, w1.Body.String())
	}

	w2, resp := serve(r, buildRequest(t, key, testAction, 2*time.Minute, "nonce-replay-1"))
	if w2.Code != http.StatusUnauthorized {
		t.Fatalf("replay: expected 401, got %d: %s", w2.Code, w2.Body.String())
	}
	if resp["error"] != "nonce already used" {
		t.Errorf("unexpected error: %s", resp["error"])
	}
}

func TestMiddleware_NonceScopedPerWallet(t *testing.T) {
	_, r := testSetup(t)

	w1, _ := serve(r, buildRequest(t, newKey(t), testAction, 2*time.Minute, "shared-nonce"))
	w2, _ := serve(r, buildRequest(t, newKey(t), testAction, 2*time.Minute, "shared-nonce"))
	if w1.Code != http.StatusOK || w2.Code != http.StatusOK {
		t.Fatalf("expected both wallets to pass, got %d and %d", w1.Code, w2.Code)
	}
}

func TestMiddleware_NonceExpires(t *testing.T) {
	mr, r := testSetup(t)
	key := newKey(t)

	w1, _ := serve(r, buildRequest(t, key, testAction, 2*time.Minute, "nonce-ttl-1"))
	if w1.Code != http.StatusOK {
		t.Fatalf("first request: expected 200, got %d", w1.Code)
	}

	mr.FastForward(3 * time.Minute)

	w2, _ := serve(r, buildRequest(t, key, testAction, 2*time.Minute, "nonce-ttl-1"))
	if w2.Code != http.StatusOK {
		t.Fatalf("after TTL: expected 200, got %d: %s", w2.Code, w2.Body.String())
	}
}
