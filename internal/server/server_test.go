package server

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/congo-pay/mintledger/internal/auth"
	"github.com/congo-pay/mintledger/internal/config"
	"github.com/congo-pay/mintledger/internal/events"
	"github.com/congo-pay/mintledger/internal/logging"
	"github.com/congo-pay/mintledger/internal/middleware"
	"github.com/congo-pay/mintledger/internal/routes"
)

const (
	testSecret    = "test-secret"
	webhookSecret = "test-webhook-secret"
)

type harness struct {
	t        *testing.T
	srv      *Server
	recorder *events.Recorder
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	cache := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		cache.Close()
		mr.Close()
	})

	cfg := config.Config{
		AppName:         "mintledger-test",
		AppEnv:          "test",
		JWTSecret:       testSecret,
		WebhookSecret:   webhookSecret,
		IdempotencyTTL:  time.Hour,
		ChallengeTTL:    10 * time.Minute,
		ChallengePrefix: "test:challenge:",
		StoreTimeout:    2 * time.Second,
		LimitTimezone:   "UTC",
		DefaultCurrency: "XAF",
		VerifyPerMinute: 10,
		SweepGrace:      time.Minute,
		DailyLimit:      decimal.NewFromInt(1000),
		MonthlyLimit:    decimal.NewFromInt(10000),
		TransferFeeRate: decimal.RequireFromString("0.001"),
		TransferFeeCap:  decimal.NewFromInt(5),
	}
	rec := &events.Recorder{}
	srv, err := New(routes.Deps{Cfg: cfg, Cache: cache, Logger: logging.Discard(), Publisher: rec})
	if err != nil {
		t.Fatalf("build server: %v", err)
	}
	return &harness{t: t, srv: srv, recorder: rec}
}

func (h *harness) token(userID, kyc string) string {
	h.t.Helper()
	token, err := auth.NewVerifier(testSecret).Sign(userID, kyc, time.Hour)
	if err != nil {
		h.t.Fatalf("sign: %v", err)
	}
	return token
}

func (h *harness) do(method, path, token, body string) (int, map[string]any) {
	h.t.Helper()
	return h.send(method, path, token, body, nil)
}

// webhook posts body to a provider callback, signed with secret unless it
// is empty.
func (h *harness) webhook(provider, body, secret string) (int, map[string]any) {
	h.t.Helper()
	headers := map[string]string{}
	if secret != "" {
		headers[middleware.WebhookSignatureHeader] = middleware.SignWebhook([]byte(body), secret)
	}
	return h.send(http.MethodPost, "/api/v1/webhooks/"+provider, "", body, headers)
}

func (h *harness) send(method, path, token, body string, headers map[string]string) (int, map[string]any) {
	h.t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if method != http.MethodGet {
		req.Header.Set("Idempotency-Key", uuid.NewString())
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := h.srv.App().Test(req, 5000)
	if err != nil {
		h.t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil && err != io.EOF {
		h.t.Fatalf("%s %s: decode body: %v", method, path, err)
	}
	return resp.StatusCode, out
}

func (h *harness) lastCode() (string, string) {
	h.t.Helper()
	evs := h.recorder.Named(events.GenerationVerificationRequired)
	if len(evs) == 0 {
		h.t.Fatalf("no verification event published")
	}
	p := evs[len(evs)-1].Payload.(events.VerificationRequiredPayload)
	return p.GenerationID, p.VerificationCode
}

func errorCode(body map[string]any) string {
	e, _ := body["error"].(map[string]any)
	code, _ := e["code"].(string)
	return code
}

func TestGenerationAndTransferFlow(t *testing.T) {
	h := newHarness(t)
	alice, bob := uuid.NewString(), uuid.NewString()
	aliceToken := h.token(alice, auth.KYCApproved)
	bobToken := h.token(bob, "pending")

	status, aliceWallet := h.do(http.MethodPost, "/api/v1/wallets", aliceToken, `{}`)
	if status != http.StatusCreated {
		t.Fatalf("create alice wallet: %d %v", status, aliceWallet)
	}
	status, bobWallet := h.do(http.MethodPost, "/api/v1/wallets", bobToken, `{"currency":"XAF"}`)
	if status != http.StatusCreated {
		t.Fatalf("create bob wallet: %d %v", status, bobWallet)
	}
	aliceID, bobID := aliceWallet["id"].(string), bobWallet["id"].(string)

	status, body := h.do(http.MethodPost, "/api/v1/generations", bobToken, `{"wallet_id":"`+bobID+`","amount":"10","method":"standard"}`)
	if status != http.StatusForbidden {
		t.Fatalf("expected KYC gate, got %d %v", status, body)
	}

	status, body = h.do(http.MethodPost, "/api/v1/generations", aliceToken, `{"wallet_id":"`+aliceID+`","amount":"500","method":"standard"}`)
	if status != http.StatusCreated {
		t.Fatalf("initiate: %d %v", status, body)
	}
	genID, code := h.lastCode()
	if body["generation_id"] != genID {
		t.Fatalf("unexpected generation id %v", body["generation_id"])
	}

	status, body = h.do(http.MethodPost, "/api/v1/generations/"+genID+"/verify", aliceToken, `{"code":"`+code+`"}`)
	if status != http.StatusOK || body["status"] != "completed" {
		t.Fatalf("verify: %d %v", status, body)
	}
	status, body = h.do(http.MethodPost, "/api/v1/generations/"+genID+"/verify", aliceToken, `{"code":"`+code+`"}`)
	if status != http.StatusGone || errorCode(body) != "CODE_EXPIRED" {
		t.Fatalf("second verify: %d %v", status, body)
	}

	status, body = h.do(http.MethodGet, "/api/v1/wallets/"+aliceID+"/balance", aliceToken, "")
	if status != http.StatusOK || body["balance"] != "500.00" || body["daily_generation_remaining"] != "500.00" {
		t.Fatalf("balance: %d %v", status, body)
	}

	status, body = h.do(http.MethodPost, "/api/v1/generations", aliceToken, `{"wallet_id":"`+aliceID+`","amount":"500.01","method":"standard"}`)
	if status != http.StatusUnprocessableEntity || errorCode(body) != "DAILY_LIMIT_EXCEEDED" {
		t.Fatalf("expected daily limit rejection, got %d %v", status, body)
	}

	status, body = h.do(http.MethodPost, "/api/v1/payments/transfer", aliceToken,
		`{"from_wallet_id":"`+aliceID+`","to_wallet_id":"`+bobID+`","amount":"100","client_tx_id":"tx-1"}`)
	if status != http.StatusCreated || body["fee"] != "0.10" || body["from_balance"] != "399.90" {
		t.Fatalf("transfer: %d %v", status, body)
	}
	status, body = h.do(http.MethodPost, "/api/v1/payments/transfer", bobToken,
		`{"from_wallet_id":"`+aliceID+`","to_wallet_id":"`+bobID+`","amount":"1"}`)
	if status != http.StatusForbidden {
		t.Fatalf("expected ownership rejection, got %d %v", status, body)
	}

	status, body = h.do(http.MethodGet, "/api/v1/wallets/"+bobID+"/entries", bobToken, "")
	if status != http.StatusOK {
		t.Fatalf("entries: %d %v", status, body)
	}
	if entries, _ := body["entries"].([]any); len(entries) != 1 {
		t.Fatalf("expected one entry for bob, got %v", body["entries"])
	}
	status, _ = h.do(http.MethodGet, "/api/v1/wallets/"+bobID, aliceToken, "")
	if status != http.StatusNotFound {
		t.Fatalf("foreign wallet must be hidden, got %d", status)
	}
}

func TestWebhookRequiresSignature(t *testing.T) {
	h := newHarness(t)
	owner := uuid.NewString()
	token := h.token(owner, auth.KYCApproved)
	_, w := h.do(http.MethodPost, "/api/v1/wallets", token, `{}`)
	walletID := w["id"].(string)

	forged := `{"external_ref":"po-forged","wallet_id":"` + walletID + `","amount":"1000000","status":"FAILED"}`
	status, body := h.webhook("mtn_momo", forged, "")
	if status != http.StatusUnauthorized || errorCode(body) != "UNAUTHORIZED" {
		t.Fatalf("unsigned webhook: %d %v", status, body)
	}
	status, body = h.webhook("mtn_momo", forged, "guessed-secret")
	if status != http.StatusUnauthorized {
		t.Fatalf("wrongly signed webhook: %d %v", status, body)
	}
	status, body = h.webhook("mtn_momo", forged, webhookSecret)
	if status != http.StatusNotFound || errorCode(body) != "RECORD_NOT_FOUND" {
		t.Fatalf("signed refund without payout: %d %v", status, body)
	}

	_, balance := h.do(http.MethodGet, "/api/v1/wallets/"+walletID+"/balance", token, "")
	if balance["balance"] != "0.00" {
		t.Fatalf("rejected webhooks changed balance: %v", balance["balance"])
	}
	if n := len(h.recorder.Named(events.SettlementReconciled)); n != 0 {
		t.Fatalf("expected no settlement events, got %d", n)
	}
}

func TestPayoutRefundedBySignedWebhook(t *testing.T) {
	h := newHarness(t)
	owner := uuid.NewString()
	token := h.token(owner, auth.KYCApproved)
	_, w := h.do(http.MethodPost, "/api/v1/wallets", token, `{}`)
	walletID := w["id"].(string)

	status, body := h.do(http.MethodPost, "/api/v1/generations", token, `{"wallet_id":"`+walletID+`","amount":"100","method":"standard"}`)
	if status != http.StatusCreated {
		t.Fatalf("initiate: %d %v", status, body)
	}
	genID, code := h.lastCode()
	if status, body = h.do(http.MethodPost, "/api/v1/generations/"+genID+"/verify", token, `{"code":"`+code+`"}`); status != http.StatusOK {
		t.Fatalf("verify: %d %v", status, body)
	}

	payout := `{"provider":"mtn_momo","external_ref":"po-77","wallet_id":"` + walletID + `","amount":"40"}`
	status, body = h.do(http.MethodPost, "/api/v1/payouts", token, payout)
	if status != http.StatusCreated || body["balance"] != "60.00" {
		t.Fatalf("payout: %d %v", status, body)
	}
	status, body = h.do(http.MethodPost, "/api/v1/payouts", h.token(uuid.NewString(), auth.KYCApproved),
		`{"provider":"mtn_momo","external_ref":"po-78","wallet_id":"`+walletID+`","amount":"1"}`)
	if status != http.StatusForbidden {
		t.Fatalf("foreign payout: %d %v", status, body)
	}

	oversized := `{"external_ref":"po-77","wallet_id":"` + walletID + `","amount":"41","status":"FAILED"}`
	status, body = h.webhook("mtn_momo", oversized, webhookSecret)
	if status != http.StatusBadRequest || errorCode(body) != "INVALID_AMOUNT" {
		t.Fatalf("oversized refund: %d %v", status, body)
	}

	refund := `{"external_ref":"po-77","wallet_id":"` + walletID + `","amount":"40","status":"FAILED"}`
	status, body = h.webhook("mtn_momo", refund, webhookSecret)
	if status != http.StatusOK || body["entry_type"] != "refund" || body["duplicate"] != false {
		t.Fatalf("webhook: %d %v", status, body)
	}
	status, body = h.webhook("mtn_momo", refund, webhookSecret)
	if status != http.StatusOK || body["duplicate"] != true {
		t.Fatalf("replayed webhook: %d %v", status, body)
	}
	status, body = h.webhook("unknown", refund, webhookSecret)
	if status != http.StatusBadRequest || errorCode(body) != "INVALID_PARAMETERS" {
		t.Fatalf("unknown provider: %d %v", status, body)
	}

	_, balance := h.do(http.MethodGet, "/api/v1/wallets/"+walletID+"/balance", token, "")
	if balance["balance"] != "100.00" {
		t.Fatalf("expected refunded balance 100.00, got %v", balance["balance"])
	}
}

func TestAuthAndHealth(t *testing.T) {
	h := newHarness(t)

	status, body := h.do(http.MethodGet, "/api/v1/wallet", "", "")
	if status != http.StatusUnauthorized || errorCode(body) != "UNAUTHORIZED" {
		t.Fatalf("expected 401, got %d %v", status, body)
	}

	status, body = h.do(http.MethodPost, "/api/v1/wallets", h.token(uuid.NewString(), auth.KYCApproved), `{"currency":"DOLLARS"}`)
	if status != http.StatusBadRequest || errorCode(body) != "INVALID_PARAMETERS" {
		t.Fatalf("expected validation error, got %d %v", status, body)
	}

	status, body = h.do(http.MethodGet, "/healthz", "", "")
	if status != http.StatusOK {
		t.Fatalf("healthz: %d %v", status, body)
	}
}
