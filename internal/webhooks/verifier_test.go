package webhooks_test

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/meridian-crm/meridian/internal/platform/telemetry"
	"github.com/meridian-crm/meridian/internal/webhooks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func shopifySign(t *testing.T, secret string, body []byte) string {
	t.Helper()
	mac := hmac.New(sha256.New, []byte(secret))
	_, err := mac.Write(body)
	require.NoError(t, err)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func stripeSign(t *testing.T, secret string, ts int64, body []byte) string {
	t.Helper()
	mac := hmac.New(sha256.New, []byte(secret))
	_, err := mac.Write([]byte(strconv.FormatInt(ts, 10) + "." + string(body)))
	require.NoError(t, err)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestShopifyVerifier_ValidSignature(t *testing.T) {
	body := []byte(`{"id":1001,"email":"buyer@example.com"}`)
	secret := "shopify-webhook-secret"

	headers := make(http.Header)
	headers.Set("X-Shopify-Hmac-Sha256", shopifySign(t, secret, body))

	verifier := webhooks.NewShopifyVerifier(secret)
	require.NoError(t, verifier.Verify(headers, body, time.Now()))
}

func TestShopifyVerifier_InvalidSignature(t *testing.T) {
	body := []byte(`{"id":1001}`)
	secret := "shopify-webhook-secret"

	headers := make(http.Header)
	headers.Set("X-Shopify-Hmac-Sha256", shopifySign(t, secret, []byte(`{"id":9999}`)))

	verifier := webhooks.NewShopifyVerifier(secret)
	err := verifier.Verify(headers, body, time.Now())
	require.Error(t, err)
	assert.ErrorIs(t, err, webhooks.ErrInvalidSignature)
}

func TestShopifyVerifier_MissingSignature(t *testing.T) {
	verifier := webhooks.NewShopifyVerifier("shopify-webhook-secret")
	err := verifier.Verify(make(http.Header), []byte(`{}`), time.Now())
	assert.ErrorIs(t, err, webhooks.ErrMissingSignature)
}

func captureDefaultLogger(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(telemetry.NewLogger("info", "json", &buf))
	t.Cleanup(func() { slog.SetDefault(prev) })
	return &buf
}

func countWarnings(buf *bytes.Buffer) int {
	return strings.Count(buf.String(), `"level":"WARN"`)
}

func TestShopifyVerifier_UnconfiguredSecretSkipsVerification(t *testing.T) {
	buf := captureDefaultLogger(t)
	verifier := webhooks.NewShopifyVerifier("")

	require.NoError(t, verifier.Verify(make(http.Header), []byte(`{"id":1}`), time.Now()))
	assert.Equal(t, 1, countWarnings(buf))
	assert.Contains(t, buf.String(), "skipping signature verification")

	// The bypass is loud on every delivery, not just the first.
	require.NoError(t, verifier.Verify(make(http.Header), []byte(`{"id":2}`), time.Now()))
	assert.Equal(t, 2, countWarnings(buf))
}

func TestStripeVerifier_UnconfiguredSecretSkipsVerification(t *testing.T) {
	buf := captureDefaultLogger(t)
	verifier := webhooks.NewStripeVerifier("", 5*time.Minute)

	require.NoError(t, verifier.Verify(make(http.Header), []byte(`{"id":"evt_1"}`), time.Now()))
	assert.Equal(t, 1, countWarnings(buf))
	assert.Contains(t, buf.String(), "skipping signature verification")

	require.NoError(t, verifier.Verify(make(http.Header), []byte(`{"id":"evt_2"}`), time.Now()))
	assert.Equal(t, 2, countWarnings(buf))
}

func TestStripeVerifier_ValidSignature(t *testing.T) {
	now := time.Unix(1730000000, 0)
	body := []byte(`{"id":"evt_1","type":"charge.succeeded"}`)
	secret := "whsec_test"

	headers := make(http.Header)
	headers.Set("Stripe-Signature",
		"t="+strconv.FormatInt(now.Unix(), 10)+",v1="+stripeSign(t, secret, now.Unix(), body))

	verifier := webhooks.NewStripeVerifier(secret, 5*time.Minute)
	require.NoError(t, verifier.Verify(headers, body, now))
}

func TestStripeVerifier_SecondSignatureMatches(t *testing.T) {
	now := time.Unix(1730000000, 0)
	body := []byte(`{"id":"evt_1"}`)
	secret := "whsec_test"

	headers := make(http.Header)
	headers.Set("Stripe-Signature",
		"t="+strconv.FormatInt(now.Unix(), 10)+",v1=deadbeef,v1="+stripeSign(t, secret, now.Unix(), body))

	verifier := webhooks.NewStripeVerifier(secret, 5*time.Minute)
	require.NoError(t, verifier.Verify(headers, body, now))
}

func TestStripeVerifier_InvalidSignature(t *testing.T) {
	now := time.Unix(1730000000, 0)
	body := []byte(`{"id":"evt_1"}`)

	headers := make(http.Header)
	headers.Set("Stripe-Signature", "t="+strconv.FormatInt(now.Unix(), 10)+",v1=deadbeef")

	verifier := webhooks.NewStripeVerifier("whsec_test", 5*time.Minute)
	err := verifier.Verify(headers, body, now)
	require.Error(t, err)
	assert.ErrorIs(t, err, webhooks.ErrInvalidSignature)
}

func TestStripeVerifier_ExpiredTimestamp(t *testing.T) {
	now := time.Unix(1730000000, 0)
	body := []byte(`{"id":"evt_1"}`)
	secret := "whsec_test"
	old := now.Add(-10 * time.Minute).Unix()

	headers := make(http.Header)
	headers.Set("Stripe-Signature",
		"t="+strconv.FormatInt(old, 10)+",v1="+stripeSign(t, secret, old, body))

	verifier := webhooks.NewStripeVerifier(secret, 5*time.Minute)
	err := verifier.Verify(headers, body, now)
	require.Error(t, err)
	assert.ErrorIs(t, err, webhooks.ErrTimestampExpired)
}

func TestStripeVerifier_MalformedHeader(t *testing.T) {
	verifier := webhooks.NewStripeVerifier("whsec_test", 5*time.Minute)

	headers := make(http.Header)
	headers.Set("Stripe-Signature", "v1=deadbeef")
	assert.ErrorIs(t, verifier.Verify(headers, []byte(`{}`), time.Now()), webhooks.ErrInvalidTimestamp)

	headers = make(http.Header)
	headers.Set("Stripe-Signature", "t=1730000000")
	assert.ErrorIs(t, verifier.Verify(headers, []byte(`{}`), time.Now()), webhooks.ErrMissingSignature)

	err := verifier.Verify(make(http.Header), []byte(`{}`), time.Now())
	assert.ErrorIs(t, err, webhooks.ErrMissingSignature)
}
