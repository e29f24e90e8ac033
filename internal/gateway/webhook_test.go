package gateway

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hustlexp/backend/internal/fault"
)

const testSecret = "whsec_test_secret"

func TestVerifyWebhookValidSignature(t *testing.T) {
	payload := []byte(`{"id":"evt_1","type":"payment_intent.succeeded"}`)
	header := SignatureHeader(testSecret, payload, time.Now().Unix())

	require.NoError(t, VerifyWebhook(testSecret, payload, header, DefaultSignatureTolerance))
}

func TestVerifyWebhookWrongSecret(t *testing.T) {
	payload := []byte(`{"id":"evt_1"}`)
	header := SignatureHeader("whsec_other", payload, time.Now().Unix())

	err := VerifyWebhook(testSecret, payload, header, DefaultSignatureTolerance)
	require.Error(t, err)
	assert.True(t, fault.IsKind(err, fault.AuthorityViolation))
}

func TestVerifyWebhookTamperedPayload(t *testing.T) {
	payload := []byte(`{"amount":10000}`)
	header := SignatureHeader(testSecret, payload, time.Now().Unix())

	err := VerifyWebhook(testSecret, []byte(`{"amount":99999}`), header, DefaultSignatureTolerance)
	require.Error(t, err)
	assert.True(t, fault.IsKind(err, fault.AuthorityViolation))
}

func TestVerifyWebhookStaleTimestamp(t *testing.T) {
	payload := []byte(`{}`)
	stale := time.Now().Add(-10 * time.Minute).Unix()
	header := SignatureHeader(testSecret, payload, stale)

	err := VerifyWebhook(testSecret, payload, header, DefaultSignatureTolerance)
	require.Error(t, err)
	assert.True(t, fault.IsKind(err, fault.AuthorityViolation))

	// Zero tolerance disables the freshness check.
	require.NoError(t, VerifyWebhook(testSecret, payload, header, 0))
}

func TestVerifyWebhookMalformedHeader(t *testing.T) {
	for _, header := range []string{"", "t=,v1=", "v1=abcdef", "t=12345", "garbage"} {
		err := VerifyWebhook(testSecret, []byte(`{}`), header, DefaultSignatureTolerance)
		require.Error(t, err, "header %q must be rejected", header)
		assert.True(t, fault.IsKind(err, fault.AuthorityViolation))
	}
}
