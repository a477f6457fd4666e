// Package signature signs and verifies gateway callbacks with HMAC-SHA256.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Sign returns the lowercase hex HMAC-SHA256 of message under secret.
func Sign(secret, message []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(message)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify compares the candidate against the lowercase hex signature in constant time.
// Only the exact text Sign produces is valid, so case variants are rejected.
func Verify(secret, message []byte, candidate string) bool {
	return hmac.Equal([]byte(Sign(secret, message)), []byte(candidate))
}

// PaymentMessage is the message the gateway signs when a checkout completes.
func PaymentMessage(gatewayOrderID, gatewayPaymentID string) []byte {
	return []byte(gatewayOrderID + "|" + gatewayPaymentID)
}

// VerifyPayment checks a checkout signature under the API key secret.
func VerifyPayment(keySecret, gatewayOrderID, gatewayPaymentID, candidate string) bool {
	return Verify([]byte(keySecret), PaymentMessage(gatewayOrderID, gatewayPaymentID), candidate)
}

// VerifyWebhook checks the raw, unparsed webhook body under the webhook secret.
func VerifyWebhook(webhookSecret string, rawBody []byte, candidate string) bool {
	return Verify([]byte(webhookSecret), rawBody, candidate)
}
