package webhooks

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"strings"

	"github.com/goliatone/go-crmsync/core"
)

const DefaultSignatureHeader = "X-GHL-Signature"

type Verifier interface {
	Verify(ctx context.Context, delivery Delivery) error
}

// HMACVerifier checks an HMAC-SHA256 of the raw body carried in a header.
type HMACVerifier struct {
	Header   string
	Prefix   string
	Secret   string
	Encoding string // hex | base64
}

func NewHMACVerifier(cfg core.SyncConfig) HMACVerifier {
	header := strings.TrimSpace(cfg.Gateway.SignatureHeader)
	if header == "" {
		header = DefaultSignatureHeader
	}
	return HMACVerifier{
		Header: header,
		Prefix: strings.TrimSpace(cfg.Gateway.SignaturePrefix),
		Secret: strings.TrimSpace(cfg.WebhookSecret),
	}
}

func (v HMACVerifier) Verify(_ context.Context, delivery Delivery) error {
	secret := strings.TrimSpace(v.Secret)
	if secret == "" {
		return core.ConfigError("webhook_secret", "webhook secret is not configured")
	}
	header := headerValue(delivery.Headers, v.headerName())
	if header == "" {
		return core.SignatureError("missing " + v.headerName() + " header")
	}
	signature := strings.TrimSpace(strings.TrimPrefix(header, strings.TrimSpace(v.Prefix)))
	if signature == "" {
		return core.SignatureError("signature value is empty")
	}

	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(delivery.Body)
	expected := mac.Sum(nil)

	var decoded []byte
	var err error
	switch strings.ToLower(strings.TrimSpace(v.Encoding)) {
	case "base64":
		decoded, err = base64.StdEncoding.DecodeString(signature)
	default:
		decoded, err = hex.DecodeString(signature)
	}
	if err != nil {
		return core.SignatureError("signature is not well formed")
	}
	if subtle.ConstantTimeCompare(decoded, expected) != 1 {
		return core.SignatureError("signature verification failed")
	}
	return nil
}

func (v HMACVerifier) headerName() string {
	if header := strings.TrimSpace(v.Header); header != "" {
		return header
	}
	return DefaultSignatureHeader
}

// Sign returns the hex signature a sender would attach for body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(strings.TrimSpace(secret)))
	_, _ = mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func headerValue(headers map[string]string, key string) string {
	for existing, value := range headers {
		if strings.EqualFold(strings.TrimSpace(existing), strings.TrimSpace(key)) {
			return strings.TrimSpace(value)
		}
	}
	return ""
}
