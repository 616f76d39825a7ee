package saltedge

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var errNoPEMBlock = errors.New("no PEM block found")

// Signer produces the Signature header for signed aggregator calls.
type Signer struct {
	key *rsa.PrivateKey
}

func NewSigner(privateKeyPEM string) (*Signer, error) {
	key, err := parsePrivateKey(privateKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("invalid saltedge private key: %w", err)
	}
	return &Signer{key: key}, nil
}

// Sign returns base64(RSA-SHA256("expiresAt|METHOD|fullURL|body")).
func (s *Signer) Sign(expiresAt int64, method, fullURL string, body []byte) (string, error) {
	payload := strconv.FormatInt(expiresAt, 10) + "|" + strings.ToUpper(method) + "|" + fullURL + "|" + string(body)
	digest := sha256.Sum256([]byte(payload))
	sig, err := rsa.SignPKCS1v15(rand.Reader, s.key, crypto.SHA256, digest[:])
	if err != nil {
		return "", fmt.Errorf("failed to sign request: %w", err)
	}
	return base64.StdEncoding.EncodeToString(sig), nil
}

// WebhookVerifier checks the signature header of inbound notifications.
// Without a public key every payload is accepted unverified.
type WebhookVerifier struct {
	key    *rsa.PublicKey
	strict bool
}

func NewWebhookVerifier(publicKeyPEM string, strict bool) (*WebhookVerifier, error) {
	v := &WebhookVerifier{strict: strict}
	if strings.TrimSpace(publicKeyPEM) == "" {
		return v, nil
	}
	key, err := parsePublicKey(publicKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("invalid saltedge public key: %w", err)
	}
	v.key = key
	return v, nil
}

// Configured reports whether a public key is loaded.
func (v *WebhookVerifier) Configured() bool {
	return v.key != nil
}

// Strict reports whether unverifiable payloads must be rejected.
func (v *WebhookVerifier) Strict() bool {
	return v.strict
}

// Verify checks a base64 RSA-SHA256 signature over the raw body.
func (v *WebhookVerifier) Verify(body []byte, signature string) bool {
	if v.key == nil || signature == "" {
		return false
	}
	sig, err := base64.StdEncoding.DecodeString(strings.TrimSpace(signature))
	if err != nil {
		return false
	}
	digest := sha256.Sum256(body)
	return rsa.VerifyPKCS1v15(v.key, crypto.SHA256, digest[:], sig) == nil
}

// Keys often arrive through env vars with escaped newlines.
func decodePEM(raw string) (*pem.Block, error) {
	raw = strings.ReplaceAll(strings.TrimSpace(raw), `\n`, "\n")
	block, _ := pem.Decode([]byte(raw))
	if block == nil {
		return nil, errNoPEMBlock
	}
	return block, nil
}

func parsePrivateKey(raw string) (*rsa.PrivateKey, error) {
	block, err := decodePEM(raw)
	if err != nil {
		return nil, err
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.New("private key is not RSA")
	}
	return key, nil
}

func parsePublicKey(raw string) (*rsa.PublicKey, error) {
	block, err := decodePEM(raw)
	if err != nil {
		return nil, err
	}
	if parsed, err := x509.ParsePKIXPublicKey(block.Bytes); err == nil {
		key, ok := parsed.(*rsa.PublicKey)
		if !ok {
			return nil, errors.New("public key is not RSA")
		}
		return key, nil
	}
	return x509.ParsePKCS1PublicKey(block.Bytes)
}
