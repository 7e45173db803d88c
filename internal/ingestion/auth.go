package ingestion

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"time"
)

// Header names a signed catalog request carries (spec §4.1: provider
// auth is request signing over method+path+timestamp+body, not tied to
// any one provider's header vocabulary). Grounded on the teacher's
// KALSHI-ACCESS-* header triad (internal/ingestion/auth.go), renamed
// off the Kalshi-specific prefix since CatalogClient has no fixed
// provider.
const (
	HeaderAccessKey       = "Access-Key"
	HeaderAccessSignature = "Access-Signature"
	HeaderAccessTimestamp = "Access-Timestamp"
)

// RequestSigner RSA-PSS-signs outbound catalog requests, matching
// whatever upstream provider CatalogClient is configured against.
// Grounded on the teacher's Auth (internal/ingestion/auth.go): same
// PKCS1 key parsing and SignPSS call, renamed off the teacher's
// Kalshi-specific "Auth" naming since this package signs requests for
// any REST catalog provider, not a fixed one.
type RequestSigner struct {
	keyID      string
	privateKey *rsa.PrivateKey
}

// SignedHeaders carries the three header values a signed request needs.
type SignedHeaders struct {
	AccessKey       string
	AccessSignature string
	AccessTimestamp string
}

// NewRequestSigner parses a PEM-encoded PKCS1 RSA private key for keyID.
func NewRequestSigner(keyID, privateKeyPEM string) (*RequestSigner, error) {
	block, _ := pem.Decode([]byte(privateKeyPEM))
	if block == nil {
		return nil, fmt.Errorf("ingestion: failed to decode private key PEM block")
	}

	privateKey, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("ingestion: failed to parse private key: %w", err)
	}

	return &RequestSigner{
		keyID:      keyID,
		privateKey: privateKey,
	}, nil
}

// SignRequest signs method+path+timestamp(+body) with RSA-PSS/SHA256
// and returns the header triad to attach to the outbound request.
func (s *RequestSigner) SignRequest(method, path string, body []byte) (*SignedHeaders, error) {
	timestamp := fmt.Sprintf("%d", time.Now().UnixMilli())

	stringToSign := method + path + timestamp
	if body != nil {
		stringToSign += string(body)
	}

	hasher := sha256.New()
	hasher.Write([]byte(stringToSign))
	hashed := hasher.Sum(nil)

	signature, err := rsa.SignPSS(rand.Reader, s.privateKey, crypto.SHA256, hashed, &rsa.PSSOptions{
		SaltLength: rsa.PSSSaltLengthEqualsHash,
		Hash:       crypto.SHA256,
	})
	if err != nil {
		return nil, fmt.Errorf("ingestion: failed to sign request: %w", err)
	}

	return &SignedHeaders{
		AccessKey:       s.keyID,
		AccessSignature: base64.StdEncoding.EncodeToString(signature),
		AccessTimestamp: timestamp,
	}, nil
}
