package ingestion

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"strings"
	"testing"
)

func generateTestKeyPEM(t *testing.T) string {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	block := &pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)}
	return string(pem.EncodeToMemory(block))
}

func TestNewRequestSignerRejectsInvalidPEM(t *testing.T) {
	if _, err := NewRequestSigner("key-id", "not a pem block"); err == nil {
		t.Fatal("expected an error decoding a malformed PEM block")
	}
}

func TestSignRequestProducesDistinctHeadersPerRequest(t *testing.T) {
	signer, err := NewRequestSigner("key-id", generateTestKeyPEM(t))
	if err != nil {
		t.Fatalf("NewRequestSigner: %v", err)
	}

	headers, err := signer.SignRequest("GET", "/markets", nil)
	if err != nil {
		t.Fatalf("SignRequest: %v", err)
	}
	if headers.AccessKey != "key-id" {
		t.Fatalf("expected AccessKey to carry the configured key id, got %q", headers.AccessKey)
	}
	if headers.AccessSignature == "" || headers.AccessTimestamp == "" {
		t.Fatalf("expected a non-empty signature and timestamp, got %+v", headers)
	}

	other, err := signer.SignRequest("GET", "/markets/MKT/orderbook", nil)
	if err != nil {
		t.Fatalf("SignRequest: %v", err)
	}
	if other.AccessSignature == headers.AccessSignature {
		t.Fatal("expected signatures over different paths to differ")
	}
}

func TestHeaderConstantsAreProviderNeutral(t *testing.T) {
	for _, h := range []string{HeaderAccessKey, HeaderAccessSignature, HeaderAccessTimestamp} {
		if strings.Contains(strings.ToUpper(h), "KALSHI") {
			t.Fatalf("expected a provider-neutral header name, got %q", h)
		}
	}
}
