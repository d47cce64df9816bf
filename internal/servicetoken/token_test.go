package servicetoken

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestSignAndVerify(t *testing.T) {
	privatePath, publicPath := writeRSAKeyPairFiles(t)
	signer, err := NewSigner(privatePath, "webhook-layer", 2*time.Second)
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}
	verifier, err := NewVerifier(publicPath, []string{"webhook-layer"}, time.Second)
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}
	token, err := signer.Sign()
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	claims, err := verifier.Verify(token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.Issuer != "webhook-layer" {
		t.Fatalf("unexpected issuer: %s", claims.Issuer)
	}
}

func TestVerifyRejectsUnknownIssuer(t *testing.T) {
	privatePath, publicPath := writeRSAKeyPairFiles(t)
	signer, err := NewSigner(privatePath, "someone-else", time.Second)
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}
	verifier, err := NewVerifier(publicPath, []string{"webhook-layer"}, time.Second)
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}
	token, err := signer.Sign()
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := verifier.Verify(token); err == nil {
		t.Fatal("expected unknown issuer to be rejected")
	}
}

func TestVerifierRequiresIssuerList(t *testing.T) {
	_, publicPath := writeRSAKeyPairFiles(t)
	if _, err := NewVerifier(publicPath, nil, time.Second); err == nil {
		t.Fatal("expected missing issuer list to fail")
	}
}

func TestBearerToken(t *testing.T) {
	r := httptest.NewRequest("POST", "/events", nil)
	if _, ok := BearerToken(r); ok {
		t.Fatal("expected no token")
	}
	r.Header.Set("Authorization", "Bearer abc")
	token, ok := BearerToken(r)
	if !ok || token != "abc" {
		t.Fatalf("unexpected token %q ok=%v", token, ok)
	}
}

func writeRSAKeyPairFiles(t *testing.T) (string, string) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate rsa key: %v", err)
	}
	dir := t.TempDir()

	privatePath := filepath.Join(dir, "private.pem")
	privatePEM := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})
	if err := os.WriteFile(privatePath, privatePEM, 0o600); err != nil {
		t.Fatalf("write private key: %v", err)
	}

	publicPath := filepath.Join(dir, "public.pem")
	pubDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		t.Fatalf("marshal public key: %v", err)
	}
	publicPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})
	if err := os.WriteFile(publicPath, publicPEM, 0o600); err != nil {
		t.Fatalf("write public key: %v", err)
	}
	return privatePath, publicPath
}
