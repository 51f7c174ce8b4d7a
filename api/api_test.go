package api_test

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/json"
	"encoding/pem"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/signet/api"
	"github.com/jmcleod/signet/signer"
)

// newTestCA generates a self-signed ECDSA root CA as PEM.
func newTestCA(t *testing.T) (keyPEM, certPEM []byte) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	template := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "API Test CA", Organization: []string{"TestOrg"}},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().AddDate(10, 0, 0),
		KeyUsage:              x509.KeyUsageCertSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	require.NoError(t, err)

	keyDER, err := x509.MarshalECPrivateKey(key)
	require.NoError(t, err)

	keyPEM = pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})
	certPEM = pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	return keyPEM, certPEM
}

func newTestCSR(t *testing.T, commonName string) []byte {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	der, err := x509.CreateCertificateRequest(rand.Reader, &x509.CertificateRequest{
		Subject: pkix.Name{CommonName: commonName},
	}, key)
	require.NoError(t, err)
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE REQUEST", Bytes: der})
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func newTestServer(t *testing.T, opts ...api.Option) *httptest.Server {
	t.Helper()
	opts = append(opts, api.WithLogger(quietLogger()))
	srv := httptest.NewServer(api.New(opts...).Router())
	t.Cleanup(srv.Close)
	return srv
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeJSON[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestSign_RoundTrip(t *testing.T) {
	keyPEM, certPEM := newTestCA(t)
	srv := newTestServer(t,
		api.WithIssuer(keyPEM, certPEM),
		api.WithSignerOptions(signer.WithSerialSource(&signer.FixedSerialSource{N: 42})),
	)

	resp := postJSON(t, srv.URL+"/sign", api.SignRequest{CSR: string(newTestCSR(t, "leaf.example.com"))})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	body := decodeJSON[api.SignResponse](t, resp)
	assert.Equal(t, "2a", body.SerialNumber)
	assert.NotEmpty(t, body.FingerprintSHA256)

	block, _ := pem.Decode([]byte(body.Certificate))
	require.NotNil(t, block)
	cert, err := x509.ParseCertificate(block.Bytes)
	require.NoError(t, err)
	assert.Equal(t, "leaf.example.com", cert.Subject.CommonName)
	assert.Equal(t, "API Test CA", cert.Issuer.CommonName)
}

func TestSign_NoIssuerConfigured(t *testing.T) {
	srv := newTestServer(t)

	resp := postJSON(t, srv.URL+"/sign", api.SignRequest{CSR: string(newTestCSR(t, "leaf.example.com"))})
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestSign_TamperedCSR(t *testing.T) {
	keyPEM, certPEM := newTestCA(t)
	srv := newTestServer(t, api.WithIssuer(keyPEM, certPEM))

	csrPEM := newTestCSR(t, "tampered.example.com")
	block, _ := pem.Decode(csrPEM)
	require.NotNil(t, block)
	block.Bytes[len(block.Bytes)-1] ^= 0xFF
	tampered := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE REQUEST", Bytes: block.Bytes})

	resp := postJSON(t, srv.URL+"/sign", api.SignRequest{CSR: string(tampered)})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	body := decodeJSON[api.ErrorResponse](t, resp)
	assert.Equal(t, "verification", body.Kind)
}

func TestSign_MalformedCSR(t *testing.T) {
	keyPEM, certPEM := newTestCA(t)
	srv := newTestServer(t, api.WithIssuer(keyPEM, certPEM))

	resp := postJSON(t, srv.URL+"/sign", api.SignRequest{CSR: "not a csr"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	body := decodeJSON[api.ErrorResponse](t, resp)
	assert.Equal(t, "decode", body.Kind)
}

func TestSign_InvalidJSON(t *testing.T) {
	keyPEM, certPEM := newTestCA(t)
	srv := newTestServer(t, api.WithIssuer(keyPEM, certPEM))

	resp, err := http.Post(srv.URL+"/sign", "application/json", bytes.NewReader([]byte("{")))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSignBundle_RoundTrip(t *testing.T) {
	keyPEM, certPEM := newTestCA(t)
	srv := newTestServer(t)

	resp := postJSON(t, srv.URL+"/sign-bundle", api.SignBundleRequest{
		PrivateKey:    string(keyPEM),
		CACertificate: string(certPEM),
		CSR:           string(newTestCSR(t, "bundle.example.com")),
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeJSON[api.SignResponse](t, resp)
	block, _ := pem.Decode([]byte(body.Certificate))
	require.NotNil(t, block)
	cert, err := x509.ParseCertificate(block.Bytes)
	require.NoError(t, err)
	assert.Equal(t, "bundle.example.com", cert.Subject.CommonName)
}

func TestSignBundle_EncryptedKeyWithPassphrase(t *testing.T) {
	keyPEM, certPEM := newTestCA(t)

	// Re-encrypt the CA key with a legacy PEM passphrase.
	block, _ := pem.Decode(keyPEM)
	require.NotNil(t, block)
	encBlock, err := x509.EncryptPEMBlock(rand.Reader, block.Type, block.Bytes, //nolint:staticcheck
		[]byte("open sesame"), x509.PEMCipherAES256)
	require.NoError(t, err)
	encKeyPEM := pem.EncodeToMemory(encBlock)

	srv := newTestServer(t)

	resp := postJSON(t, srv.URL+"/sign-bundle", api.SignBundleRequest{
		PrivateKey:    string(encKeyPEM),
		CACertificate: string(certPEM),
		CSR:           string(newTestCSR(t, "enc-bundle.example.com")),
		Passphrase:    "open sesame",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Without the passphrase the same request is a decode failure.
	resp = postJSON(t, srv.URL+"/sign-bundle", api.SignBundleRequest{
		PrivateKey:    string(encKeyPEM),
		CACertificate: string(certPEM),
		CSR:           string(newTestCSR(t, "enc-bundle.example.com")),
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	body := decodeJSON[api.ErrorResponse](t, resp)
	assert.Equal(t, "decode", body.Kind)
}
