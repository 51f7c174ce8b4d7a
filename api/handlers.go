package api

import (
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/awnumar/memguard"
	"github.com/google/uuid"

	"github.com/jmcleod/signet/signer"
)

// Health reports service liveness.
func (a *API) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// SignCSR handles POST /sign: signs a CSR with the server-held CA key and
// certificate configured via WithIssuer.
func (a *API) SignCSR(w http.ResponseWriter, r *http.Request) {
	requestID := uuid.NewString()
	w.Header().Set("X-Request-ID", requestID)

	if a.caKeyPEM == nil || a.caCertPEM == nil {
		writeError(w, http.StatusServiceUnavailable, "internal", "no issuer configured on this server")
		return
	}

	var req SignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "decode", "invalid JSON body: "+err.Error())
		return
	}

	certPEM, err := a.base.SignCSR(a.caKeyPEM, a.caCertPEM, []byte(req.CSR))
	if err != nil {
		a.audit.log(AuditSignRejected, r,
			slog.String("request_id", requestID),
			slog.String("kind", errorKind(err)),
			slog.String("error", err.Error()),
		)
		mapError(w, err)
		return
	}

	a.respondSigned(w, r, requestID, certPEM)
}

// SignBundle handles POST /sign-bundle: the full three-input operation
// with caller-supplied CA key and certificate.
func (a *API) SignBundle(w http.ResponseWriter, r *http.Request) {
	requestID := uuid.NewString()
	w.Header().Set("X-Request-ID", requestID)

	var req SignBundleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "decode", "invalid JSON body: "+err.Error())
		return
	}

	s := a.base
	if req.Passphrase != "" {
		opts := append([]signer.Option{}, a.signerOpts...)
		opts = append(opts, signer.WithPassphrase(memguard.NewEnclave([]byte(req.Passphrase))))
		s = signer.New(opts...)
	}

	certPEM, err := s.SignCSR([]byte(req.PrivateKey), []byte(req.CACertificate), []byte(req.CSR))
	if err != nil {
		a.audit.log(AuditSignRejected, r,
			slog.String("request_id", requestID),
			slog.String("kind", errorKind(err)),
			slog.String("error", err.Error()),
		)
		mapError(w, err)
		return
	}

	a.respondSigned(w, r, requestID, certPEM)
}

func (a *API) respondSigned(w http.ResponseWriter, r *http.Request, requestID string, certPEM []byte) {
	resp, err := certSummary(certPEM)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}

	a.audit.log(AuditCSRSigned, r,
		slog.String("request_id", requestID),
		slog.String("serial_number", resp.SerialNumber),
		slog.String("fingerprint_sha256", resp.FingerprintSHA256),
		slog.String("not_after", resp.NotAfter),
	)

	writeJSON(w, http.StatusOK, resp)
}

// certSummary parses the issued certificate and extracts the metadata
// returned alongside the PEM.
func certSummary(certPEM []byte) (*SignResponse, error) {
	block, _ := pem.Decode(certPEM)
	if block == nil {
		return nil, fmt.Errorf("issued certificate is not valid PEM")
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parsing issued certificate: %w", err)
	}
	fingerprint := sha256.Sum256(block.Bytes)

	return &SignResponse{
		Certificate:       string(certPEM),
		SerialNumber:      hex.EncodeToString(cert.SerialNumber.Bytes()),
		NotBefore:         cert.NotBefore.UTC().Format(time.RFC3339),
		NotAfter:          cert.NotAfter.UTC().Format(time.RFC3339),
		FingerprintSHA256: hex.EncodeToString(fingerprint[:]),
	}, nil
}
