// Package signer issues X.509 certificates from certificate signing
// requests. Given a CA private key, the CA certificate and a PEM-encoded
// CSR, it verifies the CSR's self-signature and produces a new certificate
// signed by the CA, bound to the subject and public key the CSR carries.
//
// The operation is stateless and all-or-nothing: inputs and output are
// in-memory PEM byte sequences, no certificate is returned unless every
// stage (decode, verify, build, sign, encode) succeeded, and nothing
// survives a single call except the optional serial-number source.
package signer

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/awnumar/memguard"
)

// ---------------------------------------------------------------------------
// Sentinel errors
// ---------------------------------------------------------------------------

var (
	// ErrDecode is returned when one of the three PEM inputs is empty,
	// malformed, or (for the private key) encrypted with an unknown
	// passphrase. Inputs are checked in order: key, CA certificate, CSR.
	ErrDecode = errors.New("decoding input failed")

	// ErrVerification is returned when the CSR's self-signature does not
	// verify against its embedded public key.
	ErrVerification = errors.New("CSR signature verification failed")

	// ErrBuild is returned when the certificate template cannot be
	// assembled, e.g. the serial source failed or produced an unusable value.
	ErrBuild = errors.New("building certificate failed")

	// ErrSigning is returned when the signature computation fails, e.g. a
	// key/algorithm mismatch.
	ErrSigning = errors.New("signing certificate failed")

	// ErrEncoding is returned when the signed certificate cannot be
	// serialized back to PEM.
	ErrEncoding = errors.New("encoding certificate failed")
)

// DefaultValidity is the lifetime of issued certificates: 365 days of
// wall-clock time (31,536,000 seconds), independent of calendar rules.
const DefaultValidity = 365 * 24 * time.Hour

// ---------------------------------------------------------------------------
// One-time initialization
// ---------------------------------------------------------------------------

var (
	initOnce sync.Once
	initErr  error
)

// Init performs the one-time process-wide setup for the package. It is
// idempotent and safe for concurrent use; SignCSR calls it itself, so
// explicit invocation is optional. The only real work is an entropy
// self-check, which surfaces a broken random source at startup instead of
// at first issuance.
func Init() error {
	initOnce.Do(func() {
		var probe [1]byte
		if _, err := rand.Read(probe[:]); err != nil {
			initErr = fmt.Errorf("entropy source unavailable: %w", err)
		}
	})
	return initErr
}

// ---------------------------------------------------------------------------
// Signer
// ---------------------------------------------------------------------------

// Signer signs certificate requests with a fixed issuance policy. The zero
// policy (from New with no options) issues leaf certificates valid for
// DefaultValidity with random 128-bit serials and the minimal safe
// extension set. A Signer is safe for concurrent use.
type Signer struct {
	serial      SerialSource
	validity    time.Duration
	passphrase  *memguard.Enclave
	keyUsage    x509.KeyUsage
	extKeyUsage []x509.ExtKeyUsage
	now         func() time.Time
}

// Option configures a Signer.
type Option func(*Signer)

// WithPassphrase sets the passphrase used to decrypt the CA private key
// when it arrives in an encrypted PEM block. The passphrase stays inside
// the memguard enclave except for the duration of a decrypt.
func WithPassphrase(passphrase *memguard.Enclave) Option {
	return func(s *Signer) {
		s.passphrase = passphrase
	}
}

// WithSerialSource sets the serial-number strategy for issued certificates.
// The default is a RandomSerialSource.
func WithSerialSource(src SerialSource) Option {
	return func(s *Signer) {
		s.serial = src
	}
}

// WithValidity sets the validity window of issued certificates,
// notAfter = notBefore + d. The default is DefaultValidity.
func WithValidity(d time.Duration) Option {
	return func(s *Signer) {
		s.validity = d
	}
}

// WithKeyUsage replaces the default KeyUsage (digitalSignature) on issued
// certificates.
func WithKeyUsage(usage x509.KeyUsage) Option {
	return func(s *Signer) {
		s.keyUsage = usage
	}
}

// WithExtKeyUsage sets the extended key usages on issued certificates.
// None are set by default.
func WithExtKeyUsage(usages ...x509.ExtKeyUsage) Option {
	return func(s *Signer) {
		s.extKeyUsage = usages
	}
}

// WithClock overrides the time source used for the validity window.
func WithClock(now func() time.Time) Option {
	return func(s *Signer) {
		s.now = now
	}
}

// New returns a Signer with the given options applied.
func New(opts ...Option) *Signer {
	s := &Signer{
		serial:   &RandomSerialSource{},
		validity: DefaultValidity,
		keyUsage: x509.KeyUsageDigitalSignature,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// defaultSigner backs the package-level SignCSR.
var defaultSigner = New()

// SignCSR signs csrPEM with the default Signer. See Signer.SignCSR.
func SignCSR(keyPEM, caCertPEM, csrPEM []byte) ([]byte, error) {
	return defaultSigner.SignCSR(keyPEM, caCertPEM, csrPEM)
}

// SignCSR decodes the CA private key, the CA certificate and the CSR,
// verifies the CSR's self-signature, and returns the PEM encoding of a new
// certificate carrying the CSR's subject and public key, issued by the CA
// certificate's subject, signed with the CA key and a SHA-256 digest.
//
// Failures are reported as an error wrapping exactly one of ErrDecode,
// ErrVerification, ErrBuild, ErrSigning or ErrEncoding; no partial output
// is ever produced.
func (s *Signer) SignCSR(keyPEM, caCertPEM, csrPEM []byte) ([]byte, error) {
	if err := Init(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSigning, err)
	}

	caKey, err := s.decodePrivateKey(keyPEM)
	if err != nil {
		return nil, err
	}
	caCert, err := decodeCACertificate(caCertPEM)
	if err != nil {
		return nil, err
	}
	csr, err := decodeCSR(csrPEM)
	if err != nil {
		return nil, err
	}

	// The self-signature is the only integrity check in the pipeline; it
	// must pass before anything from the CSR is copied into a certificate.
	if err := csr.CheckSignature(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrVerification, err)
	}

	template, err := s.buildTemplate(csr, caKey)
	if err != nil {
		return nil, err
	}

	der, err := x509.CreateCertificate(rand.Reader, template, caCert, csr.PublicKey, caKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSigning, err)
	}

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	if certPEM == nil {
		return nil, fmt.Errorf("%w: PEM serialization produced no output", ErrEncoding)
	}
	return certPEM, nil
}

// buildTemplate assembles the unsigned certificate structure: X.509v3,
// subject from the CSR, a serial from the configured source, and the
// validity window anchored at the current time.
func (s *Signer) buildTemplate(csr *x509.CertificateRequest, caKey crypto.Signer) (*x509.Certificate, error) {
	serial, err := s.serial.Next()
	if err != nil {
		return nil, fmt.Errorf("%w: serial source: %v", ErrBuild, err)
	}
	if serial == nil || serial.Sign() <= 0 {
		return nil, fmt.Errorf("%w: serial source returned a non-positive serial", ErrBuild)
	}

	notBefore := s.now().UTC()
	template := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               csr.Subject,
		NotBefore:             notBefore,
		NotAfter:              notBefore.Add(s.validity),
		KeyUsage:              s.keyUsage,
		ExtKeyUsage:           s.extKeyUsage,
		BasicConstraintsValid: true,
		DNSNames:              csr.DNSNames,
		IPAddresses:           csr.IPAddresses,
		EmailAddresses:        csr.EmailAddresses,
		URIs:                  csr.URIs,
	}

	// Pin the digest to SHA-256 for the common key types; Ed25519 has a
	// fixed internal digest and keeps the library default.
	switch caKey.Public().(type) {
	case *rsa.PublicKey:
		template.SignatureAlgorithm = x509.SHA256WithRSA
	case *ecdsa.PublicKey:
		template.SignatureAlgorithm = x509.ECDSAWithSHA256
	}

	return template, nil
}
