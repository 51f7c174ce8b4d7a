package signer

import (
	"crypto"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"

	"golang.org/x/crypto/ssh"
	"golang.org/x/text/unicode/norm"
)

// decodePrivateKey parses the CA private key from its PEM encoding. It
// accepts PKCS#1 RSA, SEC1 EC, PKCS#8 and OpenSSH blocks, plaintext or
// encrypted; encrypted blocks require a passphrase configured via
// WithPassphrase.
func (s *Signer) decodePrivateKey(keyPEM []byte) (crypto.Signer, error) {
	if len(keyPEM) == 0 {
		return nil, fmt.Errorf("%w: private key input is empty", ErrDecode)
	}
	block, _ := pem.Decode(keyPEM)
	if block == nil {
		return nil, fmt.Errorf("%w: no PEM block found in private key input", ErrDecode)
	}

	if block.Type == "OPENSSH PRIVATE KEY" {
		return s.decodeOpenSSHKey(keyPEM)
	}

	der := block.Bytes
	if x509.IsEncryptedPEMBlock(block) { //nolint:staticcheck // legacy DEK-Info keys are an accepted input format
		pass, release, err := s.passphraseBytes()
		if err != nil {
			return nil, err
		}
		defer release()
		der, err = x509.DecryptPEMBlock(block, pass) //nolint:staticcheck
		if err != nil {
			return nil, fmt.Errorf("%w: decrypting private key: %v", ErrDecode, err)
		}
	}

	return parseKeyDER(block.Type, der)
}

func parseKeyDER(blockType string, der []byte) (crypto.Signer, error) {
	switch blockType {
	case "RSA PRIVATE KEY":
		key, err := x509.ParsePKCS1PrivateKey(der)
		if err != nil {
			return nil, fmt.Errorf("%w: parsing RSA private key: %v", ErrDecode, err)
		}
		return key, nil
	case "EC PRIVATE KEY":
		key, err := x509.ParseECPrivateKey(der)
		if err != nil {
			return nil, fmt.Errorf("%w: parsing EC private key: %v", ErrDecode, err)
		}
		return key, nil
	case "PRIVATE KEY":
		key, err := x509.ParsePKCS8PrivateKey(der)
		if err != nil {
			return nil, fmt.Errorf("%w: parsing PKCS#8 private key: %v", ErrDecode, err)
		}
		signer, ok := key.(crypto.Signer)
		if !ok {
			return nil, fmt.Errorf("%w: PKCS#8 key of type %T cannot sign", ErrDecode, key)
		}
		return signer, nil
	default:
		return nil, fmt.Errorf("%w: unexpected PEM type %q for private key", ErrDecode, blockType)
	}
}

// decodeOpenSSHKey handles keys in OpenSSH's native format, which many CA
// operators hold their keys in. Encrypted keys use the configured
// passphrase.
func (s *Signer) decodeOpenSSHKey(keyPEM []byte) (crypto.Signer, error) {
	raw, err := ssh.ParseRawPrivateKey(keyPEM)
	if err != nil {
		var missing *ssh.PassphraseMissingError
		if !errors.As(err, &missing) {
			return nil, fmt.Errorf("%w: parsing OpenSSH private key: %v", ErrDecode, err)
		}
		pass, release, perr := s.passphraseBytes()
		if perr != nil {
			return nil, perr
		}
		defer release()
		raw, err = ssh.ParseRawPrivateKeyWithPassphrase(keyPEM, pass)
		if err != nil {
			return nil, fmt.Errorf("%w: decrypting OpenSSH private key: %v", ErrDecode, err)
		}
	}
	signer, ok := raw.(crypto.Signer)
	if !ok {
		return nil, fmt.Errorf("%w: OpenSSH key of type %T cannot sign", ErrDecode, raw)
	}
	return signer, nil
}

// passphraseBytes opens the passphrase enclave and returns the
// NFKD-normalized passphrase bytes together with a release func that wipes
// them. Normalization keeps a passphrase typed on different platforms
// byte-identical.
func (s *Signer) passphraseBytes() ([]byte, func(), error) {
	if s.passphrase == nil {
		return nil, nil, fmt.Errorf("%w: private key is encrypted and no passphrase was provided", ErrDecode)
	}
	buf, err := s.passphrase.Open()
	if err != nil {
		return nil, nil, fmt.Errorf("%w: opening passphrase enclave: %v", ErrDecode, err)
	}
	pass := []byte(norm.NFKD.String(string(buf.Bytes())))
	buf.Destroy()
	release := func() {
		for i := range pass {
			pass[i] = 0
		}
	}
	return pass, release, nil
}

// decodeCACertificate parses the CA certificate whose subject becomes the
// issuer of the new certificate.
func decodeCACertificate(certPEM []byte) (*x509.Certificate, error) {
	if len(certPEM) == 0 {
		return nil, fmt.Errorf("%w: CA certificate input is empty", ErrDecode)
	}
	block, _ := pem.Decode(certPEM)
	if block == nil || block.Type != "CERTIFICATE" {
		return nil, fmt.Errorf("%w: CA certificate input is not a PEM certificate", ErrDecode)
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: parsing CA certificate: %v", ErrDecode, err)
	}
	return cert, nil
}

// decodeCSR parses the certificate request. Both the standard and the
// legacy OpenSSL "NEW" PEM labels are accepted.
func decodeCSR(csrPEM []byte) (*x509.CertificateRequest, error) {
	if len(csrPEM) == 0 {
		return nil, fmt.Errorf("%w: CSR input is empty", ErrDecode)
	}
	block, _ := pem.Decode(csrPEM)
	if block == nil || (block.Type != "CERTIFICATE REQUEST" && block.Type != "NEW CERTIFICATE REQUEST") {
		return nil, fmt.Errorf("%w: CSR input is not a PEM certificate request", ErrDecode)
	}
	csr, err := x509.ParseCertificateRequest(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: parsing CSR: %v", ErrDecode, err)
	}
	return csr, nil
}
