package api

// SignRequest is the JSON body for POST /sign. The CA key and certificate
// are held by the server.
type SignRequest struct {
	CSR string `json:"csr"`
}

// SignBundleRequest is the JSON body for POST /sign-bundle: the full
// three-input operation with caller-supplied CA material. Passphrase is
// only needed when the private key is encrypted.
type SignBundleRequest struct {
	PrivateKey    string `json:"private_key"`
	CACertificate string `json:"ca_certificate"`
	CSR           string `json:"csr"`
	Passphrase    string `json:"passphrase,omitempty"`
}

// SignResponse is returned from both signing endpoints.
type SignResponse struct {
	Certificate       string `json:"certificate"`
	SerialNumber      string `json:"serial_number"`
	NotBefore         string `json:"not_before"`
	NotAfter          string `json:"not_after"`
	FingerprintSHA256 string `json:"fingerprint_sha256"`
}

// ErrorResponse is the JSON body for all error responses. Kind is one of
// "decode", "verification", "build", "signing", "encoding" or "internal",
// so clients can branch on failure category.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}
