package signer

import (
	"crypto/rand"
	"fmt"
	"io"
	"math/big"
)

// SerialSource produces the serial number for each issued certificate.
//
// RFC 5280 requires serials to be positive and unique per issuer, so a
// source must never hand out the same value twice. Implementations must be
// safe for concurrent use.
type SerialSource interface {
	// Next returns the serial for the next certificate.
	Next() (*big.Int, error)
}

// serialBits is the size of randomly generated serials. 128 bits gives a
// negligible collision probability without exceeding the 20-octet limit of
// RFC 5280.
const serialBits = 128

// RandomSerialSource generates uniformly random positive serials. It is
// the default source and needs no coordination between processes.
type RandomSerialSource struct {
	Rand io.Reader // defaults to crypto/rand.Reader
}

var _ SerialSource = (*RandomSerialSource)(nil)

// Next returns a random serial in [1, 2^128).
func (r *RandomSerialSource) Next() (*big.Int, error) {
	reader := r.Rand
	if reader == nil {
		reader = rand.Reader
	}
	limit := new(big.Int).Lsh(big.NewInt(1), serialBits)
	n, err := rand.Int(reader, limit)
	if err != nil {
		return nil, fmt.Errorf("generating random serial: %w", err)
	}
	// rand.Int can return 0; serials must be positive.
	return n.Add(n, big.NewInt(1)), nil
}

// FixedSerialSource returns the same serial on every call. It exists for
// deterministic tests; issuing real certificates with it violates serial
// uniqueness.
type FixedSerialSource struct {
	N int64
}

var _ SerialSource = (*FixedSerialSource)(nil)

// Next returns N.
func (f *FixedSerialSource) Next() (*big.Int, error) {
	return big.NewInt(f.N), nil
}
