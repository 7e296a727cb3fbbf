package kmssigner

import (
	"encoding/asn1"
	"math/big"

	"golang.org/x/crypto/cryptobyte"
	cryptobyte_asn1 "golang.org/x/crypto/cryptobyte/asn1"
)

// Signature is a validated signature returned by a remote service.
// ECDSA signatures are always ASN.1 DER (SEQUENCE of r, s); RSA
// signatures are the raw modulus-sized block the service produced.
type Signature struct {
	KeyID     KeyID
	Algorithm Algorithm
	Bytes     []byte
}

// ValidateSignature checks raw signature bytes against the descriptor
// before they are handed to the host framework. It never alters valid
// bytes: DER in stays DER out.
func ValidateSignature(d *KeyDescriptor, alg Algorithm, raw []byte) (*Signature, error) {
	if len(raw) == 0 {
		return nil, &InvalidSignatureEncodingError{KeyReference: d.KeyReference, Algorithm: alg, Detail: "empty signature"}
	}

	switch d.Family {
	case ECDSA:
		if err := checkASN1Signature(raw); err != nil {
			return nil, &InvalidSignatureEncodingError{KeyReference: d.KeyReference, Algorithm: alg, Detail: err.Error()}
		}
	case RSA:
		if len(raw) != d.Bits/8 {
			return nil, &InvalidSignatureEncodingError{KeyReference: d.KeyReference, Algorithm: alg, Detail: "signature length does not match modulus"}
		}
	}

	return &Signature{KeyID: d.KeyID, Algorithm: alg, Bytes: raw}, nil
}

type encodingError string

func (e encodingError) Error() string { return string(e) }

// checkASN1Signature strictly parses an ECDSA signature the way
// crypto/ecdsa's verifier does: a SEQUENCE of two positive INTEGERs
// with nothing trailing.
func checkASN1Signature(sig []byte) error {
	var (
		r, s  = new(big.Int), new(big.Int)
		inner cryptobyte.String
	)
	input := cryptobyte.String(sig)
	if !input.ReadASN1(&inner, cryptobyte_asn1.SEQUENCE) ||
		!input.Empty() ||
		!inner.ReadASN1Integer(r) ||
		!inner.ReadASN1Integer(s) ||
		!inner.Empty() {
		return encodingError("not an ASN.1 ECDSA signature")
	}
	if r.Sign() <= 0 || s.Sign() <= 0 {
		return encodingError("non-positive ECDSA signature component")
	}
	return nil
}

// ECDSASignatureFromP1363 re-encodes a fixed-width IEEE P1363 (r || s)
// ECDSA signature, as returned by Azure Key Vault, into ASN.1 DER.
func ECDSASignatureFromP1363(b []byte) ([]byte, error) {
	if len(b) == 0 || len(b)%2 != 0 {
		return nil, encodingError("P1363 signature must split evenly into r and s")
	}
	rs := struct {
		R, S *big.Int
	}{
		R: new(big.Int).SetBytes(b[:len(b)/2]),
		S: new(big.Int).SetBytes(b[len(b)/2:]),
	}
	if rs.R.Sign() == 0 || rs.S.Sign() == 0 {
		return nil, encodingError("zero ECDSA signature component")
	}
	return asn1.Marshal(rs)
}
