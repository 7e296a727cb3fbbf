// Package kmssigner exposes remote KMS-held asymmetric keys as signers
// for metadata-signing frameworks. Backends (Google Cloud KMS, Azure
// Key Vault) register themselves under a URI scheme; Open constructs a
// Signer from a key-reference URI.
package kmssigner

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"fmt"
)

// KeyFamily is the algorithm family of a remote key.
type KeyFamily int

const (
	// RSA keys sign with RSASSA-PKCS1-v1_5 or RSASSA-PSS padding.
	RSA KeyFamily = iota + 1
	// ECDSA keys sign on a NIST curve.
	ECDSA
)

func (f KeyFamily) String() string {
	switch f {
	case RSA:
		return "RSA"
	case ECDSA:
		return "ECDSA"
	default:
		return fmt.Sprintf("KeyFamily(%d)", int(f))
	}
}

// KeyID is the derived identifier of a remote key: the SHA-256 digest
// of its DER (PKIX) encoded public key. Identical public keys always
// derive identical ids.
type KeyID [sha256.Size]byte

func (id KeyID) String() string {
	return hex.EncodeToString(id[:])
}

// DeriveKeyID computes the key id for a PKIX DER encoded public key.
func DeriveKeyID(der []byte) KeyID {
	return sha256.Sum256(der)
}

// KeyDescriptor describes a resolved remote key. It is created once
// per key reference, never mutated afterwards, and owned by the Signer
// that produced it.
type KeyDescriptor struct {
	// KeyReference is the service-specific resource name of the key.
	KeyReference string
	// PublicKeyDER is the PKIX encoding of the public key.
	PublicKeyDER []byte
	// PublicKey is the parsed form of PublicKeyDER.
	PublicKey crypto.PublicKey
	// Family is RSA or ECDSA.
	Family KeyFamily
	// Bits is the RSA modulus size; zero for EC keys.
	Bits int
	// Curve is the EC curve; nil for RSA keys.
	Curve elliptic.Curve
	// KeyID is DeriveKeyID(PublicKeyDER).
	KeyID KeyID
}

// NewKeyDescriptor classifies a parsed public key and derives its id.
// Keys outside the supported policy (RSA 2048/3072/4096, P-256/P-384/
// P-521) are rejected with UnsupportedKeyError.
func NewKeyDescriptor(keyRef string, pub crypto.PublicKey) (*KeyDescriptor, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, &KeyFormatError{KeyReference: keyRef, Err: err}
	}

	d := &KeyDescriptor{
		KeyReference: keyRef,
		PublicKeyDER: der,
		PublicKey:    pub,
		KeyID:        DeriveKeyID(der),
	}

	switch pub := pub.(type) {
	case *rsa.PublicKey:
		d.Family = RSA
		d.Bits = pub.N.BitLen()
		switch d.Bits {
		case 2048, 3072, 4096:
		default:
			return nil, &UnsupportedKeyError{KeyReference: keyRef, Detail: fmt.Sprintf("RSA-%d", d.Bits)}
		}
	case *ecdsa.PublicKey:
		d.Family = ECDSA
		d.Curve = pub.Curve
		switch pub.Curve {
		case elliptic.P256(), elliptic.P384(), elliptic.P521():
		default:
			return nil, &UnsupportedKeyError{KeyReference: keyRef, Detail: pub.Curve.Params().Name}
		}
	default:
		return nil, &UnsupportedKeyError{KeyReference: keyRef, Detail: fmt.Sprintf("%T", pub)}
	}

	return d, nil
}

// ParseKeyDescriptor decodes a PKIX DER public key returned by the
// remote service and classifies it.
func ParseKeyDescriptor(keyRef string, der []byte) (*KeyDescriptor, error) {
	pub, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, &KeyFormatError{KeyReference: keyRef, Err: err}
	}
	return NewKeyDescriptor(keyRef, pub)
}

// DefaultHash is the digest algorithm used when the host framework's
// signing scheme does not dictate one: the curve-matched hash for EC
// keys, SHA-256 for RSA.
func (d *KeyDescriptor) DefaultHash() crypto.Hash {
	if d.Family == ECDSA {
		switch d.Curve {
		case elliptic.P384():
			return crypto.SHA384
		case elliptic.P521():
			return crypto.SHA512
		}
	}
	return crypto.SHA256
}
