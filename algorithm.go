package kmssigner

import (
	"crypto"
	"crypto/rsa"
	"fmt"
)

// Algorithm identifies a signature scheme (padding and digest
// combination) recognized by the remote services.
type Algorithm int

const (
	// ECDSASHA256 is ECDSA over a SHA-256 digest.
	ECDSASHA256 Algorithm = iota + 1
	// ECDSASHA384 is ECDSA over a SHA-384 digest.
	ECDSASHA384
	// ECDSASHA512 is ECDSA over a SHA-512 digest.
	ECDSASHA512
	// RSAPKCS1SHA256 is RSASSA-PKCS1-v1_5 over a SHA-256 digest.
	RSAPKCS1SHA256
	// RSAPKCS1SHA384 is RSASSA-PKCS1-v1_5 over a SHA-384 digest.
	RSAPKCS1SHA384
	// RSAPKCS1SHA512 is RSASSA-PKCS1-v1_5 over a SHA-512 digest.
	RSAPKCS1SHA512
	// RSAPSSSHA256 is RSASSA-PSS over a SHA-256 digest.
	RSAPSSSHA256
	// RSAPSSSHA384 is RSASSA-PSS over a SHA-384 digest.
	RSAPSSSHA384
	// RSAPSSSHA512 is RSASSA-PSS over a SHA-512 digest.
	RSAPSSSHA512
)

func (a Algorithm) String() string {
	switch a {
	case ECDSASHA256:
		return "ECDSA-SHA256"
	case ECDSASHA384:
		return "ECDSA-SHA384"
	case ECDSASHA512:
		return "ECDSA-SHA512"
	case RSAPKCS1SHA256:
		return "RSASSA-PKCS1-v1_5-SHA256"
	case RSAPKCS1SHA384:
		return "RSASSA-PKCS1-v1_5-SHA384"
	case RSAPKCS1SHA512:
		return "RSASSA-PKCS1-v1_5-SHA512"
	case RSAPSSSHA256:
		return "RSASSA-PSS-SHA256"
	case RSAPSSSHA384:
		return "RSASSA-PSS-SHA384"
	case RSAPSSSHA512:
		return "RSASSA-PSS-SHA512"
	default:
		return fmt.Sprintf("Algorithm(%d)", int(a))
	}
}

// Hash returns the digest algorithm the scheme signs over.
func (a Algorithm) Hash() crypto.Hash {
	switch a {
	case ECDSASHA256, RSAPKCS1SHA256, RSAPSSSHA256:
		return crypto.SHA256
	case ECDSASHA384, RSAPKCS1SHA384, RSAPSSSHA384:
		return crypto.SHA384
	default:
		return crypto.SHA512
	}
}

type algorithmKey struct {
	family KeyFamily
	hash   crypto.Hash
	pss    bool
}

// signingAlgorithms is the closed mapping from (key family, digest,
// padding) to a service signing algorithm. Selection is deterministic
// and never overridable mid-flight.
var signingAlgorithms = map[algorithmKey]Algorithm{
	{ECDSA, crypto.SHA256, false}: ECDSASHA256,
	{ECDSA, crypto.SHA384, false}: ECDSASHA384,
	{ECDSA, crypto.SHA512, false}: ECDSASHA512,
	{RSA, crypto.SHA256, false}:   RSAPKCS1SHA256,
	{RSA, crypto.SHA384, false}:   RSAPKCS1SHA384,
	{RSA, crypto.SHA512, false}:   RSAPKCS1SHA512,
	{RSA, crypto.SHA256, true}:    RSAPSSSHA256,
	{RSA, crypto.SHA384, true}:    RSAPSSSHA384,
	{RSA, crypto.SHA512, true}:    RSAPSSSHA512,
}

// AlgorithmFor selects the signing algorithm for a key family and
// signer options. RSA keys use PKCS#1 v1.5 unless opts is
// *rsa.PSSOptions, following crypto.Signer convention.
func AlgorithmFor(family KeyFamily, opts crypto.SignerOpts) (Algorithm, error) {
	_, pss := opts.(*rsa.PSSOptions)
	a, ok := signingAlgorithms[algorithmKey{family, opts.HashFunc(), pss && family == RSA}]
	if !ok {
		return 0, &UnsupportedAlgorithmError{Family: family, Detail: opts.HashFunc().String()}
	}
	return a, nil
}
