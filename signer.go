package kmssigner

import (
	"context"
	"crypto"
	"io"

	// register the hash functions DefaultHash can return
	_ "crypto/sha256"
	_ "crypto/sha512"
)

// Signer is the capability the host framework signs through. Every
// implementation involves a remote trip, so both operations take a
// context; cancellation aborts in-flight service calls and pending
// retry waits.
type Signer interface {
	// Descriptor resolves and returns the key's descriptor. The first
	// call fetches the public key from the remote service; the result
	// is cached for the life of the Signer.
	Descriptor(ctx context.Context) (*KeyDescriptor, error)

	// SignDigest signs a precomputed digest. The digest length must
	// match opts.HashFunc().Size().
	SignDigest(ctx context.Context, digest []byte, opts crypto.SignerOpts) (*Signature, error)
}

// SignMessage hashes message with the descriptor's default digest
// algorithm and signs the digest remotely.
func SignMessage(ctx context.Context, s Signer, message []byte) (*Signature, error) {
	d, err := s.Descriptor(ctx)
	if err != nil {
		return nil, err
	}
	h := d.DefaultHash()
	hasher := h.New()
	hasher.Write(message)
	return s.SignDigest(ctx, hasher.Sum(nil), h)
}

// wrappedSigner adapts a Signer to crypto.Signer for hosts that cannot
// thread a context through.
type wrappedSigner struct {
	inner Signer
	pub   crypto.PublicKey
}

// CryptoSigner wraps a Signer as a crypto.Signer. The descriptor is
// resolved eagerly so Public never fails; Sign uses the background
// context.
func CryptoSigner(ctx context.Context, s Signer) (crypto.Signer, error) {
	d, err := s.Descriptor(ctx)
	if err != nil {
		return nil, err
	}
	return &wrappedSigner{inner: s, pub: d.PublicKey}, nil
}

func (w *wrappedSigner) Public() crypto.PublicKey {
	return w.pub
}

func (w *wrappedSigner) Sign(_ io.Reader, digest []byte, opts crypto.SignerOpts) ([]byte, error) {
	sig, err := w.inner.SignDigest(context.Background(), digest, opts)
	if err != nil {
		return nil, err
	}
	return sig.Bytes, nil
}
