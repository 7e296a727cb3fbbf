// Package google signs with asymmetric Google Cloud KMS key versions.
// Importing the package registers the "gcpkms" URI scheme.
package google

import (
	"context"
	"crypto"
	"encoding/pem"
	"errors"
	"fmt"
	"hash/crc32"
	"strings"
	"sync/atomic"

	kms "cloud.google.com/go/kms/apiv1"
	"cloud.google.com/go/kms/apiv1/kmspb"
	"github.com/cloudflare/cfssl/log"
	"github.com/googleapis/gax-go/v2"
	"golang.org/x/sync/singleflight"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/cloudsign/kmssigner"
	"github.com/cloudsign/kmssigner/internal/retry"
	"github.com/cloudsign/kmssigner/tracing"
)

// Scheme is the URI scheme this backend registers under. The rest of
// the URI is the key version resource name, e.g.
// gcpkms://projects/p/locations/l/keyRings/r/cryptoKeys/k/cryptoKeyVersions/1
const Scheme = "gcpkms"

func init() {
	kmssigner.RegisterScheme(Scheme, func(uri string) (kmssigner.Signer, error) {
		return New(strings.TrimPrefix(uri, Scheme+"://"))
	})
}

type kmsClient interface {
	AsymmetricSign(ctx context.Context, req *kmspb.AsymmetricSignRequest, opts ...gax.CallOption) (*kmspb.AsymmetricSignResponse, error)
	GetPublicKey(ctx context.Context, req *kmspb.GetPublicKeyRequest, opts ...gax.CallOption) (*kmspb.PublicKey, error)
}

// kmsAlgorithms maps the algorithms a key version can carry to the
// signing algorithm the adapter reports. A KMS key version pins
// exactly one algorithm for its whole life.
var kmsAlgorithms = map[kmspb.CryptoKeyVersion_CryptoKeyVersionAlgorithm]kmssigner.Algorithm{
	kmspb.CryptoKeyVersion_RSA_SIGN_PSS_2048_SHA256: kmssigner.RSAPSSSHA256,
	kmspb.CryptoKeyVersion_RSA_SIGN_PSS_3072_SHA256: kmssigner.RSAPSSSHA256,
	kmspb.CryptoKeyVersion_RSA_SIGN_PSS_4096_SHA256: kmssigner.RSAPSSSHA256,
	kmspb.CryptoKeyVersion_RSA_SIGN_PSS_4096_SHA512: kmssigner.RSAPSSSHA512,

	kmspb.CryptoKeyVersion_RSA_SIGN_PKCS1_2048_SHA256: kmssigner.RSAPKCS1SHA256,
	kmspb.CryptoKeyVersion_RSA_SIGN_PKCS1_3072_SHA256: kmssigner.RSAPKCS1SHA256,
	kmspb.CryptoKeyVersion_RSA_SIGN_PKCS1_4096_SHA256: kmssigner.RSAPKCS1SHA256,
	kmspb.CryptoKeyVersion_RSA_SIGN_PKCS1_4096_SHA512: kmssigner.RSAPKCS1SHA512,

	kmspb.CryptoKeyVersion_EC_SIGN_P256_SHA256: kmssigner.ECDSASHA256,
	kmspb.CryptoKeyVersion_EC_SIGN_P384_SHA384: kmssigner.ECDSASHA384,
}

// resolved pairs the descriptor with the key version's pinned KMS
// algorithm; both are immutable once fetched.
type resolved struct {
	desc      *kmssigner.KeyDescriptor
	algorithm kmspb.CryptoKeyVersion_CryptoKeyVersionAlgorithm
}

// Signer signs with a Google Cloud KMS key version.
type Signer struct {
	client kmsClient
	name   string
	retry  retry.Policy

	// If the key changes, so does the version number in the name, so
	// the first successful fetch can be cached for the life of the
	// Signer. Concurrent first users share one in-flight fetch.
	group singleflight.Group
	res   atomic.Pointer[resolved]
}

var _ kmssigner.Signer = (*Signer)(nil)

// New creates a Signer for the given KMS key version resource name.
// The public key is fetched lazily, on first use.
func New(name string) (*Signer, error) {
	if !IsKMSResource(name) {
		return nil, fmt.Errorf("google: not a KMS key version resource name: %s", name)
	}
	client, err := kms.NewKeyManagementClient(context.Background())
	if err != nil {
		return nil, fmt.Errorf("google: failed to create kms client: %w", err)
	}
	return &Signer{client: client, name: name, retry: retry.Default}, nil
}

// IsKMSResource attempts to identify if a name is a KMS `Key version`,
// format specified at https://cloud.google.com/kms/docs/resource-hierarchy#retrieve_resource_id
func IsKMSResource(name string) bool {
	return strings.Contains(name, "/keyRings/") && strings.Contains(name, "/cryptoKeyVersions/") && len(strings.Split(name, "/")) == 10
}

// Descriptor resolves the key's descriptor, fetching the public key on
// first use.
func (s *Signer) Descriptor(ctx context.Context) (*kmssigner.KeyDescriptor, error) {
	r, err := s.resolve(ctx)
	if err != nil {
		return nil, err
	}
	return r.desc, nil
}

func (s *Signer) resolve(ctx context.Context) (*resolved, error) {
	if r := s.res.Load(); r != nil {
		return r, nil
	}
	v, err, _ := s.group.Do("resolve", func() (interface{}, error) {
		if r := s.res.Load(); r != nil {
			return r, nil
		}
		r, err := s.fetchDescriptor(ctx)
		if err != nil {
			return nil, err
		}
		// First successful fetch wins; a concurrent fetch would carry
		// identical content anyway.
		s.res.CompareAndSwap(nil, r)
		return s.res.Load(), nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*resolved), nil
}

func (s *Signer) fetchDescriptor(ctx context.Context) (*resolved, error) {
	span, ctx := tracing.StartRemoteCallSpan(ctx, "kms.GetPublicKey", s.name)
	defer span.Finish()

	var response *kmspb.PublicKey
	err := s.retry.Do(ctx, "GetPublicKey", func(ctx context.Context) error {
		var err error
		response, err = s.client.GetPublicKey(ctx, &kmspb.GetPublicKeyRequest{Name: s.name})
		if err != nil {
			return s.wrapServiceError("GetPublicKey", err)
		}
		return nil
	})
	if err != nil {
		tracing.LogError(span, err)
		return nil, err
	}

	block, _ := pem.Decode([]byte(response.Pem))
	if block == nil {
		err := &kmssigner.KeyFormatError{KeyReference: s.name, Err: errors.New("response is not PEM")}
		tracing.LogError(span, err)
		return nil, err
	}
	desc, err := kmssigner.ParseKeyDescriptor(s.name, block.Bytes)
	if err != nil {
		tracing.LogError(span, err)
		return nil, err
	}
	if _, ok := kmsAlgorithms[response.Algorithm]; !ok {
		err := &kmssigner.UnsupportedKeyError{KeyReference: s.name, Detail: response.Algorithm.String()}
		tracing.LogError(span, err)
		return nil, err
	}

	log.Debugf("google: resolved %s key %s (id %s)", desc.Family, s.name, desc.KeyID)
	return &resolved{desc: desc, algorithm: response.Algorithm}, nil
}

// SignDigest makes an API call to sign the provided digest after
// checking it against the key version's pinned algorithm.
func (s *Signer) SignDigest(ctx context.Context, digest []byte, opts crypto.SignerOpts) (*kmssigner.Signature, error) {
	r, err := s.resolve(ctx)
	if err != nil {
		return nil, err
	}

	alg, err := kmssigner.AlgorithmFor(r.desc.Family, opts)
	if err != nil {
		return nil, err
	}
	if kmsAlgorithms[r.algorithm] != alg {
		return nil, &kmssigner.UnsupportedAlgorithmError{
			Family: r.desc.Family,
			Detail: fmt.Sprintf("%s, key version is pinned to %s", alg, kmsAlgorithms[r.algorithm]),
		}
	}
	if len(digest) != opts.HashFunc().Size() {
		return nil, &kmssigner.UnsupportedAlgorithmError{
			Family: r.desc.Family,
			Detail: fmt.Sprintf("digest length %d does not match %s", len(digest), opts.HashFunc()),
		}
	}

	var payload kmspb.Digest
	switch opts.HashFunc() {
	case crypto.SHA256:
		payload.Digest = &kmspb.Digest_Sha256{Sha256: digest}
	case crypto.SHA384:
		payload.Digest = &kmspb.Digest_Sha384{Sha384: digest}
	case crypto.SHA512:
		payload.Digest = &kmspb.Digest_Sha512{Sha512: digest}
	default:
		return nil, &kmssigner.UnsupportedAlgorithmError{Family: r.desc.Family, Detail: opts.HashFunc().String()}
	}

	span, ctx := tracing.StartRemoteCallSpan(ctx, "kms.AsymmetricSign", s.name)
	defer span.Finish()
	tracing.SetAlgorithmTag(span, alg.String())

	req := &kmspb.AsymmetricSignRequest{
		Name:         s.name,
		Digest:       &payload,
		DigestCrc32C: wrapperspb.Int64(int64(crc32c(digest))),
	}

	var result *kmspb.AsymmetricSignResponse
	err = s.retry.Do(ctx, "AsymmetricSign", func(ctx context.Context) error {
		var err error
		result, err = s.client.AsymmetricSign(ctx, req)
		if err != nil {
			return s.wrapServiceError("AsymmetricSign", err)
		}
		// https://cloud.google.com/kms/docs/data-integrity-guidelines
		if !result.VerifiedDigestCrc32C {
			return &kmssigner.RemoteServiceError{
				KeyReference: s.name, Call: "AsymmetricSign", Transient: true,
				Err: errors.New("request digest CRC32C not verified"),
			}
		}
		if int64(crc32c(result.Signature)) != result.SignatureCrc32C.GetValue() {
			return &kmssigner.RemoteServiceError{
				KeyReference: s.name, Call: "AsymmetricSign", Transient: true,
				Err: errors.New("response signature CRC32C mismatch"),
			}
		}
		return nil
	})
	if err != nil {
		tracing.LogError(span, err)
		return nil, err
	}

	sig, err := kmssigner.ValidateSignature(r.desc, alg, result.Signature)
	if err != nil {
		tracing.LogError(span, err)
		return nil, err
	}

	log.Debugf("google: signed %d digest bytes with %s for key %s", len(digest), alg, s.name)
	return sig, nil
}

func (s *Signer) wrapServiceError(call string, err error) error {
	return &kmssigner.RemoteServiceError{
		KeyReference: s.name,
		Call:         call,
		Transient:    isTransient(err),
		Err:          err,
	}
}

func isTransient(err error) bool {
	st, ok := status.FromError(err)
	if !ok {
		// not a gRPC status: transport-level failure, worth retrying
		return true
	}
	switch st.Code() {
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Aborted, codes.Internal:
		return true
	}
	return false
}

// from https://cloud.google.com/kms/docs/samples/kms-sign-asymmetric#kms_sign_asymmetric-go
func crc32c(data []byte) uint32 {
	t := crc32.MakeTable(crc32.Castagnoli)
	return crc32.Checksum(data, t)
}
