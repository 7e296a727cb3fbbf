// Package azure signs with keys held in Azure Key Vault or Azure
// Managed HSM. Importing the package registers the "azurekv" URI
// scheme.
package azure

import (
	"context"
	"crypto"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/Azure/azure-sdk-for-go/profiles/latest/keyvault/keyvault"
	kvauth "github.com/Azure/azure-sdk-for-go/services/keyvault/auth"
	"github.com/Azure/go-autorest/autorest"
	"github.com/Azure/go-autorest/autorest/azure"
	"github.com/Azure/go-autorest/autorest/azure/auth"
	"github.com/cloudflare/cfssl/log"
	"golang.org/x/sync/singleflight"
	jose "gopkg.in/square/go-jose.v2"

	"github.com/cloudsign/kmssigner"
	"github.com/cloudsign/kmssigner/internal/retry"
	"github.com/cloudsign/kmssigner/tracing"
)

// Scheme is the URI scheme this backend registers under. The rest of
// the URI names the vault host, key and version, e.g.
// azurekv://vault-name.vault.azure.net/keys/key-name/abc123
const Scheme = "azurekv"

func init() {
	kmssigner.RegisterScheme(Scheme, func(uri string) (kmssigner.Signer, error) {
		return New(uri)
	})
}

type keyVault interface {
	Sign(ctx context.Context, vaultBaseURL string, keyName string, keyVersion string, parameters keyvault.KeySignParameters) (result keyvault.KeyOperationResult, err error)
	GetKey(ctx context.Context, vaultBaseURL string, keyName string, keyVersion string) (result keyvault.KeyBundle, err error)
}

// Signer signs with a Key Vault or Managed HSM key version.
type Signer struct {
	client                       keyVault
	baseURL, keyName, keyVersion string
	retry                        retry.Policy

	// If the key changes, so does the keyVersion, so the first
	// successful fetch is cached for the life of the Signer.
	group singleflight.Group
	desc  atomic.Pointer[kmssigner.KeyDescriptor]
}

var _ kmssigner.Signer = (*Signer)(nil)

// New creates a Signer for an azurekv:// URI (a Key Vault key URL with
// the scheme swapped). Credentials are resolved from the environment
// or auth file; required roles are /keys/read/action and
// /keys/sign/action.
func New(uri string) (*Signer, error) {
	baseURL, keyName, keyVersion, err := parseKeyURI(uri)
	if err != nil {
		return nil, err
	}

	client, err := makeClientWithAuth(baseURL)
	if err != nil {
		return nil, err
	}
	return &Signer{
		client:     client,
		baseURL:    baseURL,
		keyName:    keyName,
		keyVersion: keyVersion,
		retry:      retry.Default,
	}, nil
}

func (s *Signer) keyReference() string {
	return fmt.Sprintf("%s/keys/%s/%s", s.baseURL, s.keyName, s.keyVersion)
}

// Descriptor resolves the key's descriptor, fetching the public key on
// first use.
func (s *Signer) Descriptor(ctx context.Context) (*kmssigner.KeyDescriptor, error) {
	if d := s.desc.Load(); d != nil {
		return d, nil
	}
	v, err, _ := s.group.Do("resolve", func() (interface{}, error) {
		if d := s.desc.Load(); d != nil {
			return d, nil
		}
		d, err := s.fetchDescriptor(ctx)
		if err != nil {
			return nil, err
		}
		s.desc.CompareAndSwap(nil, d)
		return s.desc.Load(), nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*kmssigner.KeyDescriptor), nil
}

// fetchDescriptor fetches the key version, normalizes its JWK and
// extracts the public key through jose, which hides the per-key-type
// field handling.
func (s *Signer) fetchDescriptor(ctx context.Context) (*kmssigner.KeyDescriptor, error) {
	span, ctx := tracing.StartRemoteCallSpan(ctx, "keyvault.GetKey", s.keyReference())
	defer span.Finish()

	var keyBundle keyvault.KeyBundle
	err := s.retry.Do(ctx, "GetKey", func(ctx context.Context) error {
		var err error
		keyBundle, err = s.client.GetKey(ctx, s.baseURL, s.keyName, s.keyVersion)
		if err != nil {
			return s.wrapServiceError("GetKey", err)
		}
		return nil
	})
	if err != nil {
		tracing.LogError(span, err)
		return nil, err
	}

	if keyBundle.Key == nil {
		err := &kmssigner.KeyFormatError{KeyReference: s.keyReference(), Err: errors.New("key bundle has no key")}
		tracing.LogError(span, err)
		return nil, err
	}

	// https://docs.microsoft.com/en-us/azure/key-vault/keys/about-keys#key-types-and-protection-methods
	switch keyBundle.Key.Kty {
	case keyvault.EC, keyvault.RSA:
	// jose only knows the plain types, so strip the -HSM suffix
	case keyvault.ECHSM:
		keyBundle.Key.Kty = keyvault.EC
	case keyvault.RSAHSM:
		keyBundle.Key.Kty = keyvault.RSA
	default:
		err := &kmssigner.UnsupportedKeyError{KeyReference: s.keyReference(), Detail: string(keyBundle.Key.Kty)}
		tracing.LogError(span, err)
		return nil, err
	}

	jwkJSON, err := json.Marshal(keyBundle.Key)
	if err != nil {
		return nil, &kmssigner.KeyFormatError{KeyReference: s.keyReference(), Err: err}
	}
	jwk := jose.JSONWebKey{}
	if err := jwk.UnmarshalJSON(jwkJSON); err != nil {
		return nil, &kmssigner.KeyFormatError{KeyReference: s.keyReference(), Err: err}
	}

	desc, err := kmssigner.NewKeyDescriptor(s.keyReference(), jwk.Key)
	if err != nil {
		tracing.LogError(span, err)
		return nil, err
	}

	log.Debugf("azure: resolved %s key %s (id %s)", desc.Family, s.keyName, desc.KeyID)
	return desc, nil
}

// signatureAlgorithms maps the adapter's signing algorithms to the JWK
// identifiers Key Vault understands.
// See https://tools.ietf.org/html/rfc7518#section-3.1
var signatureAlgorithms = map[kmssigner.Algorithm]keyvault.JSONWebKeySignatureAlgorithm{
	kmssigner.ECDSASHA256:    keyvault.ES256,
	kmssigner.ECDSASHA384:    keyvault.ES384,
	kmssigner.ECDSASHA512:    keyvault.ES512,
	kmssigner.RSAPKCS1SHA256: keyvault.RS256,
	kmssigner.RSAPKCS1SHA384: keyvault.RS384,
	kmssigner.RSAPKCS1SHA512: keyvault.RS512,
	kmssigner.RSAPSSSHA256:   keyvault.PS256,
	kmssigner.RSAPSSSHA384:   keyvault.PS384,
	kmssigner.RSAPSSSHA512:   keyvault.PS512,
}

// SignDigest makes an API call to sign the provided digest. EC
// signatures come back in fixed-width IEEE P1363 form and are
// re-encoded as ASN.1 DER before validation.
func (s *Signer) SignDigest(ctx context.Context, digest []byte, opts crypto.SignerOpts) (*kmssigner.Signature, error) {
	desc, err := s.Descriptor(ctx)
	if err != nil {
		return nil, err
	}

	alg, err := kmssigner.AlgorithmFor(desc.Family, opts)
	if err != nil {
		return nil, err
	}
	kvAlg, ok := signatureAlgorithms[alg]
	if !ok {
		return nil, &kmssigner.UnsupportedAlgorithmError{Family: desc.Family, Detail: alg.String()}
	}
	if len(digest) != opts.HashFunc().Size() {
		return nil, &kmssigner.UnsupportedAlgorithmError{
			Family: desc.Family,
			Detail: fmt.Sprintf("digest length %d does not match %s", len(digest), opts.HashFunc()),
		}
	}

	span, ctx := tracing.StartRemoteCallSpan(ctx, "keyvault.Sign", s.keyReference())
	defer span.Finish()
	tracing.SetAlgorithmTag(span, alg.String())

	// base64url required as per https://docs.microsoft.com/en-us/azure/key-vault/general/about-keys-secrets-certificates#data-types
	payload := base64.RawURLEncoding.EncodeToString(digest)

	var signed keyvault.KeyOperationResult
	err = s.retry.Do(ctx, "Sign", func(ctx context.Context) error {
		var err error
		signed, err = s.client.Sign(ctx, s.baseURL, s.keyName, s.keyVersion, keyvault.KeySignParameters{
			Algorithm: kvAlg,
			Value:     &payload,
		})
		if err != nil {
			return s.wrapServiceError("Sign", err)
		}
		return nil
	})
	if err != nil {
		tracing.LogError(span, err)
		return nil, err
	}

	if signed.Result == nil {
		err := &kmssigner.InvalidSignatureEncodingError{KeyReference: s.keyReference(), Algorithm: alg, Detail: "empty signature"}
		tracing.LogError(span, err)
		return nil, err
	}
	raw, err := base64.RawURLEncoding.DecodeString(*signed.Result)
	if err != nil {
		err := &kmssigner.InvalidSignatureEncodingError{KeyReference: s.keyReference(), Algorithm: alg, Detail: "signature is not base64url"}
		tracing.LogError(span, err)
		return nil, err
	}

	if desc.Family == kmssigner.ECDSA {
		raw, err = kmssigner.ECDSASignatureFromP1363(raw)
		if err != nil {
			err := &kmssigner.InvalidSignatureEncodingError{KeyReference: s.keyReference(), Algorithm: alg, Detail: err.Error()}
			tracing.LogError(span, err)
			return nil, err
		}
	}

	sig, err := kmssigner.ValidateSignature(desc, alg, raw)
	if err != nil {
		tracing.LogError(span, err)
		return nil, err
	}

	log.Debugf("azure: signed %d digest bytes with %s for key %s", len(digest), kvAlg, s.keyName)
	return sig, nil
}

func (s *Signer) wrapServiceError(call string, err error) error {
	return &kmssigner.RemoteServiceError{
		KeyReference: s.keyReference(),
		Call:         call,
		Transient:    isTransient(err),
		Err:          err,
	}
}

func isTransient(err error) bool {
	var detailed autorest.DetailedError
	if !errors.As(err, &detailed) {
		// no HTTP status to classify by, assume a transport blip
		return true
	}
	code, ok := detailed.StatusCode.(int)
	if !ok {
		return true
	}
	return code == http.StatusTooManyRequests || code >= 500
}

// IsKeyVaultHost determines if a host belongs to a Key Vault or
// Managed HSM endpoint.
// base URLs defined at https://docs.microsoft.com/en-us/azure/key-vault/general/about-keys-secrets-certificates
func IsKeyVaultHost(host string) bool {
	suffixes := []string{
		"managedhsm.azure.net",
		azure.ChinaCloud.KeyVaultDNSSuffix,
		azure.GermanCloud.KeyVaultDNSSuffix,
		azure.PublicCloud.KeyVaultDNSSuffix,
		azure.USGovernmentCloud.KeyVaultDNSSuffix,
	}
	for _, suffix := range suffixes {
		if strings.HasSuffix(host, suffix) {
			return true
		}
	}
	return false
}

func parseKeyURI(uri string) (baseURL, keyName, keyVersion string, err error) {
	if !strings.HasPrefix(uri, Scheme+"://") {
		err = fmt.Errorf("azure: invalid key URI: %s", uri)
		return
	}
	parts := strings.Split(strings.TrimPrefix(uri, Scheme+"://"), "/")
	if len(parts) != 4 || parts[1] != "keys" || !IsKeyVaultHost(parts[0]) {
		err = fmt.Errorf("azure: invalid key URI: %s", uri)
		return
	}
	baseURL = "https://" + parts[0]
	keyName = parts[2]
	keyVersion = parts[3]
	return
}

// makeClientWithAuth tries to auth based on environment variables.
// See https://pkg.go.dev/github.com/Azure/go-autorest/autorest/azure/auth for instructions
//
// we first try to load auth via NewAuthorizerFromFile, and then if that fails, NewAuthorizerFromEnvironment
func makeClientWithAuth(baseURL string) (*keyvault.BaseClient, error) {
	var authorizer autorest.Authorizer
	var err error

	// The autorest Environment table has no Managed HSM endpoint, so
	// the resource has to be pinned explicitly there. Managed HSM is
	// only offered in the public cloud.
	if strings.Contains(baseURL, "managedhsm.azure.net") {
		authorizer, err = auth.NewAuthorizerFromFileWithResource("https://managedhsm.azure.net")
		if err != nil {
			authorizer, err = auth.NewAuthorizerFromEnvironmentWithResource("https://managedhsm.azure.net")
		}
	} else {
		authorizer, err = kvauth.NewAuthorizerFromFile()
		if err != nil {
			authorizer, err = kvauth.NewAuthorizerFromEnvironment()
		}
	}
	if err != nil {
		return nil, fmt.Errorf("azure: failed to auth: %w", err)
	}

	basicClient := keyvault.New()
	basicClient.Authorizer = authorizer
	return &basicClient, nil
}
