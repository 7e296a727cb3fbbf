package kmssigner

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"testing"

	"github.com/stretchr/testify/require"
)

func testECDescriptor(t *testing.T) (*KeyDescriptor, *ecdsa.PrivateKey) {
	t.Helper()
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	d, err := NewKeyDescriptor("test-key", &priv.PublicKey)
	require.NoError(t, err)
	return d, priv
}

func TestValidateSignatureECDSA(t *testing.T) {
	require := require.New(t)
	d, priv := testECDescriptor(t)

	digest := sha256.Sum256([]byte("metadata"))
	raw, err := ecdsa.SignASN1(rand.Reader, priv, digest[:])
	require.NoError(err)

	sig, err := ValidateSignature(d, ECDSASHA256, raw)
	require.NoError(err)
	// valid DER passes through byte for byte
	require.Equal(raw, sig.Bytes)
	require.Equal(d.KeyID, sig.KeyID)
	require.True(ecdsa.VerifyASN1(&priv.PublicKey, digest[:], sig.Bytes))
}

func TestValidateSignatureRejectsMalformed(t *testing.T) {
	d, priv := testECDescriptor(t)

	digest := sha256.Sum256([]byte("metadata"))
	raw, err := ecdsa.SignASN1(rand.Reader, priv, digest[:])
	require.NoError(t, err)

	tests := []struct {
		name string
		raw  []byte
	}{
		{name: "empty", raw: nil},
		{name: "not DER", raw: []byte("junk")},
		{name: "trailing data", raw: append(append([]byte{}, raw...), 0x00)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ValidateSignature(d, ECDSASHA256, tt.raw)
			var eerr *InvalidSignatureEncodingError
			require.ErrorAs(t, err, &eerr)
		})
	}
}

func TestValidateSignatureRSA(t *testing.T) {
	require := require.New(t)

	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(err)
	d, err := NewKeyDescriptor("test-key", &priv.PublicKey)
	require.NoError(err)

	digest := sha256.Sum256([]byte("metadata"))
	raw, err := rsa.SignPKCS1v15(rand.Reader, priv, crypto.SHA256, digest[:])
	require.NoError(err)

	sig, err := ValidateSignature(d, RSAPKCS1SHA256, raw)
	require.NoError(err)
	require.Equal(raw, sig.Bytes)
	require.NoError(rsa.VerifyPKCS1v15(&priv.PublicKey, crypto.SHA256, digest[:], sig.Bytes))

	_, err = ValidateSignature(d, RSAPKCS1SHA256, raw[:len(raw)-1])
	var eerr *InvalidSignatureEncodingError
	require.ErrorAs(err, &eerr)
}

func TestECDSASignatureFromP1363(t *testing.T) {
	require := require.New(t)
	_, priv := testECDescriptor(t)

	digest := sha256.Sum256([]byte("metadata"))
	r, s, err := ecdsa.Sign(rand.Reader, priv, digest[:])
	require.NoError(err)

	// fixed-width r || s, the form Key Vault returns
	size := (priv.Curve.Params().BitSize + 7) / 8
	p1363 := make([]byte, 2*size)
	r.FillBytes(p1363[:size])
	s.FillBytes(p1363[size:])

	der, err := ECDSASignatureFromP1363(p1363)
	require.NoError(err)
	require.True(ecdsa.VerifyASN1(&priv.PublicKey, digest[:], der))

	_, err = ECDSASignatureFromP1363(p1363[:len(p1363)-1])
	require.Error(err)
	_, err = ECDSASignatureFromP1363(nil)
	require.Error(err)
	_, err = ECDSASignatureFromP1363(make([]byte, 2*size))
	require.Error(err)
}
