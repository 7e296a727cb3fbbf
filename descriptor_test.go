package kmssigner

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDeriveKeyIDDeterministic(t *testing.T) {
	require := require.New(t)

	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(err)

	a, err := NewKeyDescriptor("key-1", &priv.PublicKey)
	require.NoError(err)
	b, err := ParseKeyDescriptor("key-1", a.PublicKeyDER)
	require.NoError(err)
	require.Equal(a.KeyID, b.KeyID)

	other, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(err)
	c, err := NewKeyDescriptor("key-2", &other.PublicKey)
	require.NoError(err)
	require.NotEqual(a.KeyID, c.KeyID)
}

func TestClassifyECKeys(t *testing.T) {
	tests := []struct {
		name     string
		curve    elliptic.Curve
		wantHash crypto.Hash
		wantErr  bool
	}{
		{name: "P-256", curve: elliptic.P256(), wantHash: crypto.SHA256},
		{name: "P-384", curve: elliptic.P384(), wantHash: crypto.SHA384},
		{name: "P-521", curve: elliptic.P521(), wantHash: crypto.SHA512},
		{name: "P-224", curve: elliptic.P224(), wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			priv, err := ecdsa.GenerateKey(tt.curve, rand.Reader)
			require.NoError(t, err)

			d, err := NewKeyDescriptor("key", &priv.PublicKey)
			if tt.wantErr {
				var uerr *UnsupportedKeyError
				require.ErrorAs(t, err, &uerr)
				return
			}
			require.NoError(t, err)
			require.Equal(t, ECDSA, d.Family)
			require.Equal(t, tt.curve, d.Curve)
			require.Equal(t, tt.wantHash, d.DefaultHash())
		})
	}
}

func TestClassifyRSAKeys(t *testing.T) {
	require := require.New(t)

	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(err)
	d, err := NewKeyDescriptor("key", &priv.PublicKey)
	require.NoError(err)
	require.Equal(RSA, d.Family)
	require.Equal(2048, d.Bits)
	require.Equal(crypto.SHA256, d.DefaultHash())

	small, err := rsa.GenerateKey(rand.Reader, 1024)
	require.NoError(err)
	_, err = NewKeyDescriptor("key", &small.PublicKey)
	var uerr *UnsupportedKeyError
	require.ErrorAs(err, &uerr)
	require.Equal("RSA-1024", uerr.Detail)
}

func TestUnsupportedKeyType(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	_, err = NewKeyDescriptor("key", pub)
	var uerr *UnsupportedKeyError
	require.ErrorAs(t, err, &uerr)
}

func TestParseKeyDescriptorRejectsGarbage(t *testing.T) {
	_, err := ParseKeyDescriptor("key", []byte("not a public key"))
	var ferr *KeyFormatError
	require.ErrorAs(t, err, &ferr)
	require.Equal(t, "key", ferr.KeyReference)
}
