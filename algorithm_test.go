package kmssigner

import (
	"crypto"
	"crypto/rsa"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAlgorithmForCoversTable(t *testing.T) {
	tests := []struct {
		family KeyFamily
		opts   crypto.SignerOpts
		want   Algorithm
	}{
		{ECDSA, crypto.SHA256, ECDSASHA256},
		{ECDSA, crypto.SHA384, ECDSASHA384},
		{ECDSA, crypto.SHA512, ECDSASHA512},
		{RSA, crypto.SHA256, RSAPKCS1SHA256},
		{RSA, crypto.SHA384, RSAPKCS1SHA384},
		{RSA, crypto.SHA512, RSAPKCS1SHA512},
		{RSA, &rsa.PSSOptions{Hash: crypto.SHA256}, RSAPSSSHA256},
		{RSA, &rsa.PSSOptions{Hash: crypto.SHA384}, RSAPSSSHA384},
		{RSA, &rsa.PSSOptions{Hash: crypto.SHA512}, RSAPSSSHA512},
	}
	require.Len(t, tests, len(signingAlgorithms))

	for _, tt := range tests {
		t.Run(tt.want.String(), func(t *testing.T) {
			got, err := AlgorithmFor(tt.family, tt.opts)
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
			require.Equal(t, tt.opts.HashFunc(), got.Hash())
		})
	}
}

func TestAlgorithmForUnsupported(t *testing.T) {
	for _, family := range []KeyFamily{RSA, ECDSA} {
		_, err := AlgorithmFor(family, crypto.SHA1)
		var uerr *UnsupportedAlgorithmError
		require.ErrorAs(t, err, &uerr)
		require.Equal(t, family, uerr.Family)
	}
}
