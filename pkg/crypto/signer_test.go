package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignAndVerify(t *testing.T) {
	s, err := NewEd25519Signer()
	require.NoError(t, err)

	sig, err := s.Sign([]byte("hello"))
	require.NoError(t, err)

	ok, err := Verify(s.PublicKey(), sig, []byte("hello"))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestVerifyRejectsWrongMessage(t *testing.T) {
	s, err := NewEd25519Signer()
	require.NoError(t, err)

	sig, err := s.Sign([]byte("hello"))
	require.NoError(t, err)

	ok, err := Verify(s.PublicKey(), sig, []byte("tampered"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestVerifyRejectsWrongKey(t *testing.T) {
	s1, _ := NewEd25519Signer()
	s2, _ := NewEd25519Signer()

	sig, err := s1.Sign([]byte("hello"))
	require.NoError(t, err)

	ok, err := Verify(s2.PublicKey(), sig, []byte("hello"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestVerifyStructuralDefects(t *testing.T) {
	s, _ := NewEd25519Signer()
	sig, _ := s.Sign([]byte("x"))

	cases := []struct {
		name string
		pub  string
		sig  string
	}{
		{"bad pub hex", "zz", sig},
		{"bad sig hex", s.PublicKey(), "zz"},
		{"short pub", "abcd", sig},
		{"short sig", s.PublicKey(), "abcd"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ok, err := Verify(tc.pub, tc.sig, []byte("x"))
			assert.False(t, ok)
			assert.Error(t, err)
		})
	}
}

func TestSignerFromSeedIsDeterministic(t *testing.T) {
	seed := "0000000000000000000000000000000000000000000000000000000000000001"
	s1, err := NewEd25519SignerFromSeedHex(seed)
	require.NoError(t, err)
	s2, err := NewEd25519SignerFromSeedHex(seed)
	require.NoError(t, err)
	assert.Equal(t, s1.PublicKey(), s2.PublicKey())
}
