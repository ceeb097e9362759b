package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeAccountHash(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
		ok    bool
	}{
		{"canonical", "apple-river-stone-cloud-0042", "apple-river-stone-cloud-0042", true},
		{"digits on first word", "apple7-river-stone-cloud-1234", "apple7-river-stone-cloud-1234", true},
		{"upper case and spaces", "  Apple River Stone Cloud 0042 ", "apple-river-stone-cloud-0042", true},
		{"three digit suffix", "apple-river-stone-cloud-042", "", false},
		{"too few words", "apple-river-stone-0042", "", false},
		{"legacy phrase", "a b c d e f g h i 123", "a b c d e f g h i 123", true},
		{"legacy eleven tokens", "a b c d e f g h i j 123456", "a b c d e f g h i j 123456", true},
		{"legacy bad number", "a b c d e f g h i 12", "", false},
		{"empty", "   ", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := NormalizeAccountHash(tt.input)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAccountHashLogin(t *testing.T) {
	s, _ := newTestStore(t, WithSeed(7, 7))
	alice := mustUser(t, s, "alice")

	phrase, u, err := s.GenerateAccountHash(alice.ID)
	require.NoError(t, err)
	norm, ok := NormalizeAccountHash(phrase)
	require.True(t, ok, "generated phrase %q must be valid", phrase)
	assert.Equal(t, phrase, norm)
	assert.Equal(t, AccountHashDigest(phrase), u.AccountHashDigest)
	assert.True(t, u.HasAccountHash())

	got, ok := s.AuthenticateByAccountHash(phrase)
	require.True(t, ok)
	assert.Equal(t, alice.ID, got.ID)

	// 重新生成后旧短语失效。
	next, _, err := s.GenerateAccountHash(alice.ID)
	require.NoError(t, err)
	_, ok = s.AuthenticateByAccountHash(phrase)
	assert.False(t, ok)
	_, ok = s.AuthenticateByAccountHash(next)
	assert.True(t, ok)

	u, err = s.DisableAccountHash(alice.ID)
	require.NoError(t, err)
	assert.False(t, u.HasAccountHash())
	_, ok = s.AuthenticateByAccountHash(next)
	assert.False(t, ok)

	_, ok = s.AuthenticateByAccountHash("not a phrase")
	assert.False(t, ok)
	_, _, err = s.GenerateAccountHash("000000")
	assert.ErrorIs(t, err, ErrUserNotFound)
}
