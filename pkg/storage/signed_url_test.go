package storage

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSignedURLSignerGenerateAndParse(t *testing.T) {
	signer := NewSignedURLSigner("secret", time.Hour)
	token, expiresAt, err := signer.Generate("print-1", "prints/week_2024-03-04.pdf")
	require.NoError(t, err)
	require.NotEmpty(t, token)
	require.False(t, expiresAt.IsZero())

	obj, err := signer.Parse(token, false)
	require.NoError(t, err)
	require.Equal(t, "print-1", obj.ResourceID)
	require.Equal(t, "prints/week_2024-03-04.pdf", obj.Path)
	require.WithinDuration(t, expiresAt, obj.ExpiresAt, time.Second)
}

func TestSignedURLSignerExpired(t *testing.T) {
	now := time.Date(2024, 3, 4, 8, 0, 0, 0, time.UTC)
	signer := NewSignedURLSigner("secret", time.Minute)
	signer.now = func() time.Time { return now }
	token, _, err := signer.Generate("print-1", "prints/file.pdf")
	require.NoError(t, err)

	now = now.Add(time.Minute)
	_, err = signer.Parse(token, false)
	require.ErrorIs(t, err, ErrTokenExpired)

	obj, err := signer.Parse(token, true)
	require.NoError(t, err)
	require.Equal(t, "print-1", obj.ResourceID)
	require.Equal(t, "prints/file.pdf", obj.Path)
}

func TestSignedURLSignerRejectsTampering(t *testing.T) {
	signer := NewSignedURLSigner("secret", time.Hour)
	token, _, err := signer.Generate("print-1", "prints/file.pdf")
	require.NoError(t, err)

	parts := strings.Split(token, ".")
	parts[0] = "print-2"
	_, err = signer.Parse(strings.Join(parts, "."), false)
	require.ErrorIs(t, err, ErrTokenSignature)

	_, err = NewSignedURLSigner("other", time.Hour).Parse(token, false)
	require.ErrorIs(t, err, ErrTokenSignature)

	_, err = signer.Parse("garbage", false)
	require.ErrorIs(t, err, ErrTokenMalformed)
}
