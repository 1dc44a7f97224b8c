package session

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEchoOpener(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	o := &EchoOpener{W: &buf}
	require.NoError(t, o.Open(context.Background(), "https://idp.example.com/authorize?x=1"))
	assert.Contains(t, buf.String(), "https://idp.example.com/authorize?x=1")
}

func TestOpenerFunc(t *testing.T) {
	t.Parallel()

	var got string
	var o Opener = OpenerFunc(func(_ context.Context, u string) error {
		got = u
		return nil
	})
	require.NoError(t, o.Open(context.Background(), "https://example.com"))
	assert.Equal(t, "https://example.com", got)
}

func TestDetectOpener(t *testing.T) {
	t.Parallel()
	assert.NotNil(t, DetectOpener())
}
