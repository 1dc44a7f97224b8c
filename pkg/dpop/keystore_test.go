package dpop

import (
	"testing"

	"github.com/gobeyondidentity/authpkce/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyManagerRestoreEmpty(t *testing.T) {
	t.Parallel()

	m := NewKeyManager(storage.NewMemory(), nil)
	kp, ok := m.Restore()
	assert.False(t, ok)
	assert.Nil(t, kp)
	assert.Nil(t, m.Current())
}

func TestKeyManagerGenerateThenRestore(t *testing.T) {
	t.Parallel()
	t.Log("Testing a generated pair is restored by a fresh manager without regeneration")

	store := storage.NewMemory()
	first := NewKeyManager(store, nil)
	kp, err := first.Generate()
	require.NoError(t, err)
	assert.Equal(t, 2, store.Len())

	second := NewKeyManager(store, nil)
	restored, ok := second.Restore()
	require.True(t, ok)
	assert.True(t, kp.Private.Equal(restored.Private))

	want, _ := kp.Thumbprint()
	got, _ := restored.Thumbprint()
	assert.Equal(t, want, got)
}

func TestKeyManagerEnsureInitialized(t *testing.T) {
	t.Parallel()

	store := storage.NewMemory()
	m := NewKeyManager(store, nil)

	t.Log("First call generates")
	a, err := m.EnsureInitialized()
	require.NoError(t, err)

	t.Log("Second call returns the cached pair")
	b, err := m.EnsureInitialized()
	require.NoError(t, err)
	assert.Same(t, a, b)

	t.Log("A new manager over the same store restores instead of generating")
	c, err := NewKeyManager(store, nil).EnsureInitialized()
	require.NoError(t, err)
	assert.True(t, a.Private.Equal(c.Private))
}

func TestKeyManagerCorruptEntriesDiscarded(t *testing.T) {
	t.Parallel()

	other, _ := GenerateKeyPair()
	otherPub, _ := other.PublicJWKJSON()

	tests := []struct {
		name string
		priv []byte
		pub  []byte
	}{
		{"garbage private", []byte("not json"), otherPub},
		{"missing public", nil, nil},
		{"mismatched halves", nil, otherPub},
		{"public in private slot", otherPub, otherPub},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := storage.NewMemory()
			m := NewKeyManager(store, nil)
			kp, err := m.Generate()
			require.NoError(t, err)

			switch {
			case tt.priv != nil:
				require.NoError(t, store.Set(storage.KeyDPoPPrivate, tt.priv))
				require.NoError(t, store.Set(storage.KeyDPoPPublic, tt.pub))
			case tt.pub != nil:
				require.NoError(t, store.Set(storage.KeyDPoPPublic, tt.pub))
			default:
				require.NoError(t, store.Delete(storage.KeyDPoPPublic))
			}

			fresh := NewKeyManager(store, nil)
			_, ok := fresh.Restore()
			assert.False(t, ok)
			assert.Equal(t, 0, store.Len(), "corrupt entries must be deleted")

			t.Log("EnsureInitialized regenerates a different pair")
			regenerated, err := fresh.EnsureInitialized()
			require.NoError(t, err)
			assert.False(t, kp.Private.Equal(regenerated.Private))
		})
	}
}
