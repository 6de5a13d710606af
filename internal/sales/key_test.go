package sales

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewKey(t *testing.T) {
	key, err := NewKey("svc1", "tok7")
	require.NoError(t, err)
	assert.Equal(t, "svc1", key.ServiceID)
	assert.Equal(t, "tok7", key.AssetID)
	assert.Equal(t, "svc1.tok7", key.String())

	_, err = NewKey("", "tok7")
	assert.ErrorIs(t, err, ErrInvalidKey)
	_, err = NewKey("svc1", "")
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestKeyDelimiterDoesNotCollide(t *testing.T) {
	a := Key{ServiceID: "a.b", AssetID: "c"}
	b := Key{ServiceID: "a", AssetID: "b.c"}

	assert.Equal(t, a.String(), b.String())
	assert.NotEqual(t, a, b)
	assert.NotZero(t, a.Compare(b))

	storage := NewLocalStorage()
	require.NoError(t, storage.Set(&Sale{ServiceID: a.ServiceID, AssetID: a.AssetID, Owner: "alice"}))
	require.NoError(t, storage.Set(&Sale{ServiceID: b.ServiceID, AssetID: b.AssetID, Owner: "bob"}))

	gotA, err := storage.Read(a)
	require.NoError(t, err)
	assert.Equal(t, "alice", gotA.Owner)
	gotB, err := storage.Read(b)
	require.NoError(t, err)
	assert.Equal(t, "bob", gotB.Owner)
}

func TestKeyCompare(t *testing.T) {
	assert.Equal(t, 0, Key{"s", "a"}.Compare(Key{"s", "a"}))
	assert.Equal(t, -1, Key{"s", "a"}.Compare(Key{"s", "b"}))
	assert.Equal(t, 1, Key{"t", "a"}.Compare(Key{"s", "z"}))
}
