package credential_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valinor-ai/useradmin/internal/credential"
	"golang.org/x/crypto/bcrypt"
)

func newStore(t *testing.T) (*credential.Store, *credential.MemoryBackend) {
	t.Helper()
	hasher, err := credential.NewHasher(bcrypt.MinCost)
	require.NoError(t, err)
	backend := credential.NewMemoryBackend()
	return credential.NewStore(hasher, backend), backend
}

func TestNewHasher_Cost(t *testing.T) {
	_, err := credential.NewHasher(0)
	assert.NoError(t, err)
	_, err = credential.NewHasher(bcrypt.MinCost - 1)
	assert.Error(t, err)
	_, err = credential.NewHasher(bcrypt.MaxCost + 1)
	assert.Error(t, err)
}

func TestStore_SetAndVerify(t *testing.T) {
	store, backend := newStore(t)
	ctx := context.Background()

	require.NoError(t, store.SetCredential(ctx, 1, "correct horse"))
	assert.NoError(t, store.Verify(ctx, 1, "correct horse"))
	assert.ErrorIs(t, store.Verify(ctx, 1, "wrong"), credential.ErrMismatch)

	// The backend never sees the plain secret.
	hash, err := backend.GetHash(ctx, 1)
	require.NoError(t, err)
	assert.NotContains(t, string(hash), "correct horse")
}

func TestStore_Replace(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()

	require.NoError(t, store.SetCredential(ctx, 1, "first"))
	require.NoError(t, store.SetCredential(ctx, 1, "second"))
	assert.ErrorIs(t, store.Verify(ctx, 1, "first"), credential.ErrMismatch)
	assert.NoError(t, store.Verify(ctx, 1, "second"))
}

func TestStore_EmptySecret(t *testing.T) {
	store, backend := newStore(t)
	ctx := context.Background()

	assert.ErrorIs(t, store.SetCredential(ctx, 1, "   "), credential.ErrEmptySecret)
	_, err := backend.GetHash(ctx, 1)
	assert.ErrorIs(t, err, credential.ErrNotFound)
}

func TestStore_UnknownUserLooksLikeMismatch(t *testing.T) {
	store, _ := newStore(t)
	assert.ErrorIs(t, store.Verify(context.Background(), 42, "anything"), credential.ErrMismatch)
}

func TestStore_Delete(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()

	require.NoError(t, store.SetCredential(ctx, 1, "secret"))
	require.NoError(t, store.DeleteCredential(ctx, 1))
	assert.ErrorIs(t, store.Verify(ctx, 1, "secret"), credential.ErrMismatch)
	assert.NoError(t, store.DeleteCredential(ctx, 1))
}

type brokenBackend struct{}

var errDown = errors.New("backend down")

func (brokenBackend) PutHash(context.Context, int64, []byte) error   { return errDown }
func (brokenBackend) GetHash(context.Context, int64) ([]byte, error) { return nil, errDown }
func (brokenBackend) DeleteHash(context.Context, int64) error        { return errDown }

func TestStore_BackendError(t *testing.T) {
	hasher, err := credential.NewHasher(bcrypt.MinCost)
	require.NoError(t, err)
	store := credential.NewStore(hasher, brokenBackend{})

	assert.ErrorIs(t, store.Verify(context.Background(), 1, "x"), errDown)
	assert.ErrorIs(t, store.SetCredential(context.Background(), 1, "x"), errDown)
}
