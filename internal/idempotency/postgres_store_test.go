package idempotency

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresStoreLifecycle(t *testing.T) {
	dsn := os.Getenv("POSTGRES_TEST_DSN")
	if dsn == "" {
		t.Skip("POSTGRES_TEST_DSN not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	store, err := NewPostgresStore(ctx, dsn)
	require.NoError(t, err)
	defer store.Close()

	key := "test-" + uuid.NewString()
	rec := Record{
		RequestHash:  HashRequest([]byte("body")),
		SubmissionID: uuid.NewString(),
		StatusCode:   202,
		Response:     []byte("payload"),
		CreatedAt:    time.Now().UTC(),
		ExpiresAt:    time.Now().Add(time.Minute).UTC(),
	}
	require.NoError(t, store.Save(ctx, key, rec))

	got, err := store.Get(ctx, key)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, rec.StatusCode, got.StatusCode)
	assert.Equal(t, rec.SubmissionID, got.SubmissionID)
	assert.True(t, got.Matches([]byte("body")))

	expired := "expired-" + uuid.NewString()
	require.NoError(t, store.Save(ctx, expired, Record{Response: []byte{}, ExpiresAt: time.Now().Add(-time.Minute)}))
	got, err = store.Get(ctx, expired)
	require.NoError(t, err)
	assert.Nil(t, got)
}
