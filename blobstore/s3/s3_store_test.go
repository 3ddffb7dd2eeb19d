package s3

import (
	"context"
	"crypto/rand"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/hupe1980/edgecache/blobstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIntegration_S3Backend(t *testing.T) {
	bucket := os.Getenv("S3_BUCKET")
	if bucket == "" {
		t.Skip("Skipping S3 integration test: S3_BUCKET not set")
	}

	ctx := context.Background()
	cfg, err := config.LoadDefaultConfig(ctx)
	require.NoError(t, err)

	client := s3.NewFromConfig(cfg)

	// Create a unique prefix for this test run
	prefix := fmt.Sprintf("test-edgecache-%d/", time.Now().UnixNano())
	backend := NewBackend(client, bucket, prefix)

	t.Run("Put and Get", func(t *testing.T) {
		name := "v1-static/test.blob"
		data := make([]byte, 1024*1024) // 1MB
		rand.Read(data)

		require.NoError(t, backend.Put(ctx, name, data))

		// List
		names, err := backend.List(ctx, "")
		require.NoError(t, err)
		assert.Contains(t, names, name)

		// Get
		got, err := backend.Get(ctx, name)
		require.NoError(t, err)
		assert.Equal(t, data, got)

		// Clean up
		require.NoError(t, backend.Delete(ctx, name))
	})

	t.Run("NotFound", func(t *testing.T) {
		_, err := backend.Get(ctx, "nonexistent")
		assert.ErrorIs(t, err, blobstore.ErrNotFound)
	})
}
