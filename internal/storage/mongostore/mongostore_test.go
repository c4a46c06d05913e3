package mongostore_test

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"doodlegrid/internal/domain"
	"doodlegrid/internal/storage/mongostore"
	"doodlegrid/internal/storage/storagetest"
)

// Requires a replica set, e.g. mongodb://localhost:27017/?replicaSet=rs0
func TestStore(t *testing.T) {
	uri := os.Getenv("DOODLEGRID_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("DOODLEGRID_TEST_MONGO_URI not set")
	}

	storagetest.Run(t, func(t *testing.T) domain.Backend {
		ctx := context.Background()
		s, err := mongostore.Open(ctx, uri, "doodlegrid_test_"+uuid.NewString()[:8])
		require.NoError(t, err)
		t.Cleanup(func() {
			_ = s.Drop(context.Background())
			_ = s.Close()
		})
		return s
	})
}
