package metrics_test

import (
	"context"
	"testing"

	"github.com/chirino/chat-service/internal/plugin/store/memory"
	"github.com/chirino/chat-service/internal/plugin/store/metrics"
	registrystore "github.com/chirino/chat-service/internal/registry/store"
	"github.com/chirino/chat-service/internal/security"
	"github.com/chirino/chat-service/internal/testutil/storetest"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrappedStoreBehavesLikeInner(t *testing.T) {
	security.InitMetrics(nil)
	storetest.Run(t, func(t *testing.T) (registrystore.ChatStore, context.Context) {
		return metrics.Wrap(memory.New()), context.Background()
	})
}

func TestWrapRecordsLatency(t *testing.T) {
	security.InitMetrics(nil)
	store := metrics.Wrap(memory.New())

	_, err := store.CreateUser(context.Background(), registrystore.NewUser{FirstName: "Ada", LastName: "Lovelace", Email: "ada@example.com"})
	require.NoError(t, err)

	n := testutil.CollectAndCount(security.StoreLatency, "chat_service_store_latency_seconds")
	assert.GreaterOrEqual(t, n, 1)
}
