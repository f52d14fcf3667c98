package testmongo

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/mongodb"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

var databases atomic.Int64

// Connect starts a disposable single-node MongoDB replica set and returns a client
// connected to it. Replica set members support multi-document transactions.
func Connect(tb testing.TB) *mongo.Client {
	tb.Helper()
	return connect(tb, mongodb.WithReplicaSet("rs0"))
}

// ConnectStandalone starts a disposable standalone MongoDB server, which rejects
// transactions.
func ConnectStandalone(tb testing.TB) *mongo.Client {
	tb.Helper()
	return connect(tb)
}

func connect(tb testing.TB, opts ...testcontainers.ContainerCustomizer) *mongo.Client {
	tb.Helper()

	ctx := context.Background()
	container, err := mongodb.Run(ctx, "mongo:7", opts...)
	if err != nil {
		tb.Fatalf("start mongodb container: %v", err)
	}
	tb.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := container.Terminate(ctx); err != nil {
			tb.Errorf("terminate mongodb container: %v", err)
		}
	})

	uri, err := container.ConnectionString(ctx)
	if err != nil {
		tb.Fatalf("build mongodb connection string: %v", err)
	}
	client, err := mongo.Connect(options.Client().ApplyURI(uri).SetDirect(true))
	if err != nil {
		tb.Fatalf("connect to mongodb: %v", err)
	}
	// Registered after Terminate, so it runs first.
	tb.Cleanup(func() { _ = client.Disconnect(context.Background()) })
	return client
}

// FreshDatabase returns a database no other caller has used. It is dropped when tb ends.
func FreshDatabase(tb testing.TB, client *mongo.Client) *mongo.Database {
	tb.Helper()
	db := client.Database(fmt.Sprintf("chat_test_%d", databases.Add(1)))
	tb.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = db.Drop(ctx)
	})
	return db
}
