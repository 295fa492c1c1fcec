package mongo

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"

	clientsmongo "goa.design/relay/features/session/mongo/clients/mongo"
	"goa.design/relay/runtime/relay/session"
	"goa.design/relay/runtime/relay/session/sessiontest"
)

var (
	testMongoClient    *mongodriver.Client
	testMongoContainer testcontainers.Container
	skipIntegration    bool
	collectionSeq      atomic.Int64
)

func TestMain(m *testing.M) {
	ctx := context.Background()

	var containerErr error
	func() {
		defer func() {
			if r := recover(); r != nil {
				containerErr = fmt.Errorf("docker not available: %v", r)
			}
		}()
		testMongoContainer, containerErr = testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
			ContainerRequest: testcontainers.ContainerRequest{
				Image:        "mongo:7",
				ExposedPorts: []string{"27017/tcp"},
				WaitingFor:   wait.ForLog("Waiting for connections"),
			},
			Started: true,
		})
	}()

	if containerErr != nil {
		fmt.Printf("Docker not available, integration tests will be skipped: %v\n", containerErr)
		skipIntegration = true
	} else {
		endpoint, err := testMongoContainer.Endpoint(ctx, "mongodb")
		if err == nil {
			testMongoClient, err = clientsmongo.Dial(ctx, endpoint)
		}
		if err != nil {
			fmt.Printf("Failed to connect to mongo: %v\n", err)
			skipIntegration = true
		}
	}

	code := m.Run()

	if testMongoClient != nil {
		_ = testMongoClient.Disconnect(ctx)
	}
	if testMongoContainer != nil {
		_ = testMongoContainer.Terminate(ctx)
	}
	os.Exit(code)
}

func newIntegrationStore(t *testing.T) session.Store {
	t.Helper()
	if skipIntegration {
		t.Skip("Docker not available, skipping integration test")
	}
	cl, err := clientsmongo.New(clientsmongo.Options{
		Client:     testMongoClient,
		Database:   "relay_test",
		Collection: fmt.Sprintf("sessions_%d", collectionSeq.Add(1)),
	})
	require.NoError(t, err)
	s, err := NewStore(cl)
	require.NoError(t, err)
	return s
}

func TestMongoStoreIntegration(t *testing.T) {
	sessiontest.Run(t, newIntegrationStore)
}

func TestMongoStoreHealth(t *testing.T) {
	s := newIntegrationStore(t).(*Store)
	require.NoError(t, s.Ping(context.Background()))
}
