// Package testutils starts disposable backing services for integration tests.
package testutils

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	tckafka "github.com/testcontainers/testcontainers-go/modules/kafka"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	startupBudget   = 3 * time.Minute
	teardownTimeout = 30 * time.Second
)

// terminateOnCleanup stops c when the test ends. Tests are skipped without a container runtime.
func terminateOnCleanup(t *testing.T, c testcontainers.Container) {
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
		defer cancel()
		if err := c.Terminate(ctx); err != nil {
			t.Logf("terminate container: %v", err)
		}
	})
}

// startGeneric runs req and returns host:port of its lowest exposed port.
func startGeneric(t *testing.T, name string, req testcontainers.ContainerRequest) string {
	t.Helper()
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx, cancel := context.WithTimeout(context.Background(), startupBudget)
	defer cancel()
	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{ContainerRequest: req, Started: true})
	if err != nil {
		t.Fatalf("start %s container: %v", name, err)
	}
	terminateOnCleanup(t, c)

	endpoint, err := c.Endpoint(ctx, "")
	if err != nil {
		t.Fatalf("%s endpoint: %v", name, err)
	}
	return endpoint
}

// StartPostgresForTests returns a DSN without the `postgres://` prefix, the form database.Config takes.
func StartPostgresForTests(t *testing.T) string {
	t.Helper()
	endpoint := startGeneric(t, "postgres", testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "ledger",
			"POSTGRES_PASSWORD": "ledger",
			"POSTGRES_DB":       "custodial_ledger",
		},
		// postgres restarts once after init; the second line is the real one
		WaitingFor: wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
	})
	return fmt.Sprintf("ledger:ledger@%s/custodial_ledger?sslmode=disable", endpoint)
}

// StartRedisForTests returns host:port.
func StartRedisForTests(t *testing.T) string {
	t.Helper()
	return startGeneric(t, "redis", testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForListeningPort("6379/tcp"),
	})
}

// StartKafkaForTests starts a single-node KRaft broker and returns its bootstrap address.
func StartKafkaForTests(t *testing.T) string {
	t.Helper()
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx, cancel := context.WithTimeout(context.Background(), startupBudget)
	defer cancel()
	kc, err := tckafka.Run(ctx, "confluentinc/confluent-local:7.5.0", tckafka.WithClusterID("ledger-test"))
	if err != nil {
		t.Fatalf("start kafka container: %v", err)
	}
	terminateOnCleanup(t, kc)

	brokers, err := kc.Brokers(ctx)
	if err != nil || len(brokers) == 0 {
		t.Fatalf("kafka brokers: %v", err)
	}
	return strings.Join(brokers, ",")
}
