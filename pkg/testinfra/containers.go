// Package testinfra starts disposable dependencies for integration tests.
package testinfra

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	tckafka "github.com/testcontainers/testcontainers-go/modules/kafka"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

const startupTimeout = 2 * time.Minute

// StartPostgres starts a Postgres 16 container and returns its DSN. TEST_PG_DSN reuses an
// existing database instead. The container is terminated on test cleanup.
func StartPostgres(tb testing.TB) string {
	tb.Helper()
	if dsn := os.Getenv("TEST_PG_DSN"); dsn != "" {
		return dsn
	}

	ctx, cancel := context.WithTimeout(context.Background(), startupTimeout)
	defer cancel()

	pgC, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("parcel_recovery"),
		postgres.WithUsername("db_user"),
		postgres.WithPassword("db_password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		tb.Fatalf("failed to start postgres test container: %v", err)
	}
	tb.Cleanup(func() { terminate(pgC) })

	dsn, err := pgC.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		tb.Fatalf("failed to build postgres dsn: %v", err)
	}
	return dsn
}

// StartRedis starts a Redis container and returns host:port. TEST_REDIS_ADDR reuses an
// existing server instead.
func StartRedis(tb testing.TB) string {
	tb.Helper()
	if addr := os.Getenv("TEST_REDIS_ADDR"); addr != "" {
		return addr
	}

	ctx, cancel := context.WithTimeout(context.Background(), startupTimeout)
	defer cancel()

	rc, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForListeningPort("6379/tcp").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		tb.Fatalf("failed to start redis test container: %v", err)
	}
	tb.Cleanup(func() { terminate(rc) })

	host, err := rc.Host(ctx)
	if err != nil {
		tb.Fatalf("failed to get redis host: %v", err)
	}
	port, err := rc.MappedPort(ctx, "6379/tcp")
	if err != nil {
		tb.Fatalf("failed to get redis port: %v", err)
	}
	return fmt.Sprintf("%s:%s", host, port.Port())
}

// StartKafka starts a single-node KRaft broker and returns its bootstrap servers.
// TEST_KAFKA_BROKERS reuses an existing cluster instead.
func StartKafka(tb testing.TB) string {
	tb.Helper()
	if brokers := os.Getenv("TEST_KAFKA_BROKERS"); brokers != "" {
		return brokers
	}

	ctx, cancel := context.WithTimeout(context.Background(), startupTimeout)
	defer cancel()

	kc, err := tckafka.Run(ctx, "confluentinc/confluent-local:7.5.0", tckafka.WithClusterID("parcel-recovery-test"))
	if err != nil {
		tb.Fatalf("failed to start kafka test container: %v", err)
	}
	tb.Cleanup(func() { terminate(kc) })

	brokers, err := kc.Brokers(ctx)
	if err != nil || len(brokers) == 0 {
		tb.Fatalf("failed to get kafka brokers: %v", err)
	}
	return strings.Join(brokers, ",")
}

func terminate(c testcontainers.Container) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	_ = c.Terminate(ctx)
}
