//go:build integration

// Package testinfra は統合テスト用のコンテナ起動ヘルパーを提供する。
package testinfra

import (
	"context"
	"fmt"
	"os/exec"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	postgresImage = "postgres:16-alpine"
	postgresPort  = "5432/tcp"
)

// PostgresContainer は起動済みのPostgreSQLコンテナと接続URLを保持する。
type PostgresContainer struct {
	testcontainers.Container
	URL string
}

// SkipIfNoDocker はDockerが利用できない環境でテストをスキップする。
func SkipIfNoDocker(t *testing.T) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := exec.CommandContext(ctx, "docker", "info").Run(); err != nil {
		t.Skip("Dockerが利用できないためスキップします")
	}
}

// NewPostgresContainer はPostgreSQLコンテナを起動し、接続可能になるまで待機する。
func NewPostgresContainer(ctx context.Context) (*PostgresContainer, error) {
	req := testcontainers.ContainerRequest{
		Image:        postgresImage,
		ExposedPorts: []string{postgresPort},
		Env: map[string]string{
			"POSTGRES_USER":     "wallrank",
			"POSTGRES_PASSWORD": "wallrank",
			"POSTGRES_DB":       "wallrank_test",
		},
		WaitingFor: wait.ForAll(
			wait.ForListeningPort(postgresPort),
			wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
		).WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, fmt.Errorf("create postgres container: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		container.Terminate(ctx) //nolint:errcheck
		return nil, fmt.Errorf("get container host: %w", err)
	}

	port, err := container.MappedPort(ctx, postgresPort)
	if err != nil {
		container.Terminate(ctx) //nolint:errcheck
		return nil, fmt.Errorf("get mapped port: %w", err)
	}

	return &PostgresContainer{
		Container: container,
		URL:       fmt.Sprintf("postgres://wallrank:wallrank@%s:%s/wallrank_test?sslmode=disable", host, port.Port()),
	}, nil
}

// StartPostgres はテスト用のPostgreSQLコンテナを起動し、テスト終了時に停止する。
func StartPostgres(t *testing.T) string {
	t.Helper()
	SkipIfNoDocker(t)

	ctx := context.Background()
	pg, err := NewPostgresContainer(ctx)
	if err != nil {
		t.Fatalf("PostgreSQLコンテナの起動に失敗: %v", err)
	}
	t.Cleanup(func() {
		if err := pg.Terminate(ctx); err != nil {
			t.Logf("コンテナの停止に失敗: %v", err)
		}
	})
	return pg.URL
}
