//go:build integration

package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func startPostgres(ctx context.Context) (string, func(), error) {
	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "testuser",
			"POSTGRES_PASSWORD": "testpass",
			"POSTGRES_DB":       "storefront",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	postgres, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return "", func() {}, fmt.Errorf("start postgres container: %w", err)
	}
	stop := func() { _ = postgres.Terminate(context.Background()) }

	host, err := postgres.Host(ctx)
	if err != nil {
		stop()
		return "", func() {}, fmt.Errorf("container host: %w", err)
	}
	port, err := postgres.MappedPort(ctx, "5432")
	if err != nil {
		stop()
		return "", func() {}, fmt.Errorf("container port: %w", err)
	}

	dsn := fmt.Sprintf("postgres://testuser:testpass@%s:%s/storefront?sslmode=disable", host, port.Port())
	return dsn, stop, nil
}
