package postgres

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

const defaultImage = "postgres:17-alpine"

// StartPostgres runs a throwaway Postgres container for system tests. The
// image can be overridden with SYSTEMTEST_POSTGRES_IMAGE for air-gapped CI
// mirrors.
func StartPostgres(ctx context.Context, dbUser, dbPassword, dbName string) (*postgres.PostgresContainer, error) {
	image := os.Getenv("SYSTEMTEST_POSTGRES_IMAGE")
	if image == "" {
		image = defaultImage
	}

	container, err := postgres.Run(ctx,
		image,
		postgres.WithUsername(dbUser),
		postgres.WithPassword(dbPassword),
		postgres.WithDatabase(dbName),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		return nil, fmt.Errorf("start postgres container: %w", err)
	}

	state, err := container.State(ctx)
	if err != nil {
		return nil, fmt.Errorf("inspect postgres container: %w", err)
	}
	if !state.Running {
		return nil, fmt.Errorf("postgres container is not running")
	}

	return container, nil
}

func TerminatePostgres(ctx context.Context, container *postgres.PostgresContainer) error {
	if err := container.Terminate(ctx); err != nil {
		return fmt.Errorf("terminate postgres container: %w", err)
	}
	return nil
}
