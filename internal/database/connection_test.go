package database

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/symptom-expert-server/internal/domain"
)

func startPostgres(t *testing.T) domain.DatabaseConfig {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping PostgreSQL container test in short mode")
	}

	ctx := context.Background()
	pgContainer, err := postgres.Run(ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		t.Fatalf("Failed to start PostgreSQL container: %v", err)
	}
	t.Cleanup(func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Logf("Failed to terminate PostgreSQL container: %v", err)
		}
	})

	host, err := pgContainer.Host(ctx)
	require.NoError(t, err)
	port, err := pgContainer.MappedPort(ctx, "5432")
	require.NoError(t, err)

	return domain.DatabaseConfig{
		Host:            host,
		Port:            port.Int(),
		Database:        "testdb",
		Username:        "testuser",
		Password:        "testpass",
		SSLMode:         "disable",
		MaxOpenConns:    5,
		MinConns:        1,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: 30 * time.Minute,
	}
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)
	return logger
}

func TestDSN(t *testing.T) {
	dsn := DSN(domain.DatabaseConfig{
		Host: "localhost", Port: 5432, Database: "kb", Username: "u", Password: "p", SSLMode: "disable",
	})
	assert.Equal(t, "host=localhost port=5432 dbname=kb user=u password=p sslmode=disable", dsn)
}

func TestDatabaseConnection(t *testing.T) {
	cfg := startPostgres(t)
	ctx := context.Background()

	db, err := NewConnection(ctx, cfg, quietLogger())
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.Health(ctx))
	assert.Equal(t, int32(5), db.Pool.Config().MaxConns)

	t.Run("WithTx_Commits", func(t *testing.T) {
		_, err := db.Pool.Exec(ctx, "CREATE TABLE tx_probe (v INTEGER)")
		require.NoError(t, err)

		err = db.WithTx(ctx, func(tx pgx.Tx) error {
			_, err := tx.Exec(ctx, "INSERT INTO tx_probe VALUES (1)")
			return err
		})
		require.NoError(t, err)

		err = db.WithTx(ctx, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, "INSERT INTO tx_probe VALUES (2)"); err != nil {
				return err
			}
			return fmt.Errorf("abort")
		})
		require.Error(t, err)

		var count int
		require.NoError(t, db.Pool.QueryRow(ctx, "SELECT COUNT(*) FROM tx_probe").Scan(&count))
		assert.Equal(t, 1, count, "rolled back insert must not be visible")
	})
}

func TestNewConnection_Unreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	_, err := NewConnection(ctx, domain.DatabaseConfig{
		Host: "127.0.0.1", Port: 1, Database: "x", Username: "x", SSLMode: "disable",
	}, quietLogger())
	assert.Error(t, err)
}

func TestMigrationRunner(t *testing.T) {
	cfg := startPostgres(t)
	ctx := context.Background()
	url := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		cfg.Username, cfg.Password, cfg.Host, cfg.Port, cfg.Database)

	runner, err := NewMigrationRunner(url, "", quietLogger())
	require.NoError(t, err)
	defer runner.Close()

	version, dirty, err := runner.Version()
	require.NoError(t, err)
	assert.Equal(t, uint(0), version)
	assert.False(t, dirty)

	require.NoError(t, runner.Up(ctx))
	require.NoError(t, runner.Up(ctx), "second up is a no-op")

	version, dirty, err = runner.Version()
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
	assert.False(t, dirty)

	db, err := NewConnection(ctx, cfg, quietLogger())
	require.NoError(t, err)
	defer db.Close()

	var tables int
	require.NoError(t, db.Pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM information_schema.tables WHERE table_name IN ('knowledge_bases', 'kb_rules', 'kb_symptoms', 'kb_diagnoses')").Scan(&tables))
	assert.Equal(t, 4, tables)

	require.NoError(t, runner.Down(ctx))
	require.NoError(t, db.Pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM information_schema.tables WHERE table_name = 'knowledge_bases'").Scan(&tables))
	assert.Equal(t, 0, tables)
}
