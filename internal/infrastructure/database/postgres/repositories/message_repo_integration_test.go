//go:build integration

package repositories_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/GrimVad3r/NLP-Powered-Medical-Entity-Extraction/internal/infrastructure/database/postgres"
	"github.com/GrimVad3r/NLP-Powered-Medical-Entity-Extraction/internal/infrastructure/database/postgres/repositories"
	"github.com/GrimVad3r/NLP-Powered-Medical-Entity-Extraction/pkg/types/medical"
)

func startPostgres(t *testing.T) postgres.PostgresConfig {
	t.Helper()
	ctx := context.Background()

	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "medextract",
				"POSTGRES_PASSWORD": "medextract",
				"POSTGRES_DB":       "medextract",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Terminate(ctx) })

	host, err := c.Host(ctx)
	require.NoError(t, err)
	port, err := c.MappedPort(ctx, "5432")
	require.NoError(t, err)

	return postgres.PostgresConfig{
		Host: host, Port: port.Int(), Database: "medextract",
		Username: "medextract", Password: "medextract",
	}
}

func TestMessageRepository_Postgres(t *testing.T) {
	cfg := startPostgres(t)
	conn, err := postgres.NewConnection(cfg, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, postgres.RunMigrations(conn.URL(), ""))
	version, dirty, err := postgres.MigrationStatus(conn.URL(), "")
	require.NoError(t, err)
	assert.False(t, dirty)
	assert.Equal(t, uint(1), version)

	repo := repositories.NewMessageRepository(conn, nil)
	ctx := context.Background()

	var msgs []*medical.ProcessedMessage
	for i := 0; i < 3; i++ {
		msgs = append(msgs, &medical.ProcessedMessage{
			ID:           fmt.Sprintf("m-%d", i),
			OriginalText: "Paracetamol 500mg",
			IsMedical:    true,
			Entities: []medical.MedicalEntity{
				{Text: "Paracetamol", EntityType: medical.EntityMedication, Start: 0, End: 11, Confidence: 0.85, Normalized: "Paracetamol"},
				{Text: "500mg", EntityType: medical.EntityDosage, Start: 12, End: 17, Confidence: 0.9},
			},
			QualityBucket: medical.QualityMedium,
			Status:        medical.StatusSuccess,
			ProcessedAt:   time.Now().UTC().Truncate(time.Microsecond),
		})
	}
	require.NoError(t, repo.SaveBatch(ctx, msgs))
	// Saving again replaces entities instead of duplicating them.
	require.NoError(t, repo.Save(ctx, msgs[0]))

	got, err := repo.GetByID(ctx, "m-0")
	require.NoError(t, err)
	assert.Len(t, got.Entities, 2)
	assert.True(t, got.ProcessedAt.Equal(msgs[0].ProcessedAt))

	top, err := repo.TopEntities(ctx, medical.EntityMedication, 5)
	require.NoError(t, err)
	require.Len(t, top, 1)
	assert.Equal(t, repositories.EntityCount{Name: "Paracetamol", Mentions: 3}, top[0])

	require.NoError(t, postgres.RollbackMigration(conn.URL(), "", 1))
}
