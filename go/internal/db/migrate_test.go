package db

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrationsEmbedded(t *testing.T) {
	names, err := MigrationNames()
	require.NoError(t, err)
	require.NotEmpty(t, names)
	assert.Equal(t, "migrations/001_init.sql", names[0])

	body, err := migrations.ReadFile(names[0])
	require.NoError(t, err)
	schema := string(body)
	for _, table := range []string{
		"rounds", "participants", "payments", "user_discounts",
		"notification_outbox", "payment_retry_jobs", "payment_reconciliation_failures",
	} {
		assert.True(t, strings.Contains(schema, "CREATE TABLE "+table+" ("), table)
	}
	assert.Contains(t, schema, "pg_notify('notification_outbox_events'")
	assert.Contains(t, schema, "ON participants (round_id) WHERE is_winner")
}
