package audit

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-admin/internal/testing/guard"
)

func TestPostgresRecordIgnoresReplayedEvent(t *testing.T) {
	pool := guard.Postgres(t)
	ctx := context.Background()
	rec := NewRecorder(pool, nil)

	task, err := NewRecordTask(Event{Action: ActionUpdated, Entity: "roles", EntityID: "2"}.
		WithChange(map[string]any{"name": "a"}, map[string]any{"name": "b"}))
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		e, err := DecodeRecordTask(task.Payload())
		require.NoError(t, err)
		require.NoError(t, rec.Record(ctx, e))
	}
	require.NoError(t, rec.Record(ctx, Event{Action: ActionUpdated, Entity: "roles", EntityID: "2"}))

	var rows int
	require.NoError(t, pool.QueryRow(ctx, `SELECT COUNT(*) FROM audit_logs WHERE entity = 'roles' AND entity_id = '2'`).Scan(&rows))
	require.Equal(t, 2, rows)
}
