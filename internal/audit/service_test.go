package audit

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type stubTimelineRepo struct {
	windowRows []TimelineRow
	allRows    []TimelineRow
	lastWindow WindowQuery
	lastAll    TimelineFilters
}

func (s *stubTimelineRepo) TimelineWindow(ctx context.Context, q WindowQuery) ([]TimelineRow, error) {
	s.lastWindow = q
	return s.windowRows, nil
}

func (s *stubTimelineRepo) TimelineAll(ctx context.Context, f TimelineFilters) ([]TimelineRow, error) {
	s.lastAll = f
	return s.allRows, nil
}

func mockRow(at string, actor, action, entity, entityID string) TimelineRow {
	ts, _ := time.Parse(time.RFC3339, at)
	return TimelineRow{At: ts, Actor: actor, Action: action, Entity: entity, EntityID: entityID}
}

func TestServiceTimelinePaging(t *testing.T) {
	repo := &stubTimelineRepo{
		windowRows: []TimelineRow{
			mockRow("2024-03-10T10:00:00Z", "admin@example.com", "updated", "roles", "1"),
			mockRow("2024-03-09T09:00:00Z", "admin@example.com", "attached", "attachments", "2"),
			mockRow("2024-03-08T08:00:00Z", "admin@example.com", "created", "users", "3"),
		},
	}
	svc := NewService(repo)
	result, err := svc.Timeline(context.Background(), TimelineFilters{
		From:     time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		To:       time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC),
		Page:     1,
		PageSize: 2,
	})
	require.NoError(t, err)
	require.Len(t, result.Rows, 2)
	require.True(t, result.Paging.HasNext)
	require.Equal(t, 2, result.Paging.NextPage)
	require.Equal(t, 3, repo.lastWindow.Limit)
	require.Equal(t, 0, repo.lastWindow.Offset)
}

func TestServiceTimelineClampsPageSize(t *testing.T) {
	repo := &stubTimelineRepo{}
	_, err := NewService(repo).Timeline(context.Background(), TimelineFilters{Page: 3, PageSize: 500})
	require.NoError(t, err)
	require.Equal(t, 51, repo.lastWindow.Limit)
	require.Equal(t, 100, repo.lastWindow.Offset)

	_, err = NewService(repo).Timeline(context.Background(), TimelineFilters{})
	require.NoError(t, err)
	require.Equal(t, 21, repo.lastWindow.Limit)
}

func TestServiceExportReturnsAllRows(t *testing.T) {
	repo := &stubTimelineRepo{
		allRows: []TimelineRow{
			mockRow("2024-03-10T10:00:00Z", "actor", "updated", "roles", "1"),
			mockRow("2024-03-09T09:00:00Z", "actor", "created", "users", "2"),
		},
	}
	rows, err := NewService(repo).Export(context.Background(), TimelineFilters{Entity: "roles"})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, "roles", repo.lastAll.Entity)

	csvBytes, err := WriteCSV(rows)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(csvBytes)), "\n")
	require.Len(t, lines, 3)
	require.Equal(t, "2024-03-10T10:00:00Z,0,actor,0,updated,roles,1", lines[1])
}

func TestTimelineWhere(t *testing.T) {
	where, args := timelineWhere(TimelineFilters{ActorID: 7, Entity: "roles", Action: "updated"})
	require.Equal(t, " WHERE (a.actor_id = $1 OR a.impersonator_id = $1) AND a.entity = $2 AND a.action = $3", where)
	require.Equal(t, []any{int64(7), "roles", "updated"}, args)

	where, args = timelineWhere(TimelineFilters{})
	require.Empty(t, where)
	require.Empty(t, args)
}
