package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	auditdomain "github.com/smallbiznis/stockledger/internal/audit/domain"
	"github.com/smallbiznis/stockledger/internal/testutil"
	"github.com/smallbiznis/stockledger/pkg/db"
	"github.com/smallbiznis/stockledger/pkg/db/pagination"
	"github.com/smallbiznis/stockledger/pkg/telemetry/correlation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestAuditLogRecordsActorAndCorrelation(t *testing.T) {
	env := testutil.New(t)
	ctx := auditdomain.WithActor(context.Background(), "ops@example.com")
	ctx = correlation.ContextWithCorrelationID(ctx, "corr-1")

	require.NoError(t, env.Audit.AuditLog(ctx, auditdomain.ActionAccountRegistered, auditdomain.TargetAccount, " 1300 ", map[string]any{
		"name": "Inventory",
		"":     "dropped",
	}))

	res, err := env.Audit.List(context.Background(), auditdomain.ListAuditLogRequest{})
	require.NoError(t, err)
	require.Len(t, res.AuditLogs, 1)

	entry := res.AuditLogs[0]
	assert.Equal(t, "ops@example.com", entry.Actor)
	assert.Equal(t, "1300", entry.TargetID)
	assert.Equal(t, "corr-1", entry.CorrelationID)
	assert.Equal(t, "Inventory", entry.Metadata["name"])
	assert.NotContains(t, entry.Metadata, "")
	assert.Equal(t, testutil.Epoch, entry.CreatedAt.UTC())
}

func TestAuditLogRejectsEmptyAction(t *testing.T) {
	env := testutil.New(t)
	err := env.Audit.AuditLog(context.Background(), "  ", auditdomain.TargetAccount, "1300", nil)
	assert.ErrorIs(t, err, auditdomain.ErrInvalidAction)
}

func TestAuditLogRollsBackWithTransaction(t *testing.T) {
	env := testutil.New(t)
	boom := errors.New("boom")

	err := db.Transact(context.Background(), env.DB, func(ctx context.Context, _ *gorm.DB) error {
		require.NoError(t, env.Audit.AuditLog(ctx, auditdomain.ActionEntryPosted, auditdomain.TargetJournalEntry, "JE-1", nil))
		return boom
	})
	require.ErrorIs(t, err, boom)

	res, err := env.Audit.List(context.Background(), auditdomain.ListAuditLogRequest{})
	require.NoError(t, err)
	assert.Empty(t, res.AuditLogs)
}

func TestListPagesNewestFirst(t *testing.T) {
	env := testutil.New(t)
	ctx := context.Background()

	for _, ref := range []string{"JE-1", "JE-2", "JE-3"} {
		require.NoError(t, env.Audit.AuditLog(ctx, auditdomain.ActionEntryPosted, auditdomain.TargetJournalEntry, ref, nil))
		env.Clock.Advance(time.Minute)
	}
	require.NoError(t, env.Audit.AuditLog(ctx, auditdomain.ActionAccountRegistered, auditdomain.TargetAccount, "1300", nil))

	req := auditdomain.ListAuditLogRequest{
		Pagination: pagination.Pagination{PageSize: 2},
		Action:     auditdomain.ActionEntryPosted,
	}
	first, err := env.Audit.List(ctx, req)
	require.NoError(t, err)
	require.Len(t, first.AuditLogs, 2)
	assert.Equal(t, "JE-3", first.AuditLogs[0].TargetID)
	assert.Equal(t, "JE-2", first.AuditLogs[1].TargetID)
	require.True(t, first.HasMore)
	require.NotEmpty(t, first.NextPageToken)

	req.PageToken = first.NextPageToken
	second, err := env.Audit.List(ctx, req)
	require.NoError(t, err)
	require.Len(t, second.AuditLogs, 1)
	assert.Equal(t, "JE-1", second.AuditLogs[0].TargetID)
	assert.False(t, second.HasMore)
}

func TestListFiltersByActorAndCorrelation(t *testing.T) {
	env := testutil.New(t)
	base := auditdomain.WithActor(context.Background(), "clerk")

	first := correlation.ContextWithCorrelationID(base, "corr-a")
	require.NoError(t, env.Audit.AuditLog(first, auditdomain.ActionEntryPosted, auditdomain.TargetJournalEntry, "JE-1", nil))
	require.NoError(t, env.Audit.AuditLog(first, auditdomain.ActionAccountRegistered, auditdomain.TargetAccount, "1300", nil))

	second := correlation.ContextWithCorrelationID(auditdomain.WithActor(context.Background(), "auditor"), "corr-b")
	require.NoError(t, env.Audit.AuditLog(second, auditdomain.ActionEntryPosted, auditdomain.TargetJournalEntry, "JE-2", nil))

	byCorrelation, err := env.Audit.List(context.Background(), auditdomain.ListAuditLogRequest{CorrelationID: "corr-a"})
	require.NoError(t, err)
	assert.Len(t, byCorrelation.AuditLogs, 2)

	byActor, err := env.Audit.List(context.Background(), auditdomain.ListAuditLogRequest{Actor: "auditor"})
	require.NoError(t, err)
	require.Len(t, byActor.AuditLogs, 1)
	assert.Equal(t, "JE-2", byActor.AuditLogs[0].TargetID)
}

func TestListRejectsBadInput(t *testing.T) {
	env := testutil.New(t)
	ctx := context.Background()

	_, err := env.Audit.List(ctx, auditdomain.ListAuditLogRequest{Pagination: pagination.Pagination{PageToken: "not-a-token"}})
	assert.ErrorIs(t, err, auditdomain.ErrInvalidPageToken)

	start := testutil.Epoch
	end := start.Add(-time.Hour)
	_, err = env.Audit.List(ctx, auditdomain.ListAuditLogRequest{StartAt: &start, EndAt: &end})
	assert.ErrorIs(t, err, auditdomain.ErrInvalidTimeRange)
}
