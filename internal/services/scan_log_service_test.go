package services

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/inviteqr/internal/database/testutil"
	"github.com/charlesng35/inviteqr/internal/models"
)

func TestScanLogServiceRecordAndList(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	svc, err := NewScanLogService(db)
	require.NoError(t, err)
	ctx := context.Background()

	inviteID := uint(42)
	require.NoError(t, svc.Record(ctx, ScanEntry{
		InviteID:   &inviteID,
		InviteCode: "code",
		Outcome:    models.ScanOutcomeValidated,
		UserAgent:  strings.Repeat("a", 600),
		Metadata:   map[string]any{"size": 10},
	}))
	require.NoError(t, svc.Record(ctx, ScanEntry{Outcome: models.ScanOutcomeNoSymbol}))

	logs, err := svc.ListForInvite(ctx, inviteID, 0)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	require.Equal(t, "code", logs[0].InviteCode)
	require.Len(t, logs[0].UserAgent, 512)
	require.EqualValues(t, 10, logs[0].Metadata["size"])

	require.Error(t, svc.Record(ctx, ScanEntry{}))
}

func TestScanLogServiceCleanupOlderThan(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	svc, err := NewScanLogService(db)
	require.NoError(t, err)

	old := models.ScanLog{Outcome: models.ScanOutcomeNoSymbol, CreatedAt: time.Now().AddDate(0, 0, -100)}
	fresh := models.ScanLog{Outcome: models.ScanOutcomeNoSymbol, CreatedAt: time.Now()}
	require.NoError(t, db.Create(&old).Error)
	require.NoError(t, db.Create(&fresh).Error)

	removed, err := svc.CleanupOlderThan(context.Background(), 90)
	require.NoError(t, err)
	require.EqualValues(t, 1, removed)

	_, err = svc.CleanupOlderThan(context.Background(), 0)
	require.Error(t, err)
}

func TestTruncateKeepsRuneBoundaries(t *testing.T) {
	require.Equal(t, "ab", truncate("ab", 5))
	require.Equal(t, "a", truncate("aé", 2))
}
