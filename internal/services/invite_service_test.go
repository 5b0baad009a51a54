package services

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/charlesng35/inviteqr/internal/cache"
	"github.com/charlesng35/inviteqr/internal/database/testutil"
	"github.com/charlesng35/inviteqr/internal/models"
	"github.com/charlesng35/inviteqr/internal/qrcodec"
)

var pngSignature = []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}

func newTestInviteService(t *testing.T, opts ...InviteOption) (*InviteService, *gorm.DB) {
	t.Helper()

	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	svc, err := NewInviteService(db, qrcodec.New(qrcodec.WithModuleSize(4)), opts...)
	require.NoError(t, err)
	return svc, db
}

func TestNewInviteServiceRequiresDependencies(t *testing.T) {
	_, err := NewInviteService(nil, qrcodec.New())
	require.Error(t, err)

	db := testutil.MustOpenTestDB(t)
	_, err = NewInviteService(db, nil)
	require.Error(t, err)
}

func TestInviteServiceLifecycle(t *testing.T) {
	current := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	svc, _ := newTestInviteService(t, WithInviteClock(func() time.Time { return current }))
	ctx := context.Background()

	created, err := svc.Create(ctx, "VIP Entry")
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(created.Image, pngSignature))
	require.NotZero(t, created.Invite.ID)
	require.Regexp(t, canonicalCode, created.Invite.InviteCode)
	require.Equal(t, "VIP Entry", created.Invite.Data)

	decoded, ok := qrcodec.New().Decode(created.Image)
	require.True(t, ok)
	require.Equal(t, created.Invite.InviteCode, decoded)

	fetched, err := svc.GetByCode(ctx, created.Invite.InviteCode)
	require.NoError(t, err)
	require.False(t, fetched.IsValidated)
	require.Nil(t, fetched.ValidatedAt)

	current = current.Add(time.Hour)
	first, err := svc.Validate(ctx, created.Image, ScanContext{})
	require.NoError(t, err)
	require.Equal(t, models.ScanOutcomeValidated, first.Outcome)
	require.True(t, first.Success())
	require.True(t, first.Invite.IsValidated)
	require.NotNil(t, first.Invite.ValidatedAt)
	require.True(t, current.Equal(*first.Invite.ValidatedAt))

	current = current.Add(time.Hour)
	second, err := svc.Validate(ctx, created.Image, ScanContext{})
	require.NoError(t, err)
	require.Equal(t, models.ScanOutcomeAlreadyValidated, second.Outcome)
	require.True(t, second.Success())
	require.True(t, second.Invite.IsValidated)
	require.True(t, first.Invite.ValidatedAt.Equal(*second.Invite.ValidatedAt))

	fetched, err = svc.GetByCode(ctx, created.Invite.InviteCode)
	require.NoError(t, err)
	require.True(t, fetched.IsValidated)
	require.True(t, first.Invite.ValidatedAt.Equal(*fetched.ValidatedAt))
}

func TestInviteServiceValidateNoSymbol(t *testing.T) {
	svc, _ := newTestInviteService(t)

	blank := image.NewGray(image.Rect(0, 0, 120, 120))
	for i := range blank.Pix {
		blank.Pix[i] = 0xff
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, blank))

	result, err := svc.Validate(context.Background(), buf.Bytes(), ScanContext{})
	require.NoError(t, err)
	require.Equal(t, models.ScanOutcomeNoSymbol, result.Outcome)
	require.False(t, result.Success())
	require.Nil(t, result.Invite)

	result, err = svc.Validate(context.Background(), []byte("garbage"), ScanContext{})
	require.NoError(t, err)
	require.Equal(t, models.ScanOutcomeNoSymbol, result.Outcome)
}

func TestInviteServiceValidateUnknownCode(t *testing.T) {
	svc, _ := newTestInviteService(t)

	image, err := qrcodec.New().Encode("00000000-0000-4000-8000-000000000000")
	require.NoError(t, err)

	result, err := svc.Validate(context.Background(), image, ScanContext{})
	require.NoError(t, err)
	require.Equal(t, models.ScanOutcomeNotFound, result.Outcome)
	require.Equal(t, "00000000-0000-4000-8000-000000000000", result.DecodedCode)
	require.False(t, result.Success())
	require.Nil(t, result.Invite)
}

func TestInviteServiceConcurrentValidationTransitionsOnce(t *testing.T) {
	svc, _ := newTestInviteService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, "race")
	require.NoError(t, err)

	const workers = 6
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		outcomes = map[string]int{}
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := svc.Validate(ctx, created.Image, ScanContext{})
			if err != nil {
				t.Errorf("validate: %v", err)
				return
			}
			mu.Lock()
			outcomes[result.Outcome]++
			mu.Unlock()
		}()
	}
	wg.Wait()

	require.Equal(t, 1, outcomes[models.ScanOutcomeValidated])
	require.Equal(t, workers-1, outcomes[models.ScanOutcomeAlreadyValidated])
}

func TestInviteServiceValidationLosesRaceToConcurrentWriter(t *testing.T) {
	current := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	svc, db := newTestInviteService(t, WithInviteClock(func() time.Time { return current }))
	ctx := context.Background()

	created, err := svc.Create(ctx, "contested")
	require.NoError(t, err)

	// another request commits its validation after this one has read the
	// pending row but before its conditional update runs
	winnerStamp := current.Add(-time.Minute)
	var armed atomic.Bool
	armed.Store(true)
	err = db.Callback().Update().Before("gorm:update").Register("test:concurrent_validation", func(tx *gorm.DB) {
		if tx.Statement.Table != "invites" || !armed.CompareAndSwap(true, false) {
			return
		}
		_, execErr := tx.Statement.ConnPool.ExecContext(tx.Statement.Context,
			"UPDATE invites SET is_validated = ?, validated_at = ? WHERE id = ?",
			true, winnerStamp, created.Invite.ID,
		)
		if execErr != nil {
			_ = tx.AddError(execErr)
		}
	})
	require.NoError(t, err)

	result, err := svc.Validate(ctx, created.Image, ScanContext{})
	require.NoError(t, err)
	require.False(t, armed.Load())
	require.Equal(t, models.ScanOutcomeAlreadyValidated, result.Outcome)
	require.True(t, result.Success())
	require.True(t, result.Invite.IsValidated)
	require.NotNil(t, result.Invite.ValidatedAt)
	require.True(t, winnerStamp.Equal(*result.Invite.ValidatedAt))

	var persisted models.Invite
	require.NoError(t, db.Take(&persisted, "id = ?", created.Invite.ID).Error)
	require.True(t, persisted.IsValidated)
	require.True(t, winnerStamp.Equal(*persisted.ValidatedAt))
}

func TestInviteServiceRecordsScans(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	scans, err := NewScanLogService(db)
	require.NoError(t, err)
	svc, err := NewInviteService(db, qrcodec.New(qrcodec.WithModuleSize(4)), WithScanLog(scans))
	require.NoError(t, err)
	ctx := context.Background()

	created, err := svc.Create(ctx, "scan me")
	require.NoError(t, err)

	scan := ScanContext{ClientIP: "10.0.0.1", UserAgent: "camera/1.0", Filename: "invite.png", ContentType: "image/png"}
	_, err = svc.Validate(ctx, created.Image, scan)
	require.NoError(t, err)
	_, err = svc.Validate(ctx, created.Image, scan)
	require.NoError(t, err)
	_, err = svc.Validate(ctx, []byte("nope"), scan)
	require.NoError(t, err)

	history, err := svc.ListScans(ctx, created.Invite.InviteCode)
	require.NoError(t, err)
	require.Len(t, history, 2)
	outcomes := []string{history[0].Outcome, history[1].Outcome}
	require.ElementsMatch(t, []string{models.ScanOutcomeValidated, models.ScanOutcomeAlreadyValidated}, outcomes)
	require.Equal(t, "10.0.0.1", history[0].ClientIP)
	require.Equal(t, "invite.png", history[0].Metadata["filename"])

	var total int64
	require.NoError(t, db.Model(&models.ScanLog{}).Count(&total).Error)
	require.EqualValues(t, 3, total)
}

func TestInviteServiceGetByCodeNotFound(t *testing.T) {
	svc, _ := newTestInviteService(t)

	_, err := svc.GetByCode(context.Background(), "missing")
	require.ErrorIs(t, err, ErrInviteNotFound)

	_, err = svc.GetByCode(context.Background(), "   ")
	require.ErrorIs(t, err, ErrInviteNotFound)

	_, err = svc.ListScans(context.Background(), "missing")
	require.ErrorIs(t, err, ErrInviteNotFound)
}

func TestInviteServiceCacheRefreshedOnValidation(t *testing.T) {
	inviteCache := cache.NewMemoryInviteCache(time.Minute)
	svc, _ := newTestInviteService(t, WithInviteCache(inviteCache))
	ctx := context.Background()

	created, err := svc.Create(ctx, "cached")
	require.NoError(t, err)

	cached, ok := inviteCache.Get(ctx, created.Invite.InviteCode)
	require.True(t, ok)
	require.False(t, cached.IsValidated)

	_, err = svc.Validate(ctx, created.Image, ScanContext{})
	require.NoError(t, err)

	cached, ok = inviteCache.Get(ctx, created.Invite.InviteCode)
	require.True(t, ok)
	require.True(t, cached.IsValidated)

	fetched, err := svc.GetByCode(ctx, created.Invite.InviteCode)
	require.NoError(t, err)
	require.True(t, fetched.IsValidated)
}

func TestInviteServiceGetByCodeSkipsCachingPendingInvites(t *testing.T) {
	inviteCache := cache.NewMemoryInviteCache(time.Minute)
	svc, _ := newTestInviteService(t, WithInviteCache(inviteCache))
	ctx := context.Background()

	created, err := svc.Create(ctx, "pending")
	require.NoError(t, err)
	inviteCache.Invalidate(ctx, created.Invite.InviteCode)

	// a pending read finishing after the transition must not leave a stale entry
	pending, err := svc.GetByCode(ctx, created.Invite.InviteCode)
	require.NoError(t, err)
	require.False(t, pending.IsValidated)
	_, ok := inviteCache.Get(ctx, created.Invite.InviteCode)
	require.False(t, ok)

	_, err = svc.Validate(ctx, created.Image, ScanContext{})
	require.NoError(t, err)
	inviteCache.Invalidate(ctx, created.Invite.InviteCode)

	fetched, err := svc.GetByCode(ctx, created.Invite.InviteCode)
	require.NoError(t, err)
	require.True(t, fetched.IsValidated)
	cached, ok := inviteCache.Get(ctx, created.Invite.InviteCode)
	require.True(t, ok)
	require.True(t, cached.IsValidated)
}

func TestInviteServiceList(t *testing.T) {
	svc, _ := newTestInviteService(t)
	ctx := context.Background()

	var codes []string
	for _, data := range []string{"a", "b", "c", "d", "e"} {
		created, err := svc.Create(ctx, data)
		require.NoError(t, err)
		codes = append(codes, created.Invite.InviteCode)
	}

	page, total, err := svc.List(ctx, 1, 2)
	require.NoError(t, err)
	require.EqualValues(t, 5, total)
	require.Len(t, page, 2)
	require.Equal(t, codes[1], page[0].InviteCode)
	require.Equal(t, codes[2], page[1].InviteCode)

	tail, _, err := svc.List(ctx, 4, 100)
	require.NoError(t, err)
	require.Len(t, tail, 1)

	empty, total, err := svc.List(ctx, 10, 100)
	require.NoError(t, err)
	require.Empty(t, empty)
	require.EqualValues(t, 5, total)
}

func TestInviteServiceCountByState(t *testing.T) {
	svc, _ := newTestInviteService(t)
	ctx := context.Background()

	first, err := svc.Create(ctx, "one")
	require.NoError(t, err)
	_, err = svc.Create(ctx, "two")
	require.NoError(t, err)
	_, err = svc.Validate(ctx, first.Image, ScanContext{})
	require.NoError(t, err)

	counts, err := svc.CountByState(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, counts.Created)
	require.EqualValues(t, 1, counts.Validated)
}

func TestInviteServiceCreateArchivesImage(t *testing.T) {
	dir := t.TempDir()
	archive, err := NewFilesystemImageArchive(dir)
	require.NoError(t, err)

	svc, db := newTestInviteService(t, WithImageArchive(archive))

	created, err := svc.Create(context.Background(), "archived")
	require.NoError(t, err)
	require.NotNil(t, created.Invite.QRCodePath)

	stored, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(*created.Invite.QRCodePath)))
	require.NoError(t, err)
	require.Equal(t, created.Image, stored)

	var persisted models.Invite
	require.NoError(t, db.Take(&persisted, "id = ?", created.Invite.ID).Error)
	require.NotNil(t, persisted.QRCodePath)
	require.Equal(t, *created.Invite.QRCodePath, *persisted.QRCodePath)
}

type failingArchive struct{}

func (failingArchive) Store(context.Context, string, time.Time, []byte) (string, error) {
	return "", errors.New("disk full")
}

func (failingArchive) Delete(context.Context, string) error { return nil }

func TestInviteServiceCreateRollsBackWhenArchiveFails(t *testing.T) {
	svc, db := newTestInviteService(t, WithImageArchive(failingArchive{}))

	_, err := svc.Create(context.Background(), "lost")
	require.Error(t, err)

	var count int64
	require.NoError(t, db.Model(&models.Invite{}).Count(&count).Error)
	require.Zero(t, count)
}

func TestIsUniqueConstraintError(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())

	require.NoError(t, db.Create(&models.Invite{InviteCode: "same"}).Error)
	err := db.Create(&models.Invite{InviteCode: "same"}).Error
	require.Error(t, err)
	require.True(t, isUniqueConstraintError(err))
	require.False(t, isUniqueConstraintError(nil))
	require.False(t, isUniqueConstraintError(errors.New("connection refused")))
}
