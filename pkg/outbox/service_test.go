package outbox

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	dbpkg "github.com/angelmondragon/pactsign-backend/pkg/db"
	"github.com/angelmondragon/pactsign-backend/pkg/db/dbtest"
	"github.com/angelmondragon/pactsign-backend/pkg/db/models"
	"github.com/angelmondragon/pactsign-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/pactsign-backend/pkg/errors"
	"github.com/angelmondragon/pactsign-backend/pkg/logger"
)

func newTestService(t *testing.T) (*Service, *gorm.DB, *bytes.Buffer) {
	t.Helper()
	db := dbtest.Open(t)
	var buf bytes.Buffer
	logg := logger.New(logger.Options{ServiceName: "outbox-test", Level: "debug", Output: &buf})
	svc := NewService(NewRepository(db), logg, 4)
	svc.now = func() time.Time { return baseTime }
	return svc, db, &buf
}

func TestEnqueueInsertsPendingRow(t *testing.T) {
	svc, db, logs := newTestService(t)
	contractID := uuid.New()

	err := db.Transaction(func(tx *gorm.DB) error {
		return svc.Enqueue(context.Background(), tx, Message{
			Template:       enums.EmailTemplateCompleted,
			RecipientEmail: " bob@example.com ",
			RecipientName:  "Bob",
			Variables:      map[string]string{"contractTitle": "Lease"},
			Attachments: []models.EmailAttachment{{
				Filename: "lease.pdf", ContentType: "application/pdf", StorageKey: "signed/lease.pdf",
			}},
			ContractID: &contractID,
		})
	})
	require.NoError(t, err)

	var rows []models.EmailOutbox
	require.NoError(t, db.Find(&rows).Error)
	require.Len(t, rows, 1)
	row := rows[0]
	assert.Equal(t, enums.EmailOutboxPending, row.Status)
	assert.Equal(t, "bob@example.com", row.RecipientEmail)
	assert.Equal(t, 4, row.MaxRetries)
	assert.Equal(t, 0, row.RetryCount)
	assert.Equal(t, "Lease", row.TemplateVariables["contractTitle"])
	require.Len(t, row.Attachments, 1)
	assert.Equal(t, "signed/lease.pdf", row.Attachments[0].StorageKey)
	require.NotNil(t, row.ContractID)
	assert.Equal(t, contractID, *row.ContractID)
	assert.Nil(t, row.DedupKey)
	assert.Contains(t, logs.String(), "email queued")
}

func TestEnqueueRollsBackWithCaller(t *testing.T) {
	svc, db, _ := newTestService(t)

	err := db.Transaction(func(tx *gorm.DB) error {
		if err := svc.Enqueue(context.Background(), tx, Message{
			Template:       enums.EmailTemplateCancelled,
			RecipientEmail: "bob@example.com",
		}); err != nil {
			return err
		}
		return pkgerrors.New(pkgerrors.CodeConflict, "lost the race")
	})
	require.Error(t, err)

	var count int64
	require.NoError(t, db.Model(&models.EmailOutbox{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestEnqueueValidatesMessage(t *testing.T) {
	svc, db, _ := newTestService(t)

	err := svc.Enqueue(context.Background(), db, Message{Template: "newsletter", RecipientEmail: "a@example.com"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	err = svc.Enqueue(context.Background(), db, Message{Template: enums.EmailTemplateReminder, RecipientEmail: "  "})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	err = svc.Enqueue(context.Background(), nil, Message{Template: enums.EmailTemplateReminder, RecipientEmail: "a@example.com"})
	assert.Error(t, err)
}

func TestEnqueueOnceDeduplicates(t *testing.T) {
	svc, db, _ := newTestService(t)
	msg := Message{
		Template:       enums.EmailTemplateExpirationWarning,
		RecipientEmail: "carol@example.com",
		DedupKey:       "expiration_warning:c1:carol@example.com",
	}

	written, err := svc.EnqueueOnce(context.Background(), db, msg)
	require.NoError(t, err)
	assert.True(t, written)

	written, err = svc.EnqueueOnce(context.Background(), db, msg)
	require.NoError(t, err)
	assert.False(t, written)

	var count int64
	require.NoError(t, db.Model(&models.EmailOutbox{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestDedupIndexRejectsDuplicates(t *testing.T) {
	svc, db, _ := newTestService(t)
	msg := Message{
		Template:       enums.EmailTemplateExpirationWarning,
		RecipientEmail: "dan@example.com",
		DedupKey:       "expiration_warning:c2:dan@example.com",
	}

	require.NoError(t, svc.Enqueue(context.Background(), db, msg))
	err := svc.Enqueue(context.Background(), db, msg)
	require.Error(t, err)
	assert.True(t, dbpkg.IsUniqueViolation(err, dedupConstraintKey))
}

func TestEnqueueOnceRequiresKey(t *testing.T) {
	svc, db, _ := newTestService(t)
	_, err := svc.EnqueueOnce(context.Background(), db, Message{Template: enums.EmailTemplateReminder, RecipientEmail: "a@example.com"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}
