package service

import (
	"context"
	"testing"
	"time"

	"github.com/smallbiznis/fxpay/internal/apperror"
	"github.com/smallbiznis/fxpay/internal/clock"
	"github.com/smallbiznis/fxpay/internal/fee"
	"github.com/smallbiznis/fxpay/internal/merchant/domain"
	"github.com/smallbiznis/fxpay/internal/merchant/repository"
	"github.com/smallbiznis/fxpay/pkg/db/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestService(t *testing.T) (domain.Service, *gorm.DB, *clock.FakeClock) {
	t.Helper()
	conn := dbtest.Open(t, &domain.Merchant{})
	clk := clock.NewFakeClock(time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC))
	svc := New(Params{
		DB:    conn,
		Log:   zap.NewNop(),
		GenID: dbtest.Node(t),
		Clock: clk,
		Repo:  repository.Provide(),
	})
	return svc, conn, clk
}

func TestCreateDefaultsAndFind(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	m, err := svc.Create(ctx, domain.CreateMerchantRequest{
		BusinessName: "Acme Ltd",
		ContactEmail: "Ops@Acme.test",
		Bank:         domain.BankDetails{Name: "First Bank", AccountNumber: "00112233"},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, m.Status)
	assert.Equal(t, "USD", m.DefaultCurrency)
	assert.Equal(t, "ops@acme.test", m.ContactEmail)
	assert.Equal(t, "2233", m.Bank.AccountLast4())

	found, err := svc.FindByID(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, fee.DefaultPercentage, found.FeeStructure.Data().Percentage)
	assert.Equal(t, fee.DefaultFlat, found.FeeStructure.Data().Flat)
	assert.Equal(t, "USD", found.Bank.Currency)
}

func TestCreateValidation(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, domain.CreateMerchantRequest{ContactEmail: "a@b.test"})
	assert.ErrorIs(t, err, domain.ErrInvalidName)

	_, err = svc.Create(ctx, domain.CreateMerchantRequest{BusinessName: "x", ContactEmail: "nope"})
	assert.ErrorIs(t, err, domain.ErrInvalidEmail)
	assert.ErrorIs(t, err, apperror.ErrValidation)

	_, err = svc.Create(ctx, domain.CreateMerchantRequest{BusinessName: "x", ContactEmail: "a@b.test", Status: "closed"})
	assert.ErrorIs(t, err, domain.ErrInvalidStatus)
}

func TestFindByIDNotFound(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.FindByID(context.Background(), 42)
	assert.ErrorIs(t, err, domain.ErrMerchantNotFound)
	assert.ErrorIs(t, err, apperror.ErrNotFound)
}

func TestIncrementVolumeAndStatus(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	m, err := svc.Create(ctx, domain.CreateMerchantRequest{BusinessName: "Acme", ContactEmail: "a@acme.test", Status: domain.StatusActive})
	require.NoError(t, err)

	require.NoError(t, svc.IncrementVolume(ctx, m.ID, 920))
	require.NoError(t, svc.IncrementVolume(ctx, m.ID, 80))

	m, err = svc.UpdateStatus(ctx, m.ID, domain.StatusSuspended)
	require.NoError(t, err)
	assert.Equal(t, 1000.0, m.MonthlyVolume)
	assert.Equal(t, 1000.0, m.TotalVolume)
	assert.Equal(t, int64(2), m.TransactionCount)
	assert.False(t, m.IsActive())
}

func TestReconcileVolumes(t *testing.T) {
	svc, conn, _ := newTestService(t)
	ctx := context.Background()

	require.NoError(t, conn.Exec(`CREATE TABLE payments (
		id INTEGER PRIMARY KEY,
		merchant_id INTEGER,
		target_amount REAL,
		completed_at DATETIME
	)`).Error)

	m, err := svc.Create(ctx, domain.CreateMerchantRequest{BusinessName: "Acme", ContactEmail: "a@acme.test", Status: domain.StatusActive})
	require.NoError(t, err)
	require.NoError(t, svc.IncrementVolume(ctx, m.ID, 999_999))

	thisMonth := time.Date(2025, 6, 3, 0, 0, 0, 0, time.UTC)
	lastMonth := time.Date(2025, 5, 20, 0, 0, 0, 0, time.UTC)
	require.NoError(t, conn.Exec(`INSERT INTO payments VALUES (1, ?, 100, ?), (2, ?, 50, ?), (3, ?, 25, NULL)`,
		m.ID, thisMonth, m.ID, lastMonth, m.ID).Error)

	n, err := svc.ReconcileVolumes(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	m, err = svc.FindByID(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, 150.0, m.TotalVolume)
	assert.Equal(t, 100.0, m.MonthlyVolume)
	assert.Equal(t, int64(2), m.TransactionCount)
}
