package services

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p2psettle/backend/internal/models"
)

func newTestSweeper(f *fakeStore) *Sweeper {
	cfg := testConfig()
	cfg.AdMergeWindow = 30 * time.Minute
	engine := NewMatchingEngine(f, cfg, StaticRateSource{Value: decimal.NewFromInt(80)}, nil)
	return NewSweeper(f, cfg, engine)
}

func anomaliesOfType(report *models.SweepReport, kind models.AnomalyType) []models.Anomaly {
	var out []models.Anomaly
	for _, a := range report.Anomalies {
		if a.Type == kind {
			out = append(out, a)
		}
	}
	return out
}

func TestSweepRepairsDanglingPayoutRef(t *testing.T) {
	f := newFakeStore()
	sweeper := newTestSweeper(f)

	f.addAd(&models.Advertisement{ID: 1, Quantity: decimal.NewFromInt(100), Account: "acc-1"})
	missing := int64(99)
	tx := f.addTx(&models.Transaction{ID: 1, AdvertisementID: 1, PayoutID: &missing, Amount: decimal.NewFromInt(100), Status: models.StatusWaitingPayment})
	// An orphaned payout inside the tolerance of the expected 8000 fiat.
	orphan := f.addPayout(&models.Payout{ID: 10, GatewayID: "g-10", Status: 4, Amounts: rub(8020), Wallet: "79001112233"})

	report, err := sweeper.RunOnce(context.Background())
	require.NoError(t, err)

	dangling := anomaliesOfType(report, models.AnomalyDanglingPayoutRef)
	require.Len(t, dangling, 1)
	assert.True(t, dangling[0].Repaired)
	assert.Equal(t, missing, dangling[0].PayoutID)

	// The cleared transaction adopted the orphan via the amount match.
	require.NotNil(t, tx.PayoutID)
	assert.Equal(t, orphan.ID, *tx.PayoutID)
	require.NotNil(t, orphan.TransactionID)
	assert.Equal(t, tx.ID, *orphan.TransactionID)
}

func TestSweepReportsOrphanedPayouts(t *testing.T) {
	f := newFakeStore()
	sweeper := newTestSweeper(f)

	f.addPayout(&models.Payout{ID: 10, GatewayID: "g-10", Status: 4, Amounts: rub(5000), Wallet: "1"})

	report, err := sweeper.RunOnce(context.Background())
	require.NoError(t, err)

	orphaned := anomaliesOfType(report, models.AnomalyOrphanedPayout)
	require.Len(t, orphaned, 1)
	assert.False(t, orphaned[0].Repaired)
	assert.Equal(t, int64(10), orphaned[0].PayoutID)
	assert.Equal(t, 1, report.Reported)

	// Orphans are surfaced, never discarded.
	_, err = f.PayoutByID(context.Background(), 10)
	assert.NoError(t, err)
}

func TestSweepReportsAmountMismatchWithoutRepair(t *testing.T) {
	f := newFakeStore()
	sweeper := newTestSweeper(f)

	f.addAd(&models.Advertisement{ID: 1, Quantity: decimal.NewFromInt(100), Account: "acc-1"})
	payout := f.addPayout(&models.Payout{ID: 10, GatewayID: "g-10", Status: 4, Amounts: rub(9000), Wallet: "1"})
	orderID := "ord-1"
	payoutID := payout.ID
	txID := int64(1)
	payout.TransactionID = &txID
	tx := f.addTx(&models.Transaction{ID: txID, OrderID: &orderID, AdvertisementID: 1, PayoutID: &payoutID, Amount: decimal.NewFromInt(100), Status: models.StatusPaymentSent})

	report, err := sweeper.RunOnce(context.Background())
	require.NoError(t, err)

	mismatches := anomaliesOfType(report, models.AnomalyAmountMismatch)
	require.Len(t, mismatches, 1)
	assert.False(t, mismatches[0].Repaired)
	assert.Equal(t, tx.ID, mismatches[0].TransactionID)

	// The link is left for the operator; the sweeper only reports.
	require.NotNil(t, tx.PayoutID)
	assert.Equal(t, payout.ID, *tx.PayoutID)
}

func TestSweepMergesPlaceholderAd(t *testing.T) {
	f := newFakeStore()
	sweeper := newTestSweeper(f)

	created := time.Now()
	placeholder := f.addAd(&models.Advertisement{ID: 1, Quantity: decimal.NewFromInt(100), Account: "acc-1", Placeholder: true, CreatedAt: created})
	real := f.addAd(&models.Advertisement{ID: 2, Quantity: decimal.NewFromInt(100), Account: "acc-1", CreatedAt: created.Add(5 * time.Minute)})
	tx := f.addTx(&models.Transaction{ID: 1, AdvertisementID: placeholder.ID, Status: models.StatusPending})

	report, err := sweeper.RunOnce(context.Background())
	require.NoError(t, err)

	merged := anomaliesOfType(report, models.AnomalyPlaceholderAd)
	require.Len(t, merged, 1)
	assert.True(t, merged[0].Repaired)

	assert.Equal(t, real.ID, tx.AdvertisementID)
	_, err = f.AdByID(context.Background(), placeholder.ID)
	assert.ErrorIs(t, err, models.ErrAdNotFound)
}

func TestSweepSkipsPlaceholderWithoutRealAd(t *testing.T) {
	f := newFakeStore()
	sweeper := newTestSweeper(f)

	placeholder := f.addAd(&models.Advertisement{ID: 1, Quantity: decimal.NewFromInt(100), Account: "acc-1", Placeholder: true, CreatedAt: time.Now()})

	report, err := sweeper.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Empty(t, anomaliesOfType(report, models.AnomalyPlaceholderAd))

	_, err = f.AdByID(context.Background(), placeholder.ID)
	assert.NoError(t, err)
}

func TestRepairLink(t *testing.T) {
	f := newFakeStore()
	sweeper := newTestSweeper(f)
	ctx := context.Background()

	receipt := f.addReceipt(okReceipt("r-1", 2304, "+7 (902) 397-02-35"))
	payout := f.addPayout(&models.Payout{ID: 10, GatewayID: "g-10", Status: 4, Amounts: rub(2304), Wallet: "79023970235"})
	payoutID := payout.ID
	tx := f.addTx(&models.Transaction{ID: 1, AdvertisementID: 1, PayoutID: &payoutID, Status: models.StatusPaymentSent})
	f.ambiguities[receipt.ID] = []int64{10, 11}

	require.NoError(t, sweeper.RepairLink(ctx, receipt.ID, payout.ID))
	require.NotNil(t, payout.LinkedReceiptID)
	assert.Equal(t, receipt.ID, *payout.LinkedReceiptID)
	assert.Equal(t, models.StatusPaymentConfirmed, tx.Status)

	open, err := f.OpenAmbiguities(ctx)
	require.NoError(t, err)
	assert.Empty(t, open)

	// Re-running the same repair is a no-op.
	require.NoError(t, sweeper.RepairLink(ctx, receipt.ID, payout.ID))

	// Linking a second receipt to the claimed payout is refused.
	other := f.addReceipt(okReceipt("r-2", 2304, "+7 (902) 397-02-35"))
	assert.ErrorIs(t, sweeper.RepairLink(ctx, other.ID, payout.ID), models.ErrAlreadyLinked)
}

func TestRepairLinkRefusesQuarantined(t *testing.T) {
	f := newFakeStore()
	sweeper := newTestSweeper(f)

	receipt := f.addReceipt(&models.Receipt{ID: "r-bad", ParseStatus: models.ParseFailed})
	f.addPayout(&models.Payout{ID: 10, GatewayID: "g-10", Status: 4, Amounts: rub(100), Wallet: "1"})

	err := sweeper.RepairLink(context.Background(), receipt.ID, 10)
	assert.ErrorIs(t, err, models.ErrNotLinkable)
}

func TestRepairUnlink(t *testing.T) {
	f := newFakeStore()
	sweeper := newTestSweeper(f)
	ctx := context.Background()

	receiptID := "r-1"
	payout := f.addPayout(&models.Payout{ID: 10, GatewayID: "g-10", Status: 4, Amounts: rub(100), Wallet: "1", LinkedReceiptID: &receiptID})

	require.NoError(t, sweeper.RepairUnlink(ctx, payout.ID))
	assert.Nil(t, payout.LinkedReceiptID)

	// Unlinking an unlinked payout is a no-op.
	require.NoError(t, sweeper.RepairUnlink(ctx, payout.ID))
}

func TestRepairSwap(t *testing.T) {
	f := newFakeStore()
	sweeper := newTestSweeper(f)
	ctx := context.Background()

	// Transaction 1 is order-bound but holds a payout far off its
	// advertisement-implied 8000; transaction 2 holds the fitting payout
	// without an order.
	f.addAd(&models.Advertisement{ID: 1, Quantity: decimal.NewFromInt(100), Account: "acc-1"})
	wrong := f.addPayout(&models.Payout{ID: 10, GatewayID: "g-10", Status: 4, Amounts: rub(200), Wallet: "1"})
	fitting := f.addPayout(&models.Payout{ID: 11, GatewayID: "g-11", Status: 4, Amounts: rub(8000), Wallet: "2"})
	orderID := "ord-1"
	idWrong, idFitting := wrong.ID, fitting.ID
	txA := f.addTx(&models.Transaction{ID: 1, OrderID: &orderID, AdvertisementID: 1, PayoutID: &idWrong, Amount: decimal.NewFromInt(100), Status: models.StatusPaymentSent})
	txB := f.addTx(&models.Transaction{ID: 2, AdvertisementID: 1, PayoutID: &idFitting, Status: models.StatusPaymentSent})
	wrong.TransactionID = &txA.ID
	fitting.TransactionID = &txB.ID

	require.NoError(t, sweeper.RepairSwap(ctx, txA.ID, txB.ID))

	// Crosswise, with the at-most-one invariant intact on both sides.
	require.NotNil(t, txA.PayoutID)
	assert.Equal(t, fitting.ID, *txA.PayoutID)
	require.NotNil(t, txB.PayoutID)
	assert.Equal(t, wrong.ID, *txB.PayoutID)
	require.NotNil(t, wrong.TransactionID)
	assert.Equal(t, txB.ID, *wrong.TransactionID)
	require.NotNil(t, fitting.TransactionID)
	assert.Equal(t, txA.ID, *fitting.TransactionID)

	// A replayed swap finds the links already consistent and writes
	// nothing; re-running it must not revert the repair.
	require.NoError(t, sweeper.RepairSwap(ctx, txA.ID, txB.ID))
	assert.Equal(t, fitting.ID, *txA.PayoutID)
	assert.Equal(t, wrong.ID, *txB.PayoutID)
	assert.Equal(t, txB.ID, *wrong.TransactionID)
	assert.Equal(t, txA.ID, *fitting.TransactionID)
}

func TestRepairSwapOneSided(t *testing.T) {
	f := newFakeStore()
	sweeper := newTestSweeper(f)
	ctx := context.Background()

	f.addAd(&models.Advertisement{ID: 1, Quantity: decimal.NewFromInt(100), Account: "acc-1"})
	payout := f.addPayout(&models.Payout{ID: 10, GatewayID: "g-10", Status: 4, Amounts: rub(8000), Wallet: "1"})
	orderID := "ord-1"
	id := payout.ID
	txA := f.addTx(&models.Transaction{ID: 1, OrderID: &orderID, AdvertisementID: 1, Amount: decimal.NewFromInt(100), Status: models.StatusPaymentSent})
	txB := f.addTx(&models.Transaction{ID: 2, AdvertisementID: 1, PayoutID: &id, Status: models.StatusPaymentSent})
	payout.TransactionID = &txB.ID

	require.NoError(t, sweeper.RepairSwap(ctx, txA.ID, txB.ID))
	require.NotNil(t, txA.PayoutID)
	assert.Equal(t, payout.ID, *txA.PayoutID)
	assert.Nil(t, txB.PayoutID)

	// Replay: the payout now sits on the order-bound side, nothing moves.
	require.NoError(t, sweeper.RepairSwap(ctx, txA.ID, txB.ID))
	require.NotNil(t, txA.PayoutID)
	assert.Equal(t, payout.ID, *txA.PayoutID)
	assert.Nil(t, txB.PayoutID)
}

func TestRepairSwapRefusesConsistentLinks(t *testing.T) {
	f := newFakeStore()
	sweeper := newTestSweeper(f)
	ctx := context.Background()

	f.addAd(&models.Advertisement{ID: 1, Quantity: decimal.NewFromInt(100), Account: "acc-1"})
	orderID := "ord-1"

	t.Run("order already holds a fitting payout", func(t *testing.T) {
		held := f.addPayout(&models.Payout{ID: 10, GatewayID: "g-10", Status: 4, Amounts: rub(8000), Wallet: "1"})
		other := f.addPayout(&models.Payout{ID: 11, GatewayID: "g-11", Status: 4, Amounts: rub(8010), Wallet: "2"})
		idHeld, idOther := held.ID, other.ID
		txA := f.addTx(&models.Transaction{ID: 1, OrderID: &orderID, AdvertisementID: 1, PayoutID: &idHeld, Amount: decimal.NewFromInt(100), Status: models.StatusPaymentSent})
		txB := f.addTx(&models.Transaction{ID: 2, AdvertisementID: 1, PayoutID: &idOther, Status: models.StatusPaymentSent})

		require.NoError(t, sweeper.RepairSwap(ctx, txA.ID, txB.ID))
		assert.Equal(t, held.ID, *txA.PayoutID)
		assert.Equal(t, other.ID, *txB.PayoutID)
	})

	t.Run("neither side is order-bound", func(t *testing.T) {
		g := newFakeStore()
		sw := newTestSweeper(g)
		g.addAd(&models.Advertisement{ID: 1, Quantity: decimal.NewFromInt(100), Account: "acc-1"})
		payout := g.addPayout(&models.Payout{ID: 10, GatewayID: "g-10", Status: 4, Amounts: rub(8000), Wallet: "1"})
		id := payout.ID
		txA := g.addTx(&models.Transaction{ID: 1, AdvertisementID: 1, PayoutID: &id, Status: models.StatusPaymentSent})
		txB := g.addTx(&models.Transaction{ID: 2, AdvertisementID: 1, Status: models.StatusPaymentSent})

		require.NoError(t, sw.RepairSwap(ctx, txA.ID, txB.ID))
		require.NotNil(t, txA.PayoutID)
		assert.Equal(t, payout.ID, *txA.PayoutID)
		assert.Nil(t, txB.PayoutID)
	})
}

func TestRepairMerge(t *testing.T) {
	f := newFakeStore()
	sweeper := newTestSweeper(f)
	ctx := context.Background()

	placeholder := f.addAd(&models.Advertisement{ID: 1, Quantity: decimal.NewFromInt(10), Account: "acc-1", Placeholder: true})
	real := f.addAd(&models.Advertisement{ID: 2, Quantity: decimal.NewFromInt(10), Account: "acc-1"})
	tx := f.addTx(&models.Transaction{ID: 1, AdvertisementID: placeholder.ID, Status: models.StatusPending})

	require.NoError(t, sweeper.RepairMerge(ctx, placeholder.ID, real.ID))
	assert.Equal(t, real.ID, tx.AdvertisementID)

	// A repeat of a completed merge is a no-op.
	require.NoError(t, sweeper.RepairMerge(ctx, placeholder.ID, real.ID))
}

func TestRepairForceStatus(t *testing.T) {
	f := newFakeStore()
	sweeper := newTestSweeper(f)
	ctx := context.Background()

	tx := f.addTx(&models.Transaction{ID: 1, AdvertisementID: 1, Status: models.StatusAppeal})

	// The override ignores the transition table.
	require.NoError(t, sweeper.RepairForceStatus(ctx, tx.ID, models.StatusWaitingPayment))
	assert.Equal(t, models.StatusWaitingPayment, tx.Status)

	// Forcing the current status is a no-op.
	require.NoError(t, sweeper.RepairForceStatus(ctx, tx.ID, models.StatusWaitingPayment))

	assert.Error(t, sweeper.RepairForceStatus(ctx, tx.ID, "no_such_status"))
	assert.ErrorIs(t, sweeper.RepairForceStatus(ctx, 99, models.StatusCancelled), models.ErrTransactionNotFound)
}

func TestRepairMergeValidation(t *testing.T) {
	f := newFakeStore()
	sweeper := newTestSweeper(f)
	ctx := context.Background()

	f.addAd(&models.Advertisement{ID: 1, Quantity: decimal.NewFromInt(10), Account: "acc-1", Placeholder: true})
	f.addAd(&models.Advertisement{ID: 2, Quantity: decimal.NewFromInt(10), Account: "acc-1", Placeholder: true})
	real := f.addAd(&models.Advertisement{ID: 3, Quantity: decimal.NewFromInt(10), Account: "acc-1"})

	// Merging into another placeholder is refused.
	assert.Error(t, sweeper.RepairMerge(ctx, 1, 2))
	// A non-placeholder source is refused.
	assert.Error(t, sweeper.RepairMerge(ctx, real.ID, 1))
}
