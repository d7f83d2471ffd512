package services

import (
	"context"
	"sync"
	"time"

	"github.com/p2psettle/backend/internal/models"
)

// fakeStore is an in-memory ReconStore with the same conditional-write
// semantics as the SQL implementation.
type fakeStore struct {
	mu          sync.Mutex
	receipts    map[string]*models.Receipt
	payouts     map[int64]*models.Payout
	txs         map[int64]*models.Transaction
	ads         map[int64]*models.Advertisement
	ambiguities map[string][]int64
	resolved    map[string]bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		receipts:    make(map[string]*models.Receipt),
		payouts:     make(map[int64]*models.Payout),
		txs:         make(map[int64]*models.Transaction),
		ads:         make(map[int64]*models.Advertisement),
		ambiguities: make(map[string][]int64),
		resolved:    make(map[string]bool),
	}
}

func (f *fakeStore) addReceipt(r *models.Receipt) *models.Receipt {
	f.receipts[r.ID] = r
	return r
}

func (f *fakeStore) addPayout(p *models.Payout) *models.Payout {
	f.payouts[p.ID] = p
	return p
}

func (f *fakeStore) addTx(t *models.Transaction) *models.Transaction {
	f.txs[t.ID] = t
	return t
}

func (f *fakeStore) addAd(a *models.Advertisement) *models.Advertisement {
	f.ads[a.ID] = a
	return a
}

func (f *fakeStore) SaveReceipt(_ context.Context, r *models.Receipt) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.receipts {
		if existing.ContentHash == r.ContentHash {
			return models.ErrDuplicateReceipt
		}
	}
	f.receipts[r.ID] = r
	return nil
}

func (f *fakeStore) ReceiptByID(_ context.Context, id string) (*models.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.receipts[id]
	if !ok {
		return nil, models.ErrReceiptNotFound
	}
	return r, nil
}

func (f *fakeStore) ReceiptByHash(_ context.Context, hash string) (*models.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.receipts {
		if r.ContentHash == hash {
			return r, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) UnlinkedParsed(_ context.Context) ([]models.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Receipt
	for _, r := range f.receipts {
		if r.ParseStatus != models.ParseOK {
			continue
		}
		if f.payoutForReceiptLocked(r.ID) == nil {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (f *fakeStore) Quarantined(_ context.Context) ([]models.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Receipt
	for _, r := range f.receipts {
		if r.ParseStatus == models.ParseFailed {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (f *fakeStore) RecordAmbiguity(_ context.Context, receiptID string, candidates []int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, open := f.ambiguities[receiptID]; !open {
		f.ambiguities[receiptID] = candidates
	}
	return nil
}

func (f *fakeStore) OpenAmbiguities(_ context.Context) ([]models.Ambiguity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Ambiguity
	for id, candidates := range f.ambiguities {
		if !f.resolved[id] {
			out = append(out, models.Ambiguity{ReceiptID: id, Candidates: candidates})
		}
	}
	return out, nil
}

func (f *fakeStore) ResolveAmbiguity(_ context.Context, receiptID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resolved[receiptID] = true
	return nil
}

func (f *fakeStore) UpsertPayout(_ context.Context, p *models.Payout) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.payouts {
		if existing.GatewayID == p.GatewayID {
			existing.Status = p.Status
			existing.Amounts = p.Amounts
			existing.Wallet = p.Wallet
			p.ID = existing.ID
			return nil
		}
	}
	if p.ID == 0 {
		p.ID = int64(len(f.payouts) + 1)
	}
	f.payouts[p.ID] = p
	return nil
}

func (f *fakeStore) PayoutByID(_ context.Context, id int64) (*models.Payout, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.payouts[id]
	if !ok {
		return nil, models.ErrPayoutNotFound
	}
	return p, nil
}

func (f *fakeStore) payoutForReceiptLocked(receiptID string) *models.Payout {
	for _, p := range f.payouts {
		if p.LinkedReceiptID != nil && *p.LinkedReceiptID == receiptID {
			return p
		}
	}
	return nil
}

func (f *fakeStore) PayoutForReceipt(_ context.Context, receiptID string) (*models.Payout, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.payoutForReceiptLocked(receiptID), nil
}

func (f *fakeStore) CandidatePayouts(_ context.Context, statuses []int) ([]models.Payout, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Payout
	for _, p := range f.payouts {
		if p.StatusIn(statuses) && p.LinkedReceiptID == nil {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (f *fakeStore) OrphanedPayouts(_ context.Context, statuses []int) ([]models.Payout, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Payout
	for _, p := range f.payouts {
		if !p.StatusIn(statuses) || p.TransactionID != nil {
			continue
		}
		owned := false
		for _, tx := range f.txs {
			if tx.PayoutID != nil && *tx.PayoutID == p.ID {
				owned = true
				break
			}
		}
		if !owned {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (f *fakeStore) LinkReceipt(_ context.Context, payoutID int64, receiptID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.payouts[payoutID]
	if !ok || p.LinkedReceiptID != nil {
		return false, nil
	}
	p.LinkedReceiptID = &receiptID
	return true, nil
}

func (f *fakeStore) UnlinkReceipt(_ context.Context, payoutID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.payouts[payoutID]; ok {
		p.LinkedReceiptID = nil
	}
	return nil
}

func (f *fakeStore) TransactionByID(_ context.Context, id int64) (*models.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.txs[id]
	if !ok {
		return nil, models.ErrTransactionNotFound
	}
	return t, nil
}

func (f *fakeStore) TransactionForPayout(_ context.Context, payoutID int64) (*models.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range f.txs {
		if t.PayoutID != nil && *t.PayoutID == payoutID {
			return t, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) TransactionsWithPayout(_ context.Context) ([]models.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Transaction
	for _, t := range f.txs {
		if t.PayoutID != nil {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (f *fakeStore) PayoutlessTransactions(_ context.Context) ([]models.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Transaction
	for _, t := range f.txs {
		if t.PayoutID == nil && !t.Status.Terminal() {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (f *fakeStore) ClearPayoutRef(_ context.Context, txID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.payouts {
		if p.TransactionID != nil && *p.TransactionID == txID {
			p.TransactionID = nil
		}
	}
	if t, ok := f.txs[txID]; ok {
		t.PayoutID = nil
	}
	return nil
}

func (f *fakeStore) AssignPayout(_ context.Context, txID, payoutID int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.txs[txID]
	if !ok || t.PayoutID != nil {
		return false, nil
	}
	p, ok := f.payouts[payoutID]
	if !ok || p.TransactionID != nil {
		return false, nil
	}
	t.PayoutID = &payoutID
	p.TransactionID = &txID
	return true, nil
}

func (f *fakeStore) AdvanceStatus(_ context.Context, txID int64, from []models.TransactionStatus, to models.TransactionStatus) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.txs[txID]
	if !ok {
		return false, nil
	}
	for _, src := range from {
		if t.Status == src {
			t.Status = to
			t.UpdatedAt = time.Now()
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) ForceStatus(_ context.Context, txID int64, to models.TransactionStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.txs[txID]
	if !ok {
		return models.ErrTransactionNotFound
	}
	t.Status = to
	return nil
}

func (f *fakeStore) SwapPayouts(_ context.Context, txAID, txBID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.txs[txAID]
	if !ok {
		return models.ErrTransactionNotFound
	}
	b, ok := f.txs[txBID]
	if !ok {
		return models.ErrTransactionNotFound
	}
	payoutA, payoutB := a.PayoutID, b.PayoutID

	// Clear both sides first, mirroring the SQL swap's intermediate state.
	a.PayoutID, b.PayoutID = nil, nil
	for _, p := range f.payouts {
		if p.TransactionID != nil && (*p.TransactionID == txAID || *p.TransactionID == txBID) {
			p.TransactionID = nil
		}
	}

	if payoutA != nil {
		b.PayoutID = payoutA
		if p, ok := f.payouts[*payoutA]; ok {
			p.TransactionID = &b.ID
		}
	}
	if payoutB != nil {
		a.PayoutID = payoutB
		if p, ok := f.payouts[*payoutB]; ok {
			p.TransactionID = &a.ID
		}
	}
	return nil
}

func (f *fakeStore) CountAdDependents(_ context.Context, adID int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, t := range f.txs {
		if t.AdvertisementID == adID {
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) AdByID(_ context.Context, id int64) (*models.Advertisement, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.ads[id]
	if !ok {
		return nil, models.ErrAdNotFound
	}
	return a, nil
}

func (f *fakeStore) PlaceholderAds(_ context.Context) ([]models.Advertisement, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Advertisement
	for _, a := range f.ads {
		if a.Placeholder {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (f *fakeStore) FindRealAd(_ context.Context, placeholder *models.Advertisement, window time.Duration) (*models.Advertisement, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.ads {
		if a.Placeholder || !a.Quantity.Equal(placeholder.Quantity) || a.Account != placeholder.Account {
			continue
		}
		diff := a.CreatedAt.Sub(placeholder.CreatedAt)
		if diff < 0 {
			diff = -diff
		}
		if diff <= window {
			return a, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) MergeAd(_ context.Context, placeholderID, realID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range f.txs {
		if t.AdvertisementID == placeholderID {
			t.AdvertisementID = realID
		}
	}
	for _, t := range f.txs {
		if t.AdvertisementID == placeholderID {
			return models.ErrHasDependents
		}
	}
	delete(f.ads, placeholderID)
	return nil
}
