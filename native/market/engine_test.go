package market_test

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	marketerrors "itemescrow/core/errors"
	"itemescrow/core/events"
	"itemescrow/core/state"
	"itemescrow/native/bank"
	"itemescrow/native/market"
	"itemescrow/storage"
)

var (
	owner  = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	seller = common.HexToAddress("0x00000000000000000000000000000000000000b1")
	buyer  = common.HexToAddress("0x00000000000000000000000000000000000000c1")
	other  = common.HexToAddress("0x00000000000000000000000000000000000000d1")
)

type harness struct {
	engine *market.Engine
	bank   *bank.Bank
	log    *events.Log
	db     *flakyDB
}

// flakyDB fails every WriteBatch while fail is set.
type flakyDB struct {
	*storage.MemDB
	fail bool
}

func (db *flakyDB) WriteBatch(batch storage.Batch) error {
	if db.fail {
		return errors.New("disk full")
	}
	return db.MemDB.WriteBatch(batch)
}

func newHarness(t *testing.T, feeBps uint32) *harness {
	t.Helper()
	db := &flakyDB{MemDB: storage.NewMemDB()}
	t.Cleanup(db.Close)
	mgr := state.NewManager(db)
	rail := bank.New()
	log := events.NewLog()

	engine := market.NewEngine(mgr, owner)
	engine.SetRail(rail)
	engine.SetEmitter(log)
	engine.SetNowFunc(func() int64 { return 1_700_000_000 })
	if err := engine.Init(context.Background(), feeBps); err != nil {
		t.Fatalf("init: %v", err)
	}
	return &harness{engine: engine, bank: rail, log: log, db: db}
}

func (h *harness) list(t *testing.T, from common.Address, price int64) uint64 {
	t.Helper()
	id, err := h.engine.List(context.Background(), from, "Vintage Watch", "1960s, working", big.NewInt(price))
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	return id
}

func (h *harness) assertSolvent(t *testing.T) {
	t.Helper()
	treasury, err := h.engine.Treasury()
	if err != nil {
		t.Fatalf("treasury: %v", err)
	}
	if err := treasury.Check(); err != nil {
		t.Fatalf("treasury invariant: %v", err)
	}
}

func TestReferenceScenario(t *testing.T) {
	h := newHarness(t, 250)
	ctx := context.Background()
	id := h.list(t, seller, 100_000)

	receipt, err := h.engine.Purchase(ctx, buyer, id, big.NewInt(100_000))
	if err != nil {
		t.Fatalf("purchase: %v", err)
	}
	if receipt.Fee.Cmp(big.NewInt(2_500)) != 0 || receipt.SellerNet.Cmp(big.NewInt(97_500)) != 0 {
		t.Fatalf("unexpected split fee=%s net=%s", receipt.Fee, receipt.SellerNet)
	}
	if got := h.bank.Balance(owner); got.Cmp(big.NewInt(2_500)) != 0 {
		t.Fatalf("owner should receive fee immediately, got %s", got)
	}
	earnings, err := h.engine.Earnings(seller)
	if err != nil {
		t.Fatalf("earnings: %v", err)
	}
	if earnings.Cmp(big.NewInt(97_500)) != 0 {
		t.Fatalf("expected earnings 97500, got %s", earnings)
	}
	balance, err := h.engine.ContractBalance()
	if err != nil {
		t.Fatalf("contract balance: %v", err)
	}
	if balance.Cmp(big.NewInt(97_500)) != 0 {
		t.Fatalf("expected custody 97500, got %s", balance)
	}

	amount, err := h.engine.Withdraw(ctx, seller)
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if amount.Cmp(big.NewInt(97_500)) != 0 {
		t.Fatalf("unexpected withdrawn amount %s", amount)
	}
	if got := h.bank.Balance(seller); got.Cmp(big.NewInt(97_500)) != 0 {
		t.Fatalf("seller should be paid, got %s", got)
	}
	earnings, _ = h.engine.Earnings(seller)
	if earnings.Sign() != 0 {
		t.Fatalf("expected zero earnings after withdraw, got %s", earnings)
	}
	if _, err := h.engine.Withdraw(ctx, seller); !errors.Is(err, marketerrors.ErrNoEarnings) {
		t.Fatalf("expected NoEarnings on second withdraw, got %v", err)
	}
	h.assertSolvent(t)

	types := make([]string, 0)
	for _, evt := range h.log.Events() {
		types = append(types, evt.Type)
	}
	want := []string{market.EventTypeItemListed, market.EventTypeItemPurchased, market.EventTypeEarningsWithdrawn}
	if len(types) != len(want) {
		t.Fatalf("expected events %v, got %v", want, types)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("expected events %v, got %v", want, types)
		}
	}
}

func TestListRoundTrip(t *testing.T) {
	h := newHarness(t, 250)
	id, err := h.engine.List(context.Background(), seller, "  Camera ", "Leica M6", big.NewInt(5_000))
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	item, err := h.engine.Item(id)
	if err != nil {
		t.Fatalf("item: %v", err)
	}
	if item.ID != id || item.Name != "  Camera " || item.Description != "Leica M6" {
		t.Fatalf("unexpected item fields: %+v", item)
	}
	if item.Price.Cmp(big.NewInt(5_000)) != 0 || item.Seller != seller || item.ListedAt != 1_700_000_000 {
		t.Fatalf("unexpected item fields: %+v", item)
	}
	if item.State != market.ItemActive || item.HasBuyer() || item.DeliveryConfirmed {
		t.Fatalf("new item must be active without buyer: %+v", item)
	}
	last, _ := h.log.Last()
	if last == nil || last.Type != market.EventTypeItemListed || last.Attributes["price"] != "5000" {
		t.Fatalf("unexpected listed event: %+v", last)
	}
}

func TestListValidation(t *testing.T) {
	h := newHarness(t, 250)
	ctx := context.Background()
	cases := []struct {
		name  string
		title string
		price *big.Int
		want  error
	}{
		{name: "empty name", title: "", price: big.NewInt(1), want: marketerrors.ErrEmptyName},
		{name: "blank name", title: "   ", price: big.NewInt(1), want: marketerrors.ErrEmptyName},
		{name: "zero price", title: "x", price: big.NewInt(0), want: marketerrors.ErrZeroPrice},
		{name: "nil price", title: "x", price: nil, want: marketerrors.ErrZeroPrice},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := h.engine.List(ctx, seller, tc.title, "", tc.price)
			if !errors.Is(err, tc.want) || !errors.Is(err, marketerrors.ErrValidation) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
	if total, _ := h.engine.TotalItems(); total != 0 {
		t.Fatalf("rejected listings must not allocate ids, got %d", total)
	}
	if h.log.Len() != 0 {
		t.Fatalf("rejected listings must not emit events")
	}
}

func TestMonotonicIDs(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()
	first := h.list(t, seller, 10)
	second := h.list(t, seller, 10)
	if err := h.engine.Remove(ctx, seller, second); err != nil {
		t.Fatalf("remove: %v", err)
	}
	third := h.list(t, seller, 10)
	if !(first == 1 && second == 2 && third == 3) {
		t.Fatalf("expected ids 1,2,3 got %d,%d,%d", first, second, third)
	}
	ids, err := h.engine.SellerItems(seller)
	if err != nil {
		t.Fatalf("seller items: %v", err)
	}
	if len(ids) != 3 {
		t.Fatalf("seller index should keep removed items, got %v", ids)
	}
}

func TestRemove(t *testing.T) {
	h := newHarness(t, 250)
	ctx := context.Background()
	id := h.list(t, seller, 100)

	if err := h.engine.Remove(ctx, other, id); !errors.Is(err, marketerrors.ErrUnauthorized) {
		t.Fatalf("expected Unauthorized, got %v", err)
	}
	if err := h.engine.Remove(ctx, seller, 99); !errors.Is(err, marketerrors.ErrNotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
	if err := h.engine.Remove(ctx, seller, id); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := h.engine.Remove(ctx, seller, id); !errors.Is(err, marketerrors.ErrInvalidState) {
		t.Fatalf("expected InvalidState on second remove, got %v", err)
	}
	if _, err := h.engine.Purchase(ctx, buyer, id, big.NewInt(100)); !errors.Is(err, marketerrors.ErrInvalidState) {
		t.Fatalf("expected InvalidState purchasing removed item, got %v", err)
	}

	sold := h.list(t, seller, 100)
	if _, err := h.engine.Purchase(ctx, buyer, sold, big.NewInt(100)); err != nil {
		t.Fatalf("purchase: %v", err)
	}
	if err := h.engine.Remove(ctx, seller, sold); !errors.Is(err, marketerrors.ErrInvalidState) {
		t.Fatalf("expected InvalidState removing sold item, got %v", err)
	}
}

func TestPurchaseRejections(t *testing.T) {
	h := newHarness(t, 250)
	ctx := context.Background()
	id := h.list(t, seller, 1_000)

	if _, err := h.engine.Purchase(ctx, buyer, 42, big.NewInt(1_000)); !errors.Is(err, marketerrors.ErrNotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
	for _, paid := range []*big.Int{big.NewInt(1_000), big.NewInt(1)} {
		if _, err := h.engine.Purchase(ctx, seller, id, paid); !errors.Is(err, marketerrors.ErrSelfPurchase) {
			t.Fatalf("expected SelfPurchase for paid=%s, got %v", paid, err)
		}
	}
	for _, paid := range []*big.Int{big.NewInt(999), big.NewInt(1_001), nil} {
		if _, err := h.engine.Purchase(ctx, buyer, id, paid); !errors.Is(err, marketerrors.ErrPaymentMismatch) {
			t.Fatalf("expected PaymentMismatch for paid=%v, got %v", paid, err)
		}
	}
	item, _ := h.engine.Item(id)
	if item.State != market.ItemActive {
		t.Fatalf("rejected purchases must leave item active")
	}
	if _, err := h.engine.Purchase(ctx, buyer, id, big.NewInt(1_000)); err != nil {
		t.Fatalf("purchase: %v", err)
	}
	if _, err := h.engine.Purchase(ctx, other, id, big.NewInt(1_000)); !errors.Is(err, marketerrors.ErrInvalidState) {
		t.Fatalf("expected InvalidState on double purchase, got %v", err)
	}
	purchases, err := h.engine.BuyerPurchases(buyer)
	if err != nil || len(purchases) != 1 || purchases[0] != id {
		t.Fatalf("unexpected buyer index %v err=%v", purchases, err)
	}
}

func TestSplitConservesPrice(t *testing.T) {
	ctx := context.Background()
	for _, bps := range []uint32{0, 1, 250, 333, 1_000} {
		h := newHarness(t, bps)
		for _, price := range []int64{1, 7, 999, 100_000, 123_456_789} {
			id := h.list(t, seller, price)
			before, _ := h.engine.Earnings(seller)
			receipt, err := h.engine.Purchase(ctx, buyer, id, big.NewInt(price))
			if err != nil {
				t.Fatalf("purchase bps=%d price=%d: %v", bps, price, err)
			}
			sum := new(big.Int).Add(receipt.Fee, receipt.SellerNet)
			if sum.Cmp(big.NewInt(price)) != 0 {
				t.Fatalf("fee+net != price for bps=%d price=%d", bps, price)
			}
			after, _ := h.engine.Earnings(seller)
			if new(big.Int).Sub(after, before).Cmp(receipt.SellerNet) != 0 {
				t.Fatalf("earnings delta mismatch for bps=%d price=%d", bps, price)
			}
		}
		h.assertSolvent(t)
	}
}

func TestFeeChangeIsNotRetroactive(t *testing.T) {
	h := newHarness(t, 250)
	ctx := context.Background()
	first := h.list(t, seller, 100_000)
	second := h.list(t, seller, 100_000)

	if _, err := h.engine.Purchase(ctx, buyer, first, big.NewInt(100_000)); err != nil {
		t.Fatalf("purchase: %v", err)
	}
	if err := h.engine.SetFee(ctx, owner, 1_001); !errors.Is(err, marketerrors.ErrFeeTooHigh) {
		t.Fatalf("expected FeeTooHigh, got %v", err)
	}
	if err := h.engine.SetFee(ctx, seller, 500); !errors.Is(err, marketerrors.ErrUnauthorized) {
		t.Fatalf("expected Unauthorized, got %v", err)
	}
	if err := h.engine.SetFee(ctx, owner, 1_000); err != nil {
		t.Fatalf("set fee: %v", err)
	}
	last, _ := h.log.Last()
	if last.Type != market.EventTypeFeeUpdated || last.Attributes["oldFeeBps"] != "250" || last.Attributes["newFeeBps"] != "1000" {
		t.Fatalf("unexpected fee event %+v", last)
	}

	earnings, _ := h.engine.Earnings(seller)
	if earnings.Cmp(big.NewInt(97_500)) != 0 {
		t.Fatalf("settled purchase must keep old split, got %s", earnings)
	}
	receipt, err := h.engine.Purchase(ctx, buyer, second, big.NewInt(100_000))
	if err != nil {
		t.Fatalf("purchase: %v", err)
	}
	if receipt.Fee.Cmp(big.NewInt(10_000)) != 0 || receipt.FeeBps != 1_000 {
		t.Fatalf("new rate must apply to next purchase, got fee=%s bps=%d", receipt.Fee, receipt.FeeBps)
	}
	earnings, _ = h.engine.Earnings(seller)
	if earnings.Cmp(big.NewInt(187_500)) != 0 {
		t.Fatalf("unexpected accumulated earnings %s", earnings)
	}
}

func TestInitKeepsStoredRate(t *testing.T) {
	h := newHarness(t, 250)
	ctx := context.Background()
	if err := h.engine.SetFee(ctx, owner, 100); err != nil {
		t.Fatalf("set fee: %v", err)
	}
	if err := h.engine.Init(ctx, 900); err != nil {
		t.Fatalf("init: %v", err)
	}
	rate, err := h.engine.FeeRate()
	if err != nil || rate != 100 {
		t.Fatalf("init must not override stored rate, got %d err=%v", rate, err)
	}
	if err := h.engine.Init(ctx, 1_001); !errors.Is(err, marketerrors.ErrFeeTooHigh) {
		t.Fatalf("expected FeeTooHigh, got %v", err)
	}
}

func TestConfirmDelivery(t *testing.T) {
	h := newHarness(t, 250)
	ctx := context.Background()
	id := h.list(t, seller, 100)

	if err := h.engine.ConfirmDelivery(ctx, buyer, id); !errors.Is(err, marketerrors.ErrUnauthorized) {
		t.Fatalf("expected Unauthorized before purchase, got %v", err)
	}
	if _, err := h.engine.Purchase(ctx, buyer, id, big.NewInt(100)); err != nil {
		t.Fatalf("purchase: %v", err)
	}
	if err := h.engine.ConfirmDelivery(ctx, seller, id); !errors.Is(err, marketerrors.ErrUnauthorized) {
		t.Fatalf("expected Unauthorized for seller, got %v", err)
	}
	if err := h.engine.ConfirmDelivery(ctx, buyer, 77); !errors.Is(err, marketerrors.ErrNotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
	removed := h.list(t, seller, 100)
	if err := h.engine.Remove(ctx, seller, removed); err != nil {
		t.Fatalf("remove: %v", err)
	}
	for _, caller := range []common.Address{buyer, seller, owner} {
		if err := h.engine.ConfirmDelivery(ctx, caller, removed); !errors.Is(err, marketerrors.ErrUnauthorized) {
			t.Fatalf("expected Unauthorized on removed item for %s, got %v", caller.Hex(), err)
		}
	}
	if err := h.engine.ConfirmDelivery(ctx, buyer, id); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if err := h.engine.ConfirmDelivery(ctx, buyer, id); !errors.Is(err, marketerrors.ErrAlreadyDelivered) {
		t.Fatalf("expected AlreadyDelivered, got %v", err)
	}
	item, _ := h.engine.Item(id)
	if !item.DeliveryConfirmed || item.Buyer != buyer {
		t.Fatalf("unexpected item after delivery: %+v", item)
	}
}

func TestWithdrawNotGatedOnDelivery(t *testing.T) {
	h := newHarness(t, 250)
	ctx := context.Background()
	id := h.list(t, seller, 100_000)
	if _, err := h.engine.Purchase(ctx, buyer, id, big.NewInt(100_000)); err != nil {
		t.Fatalf("purchase: %v", err)
	}
	if _, err := h.engine.Withdraw(ctx, seller); err != nil {
		t.Fatalf("withdraw before delivery: %v", err)
	}
}

func TestFeePushFailureRollsBackPurchase(t *testing.T) {
	h := newHarness(t, 250)
	ctx := context.Background()
	id := h.list(t, seller, 100_000)
	emitted := h.log.Len()
	h.bank.Reject(owner)

	_, err := h.engine.Purchase(ctx, buyer, id, big.NewInt(100_000))
	if !errors.Is(err, marketerrors.ErrTransferFailed) || !errors.Is(err, bank.ErrRecipientRejected) {
		t.Fatalf("expected TransferFailed, got %v", err)
	}
	item, _ := h.engine.Item(id)
	if item.State != market.ItemActive || item.HasBuyer() {
		t.Fatalf("failed purchase must leave item untouched: %+v", item)
	}
	earnings, _ := h.engine.Earnings(seller)
	if earnings.Sign() != 0 {
		t.Fatalf("failed purchase must not credit seller, got %s", earnings)
	}
	purchases, _ := h.engine.BuyerPurchases(buyer)
	if len(purchases) != 0 {
		t.Fatalf("failed purchase must not index buyer, got %v", purchases)
	}
	treasury, _ := h.engine.Treasury()
	if treasury.Received.Sign() != 0 || treasury.Custody.Sign() != 0 {
		t.Fatalf("failed purchase must not touch treasury: %+v", treasury)
	}
	if h.log.Len() != emitted {
		t.Fatalf("failed purchase must not emit events")
	}

	h.bank.Accept(owner)
	if _, err := h.engine.Purchase(ctx, buyer, id, big.NewInt(100_000)); err != nil {
		t.Fatalf("retry purchase: %v", err)
	}
}

func TestZeroFeeSkipsPush(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()
	h.bank.Reject(owner)
	id := h.list(t, seller, 50)
	if _, err := h.engine.Purchase(ctx, buyer, id, big.NewInt(50)); err != nil {
		t.Fatalf("zero-fee purchase should not push: %v", err)
	}
	if len(h.bank.Transfers()) != 0 {
		t.Fatalf("expected no transfers for zero fee")
	}
}

func TestWithdrawFailureRestoresBalance(t *testing.T) {
	h := newHarness(t, 250)
	ctx := context.Background()
	id := h.list(t, seller, 100_000)
	if _, err := h.engine.Purchase(ctx, buyer, id, big.NewInt(100_000)); err != nil {
		t.Fatalf("purchase: %v", err)
	}
	h.bank.Reject(seller)
	if _, err := h.engine.Withdraw(ctx, seller); !errors.Is(err, marketerrors.ErrTransferFailed) {
		t.Fatalf("expected TransferFailed, got %v", err)
	}
	earnings, _ := h.engine.Earnings(seller)
	if earnings.Cmp(big.NewInt(97_500)) != 0 {
		t.Fatalf("failed withdraw must restore balance, got %s", earnings)
	}
	h.assertSolvent(t)

	h.bank.Accept(seller)
	if _, err := h.engine.Withdraw(ctx, seller); err != nil {
		t.Fatalf("retry withdraw: %v", err)
	}
}

func TestConcurrentWithdrawPaysOnce(t *testing.T) {
	h := newHarness(t, 250)
	ctx := context.Background()
	id := h.list(t, seller, 100_000)
	if _, err := h.engine.Purchase(ctx, buyer, id, big.NewInt(100_000)); err != nil {
		t.Fatalf("purchase: %v", err)
	}

	const workers = 16
	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.engine.Withdraw(ctx, seller)
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
				return
			}
			if !errors.Is(err, marketerrors.ErrNoEarnings) {
				t.Errorf("unexpected withdraw error: %v", err)
			}
		}()
	}
	wg.Wait()
	if succeeded != 1 {
		t.Fatalf("expected exactly one successful withdraw, got %d", succeeded)
	}
	if got := h.bank.Balance(seller); got.Cmp(big.NewInt(97_500)) != 0 {
		t.Fatalf("seller paid %s, expected 97500", got)
	}
}

func TestActiveItemsPagination(t *testing.T) {
	h := newHarness(t, 250)
	ctx := context.Background()
	for i := 0; i < 9; i++ {
		h.list(t, seller, 10)
	}
	for _, id := range []uint64{1, 2, 4, 6, 7, 8} {
		if err := h.engine.Remove(ctx, seller, id); err != nil {
			t.Fatalf("remove %d: %v", id, err)
		}
	}

	ids := func(items []*market.Item) []uint64 {
		out := make([]uint64, len(items))
		for i, item := range items {
			out[i] = item.ID
		}
		return out
	}
	cases := []struct {
		start uint64
		limit int
		want  []uint64
	}{
		{start: 0, limit: 2, want: []uint64{3, 5}},
		{start: 1, limit: 2, want: []uint64{5, 9}},
		{start: 0, limit: 100, want: []uint64{3, 5, 9}},
		{start: 3, limit: 1, want: []uint64{}},
	}
	for _, tc := range cases {
		page, err := h.engine.ActiveItems(tc.start, tc.limit)
		if err != nil {
			t.Fatalf("active items(%d,%d): %v", tc.start, tc.limit, err)
		}
		got := ids(page)
		if len(got) != len(tc.want) {
			t.Fatalf("active items(%d,%d) = %v, want %v", tc.start, tc.limit, got, tc.want)
		}
		for i := range got {
			if got[i] != tc.want[i] {
				t.Fatalf("active items(%d,%d) = %v, want %v", tc.start, tc.limit, got, tc.want)
			}
		}
	}
	for _, limit := range []int{0, 101, -1} {
		if _, err := h.engine.ActiveItems(0, limit); !errors.Is(err, marketerrors.ErrInvalidLimit) {
			t.Fatalf("expected InvalidLimit for %d, got %v", limit, err)
		}
	}
	idPage, err := h.engine.ActiveItemIDs(0, 2)
	if err != nil || len(idPage) != 2 || idPage[0] != 3 || idPage[1] != 5 {
		t.Fatalf("active item ids = %v err=%v, want [3 5]", idPage, err)
	}
	if _, err := h.engine.ActiveItemIDs(0, 0); !errors.Is(err, marketerrors.ErrInvalidLimit) {
		t.Fatalf("expected InvalidLimit for ids, got %v", err)
	}
	all, err := h.engine.AllActive()
	if err != nil || len(all) != 3 {
		t.Fatalf("expected 3 active items, got %d err=%v", len(all), err)
	}
	total, _ := h.engine.TotalItems()
	if total != 9 {
		t.Fatalf("expected 9 total items, got %d", total)
	}
}

func TestEmergencySweepLeavesEarnings(t *testing.T) {
	h := newHarness(t, 250)
	ctx := context.Background()
	id := h.list(t, seller, 100_000)
	if _, err := h.engine.Purchase(ctx, buyer, id, big.NewInt(100_000)); err != nil {
		t.Fatalf("purchase: %v", err)
	}
	if _, err := h.engine.EmergencySweep(ctx, seller); !errors.Is(err, marketerrors.ErrUnauthorized) {
		t.Fatalf("expected Unauthorized, got %v", err)
	}
	swept, err := h.engine.EmergencySweep(ctx, owner)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if swept.Sign() != 0 {
		t.Fatalf("nothing uncommitted to sweep, got %s", swept)
	}
	last, _ := h.log.Last()
	if last.Type != market.EventTypeFundsSwept || last.Attributes["amount"] != "0" {
		t.Fatalf("zero sweep must still emit, got %+v", last)
	}
	earnings, _ := h.engine.Earnings(seller)
	if earnings.Cmp(big.NewInt(97_500)) != 0 {
		t.Fatalf("sweep must not touch earnings, got %s", earnings)
	}
	if _, err := h.engine.Withdraw(ctx, seller); err != nil {
		t.Fatalf("withdraw after sweep: %v", err)
	}
	h.assertSolvent(t)
}

func TestPauseBlocksTradingOnly(t *testing.T) {
	h := newHarness(t, 250)
	ctx := context.Background()
	id := h.list(t, seller, 100)
	sold := h.list(t, seller, 100)
	if _, err := h.engine.Purchase(ctx, buyer, sold, big.NewInt(100)); err != nil {
		t.Fatalf("purchase: %v", err)
	}

	if err := h.engine.SetPaused(ctx, seller, true); !errors.Is(err, marketerrors.ErrUnauthorized) {
		t.Fatalf("expected Unauthorized, got %v", err)
	}
	if err := h.engine.SetPaused(ctx, owner, true); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if _, err := h.engine.List(ctx, seller, "x", "", big.NewInt(1)); !errors.Is(err, marketerrors.ErrMarketPaused) {
		t.Fatalf("expected Paused on list, got %v", err)
	}
	if _, err := h.engine.Purchase(ctx, buyer, id, big.NewInt(100)); !errors.Is(err, marketerrors.ErrMarketPaused) {
		t.Fatalf("expected Paused on purchase, got %v", err)
	}
	if err := h.engine.Remove(ctx, seller, id); !errors.Is(err, marketerrors.ErrMarketPaused) {
		t.Fatalf("expected Paused on remove, got %v", err)
	}
	if err := h.engine.ConfirmDelivery(ctx, buyer, sold); !errors.Is(err, marketerrors.ErrMarketPaused) {
		t.Fatalf("expected Paused on confirm, got %v", err)
	}
	if _, err := h.engine.Withdraw(ctx, seller); err != nil {
		t.Fatalf("withdraw must work while paused: %v", err)
	}
	if err := h.engine.SetFee(ctx, owner, 100); err != nil {
		t.Fatalf("admin must work while paused: %v", err)
	}
	if _, err := h.engine.Item(id); err != nil {
		t.Fatalf("queries must work while paused: %v", err)
	}

	if err := h.engine.SetPaused(ctx, owner, false); err != nil {
		t.Fatalf("unpause: %v", err)
	}
	if err := h.engine.Remove(ctx, seller, id); err != nil {
		t.Fatalf("remove after unpause: %v", err)
	}
	stats, err := h.engine.Stats()
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Paused || stats.TotalItems != 2 || stats.FeeBps != 100 || stats.Owner != owner {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestCommitFailureLeavesNoPartialEffect(t *testing.T) {
	h := newHarness(t, 250)
	ctx := context.Background()
	id := h.list(t, seller, 100_000)
	emitted := h.log.Len()

	h.db.fail = true
	if _, err := h.engine.Purchase(ctx, buyer, id, big.NewInt(100_000)); err == nil {
		t.Fatalf("expected purchase to fail on commit")
	}
	item, _ := h.engine.Item(id)
	if item.State != market.ItemActive || item.HasBuyer() {
		t.Fatalf("purchase must not persist on commit failure: %+v", item)
	}
	if len(h.bank.Transfers()) != 0 {
		t.Fatalf("fee must not be pushed when the commit fails")
	}
	if h.log.Len() != emitted {
		t.Fatalf("failed commit must not emit")
	}

	h.db.fail = false
	if _, err := h.engine.Purchase(ctx, buyer, id, big.NewInt(100_000)); err != nil {
		t.Fatalf("purchase: %v", err)
	}
	if got := h.bank.Balance(owner); got.Cmp(big.NewInt(2_500)) != 0 {
		t.Fatalf("owner fee %s, expected 2500", got)
	}

	h.db.fail = true
	if _, err := h.engine.Withdraw(ctx, seller); err == nil {
		t.Fatalf("expected withdraw to fail on commit")
	}
	if got := h.bank.Balance(seller); got.Sign() != 0 {
		t.Fatalf("seller paid %s before the withdrawal was recorded", got)
	}
	earnings, _ := h.engine.Earnings(seller)
	if earnings.Cmp(big.NewInt(97_500)) != 0 {
		t.Fatalf("earnings must survive a failed withdraw, got %s", earnings)
	}

	h.db.fail = false
	if _, err := h.engine.Withdraw(ctx, seller); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if _, err := h.engine.Withdraw(ctx, seller); !errors.Is(err, marketerrors.ErrNoEarnings) {
		t.Fatalf("expected NoEarnings after payout, got %v", err)
	}
	if got := h.bank.Balance(seller); got.Cmp(big.NewInt(97_500)) != 0 {
		t.Fatalf("seller paid %s for earnings of 97500", got)
	}

	transfers := len(h.bank.Transfers())
	emitted = h.log.Len()
	h.db.fail = true
	if _, err := h.engine.EmergencySweep(ctx, owner); err == nil {
		t.Fatalf("expected sweep to fail on commit")
	}
	if len(h.bank.Transfers()) != transfers || h.log.Len() != emitted {
		t.Fatalf("failed sweep must not transfer or emit")
	}
	h.db.fail = false
	h.assertSolvent(t)
}

// stallingEmitter holds up the first listing event until released so a
// concurrent transition can race it.
type stallingEmitter struct {
	mu      sync.Mutex
	started chan struct{}
	order   []string
}

func (s *stallingEmitter) Emit(evt events.Event) {
	if evt.EventType() == market.EventTypeItemListed {
		close(s.started)
		time.Sleep(50 * time.Millisecond)
	}
	s.mu.Lock()
	s.order = append(s.order, evt.EventType())
	s.mu.Unlock()
}

func TestEventsFollowCommitOrder(t *testing.T) {
	h := newHarness(t, 250)
	ctx := context.Background()
	emitter := &stallingEmitter{started: make(chan struct{})}
	h.engine.SetEmitter(emitter)

	listed := make(chan error, 1)
	go func() {
		_, err := h.engine.List(ctx, seller, "Vintage Watch", "1960s, working", big.NewInt(100_000))
		listed <- err
	}()
	<-emitter.started
	if _, err := h.engine.Purchase(ctx, buyer, 1, big.NewInt(100_000)); err != nil {
		t.Fatalf("purchase: %v", err)
	}
	if err := <-listed; err != nil {
		t.Fatalf("list: %v", err)
	}

	emitter.mu.Lock()
	defer emitter.mu.Unlock()
	want := []string{market.EventTypeItemListed, market.EventTypeItemPurchased}
	if len(emitter.order) != len(want) || emitter.order[0] != want[0] || emitter.order[1] != want[1] {
		t.Fatalf("emitted order %v, want %v", emitter.order, want)
	}
}
