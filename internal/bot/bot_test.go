package bot

import (
	"context"
	"fmt"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"polo-lending-bot/internal/depth"
	"polo-lending-bot/internal/exchange"
	"polo-lending-bot/internal/stats"
	"polo-lending-bot/internal/strategy"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// fakeExchange backs the bot with canned account state. It also serves as
// the depth book source so a single fake drives the whole loop.
type fakeExchange struct {
	balances map[string]decimal.Decimal
	offers   map[string][]exchange.LoanOffer
	loans    map[string][]exchange.ActiveLoan
	books    map[string]exchange.OrderBook

	created    []exchange.LoanOffer
	canceled   []uint64
	toggled    []uint64
	cancelErrs map[uint64]error
	toggleErrs map[uint64]error

	nextOrderID uint64
}

func newFakeExchange() *fakeExchange {
	return &fakeExchange{
		balances:    make(map[string]decimal.Decimal),
		offers:      make(map[string][]exchange.LoanOffer),
		loans:       make(map[string][]exchange.ActiveLoan),
		books:       make(map[string]exchange.OrderBook),
		cancelErrs:  make(map[uint64]error),
		toggleErrs:  make(map[uint64]error),
		nextOrderID: 1000,
	}
}

func (f *fakeExchange) CreateLoanOffer(_ context.Context, currency string, amount decimal.Decimal, durationDays uint16, autoRenew bool, rate decimal.Decimal) (exchange.CreateOfferResult, error) {
	f.nextOrderID++
	f.created = append(f.created, exchange.LoanOffer{
		ID:           f.nextOrderID,
		Currency:     currency,
		Amount:       amount,
		Rate:         rate,
		DurationDays: durationDays,
		AutoRenew:    autoRenew,
	})
	return exchange.CreateOfferResult{OrderID: f.nextOrderID, Message: "Loan order placed."}, nil
}

func (f *fakeExchange) CancelLoanOffer(_ context.Context, orderID uint64) error {
	if err, ok := f.cancelErrs[orderID]; ok {
		return err
	}
	f.canceled = append(f.canceled, orderID)
	return nil
}

func (f *fakeExchange) ToggleAutoRenew(_ context.Context, loanID uint64) error {
	if err, ok := f.toggleErrs[loanID]; ok {
		return err
	}
	f.toggled = append(f.toggled, loanID)
	return nil
}

func (f *fakeExchange) ActiveLoans(context.Context) (map[string][]exchange.ActiveLoan, error) {
	return f.loans, nil
}

func (f *fakeExchange) OpenLoanOffers(context.Context) (map[string][]exchange.LoanOffer, error) {
	return f.offers, nil
}

func (f *fakeExchange) LendingBalances(context.Context) (map[string]decimal.Decimal, error) {
	return f.balances, nil
}

func (f *fakeExchange) LoanOrders(_ context.Context, currency string, limit int) (exchange.OrderBook, error) {
	book := f.books[currency]
	if len(book.Offers) > limit {
		book.Offers = book.Offers[:limit]
	}
	return book, nil
}

func testPolicy() strategy.Policy {
	return strategy.Policy{
		LowestOffersDustSkip: dec("1"),
		SpreadDustSkip:       dec("1"),
		MinRateStep:          dec("0.000001"),
		OrdersToSpread:       3,
		MinTotalOrders:       1,
		MaxTotalOrders:       50,
		MinDailyRate:         dec("0.0001"),
		MaxDailyRate:         dec("0.05"),
	}
}

func testBook(levels int) exchange.OrderBook {
	book := exchange.OrderBook{}
	for i := 0; i < levels; i++ {
		book.Offers = append(book.Offers, exchange.OrderBookLevel{
			Rate:   dec(fmt.Sprintf("0.%06d", 1000+i)),
			Amount: dec("10"),
		})
	}
	return book
}

func newTestBot(t *testing.T, fake *fakeExchange, mutate func(*Options)) *Bot {
	t.Helper()
	logger := zerolog.Nop()
	opts := Options{
		API:      fake,
		Books:    depth.NewFetcher(fake, logger),
		Engine:   strategy.NewEngine(strategy.DefaultParams(), logger),
		Tracker:  stats.NewTracker(stats.DefaultWindowCapacity),
		Policies: map[string]strategy.Policy{"BTC": testPolicy()},
	}
	if mutate != nil {
		mutate(&opts)
	}
	return New(opts, logger)
}

func TestRefreshSnapshotAggregates(t *testing.T) {
	fake := newFakeExchange()
	fake.balances["BTC"] = dec("1.5")
	fake.offers["BTC"] = []exchange.LoanOffer{{ID: 1, Amount: dec("0.5")}}
	fake.loans["BTC"] = []exchange.ActiveLoan{
		{ID: 10, Amount: dec("2"), Rate: dec("0.001"), Fees: dec("0.0001")},
		{ID: 11, Amount: dec("1"), Rate: dec("0.004"), Fees: dec("0.0002")},
	}
	b := newTestBot(t, fake, nil)

	if err := b.RefreshSnapshot(context.Background()); err != nil {
		t.Fatalf("RefreshSnapshot: %v", err)
	}
	snap := b.Snapshot()

	lent := snap.Lent["BTC"]
	if !lent.Amount.Equal(dec("3")) {
		t.Fatalf("lent amount = %s", lent.Amount)
	}
	// (0.001*2 + 0.004*1) / 3 = 0.002.
	if !lent.Rate().Equal(dec("0.002")) {
		t.Fatalf("effective rate = %s", lent.Rate())
	}
	if !lent.Fees.Equal(dec("0.0003")) {
		t.Fatalf("fees = %s", lent.Fees)
	}

	total := snap.LentAndLendable["BTC"]
	if !total.Amount.Equal(dec("5")) {
		t.Fatalf("total amount = %s, want balance+offer+loans", total.Amount)
	}
}

func TestRefreshSnapshotPrunesZeroTotals(t *testing.T) {
	fake := newFakeExchange()
	fake.balances["ETH"] = decimal.Zero
	b := newTestBot(t, fake, nil)

	if err := b.RefreshSnapshot(context.Background()); err != nil {
		t.Fatalf("RefreshSnapshot: %v", err)
	}
	if _, ok := b.Snapshot().LentAndLendable["ETH"]; ok {
		t.Fatal("zero-amount currency should be pruned")
	}
	if b.Snapshot().LentStatus() != "Lent:" {
		t.Fatalf("empty lent status = %q", b.Snapshot().LentStatus())
	}
}

func TestStatusRendering(t *testing.T) {
	snap := newSnapshot()
	snap.Lent["BTC"] = Aggregate{Amount: dec("3"), RateSum: dec("0.006")}
	snap.Lent["ETH"] = Aggregate{Amount: dec("10")}

	// Sorted by currency; the rate segment only shows when loans earn.
	want := "Lent: [3.0000 BTC @ 0.2000%] [10.0000 ETH]"
	if got := snap.LentStatus(); got != want {
		t.Fatalf("LentStatus = %q, want %q", got, want)
	}
}

func TestSetAllAutoRenewDisableTargetsFlaggedLoans(t *testing.T) {
	fake := newFakeExchange()
	fake.loans["BTC"] = []exchange.ActiveLoan{
		{ID: 1, AutoRenew: true},
		{ID: 2, AutoRenew: false},
		{ID: 3, AutoRenew: true},
	}
	b := newTestBot(t, fake, nil)

	if err := b.SetAllAutoRenew(context.Background(), false); err != nil {
		t.Fatalf("SetAllAutoRenew: %v", err)
	}
	if len(fake.toggled) != 2 {
		t.Fatalf("toggled %v, want the two flagged loans", fake.toggled)
	}
}

func TestSetAllAutoRenewEnableHonorsPolicy(t *testing.T) {
	optIn := testPolicy()
	optIn.AutoRenewWhenNotRunning = true
	optOut := testPolicy()
	optOut.AutoRenewWhenNotRunning = false

	fake := newFakeExchange()
	fake.loans["BTC"] = []exchange.ActiveLoan{{ID: 1}}
	fake.loans["ETH"] = []exchange.ActiveLoan{{ID: 2}}
	fake.loans["XMR"] = []exchange.ActiveLoan{{ID: 3}}

	b := newTestBot(t, fake, func(opts *Options) {
		opts.Policies = map[string]strategy.Policy{
			"BTC": optIn,
			"ETH": optOut,
			// XMR 无策略,恢复默认交给交易所。
		}
	})

	if err := b.SetAllAutoRenew(context.Background(), true); err != nil {
		t.Fatalf("SetAllAutoRenew: %v", err)
	}
	if len(fake.toggled) != 2 {
		t.Fatalf("toggled %v, want opt-in and unconfigured loans only", fake.toggled)
	}
	for _, id := range fake.toggled {
		if id == 2 {
			t.Fatal("opt-out currency must keep auto-renew off")
		}
	}
}

func TestSetAllAutoRenewToggleFailureIsNotFatal(t *testing.T) {
	fake := newFakeExchange()
	fake.loans["BTC"] = []exchange.ActiveLoan{
		{ID: 1, AutoRenew: true},
		{ID: 2, AutoRenew: true},
	}
	fake.toggleErrs[1] = fmt.Errorf("boom")
	b := newTestBot(t, fake, nil)

	if err := b.SetAllAutoRenew(context.Background(), false); err != nil {
		t.Fatalf("单笔切换失败不应中断: %v", err)
	}
	if len(fake.toggled) != 1 || fake.toggled[0] != 2 {
		t.Fatalf("toggled %v, want the surviving loan", fake.toggled)
	}
}

func TestSetAllAutoRenewDryRun(t *testing.T) {
	fake := newFakeExchange()
	fake.loans["BTC"] = []exchange.ActiveLoan{{ID: 1, AutoRenew: true}}
	b := newTestBot(t, fake, func(opts *Options) { opts.DryRun = true })

	if err := b.SetAllAutoRenew(context.Background(), false); err != nil {
		t.Fatalf("SetAllAutoRenew: %v", err)
	}
	if len(fake.toggled) != 0 {
		t.Fatal("dry-run must not toggle loans")
	}
}

func TestCancelOpenOffersFiltersCurrency(t *testing.T) {
	fake := newFakeExchange()
	fake.offers["BTC"] = []exchange.LoanOffer{{ID: 1, Amount: dec("1")}}
	fake.offers["ETH"] = []exchange.LoanOffer{{ID: 2, Amount: dec("1")}}
	b := newTestBot(t, fake, nil)

	if err := b.CancelOpenOffers(context.Background(), "BTC"); err != nil {
		t.Fatalf("CancelOpenOffers: %v", err)
	}
	if len(fake.canceled) != 1 || fake.canceled[0] != 1 {
		t.Fatalf("canceled %v, want only the BTC offer", fake.canceled)
	}
}

func TestCancelOpenOffersToleratesGoneOffer(t *testing.T) {
	fake := newFakeExchange()
	fake.offers["BTC"] = []exchange.LoanOffer{
		{ID: 1, Amount: dec("1")},
		{ID: 2, Amount: dec("1")},
	}
	fake.cancelErrs[1] = exchange.ErrOfferGone
	b := newTestBot(t, fake, nil)

	if err := b.CancelOpenOffers(context.Background(), ""); err != nil {
		t.Fatalf("已消失的挂单不应视为失败: %v", err)
	}
	if len(fake.canceled) != 1 || fake.canceled[0] != 2 {
		t.Fatalf("canceled %v", fake.canceled)
	}
}

func TestCancelOpenOffersDryRun(t *testing.T) {
	fake := newFakeExchange()
	fake.offers["BTC"] = []exchange.LoanOffer{{ID: 1, Amount: dec("1")}}
	b := newTestBot(t, fake, func(opts *Options) { opts.DryRun = true })

	if err := b.CancelOpenOffers(context.Background(), ""); err != nil {
		t.Fatalf("CancelOpenOffers: %v", err)
	}
	if len(fake.canceled) != 0 {
		t.Fatal("dry-run must not cancel offers")
	}
}

func TestReofferPlacesSpread(t *testing.T) {
	fake := newFakeExchange()
	fake.balances["BTC"] = dec("30")
	fake.books["BTC"] = testBook(200)
	b := newTestBot(t, fake, nil)

	if err := b.reoffer(context.Background()); err != nil {
		t.Fatalf("reoffer: %v", err)
	}
	if len(fake.created) == 0 {
		t.Fatal("expected offers to be created")
	}

	sum := decimal.Zero
	for _, offer := range fake.created {
		if offer.Currency != "BTC" {
			t.Fatalf("offer for unexpected currency %s", offer.Currency)
		}
		if offer.AutoRenew {
			t.Fatal("bot offers must not auto-renew")
		}
		sum = sum.Add(offer.Amount)
	}
	if sum.GreaterThan(dec("30")) {
		t.Fatalf("placed %s, exceeds balance", sum)
	}
}

func TestReofferSkipPaths(t *testing.T) {
	stopped := testPolicy()
	stopped.StopLending = true

	fake := newFakeExchange()
	fake.balances["BTC"] = dec("30")    // stop_lending
	fake.balances["ETH"] = dec("30")    // no policy
	fake.balances["XMR"] = dec("0.001") // below exchange minimum
	fake.books["XMR"] = testBook(200)

	b := newTestBot(t, fake, func(opts *Options) {
		opts.Policies = map[string]strategy.Policy{
			"BTC": stopped,
			"XMR": testPolicy(),
		}
	})

	if err := b.reoffer(context.Background()); err != nil {
		t.Fatalf("reoffer: %v", err)
	}
	if len(fake.created) != 0 {
		t.Fatalf("created %v, want no offers", fake.created)
	}
}

func TestReofferDryRunSubmitsNothing(t *testing.T) {
	fake := newFakeExchange()
	fake.balances["BTC"] = dec("30")
	fake.books["BTC"] = testBook(200)
	b := newTestBot(t, fake, func(opts *Options) { opts.DryRun = true })

	if err := b.reoffer(context.Background()); err != nil {
		t.Fatalf("reoffer: %v", err)
	}
	if len(fake.created) != 0 {
		t.Fatal("dry-run must not submit offers")
	}
}

func TestSampleStatsFeedsTracker(t *testing.T) {
	fake := newFakeExchange()
	fake.books["BTC"] = testBook(50)
	tracker := stats.NewTracker(8)
	b := newTestBot(t, fake, func(opts *Options) { opts.Tracker = tracker })

	if err := b.SampleStats(context.Background()); err != nil {
		t.Fatalf("SampleStats: %v", err)
	}
	if tracker.Len("BTC") != 1 {
		t.Fatalf("tracker samples = %d", tracker.Len("BTC"))
	}
	if !tracker.Summary("BTC").Warm() {
		t.Fatal("one observation should warm the summary")
	}
}
