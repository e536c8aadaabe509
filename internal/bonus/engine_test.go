package bonus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/sudo-init-do/channelhub/internal/logging"
	"github.com/sudo-init-do/channelhub/internal/model"
	"github.com/sudo-init-do/channelhub/internal/observability"
	"github.com/sudo-init-do/channelhub/internal/records"
	"github.com/sudo-init-do/channelhub/internal/storage"
	"github.com/sudo-init-do/channelhub/internal/storage/memory"
	"github.com/sudo-init-do/channelhub/internal/storage/storagetest"
)

var fixedNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type paidNotifier struct {
	mu    sync.Mutex
	calls int
}

func (n *paidNotifier) BonusPaid(context.Context, string, string, int64) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls++
	return nil
}

type fixture struct {
	store    *storagetest.Flaky
	repo     *records.Repository
	engine   *Engine
	notifier *paidNotifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := storagetest.NewFlaky(memory.New())
	repo := records.New(store, logging.Discard(), nil)
	n := &paidNotifier{}
	f := &fixture{
		store:    store,
		repo:     repo,
		notifier: n,
		engine: NewEngine(repo,
			WithClock(func() time.Time { return fixedNow }),
			WithMetrics(observability.New(prometheus.NewRegistry())),
			WithNotifier(n),
			WithLogger(logging.Discard()),
		),
	}
	f.seed(t, "acct-a", "AB12CD34")
	f.seed(t, "acct-b", "ZX98WV76")
	return f
}

func (f *fixture) seed(t *testing.T, id, code string) {
	t.Helper()
	require.NoError(t, f.store.Set(context.Background(), records.AccountPath(id), model.Account{
		Email:        id + "@example.com",
		ReferralCode: code,
		IsActive:     true,
		CreatedAt:    fixedNow,
	}))
}

func (f *fixture) account(t *testing.T, id string) model.Account {
	t.Helper()
	a, err := f.repo.Account(context.Background(), id)
	require.NoError(t, err)
	return a
}

func (f *fixture) bonuses(t *testing.T) []model.ReferralBonus {
	t.Helper()
	b, err := f.repo.ReferralBonuses(context.Background())
	require.NoError(t, err)
	return b
}

func (f *fixture) requireCreditedOnce(t *testing.T) {
	t.Helper()
	a := f.account(t, "acct-a")
	require.Equal(t, int64(10), a.WalletBalance)
	require.Equal(t, int64(10), a.TotalEarnings)
	require.Equal(t, int64(1), a.TotalReferrals)

	b := f.account(t, "acct-b")
	require.Equal(t, int64(10), b.WalletBalance)
	require.Equal(t, int64(10), b.TotalEarnings)
	require.Equal(t, "AB12CD34", b.ReferredBy)
	require.Equal(t, "acct-a", b.ReferredByID)
	require.Equal(t, model.ReferralSettled, b.ReferralStatus)

	bonuses := f.bonuses(t)
	require.Len(t, bonuses, 1)
	require.Equal(t, "acct-a", bonuses[0].ReferrerID)
	require.Equal(t, "acct-b", bonuses[0].ReferredID)
	require.Equal(t, int64(10), bonuses[0].BonusAmount)
	require.Equal(t, model.BonusPaid, bonuses[0].Status)
}

func TestAttributeCreditsBothParties(t *testing.T) {
	f := newFixture(t)
	res, err := f.engine.Attribute(context.Background(), "acct-b", "AB12CD34")
	require.NoError(t, err)
	require.Equal(t, Result{Credited: true, ReferrerID: "acct-a"}, res)
	f.requireCreditedOnce(t)
	require.Equal(t, 1, f.notifier.calls)
}

func TestAttributeIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.engine.Attribute(ctx, "acct-b", "AB12CD34")
	require.NoError(t, err)

	res, err := f.engine.Attribute(ctx, "acct-b", "AB12CD34")
	require.NoError(t, err)
	require.False(t, res.Credited)
	require.Equal(t, ReasonAlreadyCredited, res.Reason)
	f.requireCreditedOnce(t)
	require.Equal(t, 1, f.notifier.calls)
}

func TestAttributeRejectsSelfReferral(t *testing.T) {
	f := newFixture(t)
	res, err := f.engine.Attribute(context.Background(), "acct-a", "AB12CD34")
	require.NoError(t, err)
	require.Equal(t, Result{Reason: ReasonSelfReferral}, res)
	require.Zero(t, f.account(t, "acct-a").WalletBalance)
	require.Empty(t, f.bonuses(t))
}

func TestAttributeUnknownCodeWritesNothing(t *testing.T) {
	f := newFixture(t)
	res, err := f.engine.Attribute(context.Background(), "acct-b", "NOPE0000")
	require.NoError(t, err)
	require.Equal(t, Result{Reason: ReasonInvalidCode}, res)
	require.Empty(t, f.bonuses(t))
	require.Zero(t, f.account(t, "acct-b").WalletBalance)
	require.Zero(t, f.store.Calls(storagetest.OpUpdate))
}

func TestAttributeEmptyCode(t *testing.T) {
	f := newFixture(t)
	res, err := f.engine.Attribute(context.Background(), "acct-b", "   ")
	require.NoError(t, err)
	require.Equal(t, Result{Reason: ReasonNoCode}, res)
}

func TestAttributeRefusesSecondReferrer(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "acct-c", "QQ11RR22")
	ctx := context.Background()
	_, err := f.engine.Attribute(ctx, "acct-b", "AB12CD34")
	require.NoError(t, err)

	res, err := f.engine.Attribute(ctx, "acct-b", "QQ11RR22")
	require.NoError(t, err)
	require.Equal(t, ReasonAlreadyCredited, res.Reason)
	require.Zero(t, f.account(t, "acct-c").WalletBalance)
	f.requireCreditedOnce(t)
}

func TestAttributeResumesAfterFailure(t *testing.T) {
	cases := []struct {
		name   string
		op     storagetest.Op
		prefix string
	}{
		{"referred account write", storagetest.OpUpdate, "accounts/acct-b"},
		{"referrer write", storagetest.OpUpdate, "accounts/acct-a"},
		{"audit scan", storagetest.OpList, model.CollectionReferralBonuses},
		{"audit write", storagetest.OpUpdate, model.CollectionReferralBonuses},
		{"referrer lookup", storagetest.OpList, model.CollectionAccounts},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			f.store.FailNext(tc.op, tc.prefix, 1)

			_, err := f.engine.Attribute(ctx, "acct-b", "AB12CD34")
			require.ErrorIs(t, err, storage.ErrUnavailable)

			res, err := f.engine.Attribute(ctx, "acct-b", "AB12CD34")
			require.NoError(t, err)
			require.True(t, res.Credited)
			f.requireCreditedOnce(t)

			res, err = f.engine.Attribute(ctx, "acct-b", "AB12CD34")
			require.NoError(t, err)
			require.False(t, res.Credited)
			f.requireCreditedOnce(t)
		})
	}
}

func TestAttributeResumesAfterSettleFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	// the first accounts/acct-b update is stage a; fail the settle that follows it
	require.NoError(t, f.store.Update(ctx, records.AccountPath("acct-b"), storage.Patch{
		"referredBy":     "AB12CD34",
		"referredById":   "acct-a",
		"walletBalance":  storage.Increment(10),
		"totalEarnings":  storage.Increment(10),
		"referralStatus": model.ReferralPending,
	}))
	f.store.FailNext(storagetest.OpUpdate, "accounts/acct-b", 1)

	_, err := f.engine.Attribute(ctx, "acct-b", "AB12CD34")
	require.ErrorIs(t, err, storage.ErrUnavailable)
	require.Len(t, f.bonuses(t), 1)

	res, err := f.engine.Attribute(ctx, "acct-b", "AB12CD34")
	require.NoError(t, err)
	require.True(t, res.Credited)
	f.requireCreditedOnce(t)
}

func TestConcurrentAttributionCreditsOnce(t *testing.T) {
	f := newFixture(t)
	// slow reads let both calls pass every read-side check before either writes
	f.store.DelayGets(5 * time.Millisecond)

	var (
		wg      sync.WaitGroup
		results [2]Result
		errs    [2]error
	)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = f.engine.Attribute(context.Background(), "acct-b", "AB12CD34")
		}(i)
	}
	wg.Wait()

	credited := 0
	for i := range results {
		require.NoError(t, errs[i])
		if results[i].Credited {
			credited++
		} else {
			require.Equal(t, ReasonAlreadyCredited, results[i].Reason)
		}
	}
	require.Equal(t, 1, credited)
	f.requireCreditedOnce(t)
	require.Equal(t, 1, f.notifier.calls)
}

func TestConcurrentAttributionWithDifferentCodes(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "acct-c", "QQ11RR22")
	f.store.DelayGets(5 * time.Millisecond)

	var wg sync.WaitGroup
	for _, code := range []string{"AB12CD34", "QQ11RR22"} {
		wg.Add(1)
		go func(code string) {
			defer wg.Done()
			_, _ = f.engine.Attribute(context.Background(), "acct-b", code)
		}(code)
	}
	wg.Wait()

	b := f.account(t, "acct-b")
	require.Equal(t, int64(10), b.WalletBalance)
	referrer := f.account(t, b.ReferredByID)
	require.Equal(t, int64(10), referrer.WalletBalance)
	require.Equal(t, int64(1), referrer.TotalReferrals)

	other := "acct-c"
	if b.ReferredByID == "acct-c" {
		other = "acct-a"
	}
	require.Zero(t, f.account(t, other).WalletBalance)
	require.Len(t, f.bonuses(t), 1)
}

func TestWithAmount(t *testing.T) {
	f := newFixture(t)
	e := NewEngine(f.repo, WithAmount(25), WithAmount(-1))
	require.Equal(t, int64(25), e.Amount())
	require.Equal(t, DefaultAmount, NewEngine(f.repo).Amount())
}
