package ledger

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reversegremlin/harvest-market/internal/currency"
)

// memRepo is an in-memory Repository. A single mutex stands in for the row lock
// and updates work on a copy that is only stored when "commit" succeeds.
type memRepo struct {
	mu        sync.Mutex
	balances  map[int64]*currency.Balance
	records   []Record
	commitErr error
	listErr   error
	lastLimit int
}

func newMemRepo(balances ...*currency.Balance) *memRepo {
	m := &memRepo{balances: make(map[int64]*currency.Balance)}
	for _, b := range balances {
		m.balances[b.AccountID] = b.Clone()
	}
	return m
}

func (m *memRepo) Create(_ context.Context, b *currency.Balance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.balances[b.AccountID]; ok {
		return currency.ErrBalanceExists
	}
	m.balances[b.AccountID] = b.Clone()
	return nil
}

func (m *memRepo) Get(_ context.Context, accountID int64) (*currency.Balance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.balances[accountID]
	if !ok {
		return nil, currency.ErrNoBalanceRecord
	}
	return b.Clone(), nil
}

func (m *memRepo) Update(_ context.Context, accountID int64, fn UpdateFunc) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.balances[accountID]
	if !ok {
		return currency.ErrNoBalanceRecord
	}
	working := stored.Clone()
	records, err := fn(working)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}
	if m.commitErr != nil {
		return errors.Join(currency.ErrPersistence, m.commitErr)
	}
	m.balances[accountID] = working
	m.records = append(m.records, records...)
	return nil
}

func (m *memRepo) History(_ context.Context, accountID int64, limit int) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastLimit = limit
	var out []Record
	for i := len(m.records) - 1; i >= 0 && len(out) < limit; i-- {
		if m.records[i].AccountID == accountID {
			out = append(out, m.records[i])
		}
	}
	return out, nil
}

func (m *memRepo) AccountIDs(_ context.Context) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	ids := make([]int64, 0, len(m.balances))
	for id := range m.balances {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (m *memRepo) Summary(_ context.Context) (Summary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := Summary{Accounts: len(m.balances)}
	for _, b := range m.balances {
		h := b.Holdings()
		s.Dabbers += h[currency.Dabber]
		s.Groots += h[currency.Groot]
		s.Petalins += h[currency.Petalin]
		s.Florens += h[currency.Floren]
	}
	return s, nil
}

func (m *memRepo) recordCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

var fixedNow = time.Date(2024, 12, 4, 14, 45, 0, 0, time.UTC)

func newTestService(repo Repository, mutate ...func(*Options)) *Service {
	opts := DefaultOptions()
	opts.Now = func() time.Time { return fixedNow }
	for _, f := range mutate {
		f(&opts)
	}
	return NewService(repo, currency.DefaultRates(), opts)
}

func withoutNormalizeOnRead(o *Options) { o.NormalizeOnRead = false }

func TestOpenSeedsBalance(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo)

	b, err := svc.Open(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, [4]int64{500, 0, 0, 0}, b.Holdings())

	stored, err := repo.Get(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, [4]int64{500, 0, 0, 0}, stored.Holdings())
	assert.Equal(t, fixedNow, stored.LastUpdated)
}

func TestNowUsesInjectedClock(t *testing.T) {
	assert.Equal(t, fixedNow, newTestService(newMemRepo()).Now())
}

func TestOpenTwiceFails(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo)

	_, err := svc.Open(context.Background(), 42)
	require.NoError(t, err)
	_, err = svc.Open(context.Background(), 42)
	assert.ErrorIs(t, err, currency.ErrBalanceExists)
}

func TestConvertDebitsAndCredits(t *testing.T) {
	repo := newMemRepo(currency.NewBalance(1, 5000, 0, 0, 0))
	svc := newTestService(repo)

	res, err := svc.Convert(context.Background(), 1, currency.Dabber, currency.Groot, 3000)
	require.NoError(t, err)

	assert.Equal(t, int64(3), res.Converted)
	assert.Equal(t, [4]int64{2000, 3, 0, 0}, res.Balance.Holdings())
	assert.Equal(t, RecordConversion, res.Record.Kind)
	assert.Equal(t, "dabber_to_groot", res.Record.Direction)
	assert.Equal(t, "Converted 3000 dabbers to 3 groots", res.Record.Description)
	assert.Equal(t, fixedNow, res.Record.Timestamp)

	stored, err := repo.Get(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, [4]int64{2000, 3, 0, 0}, stored.Holdings())
	assert.Equal(t, 1, repo.recordCount())
}

func TestConvertDown(t *testing.T) {
	repo := newMemRepo(currency.NewBalance(1, 0, 0, 0, 2))
	svc := newTestService(repo)

	res, err := svc.Convert(context.Background(), 1, currency.Floren, currency.Petalin, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(10), res.Converted)
	assert.Equal(t, [4]int64{0, 0, 10, 1}, res.Balance.Holdings())
}

func TestConvertFailuresWriteNothing(t *testing.T) {
	tests := []struct {
		name     string
		account  int64
		from, to currency.Denomination
		amount   int64
		wantKind currency.Kind
	}{
		{"zero amount", 1, currency.Dabber, currency.Groot, 0, currency.KindInvalidAmount},
		{"negative amount", 1, currency.Dabber, currency.Groot, -5, currency.KindInvalidAmount},
		{"insufficient", 1, currency.Dabber, currency.Groot, 1000, currency.KindInsufficientFunds},
		{"no balance", 99, currency.Dabber, currency.Groot, 1, currency.KindNoBalanceRecord},
		{"non-adjacent", 1, currency.Dabber, currency.Floren, 10, currency.KindNoConversionPath},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newMemRepo(currency.NewBalance(1, 999, 0, 0, 0))
			svc := newTestService(repo)

			_, err := svc.Convert(context.Background(), tt.account, tt.from, tt.to, tt.amount)
			require.Error(t, err)
			assert.Equal(t, tt.wantKind, currency.KindOf(err))

			stored, _ := repo.Get(context.Background(), 1)
			assert.Equal(t, [4]int64{999, 0, 0, 0}, stored.Holdings())
			assert.Zero(t, repo.recordCount())
		})
	}
}

func TestConvertPersistenceFailureRollsBack(t *testing.T) {
	repo := newMemRepo(currency.NewBalance(1, 5000, 0, 0, 0))
	repo.commitErr = errors.New("connection reset")
	svc := newTestService(repo)

	_, err := svc.Convert(context.Background(), 1, currency.Dabber, currency.Groot, 1000)
	require.ErrorIs(t, err, currency.ErrPersistence)
	assert.Equal(t, currency.KindPersistenceFailure, currency.KindOf(err))

	stored, _ := repo.Get(context.Background(), 1)
	assert.Equal(t, [4]int64{5000, 0, 0, 0}, stored.Holdings())
	assert.Zero(t, repo.recordCount())
}

func TestConvertTruncationLosesRemainder(t *testing.T) {
	repo := newMemRepo(currency.NewBalance(1, 999, 0, 0, 0))
	svc := newTestService(repo, withoutNormalizeOnRead)

	res, err := svc.Convert(context.Background(), 1, currency.Dabber, currency.Groot, 999)
	require.NoError(t, err)
	assert.Zero(t, res.Converted)
	assert.Equal(t, [4]int64{0, 0, 0, 0}, res.Balance.Holdings())
}

func TestConvertExactPolicyKeepsRemainder(t *testing.T) {
	repo := newMemRepo(currency.NewBalance(1, 999, 0, 0, 0))
	svc := newTestService(repo, func(o *Options) { o.Policy = currency.RemainderExact })

	_, err := svc.Convert(context.Background(), 1, currency.Dabber, currency.Groot, 999)
	require.ErrorIs(t, err, currency.ErrInvalidAmount)

	b, err := svc.GetBalance(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, [4]int64{999, 0, 0, 0}, b.Holdings())
}

func TestConcurrentConversionsSerialize(t *testing.T) {
	repo := newMemRepo(currency.NewBalance(1, 1000, 0, 0, 0))
	svc := newTestService(repo, withoutNormalizeOnRead)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = svc.Convert(context.Background(), 1, currency.Dabber, currency.Groot, 1000)
		}()
	}
	wg.Wait()

	var succeeded, insufficient int
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, currency.ErrInsufficientFunds):
			insufficient++
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, insufficient)

	b, err := svc.GetBalance(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, [4]int64{0, 1, 0, 0}, b.Holdings())
	assert.Equal(t, 1, repo.recordCount())
}

func TestNormalizeRecordsEachRollUp(t *testing.T) {
	repo := newMemRepo(currency.NewBalance(1, 1999999, 0, 0, 0))
	svc := newTestService(repo)

	records, err := svc.Normalize(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, records, 3)
	for _, rec := range records {
		assert.Equal(t, RecordNormalization, rec.Kind)
	}
	assert.Equal(t, []string{"dabber_to_groot", "groot_to_petalin", "petalin_to_floren"},
		[]string{records[0].Direction, records[1].Direction, records[2].Direction})

	stored, _ := repo.Get(context.Background(), 1)
	assert.Equal(t, [4]int64{999, 99, 9, 1}, stored.Holdings())
}

func TestNormalizeCascadeHistoryKeepsInsertionOrder(t *testing.T) {
	repo := newMemRepo(currency.NewBalance(1, 1999999, 0, 0, 0))
	svc := newTestService(repo)
	ctx := context.Background()

	_, err := svc.Normalize(ctx, 1)
	require.NoError(t, err)

	records, err := svc.History(ctx, 1, 10)
	require.NoError(t, err)
	require.Len(t, records, 3)
	for _, rec := range records {
		assert.Equal(t, fixedNow, rec.Timestamp)
	}
	assert.Equal(t, []string{"petalin_to_floren", "groot_to_petalin", "dabber_to_groot"},
		[]string{records[0].Direction, records[1].Direction, records[2].Direction})
}

func TestNormalizeTwiceWritesOnce(t *testing.T) {
	repo := newMemRepo(currency.NewBalance(1, 1999999, 0, 0, 0))
	svc := newTestService(repo)

	_, err := svc.Normalize(context.Background(), 1)
	require.NoError(t, err)
	written := repo.recordCount()

	records, err := svc.Normalize(context.Background(), 1)
	require.NoError(t, err)
	assert.Empty(t, records)
	assert.Equal(t, written, repo.recordCount())
}

func TestGetBalanceNormalizesOnRead(t *testing.T) {
	repo := newMemRepo(currency.NewBalance(1, 2500, 0, 0, 0))
	svc := newTestService(repo)

	b, err := svc.GetBalance(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, [4]int64{500, 2, 0, 0}, b.Holdings())
	assert.Equal(t, 1, repo.recordCount())

	_, err = svc.GetBalance(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 1, repo.recordCount(), "second read appends nothing")
}

func TestGetBalancePureRead(t *testing.T) {
	repo := newMemRepo(currency.NewBalance(1, 2500, 0, 0, 0))
	svc := newTestService(repo, withoutNormalizeOnRead)

	b, err := svc.GetBalance(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, [4]int64{2500, 0, 0, 0}, b.Holdings())
	assert.Zero(t, repo.recordCount())
}

func TestGetBalanceMissing(t *testing.T) {
	for _, normalize := range []bool{true, false} {
		svc := newTestService(newMemRepo(), func(o *Options) { o.NormalizeOnRead = normalize })
		_, err := svc.GetBalance(context.Background(), 7)
		assert.ErrorIs(t, err, currency.ErrNoBalanceRecord)
	}
}

func TestValidate(t *testing.T) {
	repo := newMemRepo(currency.NewBalance(1, 999, 0, 0, 0))
	svc := newTestService(repo)
	ctx := context.Background()

	assert.NoError(t, svc.Validate(ctx, 1, currency.Dabber, currency.Groot, 999))
	assert.ErrorIs(t, svc.Validate(ctx, 1, currency.Dabber, currency.Groot, 0), currency.ErrInvalidAmount)
	assert.ErrorIs(t, svc.Validate(ctx, 1, currency.Dabber, currency.Groot, -5), currency.ErrInvalidAmount)
	assert.ErrorIs(t, svc.Validate(ctx, 1, currency.Dabber, currency.Groot, 1000), currency.ErrInsufficientFunds)
	assert.ErrorIs(t, svc.Validate(ctx, 2, currency.Dabber, currency.Groot, 1), currency.ErrNoBalanceRecord)
}

func TestNormalizeAll(t *testing.T) {
	repo := newMemRepo(
		currency.NewBalance(1, 1999999, 0, 0, 0),
		currency.NewBalance(2, 10, 0, 0, 0),
		currency.NewBalance(3, 0, 250, 0, 0),
	)
	svc := newTestService(repo)

	written, err := svc.NormalizeAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, written)

	b3, _ := repo.Get(context.Background(), 3)
	assert.Equal(t, [4]int64{0, 50, 2, 0}, b3.Holdings())
}

func TestNormalizeAllListError(t *testing.T) {
	repo := newMemRepo()
	repo.listErr = errors.New("db down")
	svc := newTestService(repo)

	_, err := svc.NormalizeAll(context.Background())
	assert.Error(t, err)
}

func TestHistoryNewestFirst(t *testing.T) {
	repo := newMemRepo(currency.NewBalance(1, 5000, 0, 0, 0))
	svc := newTestService(repo, withoutNormalizeOnRead)
	ctx := context.Background()

	_, err := svc.Convert(ctx, 1, currency.Dabber, currency.Groot, 1000)
	require.NoError(t, err)
	_, err = svc.Convert(ctx, 1, currency.Groot, currency.Dabber, 1)
	require.NoError(t, err)

	records, err := svc.History(ctx, 1, 10)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "groot_to_dabber", records[0].Direction)
	assert.Equal(t, "dabber_to_groot", records[1].Direction)
}

func TestHistoryLimitBounds(t *testing.T) {
	repo := newMemRepo(currency.NewBalance(1, 500, 0, 0, 0))
	svc := newTestService(repo)
	ctx := context.Background()

	tests := []struct {
		limit int
		want  int
	}{
		{0, DefaultHistoryLimit},
		{-3, DefaultHistoryLimit},
		{50, 50},
		{10000, MaxHistoryLimit},
	}
	for _, tt := range tests {
		_, err := svc.History(ctx, 1, tt.limit)
		require.NoError(t, err)
		assert.Equal(t, tt.want, repo.lastLimit, "limit %d", tt.limit)
	}
}

func TestSummaryValuesInDabbers(t *testing.T) {
	repo := newMemRepo(
		currency.NewBalance(1, 500, 0, 0, 0),
		currency.NewBalance(2, 1, 2, 3, 4),
	)
	svc := newTestService(repo)

	sum, err := svc.Summary(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Accounts)
	assert.Equal(t, int64(501), sum.Dabbers)
	assert.Equal(t, int64(501+2*1000+3*100000+4*1000000), sum.ValueInDabbers)
}
