package quota

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func testLedger(t *testing.T) (*Ledger, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewLedger(rdb), mr
}

func TestFreePlanLimit(t *testing.T) {
	ledger, _ := testLedger(t)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		res, err := ledger.CheckAndReserve(ctx, 1, "free")
		require.NoError(t, err)
		require.Equal(t, 5-i, res.Remaining)

		used, err := ledger.Used(ctx, 1)
		require.NoError(t, err)
		require.Equal(t, i, used)
	}

	// The sixth attempt in the same month is denied without mutation.
	_, err := ledger.CheckAndReserve(ctx, 1, "free")
	require.ErrorIs(t, err, ErrLimitExceeded)

	used, err := ledger.Used(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, 5, used)
}

func TestUnlimitedPlans(t *testing.T) {
	ledger, _ := testLedger(t)
	ctx := context.Background()

	for _, plan := range []string{"premium", "school"} {
		for i := 0; i < 20; i++ {
			res, err := ledger.CheckAndReserve(ctx, 2, plan)
			require.NoError(t, err)
			require.Equal(t, -1, res.Remaining)
		}
	}

	// Unlimited reservations never touch the counter.
	used, err := ledger.Used(ctx, 2)
	require.NoError(t, err)
	require.Equal(t, 0, used)
}

func TestRefund(t *testing.T) {
	ledger, _ := testLedger(t)
	ctx := context.Background()

	res, err := ledger.CheckAndReserve(ctx, 3, "free")
	require.NoError(t, err)

	require.NoError(t, res.Refund(ctx))
	used, err := ledger.Used(ctx, 3)
	require.NoError(t, err)
	require.Equal(t, 0, used)

	// Double refund is a no-op.
	require.NoError(t, res.Refund(ctx))
	used, err = ledger.Used(ctx, 3)
	require.NoError(t, err)
	require.Equal(t, 0, used)
}

func TestRefundReopensSlot(t *testing.T) {
	ledger, _ := testLedger(t)
	ctx := context.Background()

	var last *Reservation
	for i := 0; i < 5; i++ {
		res, err := ledger.CheckAndReserve(ctx, 4, "free")
		require.NoError(t, err)
		last = res
	}
	_, err := ledger.CheckAndReserve(ctx, 4, "free")
	require.ErrorIs(t, err, ErrLimitExceeded)

	require.NoError(t, last.Refund(ctx))
	_, err = ledger.CheckAndReserve(ctx, 4, "free")
	require.NoError(t, err)
}

func TestPeriodKeyRollsWithMonth(t *testing.T) {
	// Rollover is structural: each calendar month maps to its own key, so
	// a new month starts counting from zero regardless of the old value.
	jan := time.Date(2026, time.January, 31, 23, 59, 0, 0, time.UTC)
	feb := time.Date(2026, time.February, 1, 0, 0, 0, 0, time.UTC)
	require.NotEqual(t, periodKey(1, jan), periodKey(1, feb))
	require.Equal(t, periodKey(1, jan), periodKey(1, jan.Add(-24*time.Hour*30)))

	// Same month, different users never collide.
	require.NotEqual(t, periodKey(1, jan), periodKey(2, jan))
}

func TestStalePeriodExpires(t *testing.T) {
	ledger, mr := testLedger(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := ledger.CheckAndReserve(ctx, 5, "free")
		require.NoError(t, err)
	}
	_, err := ledger.CheckAndReserve(ctx, 5, "free")
	require.ErrorIs(t, err, ErrLimitExceeded)

	// Old counters carry a TTL so stale periods vanish on their own.
	mr.FastForward(periodTTL + time.Hour)
	used, err := ledger.Used(ctx, 5)
	require.NoError(t, err)
	require.Equal(t, 0, used)
}

func TestPerUserIsolation(t *testing.T) {
	ledger, _ := testLedger(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := ledger.CheckAndReserve(ctx, 10, "free")
		require.NoError(t, err)
	}
	_, err := ledger.CheckAndReserve(ctx, 10, "free")
	require.ErrorIs(t, err, ErrLimitExceeded)

	// A different user is unaffected.
	_, err = ledger.CheckAndReserve(ctx, 11, "free")
	require.NoError(t, err)
}

func TestConcurrentReservations(t *testing.T) {
	ledger, _ := testLedger(t)
	ctx := context.Background()

	type result struct {
		ok  bool
		err error
	}
	results := make(chan result, 20)
	for i := 0; i < 20; i++ {
		go func() {
			_, err := ledger.CheckAndReserve(ctx, 20, "free")
			results <- result{ok: err == nil, err: err}
		}()
	}
	allowed := 0
	for i := 0; i < 20; i++ {
		r := <-results
		if r.ok {
			allowed++
		} else {
			require.ErrorIs(t, r.err, ErrLimitExceeded)
		}
	}
	require.Equal(t, 5, allowed)

	used, err := ledger.Used(ctx, 20)
	require.NoError(t, err)
	require.Equal(t, 5, used)
}
