package quota

import (
	"context"
	"errors"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrLimitExceeded is returned when a limited plan has no generations left
// in the current calendar month.
var ErrLimitExceeded = errors.New("quota limit exceeded")

const unlimited = -1

// Counter keys outlive the month they track by a wide margin, then expire.
const periodTTL = 40 * 24 * time.Hour

// Limit returns the monthly generation limit for a plan; -1 means
// unlimited. Unknown plans are treated as free.
func Limit(plan string) int {
	switch plan {
	case "premium", "school":
		return unlimited
	}
	limit := 5
	if v := os.Getenv("FREE_PLAN_MONTHLY_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	return limit
}

// Ledger tracks per-user generation counts in month-keyed Redis counters.
// The INCR is the serialization point for concurrent requests; calendar
// rollover is implicit because each month gets its own key.
type Ledger struct {
	rdb *redis.Client
}

func NewLedger(rdb *redis.Client) *Ledger { return &Ledger{rdb: rdb} }

func periodKey(userID int, now time.Time) string {
	return "quota:" + strconv.Itoa(userID) + ":" + now.UTC().Format("2006-01")
}

// Reservation is one consumed generation slot. Refund gives it back when
// the generation it was reserved for fails.
type Reservation struct {
	ledger *Ledger
	key    string
	active bool

	// Plan is the snapshot taken at reservation time; in-flight requests
	// keep it even if the user's plan changes underneath them.
	Plan      string
	Remaining int
}

// CheckAndReserve atomically consumes one generation slot for the user, or
// returns ErrLimitExceeded without mutation when the plan's monthly limit
// is already reached. Unlimited plans always allow.
func (l *Ledger) CheckAndReserve(ctx context.Context, userID int, plan string) (*Reservation, error) {
	limit := Limit(plan)
	if limit == unlimited {
		return &Reservation{Plan: plan, Remaining: unlimited}, nil
	}
	key := periodKey(userID, time.Now())
	count, err := l.rdb.Incr(ctx, key).Result()
	if err != nil {
		log.Printf("[quota][error] user_id=%d err=%v", userID, err)
		return nil, err
	}
	if count == 1 {
		if err := l.rdb.Expire(ctx, key, periodTTL).Err(); err != nil {
			log.Printf("[quota][error] user_id=%d expire err=%v", userID, err)
		}
	}
	if count > int64(limit) {
		// Roll back our own increment so denial leaves the counter intact.
		if err := l.rdb.Decr(ctx, key).Err(); err != nil {
			log.Printf("[quota][error] user_id=%d rollback err=%v", userID, err)
		}
		log.Printf("[quota][deny] user_id=%d plan=%s limit=%d", userID, plan, limit)
		return nil, ErrLimitExceeded
	}
	log.Printf("[quota][reserve] user_id=%d plan=%s used=%d limit=%d", userID, plan, count, limit)
	return &Reservation{ledger: l, key: key, active: true, Plan: plan, Remaining: limit - int(count)}, nil
}

// Refund returns the reserved slot. Safe to call more than once and a
// no-op for unlimited-plan reservations.
func (r *Reservation) Refund(ctx context.Context) error {
	if r == nil || !r.active {
		return nil
	}
	r.active = false
	if err := r.ledger.rdb.Decr(ctx, r.key).Err(); err != nil {
		log.Printf("[quota][error] refund key=%s err=%v", r.key, err)
		return err
	}
	log.Printf("[quota][refund] key=%s", r.key)
	return nil
}

// Used reports the user's generation count for the current period.
func (l *Ledger) Used(ctx context.Context, userID int) (int, error) {
	n, err := l.rdb.Get(ctx, periodKey(userID, time.Now())).Int()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if n < 0 {
		n = 0
	}
	return n, nil
}
