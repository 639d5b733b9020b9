package subscriptions

import (
	"database/sql"
	"time"
)

// Store is the persistence surface the billing service works against.
// *Repository is the MySQL implementation.
type Store interface {
	// EventProcessed reports whether the event id has already been applied.
	EventProcessed(eventID string) (bool, error)
	// MarkEventProcessed records the event id and reports whether this is
	// its first delivery. Replays return false.
	MarkEventProcessed(eventID, eventType string, userID int) (bool, error)
	SetPlan(userID int, plan, status string, expiresAt *time.Time) error
	SetPlanStatus(userID int, status string) error
	SetStripeCustomer(userID int, customerID string) error
	UserIDByStripeCustomer(customerID string) (int, error)
}

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) EventProcessed(eventID string) (bool, error) {
	var count int
	if err := r.db.QueryRow(`SELECT COUNT(1) FROM billing_events WHERE event_id=?`, eventID).Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}

// MarkEventProcessed leans on the billing_events primary key: the second
// insert of the same event id affects zero rows.
func (r *Repository) MarkEventProcessed(eventID, eventType string, userID int) (bool, error) {
	res, err := r.db.Exec(`INSERT IGNORE INTO billing_events (event_id, event_type, user_id) VALUES (?,?,?)`,
		eventID, eventType, userID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *Repository) SetPlan(userID int, plan, status string, expiresAt *time.Time) error {
	_, err := r.db.Exec(`UPDATE users SET plan=?, plan_status=?, plan_expires_at=?, updated_at=NOW() WHERE id=?`,
		plan, status, expiresAt, userID)
	return err
}

func (r *Repository) SetPlanStatus(userID int, status string) error {
	_, err := r.db.Exec(`UPDATE users SET plan_status=?, updated_at=NOW() WHERE id=?`, status, userID)
	return err
}

func (r *Repository) SetStripeCustomer(userID int, customerID string) error {
	_, err := r.db.Exec(`UPDATE users SET stripe_customer_id=?, updated_at=NOW() WHERE id=?`, customerID, userID)
	return err
}

// UserIDByStripeCustomer returns 0 when no user carries the customer id.
func (r *Repository) UserIDByStripeCustomer(customerID string) (int, error) {
	var id int
	err := r.db.QueryRow(`SELECT id FROM users WHERE stripe_customer_id=? LIMIT 1`, customerID).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return id, err
}
