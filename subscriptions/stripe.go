package subscriptions

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	stripe "github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
	"github.com/stripe/stripe-go/v78/webhook"
)

var ErrUnrecognizedEvent = errors.New("unrecognized billing event type")

// BillingEvent is a Stripe webhook event reduced to what the plan state
// machine needs.
type BillingEvent struct {
	ID         string
	Type       string
	UserID     int
	Plan       string
	Status     string
	ExpiresAt  *time.Time
	CustomerID string
}

// Outcome reports what a webhook delivery did.
type Outcome struct {
	EventID string `json:"event_id"`
	Type    string `json:"type"`
	Applied bool   `json:"applied"`
	Reason  string `json:"reason,omitempty"`
}

// Service talks to Stripe and drives plan changes through the Store. When
// STRIPE_SECRET_KEY is unset the checkout side is disabled but webhook
// processing still works, which is all local development needs.
type Service struct {
	store         Store
	webhookSecret string
	successURL    string
	cancelURL     string
	sc            *client.API
}

func NewService(store Store) *Service {
	s := &Service{
		store:         store,
		webhookSecret: os.Getenv("STRIPE_WEBHOOK_SECRET"),
		successURL:    envOr("STRIPE_SUCCESS_URL", "https://example.com/billing/success"),
		cancelURL:     envOr("STRIPE_CANCEL_URL", "https://example.com/billing/cancel"),
	}
	if key := os.Getenv("STRIPE_SECRET_KEY"); key != "" {
		sc := &client.API{}
		sc.Init(key, nil)
		s.sc = sc
	}
	return s
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func (s *Service) CheckoutConfigured() bool { return s.sc != nil }

// CreateCheckoutSession opens a Stripe Checkout for a paid plan. The user id
// travels in the session metadata and comes back on checkout completion.
func (s *Service) CreateCheckoutSession(userID int, userEmail, planID string) (string, error) {
	if s.sc == nil {
		return "", errors.New("stripe is not configured")
	}
	plan := PlanByID(planID)
	if plan == nil || plan.MonthlyPrice == 0 {
		return "", fmt.Errorf("plan %q is not purchasable", planID)
	}
	if plan.StripePriceID == "" {
		return "", fmt.Errorf("no stripe price configured for plan %q", planID)
	}
	params := &stripe.CheckoutSessionParams{
		SuccessURL:    stripe.String(s.successURL),
		CancelURL:     stripe.String(s.cancelURL),
		Mode:          stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		CustomerEmail: stripe.String(userEmail),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			Price:    stripe.String(plan.StripePriceID),
			Quantity: stripe.Int64(1),
		}},
		Metadata: map[string]string{
			"user_id": strconv.Itoa(userID),
			"plan":    plan.ID,
		},
	}
	sess, err := s.sc.CheckoutSessions.New(params)
	if err != nil {
		log.Printf("[billing][checkout] session failed user=%d plan=%s: %v", userID, planID, err)
		return "", err
	}
	return sess.URL, nil
}

// CancelSubscription cancels the user's active Stripe subscriptions and
// marks the local plan canceled. Access keeps running until the paid period
// expires; the subscription.deleted webhook does the downgrade.
func (s *Service) CancelSubscription(userID int, customerID string) error {
	if s.sc != nil && customerID != "" {
		params := &stripe.SubscriptionListParams{Customer: stripe.String(customerID)}
		iter := s.sc.Subscriptions.List(params)
		for iter.Next() {
			sub := iter.Subscription()
			if _, err := s.sc.Subscriptions.Cancel(sub.ID, nil); err != nil {
				return err
			}
		}
		if err := iter.Err(); err != nil {
			return err
		}
	}
	return s.store.SetPlanStatus(userID, StatusCanceled)
}

// HandleWebhook verifies, parses and applies one webhook delivery.
func (s *Service) HandleWebhook(payload []byte, signature string) (*Outcome, error) {
	var event stripe.Event
	if s.webhookSecret != "" {
		verified, err := webhook.ConstructEvent(payload, signature, s.webhookSecret)
		if err != nil {
			return nil, fmt.Errorf("signature verification failed: %w", err)
		}
		event = verified
	} else if err := json.Unmarshal(payload, &event); err != nil {
		return nil, fmt.Errorf("malformed event payload: %w", err)
	}

	ev, err := s.parseEvent(&event)
	if err != nil {
		return nil, err
	}
	return s.apply(ev)
}

func (s *Service) parseEvent(event *stripe.Event) (*BillingEvent, error) {
	ev := &BillingEvent{ID: event.ID, Type: string(event.Type)}
	switch ev.Type {
	case "checkout.session.completed":
		var sess stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
			return nil, fmt.Errorf("malformed checkout session: %w", err)
		}
		uid, _ := strconv.Atoi(sess.Metadata["user_id"])
		ev.UserID = uid
		ev.Plan = sess.Metadata["plan"]
		ev.Status = StatusActive
		if sess.Customer != nil {
			ev.CustomerID = sess.Customer.ID
		}
	case "customer.subscription.updated":
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return nil, fmt.Errorf("malformed subscription: %w", err)
		}
		if sub.Customer != nil {
			ev.CustomerID = sub.Customer.ID
		}
		ev.Status = mapSubscriptionStatus(sub.Status)
		if sub.Items != nil && len(sub.Items.Data) > 0 && sub.Items.Data[0].Price != nil {
			ev.Plan = planByPriceID(sub.Items.Data[0].Price.ID)
		}
		if sub.CurrentPeriodEnd > 0 {
			t := time.Unix(sub.CurrentPeriodEnd, 0)
			ev.ExpiresAt = &t
		}
	case "customer.subscription.deleted":
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return nil, fmt.Errorf("malformed subscription: %w", err)
		}
		if sub.Customer != nil {
			ev.CustomerID = sub.Customer.ID
		}
	case "invoice.payment_failed":
		var inv stripe.Invoice
		if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
			return nil, fmt.Errorf("malformed invoice: %w", err)
		}
		if inv.Customer != nil {
			ev.CustomerID = inv.Customer.ID
		}
	default:
		return nil, ErrUnrecognizedEvent
	}
	return ev, nil
}

func mapSubscriptionStatus(st stripe.SubscriptionStatus) string {
	switch st {
	case stripe.SubscriptionStatusActive, stripe.SubscriptionStatusTrialing:
		return StatusActive
	case stripe.SubscriptionStatusPastDue, stripe.SubscriptionStatusUnpaid:
		return StatusPastDue
	case stripe.SubscriptionStatusCanceled, stripe.SubscriptionStatusIncompleteExpired:
		return StatusCanceled
	default:
		return StatusActive
	}
}

// apply runs the event through the plan state machine, exactly once per
// event id.
func (s *Service) apply(ev *BillingEvent) (*Outcome, error) {
	out := &Outcome{EventID: ev.ID, Type: ev.Type}

	if ev.UserID == 0 && ev.CustomerID != "" {
		uid, err := s.store.UserIDByStripeCustomer(ev.CustomerID)
		if err != nil {
			return nil, err
		}
		ev.UserID = uid
	}
	if ev.UserID == 0 {
		// Not a customer of this installation; acknowledge so Stripe
		// stops retrying.
		out.Reason = "unknown_customer"
		log.Printf("[billing][webhook] event=%s type=%s has no matching user", ev.ID, ev.Type)
		return out, nil
	}

	done, err := s.store.EventProcessed(ev.ID)
	if err != nil {
		return nil, err
	}
	if done {
		out.Reason = "already_processed"
		return out, nil
	}

	switch ev.Type {
	case "checkout.session.completed":
		if PlanByID(ev.Plan) == nil {
			return nil, fmt.Errorf("checkout completed with unknown plan %q", ev.Plan)
		}
		if ev.CustomerID != "" {
			if err := s.store.SetStripeCustomer(ev.UserID, ev.CustomerID); err != nil {
				return nil, err
			}
		}
		if err := s.store.SetPlan(ev.UserID, ev.Plan, StatusActive, nil); err != nil {
			return nil, err
		}
	case "customer.subscription.updated":
		if ev.Plan != "" {
			if err := s.store.SetPlan(ev.UserID, ev.Plan, ev.Status, ev.ExpiresAt); err != nil {
				return nil, err
			}
		} else if err := s.store.SetPlanStatus(ev.UserID, ev.Status); err != nil {
			return nil, err
		}
	case "customer.subscription.deleted":
		if err := s.store.SetPlan(ev.UserID, PlanFree, StatusActive, nil); err != nil {
			return nil, err
		}
	case "invoice.payment_failed":
		if err := s.store.SetPlanStatus(ev.UserID, StatusPastDue); err != nil {
			return nil, err
		}
	}

	// Recorded only after the mutation landed: a failed application leaves
	// no mark, so the provider's retry gets a clean replay. The mutations
	// themselves are idempotent plan writes, so the rare double-apply from
	// concurrent deliveries is harmless.
	if _, err := s.store.MarkEventProcessed(ev.ID, ev.Type, ev.UserID); err != nil {
		return nil, err
	}
	out.Applied = true
	log.Printf("[billing][webhook] applied event=%s type=%s user=%d", ev.ID, ev.Type, ev.UserID)
	return out, nil
}
