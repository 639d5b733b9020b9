package subscriptions

import (
	"os"

	"quizforge-backend/quota"
)

const (
	PlanFree    = "free"
	PlanPremium = "premium"
	PlanSchool  = "school"
)

const (
	StatusActive   = "active"
	StatusPastDue  = "past_due"
	StatusCanceled = "canceled"
)

type Plan struct {
	ID            string  `json:"id"`
	Name          string  `json:"name"`
	MonthlyPrice  float64 `json:"monthly_price"`
	Currency      string  `json:"currency"`
	QuizLimit     int     `json:"quiz_limit"` // -1 = unlimited
	StripePriceID string  `json:"-"`
}

// Catalog is the fixed plan lineup. Stripe price ids come from env so test
// and live mode can point at different prices.
func Catalog() []Plan {
	return []Plan{
		{ID: PlanFree, Name: "Free", MonthlyPrice: 0, Currency: "usd", QuizLimit: quota.Limit(PlanFree)},
		{ID: PlanPremium, Name: "Premium", MonthlyPrice: 9.99, Currency: "usd", QuizLimit: quota.Limit(PlanPremium),
			StripePriceID: os.Getenv("STRIPE_PRICE_PREMIUM")},
		{ID: PlanSchool, Name: "School", MonthlyPrice: 49.99, Currency: "usd", QuizLimit: quota.Limit(PlanSchool),
			StripePriceID: os.Getenv("STRIPE_PRICE_SCHOOL")},
	}
}

func PlanByID(id string) *Plan {
	for _, p := range Catalog() {
		if p.ID == id {
			return &p
		}
	}
	return nil
}

// planByPriceID maps a Stripe price back to a plan id, "" when unknown.
func planByPriceID(priceID string) string {
	if priceID == "" {
		return ""
	}
	for _, p := range Catalog() {
		if p.StripePriceID == priceID {
			return p.ID
		}
	}
	return ""
}
