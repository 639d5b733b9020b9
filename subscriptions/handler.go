package subscriptions

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"time"

	"quizforge-backend/login"
	"quizforge-backend/quota"

	"github.com/gin-gonic/gin"
)

// UsageCounter reports how many generations the user spent this month.
// *quota.Ledger is the real implementation.
type UsageCounter interface {
	Used(ctx context.Context, userID int) (int, error)
}

type Handler struct {
	svc   *Service
	usage UsageCounter
}

func NewHandler(svc *Service, usage UsageCounter) *Handler {
	return &Handler{svc: svc, usage: usage}
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/api/subscriptions/plans", h.plans)
	r.POST("/api/subscriptions/webhook", h.webhook)

	grp := r.Group("/api/subscriptions", login.AuthRequired())
	grp.GET("/current", h.current)
	grp.GET("/usage", h.usageStats)
	grp.POST("/checkout", h.checkout)
	grp.POST("/cancel", h.cancel)
}

func (h *Handler) plans(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"plans": Catalog()})
}

func (h *Handler) current(c *gin.Context) {
	user := login.CurrentUser(c)
	if user == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "forbidden", "message": "invalid session"})
		return
	}
	resp := gin.H{
		"plan":        user.Plan,
		"plan_status": user.PlanStatus,
	}
	if user.PlanExpiresAt != nil {
		resp["expires_at"] = user.PlanExpiresAt.Format(time.RFC3339)
	}
	c.JSON(http.StatusOK, gin.H{"subscription": resp})
}

// usageStats reports the month's consumption against the plan limit.
func (h *Handler) usageStats(c *gin.Context) {
	user := login.CurrentUser(c)
	if user == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "forbidden", "message": "invalid session"})
		return
	}
	used, err := h.usage.Used(c.Request.Context(), user.ID)
	if err != nil {
		log.Printf("[billing][usage] counter read failed user=%d: %v", user.ID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal", "message": "could not read usage"})
		return
	}
	limit := quota.Limit(user.Plan)
	remaining := -1
	if limit >= 0 {
		remaining = limit - used
		if remaining < 0 {
			remaining = 0
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"plan":            user.Plan,
		"quizzes_used":    used,
		"quiz_limit":      limit,
		"remaining":       remaining,
		"period":          time.Now().UTC().Format("2006-01"),
	})
}

type checkoutPayload struct {
	Plan string `json:"plan"`
}

func (h *Handler) checkout(c *gin.Context) {
	user := login.CurrentUser(c)
	if user == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "forbidden", "message": "invalid session"})
		return
	}
	var p checkoutPayload
	if err := c.ShouldBindJSON(&p); err != nil || p.Plan == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "message": "plan required"})
		return
	}
	plan := PlanByID(p.Plan)
	if plan == nil || plan.MonthlyPrice == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "message": "plan is not purchasable"})
		return
	}
	if user.Plan == plan.ID && user.PlanStatus == StatusActive {
		c.JSON(http.StatusConflict, gin.H{"error": "validation_error", "message": "plan already active"})
		return
	}
	if !h.svc.CheckoutConfigured() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "internal", "message": "billing is not configured"})
		return
	}
	url, err := h.svc.CreateCheckoutSession(user.ID, user.Email, plan.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal", "message": "could not start checkout"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"checkout_url": url})
}

func (h *Handler) cancel(c *gin.Context) {
	user := login.CurrentUser(c)
	if user == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "forbidden", "message": "invalid session"})
		return
	}
	if user.Plan == PlanFree {
		c.JSON(http.StatusConflict, gin.H{"error": "validation_error", "message": "nothing to cancel on the free plan"})
		return
	}
	if err := h.svc.CancelSubscription(user.ID, user.StripeCustomerID); err != nil {
		log.Printf("[billing][cancel] user=%d: %v", user.ID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal", "message": "could not cancel subscription"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "subscription canceled; access continues until the period ends"})
}

// webhook is the Stripe callback. Unknown event types are rejected, replays
// are acknowledged without reapplying.
func (h *Handler) webhook(c *gin.Context) {
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "message": "unreadable payload"})
		return
	}
	out, err := h.svc.HandleWebhook(payload, c.GetHeader("Stripe-Signature"))
	if err != nil {
		if errors.Is(err, ErrUnrecognizedEvent) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unrecognized_event", "message": "event type is not handled"})
			return
		}
		log.Printf("[billing][webhook] rejected: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"result": out})
}
