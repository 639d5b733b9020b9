package profile

import (
	"log"
	"net/http"
	"strings"
	"time"

	"quizforge-backend/login"
	"quizforge-backend/migrations"

	"github.com/gin-gonic/gin"
)

// RegisterRoutes registers the profile endpoints.
func RegisterRoutes(r *gin.Engine) {
	grp := r.Group("/api/users", login.AuthRequired())
	grp.GET("/me", getProfile)
	grp.PUT("/me", updateProfile)
}

func userToMap(u *migrations.User) gin.H {
	return gin.H{
		"id":            u.ID,
		"first_name":    u.FirstName,
		"last_name":     u.LastName,
		"full_name":     u.FirstName + " " + u.LastName,
		"email":         u.Email,
		"role":          u.Role,
		"plan":          u.Plan,
		"plan_status":   u.PlanStatus,
		"school_name":   u.SchoolName,
		"subject_areas": u.SubjectAreas,
		"bio":           u.Bio,
		"created_at":    u.CreatedAt.Format(time.RFC3339),
		"updated_at":    u.UpdatedAt.Format(time.RFC3339),
	}
}

func getProfile(c *gin.Context) {
	user := login.CurrentUser(c)
	if user == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "forbidden", "message": "invalid session"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": userToMap(user)})
}

type updatePayload struct {
	FirstName    string `json:"first_name"`
	LastName     string `json:"last_name"`
	SchoolName   string `json:"school_name"`
	SubjectAreas string `json:"subject_areas"`
	Bio          string `json:"bio"`
}

// updateProfile applies partial updates; empty fields keep their current
// values.
func updateProfile(c *gin.Context) {
	user := login.CurrentUser(c)
	if user == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "forbidden", "message": "invalid session"})
		return
	}
	var p updatePayload
	if err := c.ShouldBindJSON(&p); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "message": "invalid body"})
		return
	}
	err := migrations.UpdateUserProfile(user.ID,
		strings.TrimSpace(p.FirstName),
		strings.TrimSpace(p.LastName),
		strings.TrimSpace(p.SchoolName),
		strings.TrimSpace(p.SubjectAreas),
		strings.TrimSpace(p.Bio))
	if err != nil {
		log.Printf("[profile][update] user=%d: %v", user.ID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal", "message": "could not update profile"})
		return
	}
	updated := migrations.GetUserByID(user.ID)
	if updated == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal", "message": "could not load profile"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": userToMap(updated)})
}
