package login

import (
	"log"
	"net/http"
	"strings"
	"time"

	mailer "quizforge-backend/email"
	"quizforge-backend/migrations"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
)

type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func userPayload(u *migrations.User) gin.H {
	return gin.H{
		"id":            u.ID,
		"first_name":    u.FirstName,
		"last_name":     u.LastName,
		"email":         u.Email,
		"full_name":     u.FirstName + " " + u.LastName,
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

// Handler handles POST /api/auth/login
func Handler(c *gin.Context) {
	var creds Credentials
	if err := c.ShouldBindJSON(&creds); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "message": "invalid body"})
		return
	}
	creds.Email = strings.TrimSpace(strings.ToLower(creds.Email))
	creds.Password = strings.TrimSpace(creds.Password)

	user := migrations.GetUserByEmail(creds.Email)
	if user == nil || bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(creds.Password)) != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "forbidden", "message": "invalid credentials"})
		return
	}
	access, refresh, exp, err := issueTokenPair(user.ID, user.Email)
	if err != nil {
		log.Printf("[auth][login] token signing failed for %s: %v", creds.Email, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal", "message": "could not create session"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"access_token":  access,
		"refresh_token": refresh,
		"expires_at":    exp,
		"user":          userPayload(user),
	})
}

type RegisterPayload struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
	Password  string `json:"password"`
}

// RegisterHandler handles POST /api/auth/register. New accounts start on
// the free plan.
func RegisterHandler(c *gin.Context) {
	var p RegisterPayload
	if err := c.ShouldBindJSON(&p); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "message": "invalid body"})
		return
	}
	p.Email = strings.TrimSpace(strings.ToLower(p.Email))
	if p.Email == "" || p.Password == "" || p.FirstName == "" || p.LastName == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "message": "missing required fields"})
		return
	}
	if len(p.Password) < 8 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "message": "password must be at least 8 characters"})
		return
	}
	if exists, err := migrations.EmailExists(p.Email); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal", "message": "could not validate user"})
		return
	} else if exists {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "validation_error", "message": "email already registered"})
		return
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(p.Password), bcrypt.DefaultCost)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal", "message": "could not create user"})
		return
	}
	id, err := migrations.CreateUser(p.FirstName, p.LastName, p.Email, string(hash), "teacher")
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal", "message": "could not create user"})
		return
	}
	go func() {
		if err := mailer.SendWelcome(p.Email); err != nil {
			log.Printf("[auth][register] welcome email failed for %s: %v", p.Email, err)
		}
	}()
	user := migrations.GetUserByID(id)
	access, refresh, exp, err := issueTokenPair(id, p.Email)
	if err != nil || user == nil {
		c.Status(http.StatusCreated)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"access_token":  access,
		"refresh_token": refresh,
		"expires_at":    exp,
		"user":          userPayload(user),
	})
}

type refreshPayload struct {
	RefreshToken string `json:"refresh_token"`
}

// RefreshHandler exchanges a refresh token for a new pair. The old refresh
// token is denylisted, so each one is single-use.
func RefreshHandler(c *gin.Context) {
	var p refreshPayload
	if err := c.ShouldBindJSON(&p); err != nil || p.RefreshToken == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "message": "refresh_token required"})
		return
	}
	claims, ok := parseToken(p.RefreshToken, useRefresh)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "forbidden", "message": "invalid or expired refresh token"})
		return
	}
	access, refresh, exp, err := issueTokenPair(claims.UserID, claims.Email)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal", "message": "could not refresh session"})
		return
	}
	// The old token stays valid until the new pair exists, so a failed
	// rotation never strands the client without a refresh token.
	denyToken(claims)
	c.JSON(http.StatusOK, gin.H{
		"access_token":  access,
		"refresh_token": refresh,
		"expires_at":    exp,
	})
}

// LogoutHandler invalidates the presented tokens
func LogoutHandler(c *gin.Context) {
	token := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
	if token == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "message": "token required"})
		return
	}
	if claims, ok := parseToken(token, useAccess); ok {
		denyToken(claims)
	}
	var p refreshPayload
	if err := c.ShouldBindJSON(&p); err == nil && p.RefreshToken != "" {
		if claims, ok := parseToken(p.RefreshToken, useRefresh); ok {
			denyToken(claims)
		}
	}
	c.JSON(http.StatusOK, gin.H{"message": "logged out"})
}

// MeHandler returns the authenticated user
func MeHandler(c *gin.Context) {
	user := CurrentUser(c)
	if user == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "forbidden", "message": "invalid session"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": userPayload(user)})
}

type ChangePasswordPayload struct {
	OldPassword string `json:"old_password"`
	NewPassword string `json:"new_password"`
}

// ChangePasswordHandler updates the caller's password and notifies by email
func ChangePasswordHandler(c *gin.Context) {
	var p ChangePasswordPayload
	if err := c.ShouldBindJSON(&p); err != nil || len(p.NewPassword) < 8 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "message": "invalid body"})
		return
	}
	user := CurrentUser(c)
	if user == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "forbidden", "message": "invalid session"})
		return
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(p.OldPassword)) != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "forbidden", "message": "invalid credentials"})
		return
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(p.NewPassword), bcrypt.DefaultCost)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal", "message": "could not update password"})
		return
	}
	if err := migrations.UpdateUserPassword(user.ID, string(hash)); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal", "message": "could not update password"})
		return
	}
	go func() {
		if err := mailer.SendPasswordChanged(user.Email); err != nil {
			log.Printf("[auth][password] change notification failed for %s: %v", user.Email, err)
		}
	}()
	c.JSON(http.StatusOK, gin.H{"message": "password updated"})
}

// AuthRequired validates the bearer access token and stores the user id in
// the request context.
func AuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		if token == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "forbidden", "message": "authorization required"})
			c.Abort()
			return
		}
		userID, ok := GetUserIDFromToken(token)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "forbidden", "message": "invalid or expired token"})
			c.Abort()
			return
		}
		c.Set("user_id", userID)
		c.Next()
	}
}

// UserID returns the authenticated user id set by AuthRequired.
func UserID(c *gin.Context) (int, bool) {
	v, ok := c.Get("user_id")
	if !ok {
		return 0, false
	}
	id, ok := v.(int)
	return id, ok
}

// CurrentUser loads the authenticated user row, or nil.
func CurrentUser(c *gin.Context) *migrations.User {
	id, ok := UserID(c)
	if !ok {
		return nil
	}
	return migrations.GetUserByID(id)
}
