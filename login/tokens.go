package login

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
)

const (
	useAccess  = "access"
	useRefresh = "refresh"
)

// Claims carried by both access and refresh tokens. Use distinguishes the
// two so a refresh token can never authenticate a request directly.
type Claims struct {
	UserID int    `json:"user_id"`
	Email  string `json:"email"`
	Use    string `json:"use"`
	jwt.RegisteredClaims
}

var rdb *redis.Client

// Fallback denylist when Redis is unavailable (dev setups); jti -> expiry.
var (
	memDenyMu sync.Mutex
	memDeny   = map[string]time.Time{}
)

// Init wires the Redis client used for the token denylist.
func Init(client *redis.Client) { rdb = client }

func jwtSecret() []byte {
	s := os.Getenv("JWT_SECRET")
	if s == "" {
		s = "dev-insecure-secret"
	}
	return []byte(s)
}

func accessTokenTTL() time.Duration {
	minutes := 30
	if v := os.Getenv("ACCESS_TOKEN_MINUTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			minutes = n
		}
	}
	return time.Duration(minutes) * time.Minute
}

func refreshTokenTTL() time.Duration {
	days := 30
	if v := os.Getenv("REFRESH_TOKEN_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			days = n
		}
	}
	return time.Duration(days) * 24 * time.Hour
}

func generateJTI() string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return time.Now().Format("20060102150405.000000")
	}
	return hex.EncodeToString(b)
}

func signToken(userID int, email, use string, ttl time.Duration) (string, int64, error) {
	now := time.Now()
	exp := now.Add(ttl)
	claims := Claims{
		UserID: userID,
		Email:  email,
		Use:    use,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        generateJTI(),
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(jwtSecret())
	return signed, exp.Unix(), err
}

// issueTokenPair returns a fresh access/refresh pair for the user.
func issueTokenPair(userID int, email string) (access, refresh string, accessExp int64, err error) {
	access, accessExp, err = signToken(userID, email, useAccess, accessTokenTTL())
	if err != nil {
		return "", "", 0, err
	}
	refresh, _, err = signToken(userID, email, useRefresh, refreshTokenTTL())
	if err != nil {
		return "", "", 0, err
	}
	return access, refresh, accessExp, nil
}

func parseToken(token, expectedUse string) (*Claims, bool) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		return jwtSecret(), nil
	})
	if err != nil || !parsed.Valid {
		return nil, false
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || claims.Use != expectedUse {
		return nil, false
	}
	if isDenied(claims.ID) {
		return nil, false
	}
	return claims, true
}

// denyToken blacklists a jti until its natural expiry.
func denyToken(claims *Claims) {
	if claims == nil || claims.ExpiresAt == nil {
		return
	}
	ttl := time.Until(claims.ExpiresAt.Time)
	if ttl <= 0 {
		return
	}
	if rdb != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := rdb.Set(ctx, "auth:denylist:"+claims.ID, "1", ttl).Err(); err == nil {
			return
		}
	}
	memDenyMu.Lock()
	memDeny[claims.ID] = claims.ExpiresAt.Time
	memDenyMu.Unlock()
}

func isDenied(jti string) bool {
	if rdb != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if n, err := rdb.Exists(ctx, "auth:denylist:"+jti).Result(); err == nil {
			return n > 0
		}
	}
	memDenyMu.Lock()
	defer memDenyMu.Unlock()
	exp, ok := memDeny[jti]
	if !ok {
		return false
	}
	if time.Now().After(exp) {
		delete(memDeny, jti)
		return false
	}
	return true
}

// GetUserIDFromToken validates an access token and returns the user id.
func GetUserIDFromToken(token string) (int, bool) {
	claims, ok := parseToken(token, useAccess)
	if !ok {
		return 0, false
	}
	return claims.UserID, true
}
