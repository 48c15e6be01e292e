package utils

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/xelth-com/invtrack/internal/authctx"
	"github.com/xelth-com/invtrack/internal/models"
)

// MinPasswordLength is enforced on every password change
const MinPasswordLength = 6

// HashPassword hashes a password using bcrypt
func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), 10)
	return string(bytes), err
}

// CheckPasswordHash compares a password with a hash
func CheckPasswordHash(password, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}

// Claims is the access token payload
type Claims struct {
	UserID       string      `json:"id"`
	Username     string      `json:"username"`
	Role         models.Role `json:"role"`
	DepartmentID *uint       `json:"departmentId,omitempty"`
	jwt.RegisteredClaims
}

// User returns the request scope carried by the claims
func (c *Claims) User() authctx.User {
	return authctx.User{
		ID:           c.UserID,
		Username:     c.Username,
		Role:         c.Role,
		DepartmentID: c.DepartmentID,
	}
}

// GenerateToken signs an access token that expires after idle. Each
// authenticated response reissues it, so the expiry slides with activity.
func GenerateToken(user authctx.User, secret string, idle time.Duration) (string, time.Time, error) {
	now := time.Now()
	exp := now.Add(idle)
	claims := Claims{
		UserID:       user.ID,
		Username:     user.Username,
		Role:         user.Role,
		DepartmentID: user.DepartmentID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

// ValidateToken parses and validates a token
func ValidateToken(tokenString string, secret string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid || claims.UserID == "" {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}
