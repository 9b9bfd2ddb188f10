package util

import (
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"taskhive/pkg/rbac"
)

// GenerateJWT creates a token carrying the user id and roles.
func GenerateJWT(p rbac.Principal, secret string, ttl time.Duration) (string, error) {
	now := time.Now()
	roles := make([]interface{}, 0, len(p.Roles))
	for _, r := range p.Roles {
		roles = append(roles, r)
	}
	claims := jwt.MapClaims{
		"user_id": p.UserID,
		"roles":   roles,
		"exp":     now.Add(ttl).Unix(),
		"iat":     now.Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// ParseJWT validates the token and extracts the principal.
func ParseJWT(tokenStr, secret string) (rbac.Principal, error) {
	token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return rbac.Principal{}, err
	}

	if !token.Valid {
		return rbac.Principal{}, jwt.ErrTokenInvalidClaims
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return rbac.Principal{}, jwt.ErrTokenMalformed
	}

	userIDFloat, ok := claims["user_id"].(float64)
	if !ok {
		return rbac.Principal{}, jwt.ErrTokenMalformed
	}

	var roles []string
	if raw, ok := claims["roles"].([]interface{}); ok {
		for _, r := range raw {
			if s, ok := r.(string); ok {
				roles = append(roles, s)
			}
		}
	}

	return rbac.Principal{UserID: int(userIDFloat), Roles: rbac.NormalizeRoles(roles)}, nil
}

// ExtractToken reads a bearer token from the Authorization header.
func ExtractToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return ""
	}

	parts := strings.Split(auth, " ")
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return ""
	}

	return parts[1]
}
