package middleware

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/alumnichat/internal/logger"
)

var errInvalidToken = errors.New("invalid token")

// JWTVerifier проверяет HS256-токены, выданные CRUD-слоем. Subject: id пользователя.
type JWTVerifier struct {
	secret []byte
}

// NewJWTVerifier returns nil for an empty secret: identity then comes from user_id.
func NewJWTVerifier(secret string) *JWTVerifier {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil
	}
	return &JWTVerifier{secret: []byte(secret)}
}

// Subject validates the token and returns its sub claim.
func (v *JWTVerifier) Subject(tokenStr string) (string, error) {
	if tokenStr == "" {
		return "", errInvalidToken
	}
	token, err := jwt.ParseWithClaims(tokenStr, &jwt.RegisteredClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return v.secret, nil
	}, jwt.WithExpirationRequired())
	if err != nil {
		return "", err
	}
	claims, ok := token.Claims.(*jwt.RegisteredClaims)
	if !ok || claims.Subject == "" {
		return "", errInvalidToken
	}
	return claims.Subject, nil
}

// Issue подписывает токен для userID (dev-режим и тесты).
func (v *JWTVerifier) Issue(userID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

// Identity кладёт id вызывающего пользователя в контекст.
// Без verifier id берётся из ?user_id= как есть. С verifier нужен Bearer-токен
// (или ?token= для websocket), а user_id, если передан, должен совпадать с subject.
func Identity(v *JWTVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := strings.TrimSpace(r.URL.Query().Get("user_id"))
			if v == nil {
				if userID != "" {
					r = r.WithContext(WithUserID(r.Context(), userID))
				}
				next.ServeHTTP(w, r)
				return
			}

			token := strings.TrimSpace(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "))
			if token == "" {
				token = r.URL.Query().Get("token")
			}
			if token == "" {
				// websocket передаёт токен в join_user
				next.ServeHTTP(w, r)
				return
			}
			sub, err := v.Subject(token)
			if err != nil {
				logger.Debugf("identity: reject token %s: %v", MaskToken(token), err)
				writeAuthError(w, http.StatusUnauthorized, "invalid token")
				return
			}
			if userID != "" && userID != sub {
				writeAuthError(w, http.StatusForbidden, "user_id does not match token")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), sub)))
		})
	}
}

func writeAuthError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
