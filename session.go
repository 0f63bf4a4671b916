package main

import (
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

const (
	SessionExpirationTime = time.Hour * 12
	SessionSecretEnv      = "SESSION_SECRET_KEY"
	SessionCookieName     = "logbook_session"
	SessionIssuer         = "logbook"
)

// NewSessionToken signs a session token identifying the given user. The
// token travels in a cookie and is the sole source of caller identity for
// every ownership check.
func NewSessionToken(user User) (string, error) {
	now := time.Now()
	claims := jwt.NewWithClaims(jwt.SigningMethodHS512, jwt.RegisteredClaims{
		Issuer:    SessionIssuer,
		ExpiresAt: jwt.NewNumericDate(now.Add(SessionExpirationTime)),
		IssuedAt:  &jwt.NumericDate{Time: now},
		Audience:  jwt.ClaimStrings{user.Username},
		ID:        fmt.Sprint(user.ID),
	})

	secret := []byte(os.Getenv(SessionSecretEnv))

	return claims.SignedString(secret)
}

func VerifySessionToken(token string) (*jwt.RegisteredClaims, bool) {
	var (
		claims = &jwt.RegisteredClaims{}
		secret = []byte(os.Getenv(SessionSecretEnv))
	)

	tkn, err := jwt.ParseWithClaims(token, claims, func(token *jwt.Token) (any, error) { return secret, nil })
	if err != nil {
		return nil, false
	}

	return claims, tkn.Valid
}

// sessionUserID extracts the authenticated user id from verified claims.
func sessionUserID(claims *jwt.RegisteredClaims) (int64, error) {
	return strconv.ParseInt(claims.ID, 10, 64)
}

// sessionUsername returns the display name carried by the session.
func sessionUsername(claims *jwt.RegisteredClaims) string {
	if len(claims.Audience) == 0 {
		return ""
	}

	return claims.Audience[0]
}

func setSessionCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(SessionExpirationTime / time.Second),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}
