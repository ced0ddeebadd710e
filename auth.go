// Huddle, October 2026
// License AGPL3

package main

import (
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

var errNoToken = errors.New("missing token")

// authenticator resolves a participant identity from a bearer token issued
// by the external auth service. Issuing tokens is not this server's job.
type authenticator struct {
	secret []byte
	param  string
}

// newAuthenticator returns nil when no secret is configured, which disables
// identity checks.
func newAuthenticator(secret, param string) *authenticator {
	if secret == "" {
		return nil
	}
	if param == "" {
		param = "token"
	}
	return &authenticator{secret: []byte(secret), param: param}
}

// identify verifies the request's HS256 token and returns its subject.
// The token is read from the Authorization header, or from a query param
// since browsers can't set headers on websocket requests.
func (a *authenticator) identify(r *http.Request) (string, error) {
	tk := ""
	if h := r.Header.Get("Authorization"); h != "" {
		parts := strings.SplitN(h, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
			return "", errors.New("authorization header format must be Bearer {token}")
		}
		tk = parts[1]
	} else {
		tk = r.URL.Query().Get(a.param)
	}
	if tk == "" {
		return "", errNoToken
	}

	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(tk, &claims, func(t *jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", err
	}
	if claims.Subject == "" {
		return "", errors.New("token has no subject")
	}
	return claims.Subject, nil
}
