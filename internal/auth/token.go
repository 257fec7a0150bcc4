// Package auth verifies bearer tokens and turns their claims into an
// rbac.Principal. A local login endpoint issues tokens for development.
package auth

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/mind-engage/quizhub/internal/apperr"
	"github.com/mind-engage/quizhub/internal/config"
	"github.com/mind-engage/quizhub/internal/rbac"
)

const (
	issuer   = "quizhub"
	tokenTTL = 8 * time.Hour
)

type AuthService struct {
	hmac []byte
	now  func() time.Time
}

func NewAuthService(secret string) *AuthService {
	return &AuthService{hmac: []byte(secret), now: time.Now}
}

// Claims mirrors what the identity provider puts in its session token.
type Claims struct {
	Role  string `json:"role,omitempty"`
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

func (c *Claims) Principal() rbac.Principal {
	return rbac.Principal{ID: c.Subject, Role: c.Role, Email: c.Email, Name: c.Name}
}

func (a *AuthService) IssueJWT(p rbac.Principal) (string, error) {
	now := a.now()
	claims := &Claims{
		Role:  p.Role,
		Email: p.Email,
		Name:  p.Name,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.ID,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(tokenTTL)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.hmac)
}

func (a *AuthService) Parse(tokenStr string) (*Claims, error) {
	c := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, c, func(t *jwt.Token) (any, error) {
		return a.hmac, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(a.now))
	if err != nil {
		return nil, err
	}
	if !token.Valid || c.Subject == "" {
		return nil, errors.New("token has no subject")
	}
	return c, nil
}

// LoginHandler serves POST /auth/login {"username","password"} for the
// configured admin account and answers {"access_token": "..."}.
func LoginHandler(a *AuthService, cfg config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Username string `json:"username"`
			Password string `json:"password"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			apperr.Write(w, apperr.Invalid("bad json"))
			return
		}
		if req.Username != cfg.AdminUser ||
			bcrypt.CompareHashAndPassword([]byte(cfg.AdminPassHash), []byte(req.Password)) != nil {
			config.Log(r.Context()).WithField("username", req.Username).Warn("local login rejected")
			apperr.Write(w, apperr.ErrUnauthorized)
			return
		}
		email := cfg.AdminUser
		if !strings.Contains(email, "@") {
			email += "@localhost"
		}
		tok, err := a.IssueJWT(rbac.Principal{ID: "local|" + cfg.AdminUser, Role: rbac.RoleAdmin, Email: email, Name: cfg.AdminUser})
		if err != nil {
			apperr.Write(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"access_token": tok})
	}
}
