package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/mind-engage/quizhub/internal/config"
	"github.com/mind-engage/quizhub/internal/db"
	"github.com/mind-engage/quizhub/internal/rbac"
)

func echoPrincipal() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(rbac.PrincipalFromContext(r.Context()))
	})
}

func TestTokenRoundTripAndExpiry(t *testing.T) {
	a := NewAuthService("k")
	p := rbac.Principal{ID: "user_1", Role: rbac.RoleInstructor, Email: "i@x.com", Name: "Ines"}
	tok, err := a.IssueJWT(p)
	require.NoError(t, err)

	c, err := a.Parse(tok)
	require.NoError(t, err)
	assert.Equal(t, p, c.Principal())

	_, err = NewAuthService("other").Parse(tok)
	assert.Error(t, err)

	a.now = func() time.Time { return time.Now().Add(9 * time.Hour) }
	_, err = a.Parse(tok)
	assert.Error(t, err, "expired token must be rejected")
}

func TestJWTMiddleware(t *testing.T) {
	a := NewAuthService("k")
	h := JWTMiddleware(a)(echoPrincipal())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/me", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	tok, err := a.IssueJWT(rbac.Principal{ID: "user_1", Role: rbac.RoleStudent})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	var got rbac.Principal
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	assert.Equal(t, "user_1", got.ID)
}

func TestAttachRoleFromDB(t *testing.T) {
	dbh, err := db.OpenMemory(context.Background())
	require.NoError(t, err)
	defer dbh.Close()
	_, err = dbh.Exec(`INSERT INTO users (id,email,name,role,created_at,updated_at) VALUES ('u1','u@x.com','U','instructor',0,0)`)
	require.NoError(t, err)

	run := func(fallback bool, p rbac.Principal) string {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req = req.WithContext(rbac.WithPrincipal(req.Context(), p))
		rec := httptest.NewRecorder()
		AttachRoleFromDB(dbh, fallback)(echoPrincipal()).ServeHTTP(rec, req)
		var got rbac.Principal
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
		return got.Role
	}
	assert.Equal(t, rbac.RoleInstructor, run(false, rbac.Principal{ID: "u1", Role: rbac.RoleAdmin}), "stored role wins over the claim")
	assert.Equal(t, rbac.RoleStudent, run(false, rbac.Principal{ID: "new", Role: rbac.RoleAdmin}))
	assert.Equal(t, rbac.RoleAdmin, run(true, rbac.Principal{ID: "new", Role: rbac.RoleAdmin}))
	assert.Equal(t, rbac.RoleStudent, run(true, rbac.Principal{ID: "new", Role: "root"}))
}

func TestLoginHandler(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)
	a := NewAuthService("k")
	h := LoginHandler(a, config.Config{AdminUser: "admin", AdminPassHash: string(hash)})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(`{"username":"admin","password":"nope"}`)))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(`{"username":"admin","password":"s3cret"}`)))
	require.Equal(t, http.StatusOK, rec.Code)
	var out struct {
		AccessToken string `json:"access_token"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out))
	c, err := a.Parse(out.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, rbac.RoleAdmin, c.Role)
	assert.Equal(t, "admin@localhost", c.Email)
}
