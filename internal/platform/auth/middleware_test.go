package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

const testSecret = "test-signing-secret"

func mintToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func TestVerify(t *testing.T) {
	authenticator, err := NewAuthenticator(testSecret, "maplecart")
	if err != nil {
		t.Fatalf("NewAuthenticator: %v", err)
	}

	now := time.Now()
	raw := mintToken(t, testSecret, jwt.MapClaims{
		"sub":   "user-1",
		"iss":   "maplecart",
		"email": "taro@example.com",
		"roles": []string{"user", "staff"},
		"exp":   now.Add(time.Hour).Unix(),
	})

	identity, err := authenticator.Verify(raw)
	if err != nil {
		t.Fatalf("Verify returned error: %v", err)
	}
	if identity.UID != "user-1" {
		t.Errorf("UID = %q, want user-1", identity.UID)
	}
	if identity.Email != "taro@example.com" {
		t.Errorf("Email = %q", identity.Email)
	}
	if !identity.HasRole(RoleStaff) {
		t.Error("expected staff role")
	}
	if !identity.Elevated() {
		t.Error("expected elevated identity")
	}
}

func TestVerifyRejectsWrongIssuer(t *testing.T) {
	authenticator, err := NewAuthenticator(testSecret, "maplecart")
	if err != nil {
		t.Fatalf("NewAuthenticator: %v", err)
	}

	raw := mintToken(t, testSecret, jwt.MapClaims{
		"sub": "user-1",
		"iss": "someone-else",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	if _, err := authenticator.Verify(raw); err == nil {
		t.Fatal("expected issuer mismatch error")
	}
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	authenticator, err := NewAuthenticator(testSecret, "")
	if err != nil {
		t.Fatalf("NewAuthenticator: %v", err)
	}

	raw := mintToken(t, "other-secret", jwt.MapClaims{
		"sub": "user-1",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	if _, err := authenticator.Verify(raw); err == nil {
		t.Fatal("expected signature error")
	}
}

func TestVerifyRejectsExpired(t *testing.T) {
	authenticator, err := NewAuthenticator(testSecret, "")
	if err != nil {
		t.Fatalf("NewAuthenticator: %v", err)
	}

	raw := mintToken(t, testSecret, jwt.MapClaims{
		"sub": "user-1",
		"exp": time.Now().Add(-time.Minute).Unix(),
	})
	if _, err := authenticator.Verify(raw); err == nil {
		t.Fatal("expected expiry error")
	}
}

func TestVerifyDefaultsRole(t *testing.T) {
	authenticator, err := NewAuthenticator(testSecret, "")
	if err != nil {
		t.Fatalf("NewAuthenticator: %v", err)
	}

	raw := mintToken(t, testSecret, jwt.MapClaims{
		"sub": "user-1",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	identity, err := authenticator.Verify(raw)
	if err != nil {
		t.Fatalf("Verify returned error: %v", err)
	}
	if !identity.HasRole(RoleUser) {
		t.Error("expected default user role")
	}
	if identity.Elevated() {
		t.Error("default role must not be elevated")
	}
}

func TestRequireAuth(t *testing.T) {
	authenticator, err := NewAuthenticator(testSecret, "")
	if err != nil {
		t.Fatalf("NewAuthenticator: %v", err)
	}

	var gotUID string
	handler := authenticator.RequireAuth()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, ok := IdentityFromContext(r.Context())
		if ok {
			gotUID = identity.UID
		}
		w.WriteHeader(http.StatusNoContent)
	}))

	t.Run("missing token", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("status = %d, want 401", rec.Code)
		}
	})

	t.Run("valid token", func(t *testing.T) {
		raw := mintToken(t, testSecret, jwt.MapClaims{
			"sub": "user-42",
			"exp": time.Now().Add(time.Hour).Unix(),
		})
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+raw)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusNoContent {
			t.Fatalf("status = %d, want 204", rec.Code)
		}
		if gotUID != "user-42" {
			t.Errorf("context identity UID = %q, want user-42", gotUID)
		}
	})
}

func TestRequireRole(t *testing.T) {
	handler := RequireRole(RoleStaff, RoleAdmin)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	t.Run("no identity", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/", nil))
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("status = %d, want 401", rec.Code)
		}
	})

	t.Run("wrong role", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPut, "/", nil)
		req = req.WithContext(WithIdentity(req.Context(), &Identity{UID: "u", Roles: []string{RoleUser}}))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusForbidden {
			t.Fatalf("status = %d, want 403", rec.Code)
		}
	})

	t.Run("staff allowed", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPut, "/", nil)
		req = req.WithContext(WithIdentity(req.Context(), &Identity{UID: "s", Roles: []string{RoleStaff}}))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusNoContent {
			t.Fatalf("status = %d, want 204", rec.Code)
		}
	})
}
