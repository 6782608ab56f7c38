package auth

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "test-secret"

func signedToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("signing token: %v", err)
	}
	return signed
}

func TestIdentify(t *testing.T) {
	v := NewVerifier(testSecret, "example.com")

	tests := []struct {
		name    string
		header  string
		want    string
		wantErr bool
	}{
		{
			name:   "email claim",
			header: "Bearer " + signedToken(t, testSecret, jwt.MapClaims{"email": "Alice@Example.com"}),
			want:   "alice@example.com",
		},
		{
			name:   "bare username gets default domain",
			header: "Bearer " + signedToken(t, testSecret, jwt.MapClaims{"username": "bob"}),
			want:   "bob@example.com",
		},
		{
			name:   "sub claim fallback",
			header: "Bearer " + signedToken(t, testSecret, jwt.MapClaims{"sub": "carol"}),
			want:   "carol@example.com",
		},
		{
			name:    "missing header",
			header:  "",
			wantErr: true,
		},
		{
			name:    "not a bearer scheme",
			header:  "Basic abc123",
			wantErr: true,
		},
		{
			name:    "wrong secret",
			header:  "Bearer " + signedToken(t, "other-secret", jwt.MapClaims{"email": "alice@example.com"}),
			wantErr: true,
		},
		{
			name: "expired token",
			header: "Bearer " + signedToken(t, testSecret, jwt.MapClaims{
				"email": "alice@example.com",
				"exp":   time.Now().Add(-time.Hour).Unix(),
			}),
			wantErr: true,
		},
		{
			name:    "no identity claim",
			header:  "Bearer " + signedToken(t, testSecret, jwt.MapClaims{"role": "admin"}),
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/api/inbox", nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			got, err := v.Identify(r)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Identify() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("Identify() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCanonicalAddress(t *testing.T) {
	v := NewVerifier(testSecret, "example.com")

	tests := []struct {
		input    string
		expected string
	}{
		{"alice@other.org", "alice@other.org"},
		{"Bob", "bob@example.com"},
		{"  Carol@Example.COM ", "carol@example.com"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := v.CanonicalAddress(tt.input); got != tt.expected {
			t.Errorf("CanonicalAddress(%q) = %q, want %q", tt.input, got, tt.expected)
		}
	}
}
