/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package havensdk

import (
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
)

func signedToken(t *testing.T, claims jwt.Claims) string {
	t.Helper()
	signer, err := jose.NewSigner(
		jose.SigningKey{Algorithm: jose.HS256, Key: []byte("0123456789abcdef0123456789abcdef")},
		(&jose.SignerOptions{}).WithType("JWT"),
	)
	if err != nil {
		t.Fatalf("Failed to create signer: %v", err)
	}
	token, err := jwt.Signed(signer).Claims(claims).Serialize()
	if err != nil {
		t.Fatalf("Failed to sign token: %v", err)
	}
	return token
}

func TestTokenExpiry(t *testing.T) {
	exp := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	t.Run("reads exp claim", func(t *testing.T) {
		token := signedToken(t, jwt.Claims{Subject: "user-1", Expiry: jwt.NewNumericDate(exp)})
		got, err := TokenExpiry(token)
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if !got.Equal(exp) {
			t.Errorf("Expected %v, got %v", exp, got)
		}
	})

	t.Run("no exp claim", func(t *testing.T) {
		token := signedToken(t, jwt.Claims{Subject: "user-1"})
		got, err := TokenExpiry(token)
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if !got.IsZero() {
			t.Errorf("Expected zero time, got %v", got)
		}
	})

	t.Run("opaque token", func(t *testing.T) {
		if _, err := TokenExpiry("not-a-jwt"); err == nil {
			t.Error("Expected error for opaque token")
		}
	})
}

func TestClient_IsTokenExpired(t *testing.T) {
	exp := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	token := signedToken(t, jwt.Claims{Expiry: jwt.NewNumericDate(exp)})

	client, err := NewClient(token, nil)
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}

	if client.IsTokenExpired(exp.Add(-time.Minute)) {
		t.Error("Expected token to be valid before exp")
	}
	if !client.IsTokenExpired(exp.Add(time.Minute)) {
		t.Error("Expected token to be expired after exp")
	}

	opaque, _ := NewClient("opaque-token", nil)
	if opaque.IsTokenExpired(time.Now()) {
		t.Error("Expected opaque token never to be reported expired")
	}
}
