package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zfogg/vidlayer/internal/earnings"
	apierrors "github.com/zfogg/vidlayer/internal/errors"
	"github.com/zfogg/vidlayer/internal/models"
	"github.com/zfogg/vidlayer/internal/testutil"
)

func TestClientSendsTokenAndDecodesResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok-123", r.Header.Get("Authorization"))
		assert.Equal(t, "/api/v1/earnings/balance", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(earnings.Balance{AvailableCents: 1234, Currency: "usd"})
	}))
	defer srv.Close()

	c := newAPIClient(srv.URL, "tok-123", 0)
	var balance earnings.Balance
	require.NoError(t, c.get(context.Background(), "/api/v1/earnings/balance", &balance))
	assert.Equal(t, int64(1234), balance.AvailableCents)
	assert.Equal(t, "usd", balance.Currency)
}

func TestClientDecodesAPIErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"code":"VALIDATION_ERROR","message":"an idempotency key is required","field":"idempotency_key"}`))
	}))
	defer srv.Close()

	c := newAPIClient(srv.URL, "", 0)
	err := c.post(context.Background(), "/api/v1/payouts", map[string]string{}, nil)
	require.Error(t, err)

	var apiErr *apierrors.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnprocessableEntity, apiErr.Status)
	assert.Equal(t, "idempotency_key", apiErr.Field)
}

func TestClientPlainErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	err := newAPIClient(srv.URL, "", 0).get(context.Background(), "/health", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestSetAdmin(t *testing.T) {
	db := testutil.NewTestDB(t)
	user := testutil.CreateUser(t, db, "ops", models.RoleViewer)

	require.NoError(t, setAdmin(db, user.Email, true))
	var reloaded models.User
	require.NoError(t, db.First(&reloaded, "id = ?", user.ID).Error)
	assert.True(t, reloaded.IsAdmin)

	require.NoError(t, setAdmin(db, user.Email, false))
	require.NoError(t, db.First(&reloaded, "id = ?", user.ID).Error)
	assert.False(t, reloaded.IsAdmin)

	assert.Error(t, setAdmin(db, "nobody@example.com", true))
}

func TestFormatCents(t *testing.T) {
	assert.Equal(t, "12.05 usd", formatCents(1205, "usd"))
	assert.Equal(t, "0.07 eur", formatCents(7, "eur"))
	assert.Equal(t, "-3.50 usd", formatCents(-350, "usd"))
}
