package middleware

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	return db
}

func idempotentHandler(t *testing.T, status int) (http.Handler, *atomic.Int32) {
	t.Helper()
	idem, err := NewIdempotency(setupTestDB(t), nil)
	require.NoError(t, err)
	var calls atomic.Int32
	handler := idem.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		fmt.Fprintf(w, `{"call":%d}`, n)
	}))
	return handler, &calls
}

func post(handler http.Handler, caller [20]byte, key, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/v1/purchases", strings.NewReader(body))
	if key != "" {
		req.Header.Set(HeaderIdempotencyKey, key)
	}
	req = req.WithContext(context.WithValue(req.Context(), ContextKeyCaller, caller))
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	return res
}

func TestIdempotencyReplaysResponse(t *testing.T) {
	handler, calls := idempotentHandler(t, http.StatusCreated)
	caller := [20]byte{0xA1}

	first := post(handler, caller, "k-1", `{"tier":"short"}`)
	require.Equal(t, http.StatusCreated, first.Code)
	second := post(handler, caller, "k-1", `{"tier":"short"}`)
	require.Equal(t, http.StatusCreated, second.Code)
	require.Equal(t, first.Body.String(), second.Body.String())
	require.Equal(t, "true", second.Header().Get("Idempotent-Replayed"))
	require.EqualValues(t, 1, calls.Load())

	// Keys are scoped to the caller.
	other := post(handler, [20]byte{0xB2}, "k-1", `{"tier":"short"}`)
	require.Equal(t, http.StatusCreated, other.Code)
	require.EqualValues(t, 2, calls.Load())
}

func TestIdempotencyRejectsDifferentBody(t *testing.T) {
	handler, _ := idempotentHandler(t, http.StatusCreated)
	caller := [20]byte{0xA1}

	require.Equal(t, http.StatusCreated, post(handler, caller, "k-2", `{"tier":"short"}`).Code)
	res := post(handler, caller, "k-2", `{"tier":"long"}`)
	require.Equal(t, http.StatusConflict, res.Code)
	require.Contains(t, res.Body.String(), "idempotency_mismatch")
}

func TestIdempotencySkipsRejections(t *testing.T) {
	for _, status := range []int{http.StatusConflict, http.StatusUnprocessableEntity, http.StatusNotFound} {
		handler, calls := idempotentHandler(t, status)
		caller := [20]byte{0xA1}

		first := post(handler, caller, "k-4", `{}`)
		require.Equal(t, status, first.Code)
		second := post(handler, caller, "k-4", `{}`)
		require.Equal(t, status, second.Code)
		require.Empty(t, second.Header().Get("Idempotent-Replayed"))
		require.EqualValues(t, 2, calls.Load())
	}
}

func TestIdempotencySkipsServerErrorsAndMissingKeys(t *testing.T) {
	handler, calls := idempotentHandler(t, http.StatusInternalServerError)
	caller := [20]byte{0xA1}

	post(handler, caller, "k-3", `{}`)
	post(handler, caller, "k-3", `{}`)
	require.EqualValues(t, 2, calls.Load())

	post(handler, caller, "", `{}`)
	require.EqualValues(t, 3, calls.Load())
}
