package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"referral-fee-bot/internal/config"
	"referral-fee-bot/internal/ratelimit"
)

func TestEnqueueThrottlesBeforeDecoding(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	limiter := ratelimit.New(client, 1, time.Minute)

	// The store stays nil: neither the malformed nor the throttled request
	// may reach it.
	srv := New(config.Config{MaxAttempts: 3}, nil, limiter, zap.NewNop())
	router := srv.Router()

	post := func(body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/jobs", strings.NewReader(body))
		req.Header.Set("X-Webhook-Source", "flooder")
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}

	// A malformed body still consumes the sender's only slot.
	if rec := post("{not json"); rec.Code != http.StatusBadRequest {
		t.Fatalf("malformed request returned %d, want %d", rec.Code, http.StatusBadRequest)
	}

	if rec := post(`{"matter_id":"1","participant_id":"p","assignee_name":"a","percentage":10}`); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("follow-up request returned %d, want %d", rec.Code, http.StatusTooManyRequests)
	}
}
