package sms

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebhookSenderPostsPayload(t *testing.T) {
	var got webhookPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewWebhookSender(WebhookConfig{URL: srv.URL, Token: " tok ", SenderID: "IGABAYCARE"})
	require.NoError(t, s.Send(context.Background(), "0917 123 4567", "Your appointment is tomorrow"))
	assert.Equal(t, "+639171234567", got.To)
	assert.Equal(t, "Your appointment is tomorrow", got.Body)
	assert.Equal(t, "IGABAYCARE", got.SenderID)
}

func TestWebhookSenderErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	assert.Error(t, NewWebhookSender(WebhookConfig{URL: srv.URL}).Send(context.Background(), "+639171234567", "x"))
	assert.Error(t, NewWebhookSender(WebhookConfig{}).Send(context.Background(), "+639171234567", "x"))
	assert.ErrorIs(t, NewWebhookSender(WebhookConfig{URL: srv.URL}).Send(context.Background(), "12345", "x"), ErrInvalidNumber)
	assert.NoError(t, NewNoopSender().Send(context.Background(), "+63", "x"))
}

func TestNormalizeNumber(t *testing.T) {
	cases := map[string]string{
		"09171234567":      "+639171234567",
		"9171234567":       "+639171234567",
		"639171234567":     "+639171234567",
		"+63 917-123-4567": "+639171234567",
		"+14155550100":     "+14155550100",
	}
	for in, want := range cases {
		got, err := NormalizeNumber(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := NormalizeNumber("0217654321")
	assert.ErrorIs(t, err, ErrInvalidNumber)
}

func TestClipLongBodies(t *testing.T) {
	long := strings.Repeat("a", maxBody+20)
	assert.Len(t, []rune(clip(long)), maxBody)
	assert.Equal(t, "short", clip("short"))
}
