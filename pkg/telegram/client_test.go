package telegram

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendMessage(t *testing.T) {
	var gotPath string
	var gotBody sendMessageRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	client := NewClient("test-token", WithBaseURL(server.URL))
	err := client.SendMessage(context.Background(), "12345", "Тестовое сообщение Telegram")
	require.NoError(t, err)

	assert.Equal(t, "/bottest-token/sendMessage", gotPath)
	assert.Equal(t, "12345", gotBody.ChatID)
	assert.Equal(t, "Тестовое сообщение Telegram", gotBody.Text)
}

func TestSendMessage_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"ok":false,"description":"Bad Request: chat not found"}`))
	}))
	defer server.Close()

	client := NewClient("test-token", WithBaseURL(server.URL))
	err := client.SendMessage(context.Background(), "12345", "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status 400")
}

func TestSendMessage_RejectedWithOK200(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"ok":false,"description":"Forbidden: bot was blocked"}`))
	}))
	defer server.Close()

	client := NewClient("test-token", WithBaseURL(server.URL))
	err := client.SendMessage(context.Background(), "12345", "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bot was blocked")
}

func TestSendMessage_Unconfigured(t *testing.T) {
	client := NewClient("")

	assert.False(t, client.Configured())
	err := client.SendMessage(context.Background(), "12345", "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not configured")
}
