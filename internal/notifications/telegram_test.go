package notifications

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestTelegramNotifier_SendAlert posts the chat id and prefixed message
func TestTelegramNotifier_SendAlert(t *testing.T) {
	var gotPath, gotChatID, gotText string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		gotPath = r.URL.Path
		gotChatID = r.FormValue("chat_id")
		gotText = r.FormValue("text")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewTelegramNotifier("test-token", "12345")
	n.apiBase = srv.URL

	require.NoError(t, n.SendAlert("error", "liquidation warning: BTCUSDT"))
	assert.Equal(t, "/bottest-token/sendMessage", gotPath)
	assert.Equal(t, "12345", gotChatID)
	assert.Contains(t, gotText, "🚨")
	assert.Contains(t, gotText, "liquidation warning: BTCUSDT")
}

// TestTelegramNotifier_NonOKStatus surfaces API failures
func TestTelegramNotifier_NonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	n := NewTelegramNotifier("test-token", "12345")
	n.apiBase = srv.URL

	err := n.SendAlert("info", "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
}

// TestNoop_Discards always succeeds
func TestNoop_Discards(t *testing.T) {
	assert.NoError(t, Noop{}.SendAlert("info", "anything"))
}
