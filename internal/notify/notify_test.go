package notify

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dgnsrekt/refreshd/internal/errors"
)

func TestClient_NotifyRefreshFailure(t *testing.T) {
	var gotPath, gotTitle, gotTags, gotPriority, gotAuth, gotBody string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotTitle = r.Header.Get("Title")
		gotTags = r.Header.Get("Tags")
		gotPriority = r.Header.Get("Priority")
		gotAuth = r.Header.Get("Authorization")
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	cfg := &Config{
		Enabled:  true,
		Server:   server.URL + "/",
		Topic:    "refreshd-alerts",
		Priority: "high",
		Tags:     []string{"repeat"},
		Token:    "tk_test",
	}
	client := NewClient(cfg, zap.NewNop())

	cause := errors.WithHint(errors.New("connection refused"), "check api.base_url")
	err := client.NotifyRefreshFailure(context.Background(), "users", 3, cause)
	require.NoError(t, err)

	assert.Equal(t, "/refreshd-alerts", gotPath)
	assert.Equal(t, "Refresh Failing: users", gotTitle)
	assert.Equal(t, "repeat,x", gotTags)
	assert.Equal(t, "high", gotPriority)
	assert.Equal(t, "Bearer tk_test", gotAuth)
	assert.Contains(t, gotBody, "Consecutive failures: 3")
	assert.Contains(t, gotBody, "connection refused")
	assert.Contains(t, gotBody, "Hint: check api.base_url")
}

func TestClient_NotifyRefreshFailure_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	client := NewClient(&Config{Enabled: true, Server: server.URL, Topic: "t", Priority: "high"}, zap.NewNop())
	err := client.NotifyRefreshFailure(context.Background(), "users", 3, nil)
	assert.ErrorContains(t, err, "status: 403")
}

func TestClient_Disabled(t *testing.T) {
	client := NewClient(&Config{Enabled: false, Server: "http://127.0.0.1:1"}, zap.NewNop())
	assert.NoError(t, client.NotifyRefreshFailure(context.Background(), "users", 3, nil))
}

func TestNew_ReturnsNoopWhenDisabled(t *testing.T) {
	n := New(&Config{}, zap.NewNop())
	_, ok := n.(*NoopNotifier)
	assert.True(t, ok)

	n = New(&Config{Enabled: true, Topic: "t"}, zap.NewNop())
	_, ok = n.(*Client)
	assert.True(t, ok)
}

func TestConfig_Validate(t *testing.T) {
	assert.NoError(t, (&Config{}).Validate())
	assert.Error(t, (&Config{Enabled: true, Priority: "high"}).Validate())
	assert.Error(t, (&Config{Enabled: true, Topic: "t", Priority: "loud"}).Validate())
	assert.Error(t, (&Config{Enabled: true, Topic: "t", Server: "ntfy.sh", Priority: "high"}).Validate())
	assert.NoError(t, (&Config{Enabled: true, Topic: "t", Server: "https://ntfy.sh", Priority: "urgent"}).Validate())
}

func TestLoadConfig_FromEnv(t *testing.T) {
	t.Setenv("NTFY_ENABLED", "true")
	t.Setenv("NTFY_TOPIC", "alerts")
	t.Setenv("NTFY_PRIORITY", "")

	cfg := LoadConfig()
	assert.True(t, cfg.Enabled)
	assert.Equal(t, "alerts", cfg.Topic)
	assert.Equal(t, "https://ntfy.sh", cfg.Server)
	assert.Equal(t, "high", cfg.Priority)
	assert.Equal(t, []string{"rotating_light"}, cfg.Tags)

	t.Setenv("NTFY_TAGS", "warning, refresh ,")
	assert.Equal(t, []string{"warning", "refresh"}, LoadConfig().Tags)
}

func TestFormatFailureMessage(t *testing.T) {
	msg := FormatFailureMessage("orders", 1200, errors.New("boom"))
	assert.Contains(t, msg, "Data type: orders")
	assert.Contains(t, msg, "Consecutive failures: 1,200")
	assert.Contains(t, msg, "Error: boom")
}
