package sse

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsLocalAddr(t *testing.T) {
	assert.True(t, IsLocalAddr("127.0.0.1:54321"))
	assert.True(t, IsLocalAddr("[::1]:9999"))
	assert.True(t, IsLocalAddr("localhost:8080"))
	assert.True(t, IsLocalAddr("127.0.0.1"))
	assert.False(t, IsLocalAddr("10.0.0.5:1234"))
	assert.False(t, IsLocalAddr("evil.example.com:443"))
}

func TestServeHTTP_RejectsNonLocalhost(t *testing.T) {
	b := NewBroker()
	defer b.Stop()

	req := httptest.NewRequest(http.MethodGet, "/stream", nil)
	req.RemoteAddr = "10.0.0.5:1234"
	rec := httptest.NewRecorder()

	b.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestBroadcast_DeliversToSubscriber(t *testing.T) {
	b := NewBroker()
	defer b.Stop()

	srv := httptest.NewServer(http.HandlerFunc(b.ServeHTTP))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	req.RemoteAddr = "127.0.0.1:1"

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Eventually(t, func() bool { return b.SubscriberCount() == 1 }, time.Second, 5*time.Millisecond)

	b.ObservationCreated(1, 2, "proj1", "Edit")

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "event: observation-created\n", line)

	dataLine, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(dataLine, "data: "))
	assert.Contains(t, dataLine, `"toolName":"Edit"`)
}

func TestRemoveClient_StopsDeliveryWithoutPanic(t *testing.T) {
	b := NewBroker()
	c := b.addClient()
	b.removeClient(c.id)
	assert.Equal(t, 0, b.SubscriberCount())
	b.ObservationCreated(1, 1, "p", "Bash")
	b.Stop()
}
