package handlers

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gorilla "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/r0xsh/spotizerr/types"
)

func dialWebSocket(t *testing.T, server *httptest.Server, path string) *gorilla.Conn {
	t.Helper()
	wsURL := strings.Replace(server.URL, "http://", "ws://", 1) + path
	conn, resp, err := gorilla.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readQueueMessage(t *testing.T, conn *gorilla.Conn) types.QueueMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg types.QueueMessage
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestWebSocketAllFeedReceivesQueueUpdates(t *testing.T) {
	router, queue, _ := setupTestRouter(t)
	server := httptest.NewServer(router)
	defer server.Close()

	conn := dialWebSocket(t, server, "/api/ws/downloads")

	// Give the hub a moment to register the client
	time.Sleep(50 * time.Millisecond)

	id, err := queue.AddDownload(types.DisplayMetadata{Name: "Live Album"}, types.JobKindAlbum, "task-1", nil, false)
	require.NoError(t, err)

	msg := readQueueMessage(t, conn)
	assert.Equal(t, "created", msg.Type)
	assert.Equal(t, id, msg.RecordID)
	require.NotNil(t, msg.Record)
	assert.Equal(t, "Live Album", msg.Record.Name)
	assert.Equal(t, string(types.JobStatusPending), msg.Status)
}

func TestWebSocketRecordFeed(t *testing.T) {
	router, queue, _ := setupTestRouter(t)
	server := httptest.NewServer(router)
	defer server.Close()

	id, err := queue.AddDownload(types.DisplayMetadata{Name: "Track"}, types.JobKindTrack, "task-1", nil, false)
	require.NoError(t, err)

	conn := dialWebSocket(t, server, "/api/ws/downloads/"+id)
	time.Sleep(50 * time.Millisecond)

	require.NoError(t, queue.StartEntryMonitoring(id))

	msg := readQueueMessage(t, conn)
	assert.Equal(t, id, msg.RecordID)
	assert.Equal(t, string(types.JobStatusMonitoring), msg.Status)
}

func TestWebSocketRejectsUnknownRecord(t *testing.T) {
	router, _, _ := setupTestRouter(t)
	server := httptest.NewServer(router)
	defer server.Close()

	wsURL := strings.Replace(server.URL, "http://", "ws://", 1) + "/api/ws/downloads/no-such-id"
	_, resp, err := gorilla.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
