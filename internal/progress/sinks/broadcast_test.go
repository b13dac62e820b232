package sinks

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/chapterbox/internal/progress"
)

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + query
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestBroadcasterStreamsEvents(t *testing.T) {
	t.Parallel()

	b := NewBroadcaster(nil)
	srv := httptest.NewServer(b)
	defer srv.Close()

	all := dial(t, srv, "/")
	filtered := dial(t, srv, "/?job_id=j2")
	require.Eventually(t, func() bool { return b.Subscribers() == 2 }, time.Second, 5*time.Millisecond)

	now := time.Now()
	require.NoError(t, b.Consume(context.Background(), []progress.Event{
		{JobID: "j1", TS: now, Stage: progress.StageJobStart, Total: 1},
		{JobID: "j2", TS: now, Stage: progress.StageJobDone, Delivered: 1, Total: 1},
	}))

	var evt progress.Event
	require.NoError(t, all.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, all.ReadJSON(&evt))
	require.Equal(t, "j1", evt.JobID)
	require.NoError(t, all.ReadJSON(&evt))
	require.Equal(t, "j2", evt.JobID)

	require.NoError(t, filtered.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, filtered.ReadJSON(&evt))
	require.Equal(t, "j2", evt.JobID)
	require.Equal(t, progress.StageJobDone, evt.Stage)
}

func TestBroadcasterCloseDisconnects(t *testing.T) {
	t.Parallel()

	b := NewBroadcaster(nil)
	srv := httptest.NewServer(b)
	defer srv.Close()

	conn := dial(t, srv, "/")
	require.Eventually(t, func() bool { return b.Subscribers() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, b.Close(context.Background()))
	require.Equal(t, 0, b.Subscribers())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
}
