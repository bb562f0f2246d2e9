package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"dronelab/internal/app"
	"dronelab/internal/config"
	"dronelab/internal/database"
	dbconfig "dronelab/pkg/database"
	"dronelab/pkg/types"
)

const lectureCode = "00000"

// startServer seeds an active lecture owned by inst-1 and runs the full
// application on a free local port with the in-memory store.
func startServer(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "dronelab.db")
	seedLecture(t, dbPath, lectureCode, "inst-1")

	cfg := config.DefaultConfig()
	cfg.Database.Path = dbPath
	cfg.Store.Backend = config.StoreBackendMemory
	cfg.HTTP.Mode = "test"
	cfg.HTTP.Host = "127.0.0.1"
	cfg.HTTP.Port = freePort(t)

	ctx, cancel := context.WithCancel(context.Background())
	application, err := app.NewApplication(ctx, cfg)
	require.NoError(t, err)
	require.NoError(t, application.Start(ctx))
	t.Cleanup(func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer stopCancel()
		_ = application.Stop(stopCtx)
		cancel()
	})
	return application.GetAddr()
}

func seedLecture(t *testing.T, path, code, instructor string) {
	t.Helper()
	cfg := dbconfig.DefaultConfig()
	cfg.DatabasePath = path
	db, err := database.NewManager(cfg)
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	now := time.Now().UTC()
	require.NoError(t, db.CreateLecture(context.Background(), &types.Lecture{
		Code:         code,
		InstructorID: instructor,
		CreatedAt:    now,
		UpdatedAt:    now,
	}))
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())
	return port
}

// client is a socket peer that keeps every frame it reads so tests can
// wait for a specific event.
type client struct {
	t    *testing.T
	conn *websocket.Conn
	seen []types.Envelope
}

func dial(t *testing.T, addr, role string) *client {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(fmt.Sprintf("ws://%s/ws/%s", addr, role), nil)
	require.NoError(t, err)
	_ = resp.Body.Close()
	t.Cleanup(func() { _ = conn.Close() })
	return &client{t: t, conn: conn}
}

func (c *client) send(event string, data interface{}) {
	c.t.Helper()
	frame, err := types.NewFrame(event, data)
	require.NoError(c.t, err)
	require.NoError(c.t, c.conn.WriteMessage(websocket.TextMessage, frame))
}

// await reads until a frame with the event arrives and decodes its data.
func await[T any](c *client, event string) T {
	c.t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		require.NoError(c.t, c.conn.SetReadDeadline(deadline))
		_, raw, err := c.conn.ReadMessage()
		require.NoError(c.t, err, "waiting for %s", event)

		var env types.Envelope
		require.NoError(c.t, json.Unmarshal(raw, &env))
		c.seen = append(c.seen, env)
		if env.Event != event {
			continue
		}
		var v T
		require.NoError(c.t, json.Unmarshal(env.Data, &v))
		return v
	}
}

// quiet asserts that no frame with the event arrives within the window.
func (c *client) quiet(event string, window time.Duration) {
	c.t.Helper()
	deadline := time.Now().Add(window)
	for {
		require.NoError(c.t, c.conn.SetReadDeadline(deadline))
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var env types.Envelope
		require.NoError(c.t, json.Unmarshal(raw, &env))
		require.NotEqual(c.t, event, env.Event, "unexpected %s frame", event)
	}
}

func jsonBody(t *testing.T, v interface{}) *bytes.Reader {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return bytes.NewReader(b)
}
