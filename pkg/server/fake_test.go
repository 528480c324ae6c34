package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/NicolasHaas/gorelay/pkg/logging"
	"github.com/NicolasHaas/gorelay/pkg/model"
	"github.com/NicolasHaas/gorelay/pkg/protocol"
	"github.com/NicolasHaas/gorelay/pkg/store"
)

// fakeConn records frames and the close call.
type fakeConn struct {
	id model.ConnID

	mu          sync.Mutex
	frames      [][]byte
	closed      bool
	closeCode   protocol.CloseCode
	closeReason string
	sendErr     error
	panicOnSend bool
}

func newFakeConn(id string) *fakeConn {
	return &fakeConn{id: model.ConnID(id)}
}

func (c *fakeConn) ID() model.ConnID { return c.id }

func (c *fakeConn) Send(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.panicOnSend {
		panic("send exploded")
	}
	if c.sendErr != nil {
		return c.sendErr
	}
	c.frames = append(c.frames, bytes.Clone(frame))
	return nil
}

func (c *fakeConn) Close(code protocol.CloseCode, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		c.closeCode = code
		c.closeReason = reason
	}
	return nil
}

func (c *fakeConn) setSendErr(err error) {
	c.mu.Lock()
	c.sendErr = err
	c.mu.Unlock()
}

func (c *fakeConn) setPanicOnSend(v bool) {
	c.mu.Lock()
	c.panicOnSend = v
	c.mu.Unlock()
}

// closeState returns whether Close was called and with what.
func (c *fakeConn) closeState() (bool, protocol.CloseCode, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed, c.closeCode, c.closeReason
}

// take returns and clears the recorded frames, decoded as JSON objects.
func (c *fakeConn) take(t *testing.T) []map[string]any {
	t.Helper()
	c.mu.Lock()
	frames := c.frames
	c.frames = nil
	c.mu.Unlock()

	out := make([]map[string]any, 0, len(frames))
	for _, f := range frames {
		dec := json.NewDecoder(bytes.NewReader(f))
		dec.UseNumber()
		var m map[string]any
		if err := dec.Decode(&m); err != nil {
			t.Fatalf("decode frame %s: %v", f, err)
		}
		out = append(out, m)
	}
	return out
}

// takeOne expects exactly one recorded frame.
func (c *fakeConn) takeOne(t *testing.T) map[string]any {
	t.Helper()
	frames := c.take(t)
	if len(frames) != 1 {
		t.Fatalf("conn %s: want 1 frame, got %d: %v", c.id, len(frames), frames)
	}
	return frames[0]
}

// manualScheduler captures registration deadlines so tests fire them.
type manualScheduler struct {
	mu     sync.Mutex
	timers []*manualTimer
}

type manualTimer struct {
	d       time.Duration
	f       func()
	stopped bool
}

func (m *manualScheduler) schedule(d time.Duration, f func()) func() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	timer := &manualTimer{d: d, f: f}
	m.timers = append(m.timers, timer)
	return func() bool {
		m.mu.Lock()
		defer m.mu.Unlock()
		wasActive := !timer.stopped
		timer.stopped = true
		return wasActive
	}
}

// fire runs timer i even if it was stopped, as a timer racing Stop would.
func (m *manualScheduler) fire(i int) {
	m.mu.Lock()
	f := m.timers[i].f
	m.mu.Unlock()
	f()
}

func (m *manualScheduler) stopped(i int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.timers[i].stopped
}

type testServer struct {
	*Server
	sched   *manualScheduler
	journal *store.MemoryStore
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	return newTestServerConfig(t, DefaultConfig())
}

func newTestServerConfig(t *testing.T, cfg Config) *testServer {
	t.Helper()
	journal := store.NewMemory()
	srv := New(cfg, Dependencies{Journal: journal, Logger: logging.Discard()})
	sched := &manualScheduler{}
	srv.timeouts.schedule = sched.schedule
	// argon2 is slow and memory hungry; the rules under test do not depend on it
	srv.registrar.digest = func(password string) ([]byte, []byte, error) {
		return []byte("digest:" + password), []byte("salt"), nil
	}
	srv.registrar.verify = func(password string, hash, _ []byte) bool {
		return string(hash) == "digest:"+password
	}
	t.Cleanup(func() { _ = srv.Shutdown() })
	return &testServer{Server: srv, sched: sched, journal: journal}
}

// open admits a fake connection.
func (ts *testServer) open(t *testing.T, id string) (*fakeConn, *model.Session) {
	t.Helper()
	conn := newFakeConn(id)
	sess, err := ts.sessions.Open(conn)
	if err != nil {
		t.Fatalf("Open(%s): %v", id, err)
	}
	return conn, sess
}

// send delivers msg to the dispatcher as a text frame.
func (ts *testServer) send(t *testing.T, conn Conn, msg any) {
	t.Helper()
	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	ts.dispatcher.HandleFrame(conn, FrameText, data)
}

// register opens a connection and registers username, returning the user id.
func (ts *testServer) register(t *testing.T, id, username string) (*fakeConn, uint64) {
	t.Helper()
	conn, _ := ts.open(t, id)
	ts.send(t, conn, map[string]any{
		"type": "register", "username": username, "password": "pw-" + username, "public-key": "pk-" + username,
	})
	res := conn.takeOne(t)
	if res["type"] != "register-result" {
		t.Fatalf("register %s: want register-result, got %v", username, res)
	}
	return conn, uint64Field(t, res, "user-id")
}

func uint64Field(t *testing.T, m map[string]any, key string) uint64 {
	t.Helper()
	n, ok := m[key].(json.Number)
	if !ok {
		t.Fatalf("field %q: want number, got %T (%v)", key, m[key], m[key])
	}
	var v uint64
	if _, err := fmt.Sscan(n.String(), &v); err != nil {
		t.Fatalf("field %q: %v", key, err)
	}
	return v
}

func uint64List(t *testing.T, m map[string]any, key string) []uint64 {
	t.Helper()
	raw, ok := m[key].([]any)
	if !ok {
		t.Fatalf("field %q: want list, got %T (%v)", key, m[key], m[key])
	}
	out := make([]uint64, 0, len(raw))
	for i := range raw {
		out = append(out, uint64Field(t, map[string]any{"v": raw[i]}, "v"))
	}
	return out
}

// errorCode returns the code of an error frame, failing on anything else.
func errorCode(t *testing.T, frame map[string]any) string {
	t.Helper()
	if frame["type"] != "error" {
		t.Fatalf("want error frame, got %v", frame)
	}
	code, _ := frame["code"].(string)
	return code
}
