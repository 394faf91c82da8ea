package hostrpc

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/leapstack-labs/trilogyctl/internal/app"
	"github.com/leapstack-labs/trilogyctl/internal/protocol"
	"github.com/leapstack-labs/trilogyctl/internal/serve"
	"github.com/leapstack-labs/trilogyctl/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type noResolver struct{}

func (noResolver) Resolve(context.Context, string) ([]string, error) {
	return nil, &serve.ResolutionError{Tried: []string{"trilogy"}}
}

type fixedResolver struct{}

func (fixedResolver) Resolve(context.Context, string) ([]string, error) {
	return []string{"trilogy"}, nil
}

// lingeringProcess ignores termination and exits only when killed.
type lingeringProcess struct {
	outR, errR *io.PipeReader
	outW, errW *io.PipeWriter
	exited     chan struct{}
	once       sync.Once
}

func newLingeringProcess() *lingeringProcess {
	p := &lingeringProcess{exited: make(chan struct{})}
	p.outR, p.outW = io.Pipe()
	p.errR, p.errW = io.Pipe()
	return p
}

func (p *lingeringProcess) Pid() int          { return 4242 }
func (p *lingeringProcess) Stdout() io.Reader { return p.outR }
func (p *lingeringProcess) Stderr() io.Reader { return p.errR }

func (p *lingeringProcess) Wait() (int, error) {
	<-p.exited
	return -1, nil
}

func (p *lingeringProcess) kill() {
	p.once.Do(func() {
		_ = p.outW.Close()
		_ = p.errW.Close()
		close(p.exited)
	})
}

type lingeringSpawner struct{ proc *lingeringProcess }

func (s lingeringSpawner) Spawn(context.Context, serve.Spec) (serve.Process, error) {
	return s.proc, nil
}

type killOnlyTerminator struct{}

func (killOnlyTerminator) Terminate(serve.Process) error { return nil }

func (killOnlyTerminator) Kill(p serve.Process) error {
	p.(*lingeringProcess).kill()
	return nil
}

type client struct {
	t      *testing.T
	in     *io.PipeWriter
	out    chan *Message
	done   chan error
	nextID int
}

func startServer(t *testing.T, root string) *client {
	t.Helper()
	return startServerWith(t, app.Options{
		Roots: []string{root},
		Serve: app.ServeOptions{Resolver: noResolver{}},
	})
}

func startServerWith(t *testing.T, opts app.Options) *client {
	t.Helper()
	opts.Logger = testutil.NewTestLogger(t)
	services, err := app.New(context.Background(), opts)
	require.NoError(t, err)

	reqR, reqW := io.Pipe()
	respR, respW := io.Pipe()
	srv := NewServer(services, reqR, respW, testutil.NewTestLogger(t))

	c := &client{t: t, in: reqW, out: make(chan *Message, 64), done: make(chan error, 1)}
	go func() {
		c.done <- srv.Run(context.Background())
		_ = respW.Close()
	}()
	go func() {
		r := bufio.NewReader(respR)
		for {
			msg, err := ReadMessage(r)
			if err != nil {
				close(c.out)
				return
			}
			c.out <- msg
		}
	}()

	t.Cleanup(func() {
		_ = reqW.Close()
		<-c.done
		_ = services.Close(context.Background())
	})
	return c
}

// call sends a request and returns its response plus notifications seen first.
func (c *client) call(method string, params any) (*Message, []*Message) {
	c.t.Helper()
	return c.await(c.send(method, params))
}

// send writes a request without waiting and returns its id.
func (c *client) send(method string, params any) json.RawMessage {
	c.t.Helper()
	c.nextID++
	id := json.RawMessage(mustJSON(c.t, c.nextID))
	msg := &Message{JSONRPC: "2.0", ID: &id, Method: method}
	if params != nil {
		msg.Params = mustJSON(c.t, params)
	}
	require.NoError(c.t, WriteMessage(c.in, msg))
	return id
}

// await collects messages until the response to id arrives.
func (c *client) await(id json.RawMessage) (*Message, []*Message) {
	c.t.Helper()
	var notes []*Message
	timeout := time.After(5 * time.Second)
	for {
		select {
		case m, ok := <-c.out:
			require.True(c.t, ok, "server closed before responding to request %s", id)
			if m.ID != nil && string(*m.ID) == string(id) {
				return m, notes
			}
			notes = append(notes, m)
		case <-timeout:
			c.t.Fatalf("no response to request %s", id)
		}
	}
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func methods(notes []*Message) []string {
	out := make([]string, 0, len(notes))
	for _, n := range notes {
		out = append(out, n.Method)
	}
	return out
}

func writeConfig(t *testing.T, dir string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o750))
	path := filepath.Join(dir, "trilogy.toml")
	require.NoError(t, os.WriteFile(path, []byte("[engine]\ndialect = \"duck_db\"\n"), 0o600))
	return path
}

func TestServer_DiscoverAndSetActive(t *testing.T) {
	root := t.TempDir()
	cfg := writeConfig(t, filepath.Join(root, "proj"))
	c := startServer(t, root)

	resp, notes := c.call("configs/discover", nil)
	require.Nil(t, resp.Error)
	assert.Contains(t, methods(notes), NotifyConfigsChanged)

	var st struct {
		Configs []struct {
			Path         string `json:"path"`
			RelativePath string `json:"relativePath"`
		} `json:"configs"`
	}
	require.NoError(t, json.Unmarshal(resp.Result, &st))
	require.Len(t, st.Configs, 1)
	assert.Equal(t, "proj/trilogy.toml", st.Configs[0].RelativePath)

	resp, notes = c.call("configs/setActive", setActiveParams{Path: cfg})
	require.Nil(t, resp.Error)
	assert.Equal(t, []string{NotifyActiveChanged}, methods(notes))

	resp, _ = c.call("configs/setActive", setActiveParams{Path: filepath.Join(root, "missing", "trilogy.toml")})
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeInvalidParams, resp.Error.Code)
}

func TestServer_QueryRoundTrip(t *testing.T) {
	c := startServer(t, t.TempDir())

	resp, _ := c.call("query/open", nil)
	require.Nil(t, resp.Error)
	var opened openResult
	require.NoError(t, json.Unmarshal(resp.Result, &opened))
	require.NotEmpty(t, opened.SessionID)
	assert.Equal(t, "duck_db", opened.Dialect)

	resp, notes := c.call("query/run", runParams{SessionID: opened.SessionID, SQL: "select 1 as a"})
	require.Nil(t, resp.Error)
	require.Len(t, notes, 2)

	var types []string
	for _, n := range notes {
		require.Equal(t, NotifyMessage, n.Method)
		var p struct {
			SessionID string          `json:"sessionId"`
			Message   json.RawMessage `json:"message"`
		}
		require.NoError(t, json.Unmarshal(n.Params, &p))
		assert.Equal(t, opened.SessionID, p.SessionID)
		m, err := protocol.Decode(p.Message)
		require.NoError(t, err)
		types = append(types, m.Type())
	}
	assert.Equal(t, []string{protocol.TypeQueryStart, protocol.TypeQuery}, types)

	var result struct {
		Messages []json.RawMessage `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(resp.Result, &result))
	require.Len(t, result.Messages, 1)
	m, err := protocol.Decode(result.Messages[0])
	require.NoError(t, err)
	qr, ok := m.(protocol.QueryResult)
	require.True(t, ok)
	assert.True(t, qr.Success)
	assert.Len(t, qr.Results, 1)

	resp, notes = c.call("query/fetchMore", runParams{SessionID: opened.SessionID, SQL: "select 1 as a", Offset: 1})
	require.Nil(t, resp.Error)
	require.Len(t, notes, 1)

	resp, _ = c.call("query/close", sessionParams{SessionID: opened.SessionID})
	require.Nil(t, resp.Error)

	resp, _ = c.call("query/run", runParams{SessionID: opened.SessionID, SQL: "select 1"})
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeInvalidParams, resp.Error.Code)
}

func TestServer_RenderQueriesBroadcast(t *testing.T) {
	c := startServer(t, t.TempDir())

	resp, notes := c.call("render/queries", renderParams{Queries: []string{"select 1"}})
	require.Nil(t, resp.Error)
	assert.Equal(t, []string{NotifyMessage}, methods(notes))

	var rq protocol.RenderQueries
	require.NoError(t, json.Unmarshal(resp.Result, &rq))
	assert.Equal(t, "duck_db", rq.Dialect)
	assert.Equal(t, []string{"select 1"}, rq.RenderQueries)
}

func TestServer_ServeStartFailure(t *testing.T) {
	root := t.TempDir()
	c := startServer(t, root)

	resp, notes := c.call("serve/start", startParams{Folder: root})
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeRequestFailed, resp.Error.Code)
	assert.Contains(t, methods(notes), NotifyServeNotice)
	assert.Contains(t, methods(notes), NotifyServeStatus)

	resp, _ = c.call("serve/status", nil)
	require.Nil(t, resp.Error)
	var st serve.State
	require.NoError(t, json.Unmarshal(resp.Result, &st))
	assert.Equal(t, serve.PhaseFailed, st.Phase)

	resp, _ = c.call("serve/stop", nil)
	require.Nil(t, resp.Error)
}

func TestServer_ServeStopDoesNotBlockRequests(t *testing.T) {
	root := t.TempDir()
	proc := newLingeringProcess()
	c := startServerWith(t, app.Options{
		Roots: []string{root},
		Serve: app.ServeOptions{
			Resolver:    fixedResolver{},
			Spawner:     lingeringSpawner{proc: proc},
			Terminator:  killOnlyTerminator{},
			GracePeriod: time.Hour,
			KillTimeout: 300 * time.Millisecond,
		},
	})

	resp, _ := c.call("serve/start", startParams{Folder: root})
	require.Nil(t, resp.Error)

	stopID := c.send("serve/stop", nil)

	// the process is still alive, yet status answers first
	resp, seen := c.call("serve/status", nil)
	require.Nil(t, resp.Error)
	for _, m := range seen {
		if m.ID != nil {
			assert.NotEqual(t, string(stopID), string(*m.ID), "serve/stop answered before the process exited")
		}
	}
	var st serve.State
	require.NoError(t, json.Unmarshal(resp.Result, &st))
	assert.Equal(t, serve.PhaseIdle, st.Phase)

	resp, _ = c.await(stopID)
	require.Nil(t, resp.Error)
	select {
	case <-proc.exited:
	default:
		t.Fatal("serve/stop answered before the process was killed")
	}
}

func TestServer_MethodNotFound(t *testing.T) {
	c := startServer(t, t.TempDir())

	resp, _ := c.call("nope/nothing", nil)
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeMethodNotFound, resp.Error.Code)
}

func TestServer_InvalidParams(t *testing.T) {
	c := startServer(t, t.TempDir())

	resp, _ := c.call("configs/setActive", []int{1})
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeInvalidParams, resp.Error.Code)
}

func TestServer_ShutdownAndExit(t *testing.T) {
	c := startServer(t, t.TempDir())

	resp, _ := c.call("shutdown", nil)
	require.Nil(t, resp.Error)

	require.NoError(t, WriteMessage(c.in, &Message{JSONRPC: "2.0", Method: "exit"}))
	select {
	case err := <-c.done:
		require.NoError(t, err)
		c.done <- err
	case <-time.After(5 * time.Second):
		t.Fatal("server did not exit")
	}
}
