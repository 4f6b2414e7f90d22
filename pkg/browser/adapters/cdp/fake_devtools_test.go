package cdp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"nhooyr.io/websocket"
)

// reply is how the fake answers one command.
type reply struct {
	result any
	err    *protocolError
	// silent leaves the command unanswered.
	silent bool
	// drop closes the connection instead of answering.
	drop bool
}

type recordedCall struct {
	Method string
	Params json.RawMessage
}

// fakeDevTools serves /json/list, /json/new and one page websocket.
type fakeDevTools struct {
	t      *testing.T
	server *httptest.Server

	mu       sync.Mutex
	handlers map[string]func(params json.RawMessage) reply
	calls    []recordedCall
	hasPage  bool
	opened   int
	conn     *websocket.Conn
}

func newFakeDevTools(t *testing.T) *fakeDevTools {
	t.Helper()
	f := &fakeDevTools{
		t:       t,
		hasPage: true,
		handlers: map[string]func(json.RawMessage) reply{
			"Page.enable":    func(json.RawMessage) reply { return reply{result: struct{}{}} },
			"Runtime.enable": func(json.RawMessage) reply { return reply{result: struct{}{}} },
			"Page.navigate": func(json.RawMessage) reply {
				return reply{result: navigateResult{FrameID: "frame-1", LoaderID: "loader-1"}}
			},
		},
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/json/list", f.handleList)
	mux.HandleFunc("/json/new", f.handleNew)
	mux.HandleFunc("/devtools/page/page-1", f.handlePage)
	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeDevTools) host() string {
	return strings.TrimPrefix(f.server.URL, "http://")
}

func (f *fakeDevTools) browserEndpoint() string {
	return "ws://" + f.host() + "/devtools/browser/browser-1"
}

func (f *fakeDevTools) openedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opened
}

func (f *fakeDevTools) handle(method string, fn func(params json.RawMessage) reply) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[method] = fn
}

func (f *fakeDevTools) recorded(method string) []json.RawMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []json.RawMessage
	for _, c := range f.calls {
		if c.Method == method {
			out = append(out, c.Params)
		}
	}
	return out
}

func (f *fakeDevTools) handleList(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	hasPage := f.hasPage
	f.mu.Unlock()

	targets := []target{{ID: "browser-1", Type: "browser"}}
	if hasPage {
		targets = append(targets, target{
			ID:                   "page-1",
			Type:                 "page",
			URL:                  "about:blank",
			WebSocketDebuggerURL: "ws://" + r.Host + "/devtools/page/page-1",
		})
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(targets)
}

func (f *fakeDevTools) handleNew(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		http.Error(w, "use PUT", http.StatusMethodNotAllowed)
		return
	}
	f.mu.Lock()
	f.hasPage = true
	f.opened++
	f.mu.Unlock()
	_, _ = w.Write([]byte(`{"id":"page-1","type":"page"}`))
}

func (f *fakeDevTools) handlePage(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		f.t.Errorf("accept: %v", err)
		return
	}
	f.mu.Lock()
	f.conn = conn
	f.mu.Unlock()

	for {
		_, data, err := conn.Read(r.Context())
		if err != nil {
			return
		}
		var req struct {
			ID     int64           `json:"id"`
			Method string          `json:"method"`
			Params json.RawMessage `json:"params"`
		}
		if err := json.Unmarshal(data, &req); err != nil {
			f.t.Errorf("decode request: %v", err)
			return
		}

		f.mu.Lock()
		f.calls = append(f.calls, recordedCall{Method: req.Method, Params: req.Params})
		fn := f.handlers[req.Method]
		f.mu.Unlock()

		rep := reply{err: &protocolError{Code: -32601, Message: "'" + req.Method + "' wasn't found"}}
		if fn != nil {
			rep = fn(req.Params)
		}
		switch {
		case rep.drop:
			_ = conn.Close(websocket.StatusGoingAway, "browser gone")
			return
		case rep.silent:
			continue
		}

		resp := map[string]any{"id": req.ID}
		if rep.err != nil {
			resp["error"] = rep.err
		} else {
			resp["result"] = rep.result
		}
		f.write(resp)
	}
}

// event pushes a DevTools event to the client.
func (f *fakeDevTools) event(method string, params any) {
	f.write(map[string]any{"method": method, "params": params})
}

func (f *fakeDevTools) write(v any) {
	f.mu.Lock()
	conn := f.conn
	f.mu.Unlock()
	if conn == nil {
		f.t.Errorf("no page connection")
		return
	}
	payload, err := json.Marshal(v)
	if err != nil {
		f.t.Errorf("encode: %v", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, payload); err != nil {
		f.t.Logf("write: %v", err)
	}
}

func evaluateReturning(obj remoteObject) func(json.RawMessage) reply {
	return func(json.RawMessage) reply {
		return reply{result: evaluateResult{Result: obj}}
	}
}
