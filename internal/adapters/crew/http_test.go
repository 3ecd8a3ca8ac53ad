package crew_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avencia/graphrun/internal/adapters/crew"
	"github.com/avencia/graphrun/pkg/ports"
)

// crewRuntime fakes the external crew service: one kickoff endpoint that
// streams scripted NDJSON events, plus the resume endpoint.
type crewRuntime struct {
	mu      sync.Mutex
	events  []string
	resumed []string
	kicked  ports.CrewRequest
}

func (rt *crewRuntime) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /kickoff", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			RunID string `json:"run_id"`
			ports.CrewRequest
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		rt.mu.Lock()
		rt.kicked = body.CrewRequest
		events := rt.events
		rt.mu.Unlock()

		w.Header().Set("Content-Type", "application/x-ndjson")
		flusher := w.(http.Flusher)
		for _, ev := range events {
			fmt.Fprintln(w, ev)
			flusher.Flush()
		}
	})
	mux.HandleFunc("POST /runs/{id}/resume", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Text string `json:"text"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		rt.mu.Lock()
		rt.resumed = append(rt.resumed, body.Text)
		rt.mu.Unlock()
		w.WriteHeader(http.StatusAccepted)
	})
	return mux
}

func TestClient_KickoffDispatchesHooks(t *testing.T) {
	rt := &crewRuntime{events: []string{
		`{"type":"agent_step","payload":{"agent":"researcher","thought":"looking"}}`,
		`{"type":"task_done","payload":{"task":"gather"}}`,
		`{"type":"result","result":{"structured":{"summary":"done"}}}`,
	}}
	srv := httptest.NewServer(rt.handler())
	defer srv.Close()

	var steps, tasks []map[string]any
	hooks := ports.CrewHooks{
		OnAgentStep: func(_ context.Context, p map[string]any) { steps = append(steps, p) },
		OnTaskDone:  func(_ context.Context, p map[string]any) { tasks = append(tasks, p) },
	}

	c := crew.NewClient(srv.URL)
	res, err := c.Kickoff(context.Background(), ports.CrewRequest{CrewID: "crew-1", Input: map[string]any{"q": "hi"}}, hooks)
	require.NoError(t, err)

	assert.Equal(t, map[string]any{"summary": "done"}, res.Structured)
	require.Len(t, steps, 1)
	assert.Equal(t, "researcher", steps[0]["agent"])
	require.Len(t, tasks, 1)
	assert.Equal(t, "crew-1", rt.kicked.CrewID)
}

func TestClient_WaitForUserRoundTrip(t *testing.T) {
	rt := &crewRuntime{events: []string{
		`{"type":"wait_for_user","prompt":"which color?"}`,
		`{"type":"result","result":{"raw":"blue it is"}}`,
	}}
	srv := httptest.NewServer(rt.handler())
	defer srv.Close()

	hooks := ports.CrewHooks{
		WaitForUser: func(_ context.Context, prompt string) (string, error) {
			assert.Equal(t, "which color?", prompt)
			return "blue", nil
		},
	}

	c := crew.NewClient(srv.URL)
	res, err := c.Kickoff(context.Background(), ports.CrewRequest{CrewID: "crew-2"}, hooks)
	require.NoError(t, err)
	assert.Equal(t, "blue it is", res.Raw)
	assert.Equal(t, []string{"blue"}, rt.resumed)
}

func TestClient_ErrorEventFailsKickoff(t *testing.T) {
	rt := &crewRuntime{events: []string{
		`{"type":"agent_step","payload":{}}`,
		`{"type":"error","error":"agent exploded"}`,
	}}
	srv := httptest.NewServer(rt.handler())
	defer srv.Close()

	c := crew.NewClient(srv.URL)
	_, err := c.Kickoff(context.Background(), ports.CrewRequest{CrewID: "crew-3"}, ports.CrewHooks{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "agent exploded")
}

func TestClient_TruncatedStreamFails(t *testing.T) {
	rt := &crewRuntime{events: []string{
		`{"type":"agent_step","payload":{}}`,
	}}
	srv := httptest.NewServer(rt.handler())
	defer srv.Close()

	c := crew.NewClient(srv.URL)
	_, err := c.Kickoff(context.Background(), ports.CrewRequest{CrewID: "crew-4"}, ports.CrewHooks{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "without a result")
}

func TestClient_WaitForUserWithoutWaiter(t *testing.T) {
	rt := &crewRuntime{events: []string{
		`{"type":"wait_for_user","prompt":"anyone?"}`,
	}}
	srv := httptest.NewServer(rt.handler())
	defer srv.Close()

	c := crew.NewClient(srv.URL)
	_, err := c.Kickoff(context.Background(), ports.CrewRequest{CrewID: "crew-5"}, ports.CrewHooks{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no waiter")
}
