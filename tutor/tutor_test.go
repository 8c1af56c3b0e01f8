package tutor

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/openai/openai-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inference-sim/raylab/sim"
)

func TestDemoTutor_Ask(t *testing.T) {
	tests := []struct {
		question string
		contains string
	}{
		{"Why is my TTFT so high?", "Prefill"},
		{"what does VRAM do", "KV Cache"},
		{"How do I get more throughput", "worker nodes"},
		{"Is InfiniBand worth it over ETH?", "synchronization"},
		{"How is billing computed", "GPU hours"},
		{"what does the head node do", "Ray serves"},
		{"tell me a joke", DefaultDemoAnswer},
	}
	for _, tt := range tests {
		t.Run(tt.question, func(t *testing.T) {
			got, err := DemoTutor{}.Ask(context.Background(), tt.question, "")
			require.NoError(t, err)
			assert.Contains(t, got, tt.contains)
		})
	}
}

func TestDemoTutor_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := DemoTutor{}.Ask(ctx, "latency?", "")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSummarize(t *testing.T) {
	e := sim.NewEngine(sim.DefaultCatalog(), sim.EngineConfig{Seed: 1})
	state, err := e.InitialState([]sim.NodeGroupSpec{{Count: 3, GPUType: "H100", GPUsPerNode: 8}}, []string{"tiny-llama", "llama-3-70b"})
	require.NoError(t, err)
	state, err = e.SetNodeOnline(state, "server-2", false)
	require.NoError(t, err)
	controls := sim.DefaultControls()

	// GIVEN no ticks have run
	got := Summarize(state, controls)

	// THEN the summary lists models, workers and controls with zero throughput
	assert.Contains(t, got, "Active Models: tiny-llama, llama-3-70b.")
	assert.Contains(t, got, "Workers: 2/3 online.")
	assert.Contains(t, got, "Network: IB_400G. Placement: PACK. Load balancing: RANDOM.")
	assert.Contains(t, got, "Throughput: 0.")

	// WHEN a tick runs
	state, _ = e.Tick(state, controls)
	got = Summarize(state, controls)

	// THEN the metric headline appears
	assert.Contains(t, got, "Users: 5.")
	assert.Contains(t, got, "Avg latency:")
	assert.Contains(t, got, "Throttle: 1.00.")
}

func TestOpenAITutor_Ask(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		data, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(data, &body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"c-1","object":"chat.completion","created":1,"model":"tiny","choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"Add more nodes."}}]}`)
	}))
	defer srv.Close()

	tut := NewOpenAITutor(srv.URL, "test-key", "tiny")
	answer, err := tut.Ask(context.Background(), "why so slow?", "Throughput: 0.")

	require.NoError(t, err)
	assert.Equal(t, "Add more nodes.", answer)
	assert.Equal(t, "tiny", body["model"])
	messages, ok := body["messages"].([]any)
	require.True(t, ok)
	require.Len(t, messages, 2)
	user := messages[1].(map[string]any)
	assert.Contains(t, user["content"], "Throughput: 0.")
	assert.Contains(t, user["content"], `"why so slow?"`)
}

func TestOpenAITutor_Errors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   string
	}{
		{"server error", http.StatusInternalServerError, `{"error":{"message":"boom"}}`, "tutor completion"},
		{"no choices", http.StatusOK, `{"id":"c","object":"chat.completion","created":1,"model":"m","choices":[]}`, "empty response"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			_, err := NewOpenAITutor(srv.URL, "k", "", option.WithMaxRetries(0)).Ask(context.Background(), "q", "")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestNewOpenAITutor_DefaultModel(t *testing.T) {
	assert.Equal(t, DefaultModel, NewOpenAITutor("", "k", "").model)
}
