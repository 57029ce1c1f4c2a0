package workflow

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/orchestra/internal/invoker"
	"github.com/felixgeelhaar/orchestra/internal/log"
)

func TestDefaultHandlerDispatchesAgents(t *testing.T) {
	ctx := context.Background()
	inv := invoker.Func(func(_ context.Context, req invoker.Request) invoker.Result {
		assert.Equal(t, invoker.SchemaStatus, req.Schema)
		assert.Equal(t, "analysis", req.Metadata["phase"])
		return invoker.Succeeded(invoker.StatusPayload{
			Status:      "complete",
			Discoveries: []string{req.Agent + " found a legacy module"},
		})
	})

	store := newStore(t)
	_, err := store.Load(ctx)
	require.NoError(t, err)

	h := &DefaultHandler{Invoker: inv}
	res, err := h.Handle(ctx, &PhaseContext{
		Phase:    Phase{Name: "analysis", Agents: []string{"explorer", "architect"}, Parallel: true},
		Attempt:  1,
		Store:    store,
		Manifest: demoManifest(),
		Logger:   log.Discard(),
	})
	require.NoError(t, err)
	assert.True(t, res.Success)

	st := store.State()
	require.Len(t, st.Discoveries, 2)
	assert.Equal(t, "explorer", st.Discoveries[0].Source)
	assert.Equal(t, "architect found a legacy module", st.Discoveries[1].Content)
}

func TestDefaultHandlerFailures(t *testing.T) {
	tests := []struct {
		name   string
		result invoker.Result
		ok     bool
	}{
		{"failed call", invoker.Failed(invoker.ClassNonRetryable, "boom"), false},
		{"failed status", invoker.Succeeded(invoker.StatusPayload{Status: "failed"}), false},
		{"free-form output", invoker.Result{Success: true, Payload: []byte(`"done"`)}, true},
		{"status without verdict", invoker.Succeeded(map[string]any{"summary": "ok"}), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newStore(t)
			_, err := store.Load(context.Background())
			require.NoError(t, err)

			inv := invoker.Func(func(context.Context, invoker.Request) invoker.Result { return tt.result })
			h := &DefaultHandler{Invoker: inv}
			res, err := h.Handle(context.Background(), &PhaseContext{
				Phase:  Phase{Name: "p", Agents: []string{"worker"}},
				Store:  store,
				Logger: log.Discard(),
			})
			require.NoError(t, err)
			assert.Equal(t, tt.ok, res.Success, res.Error)
		})
	}
}

func TestDefaultHandlerSequential(t *testing.T) {
	var inFlight, peak atomic.Int32
	inv := invoker.Func(func(context.Context, invoker.Request) invoker.Result {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		inFlight.Add(-1)
		return invoker.Succeeded(invoker.StatusPayload{Status: "complete"})
	})

	store := newStore(t)
	_, err := store.Load(context.Background())
	require.NoError(t, err)

	h := &DefaultHandler{Invoker: inv}
	res, err := h.Handle(context.Background(), &PhaseContext{
		Phase:  Phase{Name: "p", Agents: []string{"a", "b", "c"}, Parallel: false},
		Store:  store,
		Logger: log.Discard(),
	})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, int32(1), peak.Load())
}

func TestDefaultHandlerNoAgents(t *testing.T) {
	h := &DefaultHandler{}
	res, err := h.Handle(context.Background(), &PhaseContext{Phase: Phase{Name: "empty"}, Logger: log.Discard()})
	require.NoError(t, err)
	assert.True(t, res.Success)
}
