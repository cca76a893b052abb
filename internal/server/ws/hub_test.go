package ws

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/chainbandit/internal/domain"
)

var allKinds = []domain.EventKind{
	domain.EventInit,
	domain.EventDecision,
	domain.EventUpdate,
	domain.EventReset,
	domain.EventDecay,
}

// delivered emits one event of every kind through h and returns the kinds
// c received, in order.
func delivered(t *testing.T, h *Hub, c *client) []domain.EventKind {
	t.Helper()
	for _, k := range allKinds {
		h.Emit(context.Background(), domain.Event{Kind: k})
	}
	var got []domain.EventKind
	for {
		select {
		case frame := <-c.send:
			var env struct {
				Type    string       `json:"type"`
				Payload domain.Event `json:"payload"`
			}
			require.NoError(t, json.Unmarshal(frame, &env))
			require.Equal(t, "bandit_event", env.Type)
			got = append(got, env.Payload.Kind)
		default:
			return got
		}
	}
}

func TestHubKindFilter(t *testing.T) {
	type step struct {
		action string
		kinds  []string
	}
	tests := []struct {
		name  string
		steps []step
		want  []domain.EventKind
	}{
		{
			name: "fresh client gets everything",
			want: allKinds,
		},
		{
			name:  "unsubscribe on fresh client drops the kind",
			steps: []step{{"unsubscribe", []string{"decision"}}},
			want:  []domain.EventKind{domain.EventInit, domain.EventUpdate, domain.EventReset, domain.EventDecay},
		},
		{
			name:  "subscribe narrows to the listed kinds",
			steps: []step{{"subscribe", []string{"update", "decay"}}},
			want:  []domain.EventKind{domain.EventUpdate, domain.EventDecay},
		},
		{
			name: "subscribe adds to an existing list",
			steps: []step{
				{"subscribe", []string{"update"}},
				{"subscribe", []string{"reset"}},
			},
			want: []domain.EventKind{domain.EventUpdate, domain.EventReset},
		},
		{
			name: "unsubscribing the last kind delivers nothing",
			steps: []step{
				{"subscribe", []string{"update"}},
				{"unsubscribe", []string{"update"}},
			},
			want: nil,
		},
		{
			name: "all restores the default",
			steps: []step{
				{"subscribe", []string{"update"}},
				{"unsubscribe", []string{"update"}},
				{"all", nil},
			},
			want: allKinds,
		},
		{
			name:  "unknown action is ignored",
			steps: []step{{"mute", []string{"update"}}},
			want:  allKinds,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHub(nil, "", Config{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
			c := &client{hub: h, send: make(chan []byte, 16)}
			h.mu.Lock()
			h.clients[c] = struct{}{}
			h.mu.Unlock()

			for _, s := range tt.steps {
				c.applyFilter(filterMsg{Action: s.action, Kinds: s.kinds})
			}
			require.Equal(t, tt.want, delivered(t, h, c))
		})
	}
}
