package alerts

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/estuary/agent/internal/store"
	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	sent []NotificationEmail
}

func (f *fakeSender) Send(ctx context.Context, email NotificationEmail) error {
	f.sent = append(f.sent, email)
	return nil
}

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// TestFireResolveRoundTrip reproduces §8's alert fire/resolve scenario:
// firing enqueues a notifier task that sends one email per recipient,
// then resolving re-wakes it to send the resolution email, and a second
// Fire while the alert is still open is a no-op.
func TestFireResolveRoundTrip(t *testing.T) {
	var ctx = context.Background()
	var st = openTestStore(t)
	var sender = &fakeSender{}
	var n = &Notifier{
		Store:      st,
		Renderer:   NewRenderer("https://dashboard.example.com"),
		Sender:     sender,
		Recipients: func(string) []string { return []string{"ops@acme.example"} },
	}

	require.NoError(t, Fire(ctx, st, "acmeCo/cats", "BackgroundPublicationFailed", json.RawMessage(`{"reason":"connector timeout"}`)))

	// Firing again while still open must not create a second row.
	require.NoError(t, Fire(ctx, st, "acmeCo/cats", "BackgroundPublicationFailed", json.RawMessage(`{"reason":"again"}`)))

	ran, err := n.Tick(ctx, "owner-1")
	require.NoError(t, err)
	require.True(t, ran)
	require.Len(t, sender.sent, 1)
	require.Contains(t, sender.sent[0].Subject, "alert:")

	// Nothing else is runnable: the task is suspended awaiting resolution.
	ran, err = n.Tick(ctx, "owner-1")
	require.NoError(t, err)
	require.False(t, ran)

	require.NoError(t, Resolve(ctx, st, "acmeCo/cats", "BackgroundPublicationFailed", json.RawMessage(`{}`)))

	ran, err = n.Tick(ctx, "owner-1")
	require.NoError(t, err)
	require.True(t, ran)
	require.Len(t, sender.sent, 2)
	require.Contains(t, sender.sent[1].Subject, "resolved")

	// Resolved and drained: no further runnable task.
	ran, err = n.Tick(ctx, "owner-1")
	require.NoError(t, err)
	require.False(t, ran)
}

// TestAwaitResolutionZeroesMaxIdempotencyKey reproduces §4.7: a tick that
// sends every outstanding email for a still-open alert zeroes
// max_idempotency_key before suspending, rather than leaving it pinned
// to the last-fired key.
func TestAwaitResolutionZeroesMaxIdempotencyKey(t *testing.T) {
	var ctx = context.Background()
	var st = openTestStore(t)
	var sender = &fakeSender{}
	var n = &Notifier{
		Store:      st,
		Renderer:   NewRenderer("https://dashboard.example.com"),
		Sender:     sender,
		Recipients: func(string) []string { return []string{"ops@acme.example"} },
	}

	require.NoError(t, Fire(ctx, st, "acmeCo/cats", "BackgroundPublicationFailed", json.RawMessage(`{}`)))
	alert, err := st.OpenAlert(ctx, "acmeCo/cats", "BackgroundPublicationFailed")
	require.NoError(t, err)
	require.NotNil(t, alert)

	outcome, nextState, _ := n.run(ctx, alert.ID, store.NotifierTaskState{})
	require.Equal(t, OutcomeAwaitResolution, outcome)
	require.Empty(t, nextState.MaxIdempotencyKey)
}
