package alerts

import (
	"context"
	"database/sql"
	"fmt"
	"math/rand"
	"time"

	"github.com/estuary/agent/internal/store"
)

// Outcome reports what a single notifier tick did, for tests and logging.
type Outcome int

const (
	OutcomeNoop Outcome = iota
	OutcomeResolvedSent
	OutcomeAwaitResolution
	OutcomeFailed
)

// Notifier is the generic retrying task executor of §4.7: one instance
// claims and drains notifier_tasks rows, rendering and sending the
// emails of whichever alert each task names.
type Notifier struct {
	Store      *store.Store
	Renderer   *Renderer
	Sender     EmailSender
	Recipients func(catalogName string) []string
}

// Tick claims and drains at most one runnable notifier task, returning
// false if nothing was runnable (§5 "at-most-one active instance per
// task id" scheduler guarantee, shared with the controller engine).
func (n *Notifier) Tick(ctx context.Context, ownerID string) (bool, error) {
	taskID, alertID, state, found, err := n.Store.ClaimRunnableNotifier(ctx, ownerID)
	if err != nil {
		return false, fmt.Errorf("claiming notifier task: %w", err)
	}
	if !found {
		return false, nil
	}

	outcome, nextState, wakeAt := n.run(ctx, alertID, state)
	if outcome == OutcomeFailed {
		nextState.Failures++
	} else {
		nextState.LastError = ""
		nextState.Failures = 0
	}

	var nullWake = wakeAtToNullTime(wakeAt)
	if err := n.Store.ReleaseNotifier(ctx, taskID, nextState, &nullWake); err != nil {
		return true, fmt.Errorf("releasing notifier task: %w", err)
	}
	return true, nil
}

// run renders and sends the alert's outstanding emails, advancing state
// past whatever idempotency key has already succeeded (§4.7
// "try_send_notifications").
func (n *Notifier) run(ctx context.Context, alertID int64, state store.NotifierTaskState) (Outcome, store.NotifierTaskState, *time.Time) {
	alert, err := n.Store.GetAlert(ctx, alertID)
	if err != nil || alert == nil {
		state.LastError = fmt.Sprintf("loading alert %d: %v", alertID, err)
		return OutcomeFailed, state, backoffFor(state.Failures)
	}

	var recipients []string
	if n.Recipients != nil {
		recipients = n.Recipients(string(alert.CatalogName))
	}
	emails, err := n.Renderer.RenderEmails(*alert, recipients)
	if err != nil {
		state.LastError = fmt.Sprintf("rendering emails: %v", err)
		return OutcomeFailed, state, backoffFor(state.Failures)
	}

	for _, email := range emails {
		if state.MaxIdempotencyKey != "" && email.IdempotencyKey <= state.MaxIdempotencyKey {
			continue
		}
		if err := n.Sender.Send(ctx, email); err != nil {
			state.LastError = fmt.Sprintf("sending email %q: %v", email.IdempotencyKey, err)
			return OutcomeFailed, state, backoffFor(state.Failures)
		}
		state.MaxIdempotencyKey = email.IdempotencyKey
	}

	if alert.ResolvedAt != nil {
		state.Done = true
		return OutcomeResolvedSent, state, nil
	}
	// Still open: suspend until a future Fire/Resolve call re-wakes this
	// task (EnsureNotifierTask), matching the Rust original's
	// AwaitResolution outcome. Zero max_idempotency_key so a later
	// resolution email sends regardless of how its key sorts against
	// whatever fired here.
	state.MaxIdempotencyKey = ""
	return OutcomeAwaitResolution, state, nil
}

// backoffFor computes the controller engine's retry delay (§4.6):
// min(n, 5) * 60s plus 1 to that many seconds of random jitter, where n
// counts this failure together with the failures recorded before it.
func backoffFor(failures int) *time.Time {
	var capped = failures + 1
	if capped > 5 {
		capped = 5
	}
	var base = capped * 60
	var seconds = base + 1 + rand.Intn(base)
	var t = time.Now().Add(time.Duration(seconds) * time.Second)
	return &t
}

func wakeAtToNullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
