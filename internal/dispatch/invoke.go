package dispatch

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/mattjoyce/majordomo/internal/flow"
	"github.com/mattjoyce/majordomo/internal/journal"
	"github.com/mattjoyce/majordomo/internal/protocol"
	"github.com/mattjoyce/majordomo/internal/registry"
	"github.com/mattjoyce/majordomo/internal/sandbox"
	"github.com/mattjoyce/majordomo/internal/snapshot"
)

// invoke is the shared execution path behind all four entry points: resolve
// datasets and the artifact, build the payload, run the sandbox, journal the
// outcome and apply the result.
func (r *Router) invoke(ctx context.Context, snap *snapshot.Snapshot, route snapshot.Route, event protocol.Event, schedule string) error {
	invID := uuid.NewString()
	started := time.Now().UTC()
	invLogger := r.logger.With(
		"invocation_id", invID,
		"chat_id", snap.ChatID,
		"service", route.ServiceID,
	)

	finish := func(status, errText string, cause error) error {
		r.deps.Journal.Record(ctx, &journal.Entry{
			ID:          invID,
			ChatID:      snap.ChatID,
			ServiceID:   route.ServiceID,
			Kind:        route.Kind,
			Trigger:     triggerString(event, schedule),
			Status:      status,
			Error:       errText,
			StartedAt:   started,
			CompletedAt: time.Now().UTC(),
		})
		return cause
	}

	datasets, err := r.deps.Datasets.Resolve(ctx, route.Datasets)
	if err != nil {
		invLogger.Error("dataset resolution failed", "error", err)
		r.replyGenericError(ctx, snap.ChatID, event)
		return finish(journal.StatusError, fmt.Sprintf("datasets: %v", err), err)
	}

	entryPath, err := r.deps.Artifacts.Resolve(ctx, route.Source)
	if err != nil {
		invLogger.Error("artifact resolution failed", "error", err)
		r.replyGenericError(ctx, snap.ChatID, event)
		return finish(journal.StatusError, fmt.Sprintf("artifact: %v", err), err)
	}

	payload := &protocol.Payload{
		Protocol:     protocol.Version,
		InvocationID: invID,
		Event:        event,
		Context: protocol.Context{
			ChatID:    snap.ChatID,
			ServiceID: route.ServiceID,
			Locale:    snap.Locale,
			Timezone:  snap.Timezone,
			Config:    route.Config,
			Datasets:  datasets,
		},
	}

	if carriesFlowState(route, event) {
		flowSnap, ok, err := r.deps.Flows.Read(ctx, snap.ChatID, route.ServiceID)
		if err != nil {
			invLogger.Error("flow state read failed", "error", err)
			r.replyGenericError(ctx, snap.ChatID, event)
			return finish(journal.StatusError, fmt.Sprintf("flow state: %v", err), err)
		}
		if ok {
			payload.Context.State = flowSnap.State
			payload.Context.StateVersion = flowSnap.Version
		}
	}

	result, err := r.deps.Executor.Execute(ctx, &sandbox.Spec{
		EntryPath: entryPath,
		Grant:     sandbox.ResolveGrant(route.Capabilities, r.opts.SandboxLimits),
		Payload:   payload,
	})
	if err != nil {
		status := executionStatus(err)
		invLogger.Error("sandbox execution failed", "status", status, "error", err)
		r.replyGenericError(ctx, snap.ChatID, event)
		return finish(status, err.Error(), err)
	}

	status := journal.StatusOK
	var errText string

	if aerr := r.applyResult(ctx, snap.ChatID, route, event, result); aerr != nil {
		invLogger.Error("failed to apply result", "error", aerr)
		status = journal.StatusError
		errText = aerr.Error()
	}

	if result.State != nil {
		if derr := r.applyDirective(ctx, snap.ChatID, route.ServiceID, result.State); derr != nil {
			if errors.Is(derr, flow.ErrConflict) {
				invLogger.Warn("state directive lost the write race", "op", result.State.Op)
				status = journal.StatusConflict
				errText = "state conflict after retries"
				if interactive(event) {
					_ = r.deps.Transport.SendReply(ctx, snap.ChatID, conflictRetryReply, "", nil)
				}
			} else {
				invLogger.Error("state directive failed", "op", result.State.Op, "error", derr)
				status = journal.StatusError
				errText = fmt.Sprintf("state directive: %v", derr)
			}
		}
	}

	if result.Kind == protocol.KindError {
		invLogger.Warn("service reported error", "message", result.Message)
		status = journal.StatusError
		errText = result.Message
	}

	var cause error
	if status != journal.StatusOK {
		cause = fmt.Errorf("invocation %s: %s", status, errText)
	}
	return finish(status, errText, cause)
}

// applyResult sends the service's answer through the transport.
func (r *Router) applyResult(ctx context.Context, chatID string, route snapshot.Route, event protocol.Event, result *protocol.Result) error {
	switch result.Kind {
	case protocol.KindReply:
		return r.deps.Transport.SendReply(ctx, chatID, result.Text, result.ParseMode,
			r.encodeButtons(chatID, route, result.Buttons))
	case protocol.KindEdit:
		return r.deps.Transport.EditMessage(ctx, chatID, result.MessageID, result.Text, result.ParseMode)
	case protocol.KindNone:
		return nil
	case protocol.KindError:
		r.replyGenericError(ctx, chatID, event)
		return nil
	default:
		return fmt.Errorf("unhandled result kind %q", result.Kind)
	}
}

// encodeButtons turns service button declarations into wire callback data.
// The short id is supplied here, never by the service, so buttons can only
// address the service that produced them. Oversized buttons are dropped.
func (r *Router) encodeButtons(chatID string, route snapshot.Route, rows [][]protocol.Button) [][]Button {
	if len(rows) == 0 {
		return nil
	}
	out := make([][]Button, 0, len(rows))
	for _, row := range rows {
		outRow := make([]Button, 0, len(row))
		for _, b := range row {
			data, err := protocol.EncodeCallback(route.ShortID, b.Params)
			if err != nil {
				r.logger.Warn("dropping oversized callback button",
					"chat_id", chatID, "service", route.ServiceID,
					"label", b.Label, "error", err)
				continue
			}
			outRow = append(outRow, Button{Label: b.Label, Data: data})
		}
		if len(outRow) > 0 {
			out = append(out, outRow)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// applyDirective applies a state directive with bounded retry on version
// conflict. Each retry re-reads current state, so lost races converge unless
// contention is sustained.
func (r *Router) applyDirective(ctx context.Context, chatID, serviceID string, d *protocol.StateDirective) error {
	var err error
	for attempt := 0; attempt < r.opts.ConflictRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(rand.Intn(50)+10) * time.Millisecond):
			}
		}
		err = r.deps.Flows.ApplyDirective(ctx, chatID, serviceID, d)
		if err == nil || !errors.Is(err, flow.ErrConflict) {
			return err
		}
	}
	return err
}

func (r *Router) replyGenericError(ctx context.Context, chatID string, event protocol.Event) {
	if !interactive(event) {
		return
	}
	if err := r.deps.Transport.SendReply(ctx, chatID, genericErrorReply, "", nil); err != nil {
		r.logger.Warn("failed to send error reply", "chat_id", chatID, "error", err)
	}
}

// interactive reports whether a user is waiting on this event. Listener and
// scheduled failures stay out of the chat; they are journaled and logged.
func interactive(event protocol.Event) bool {
	return event.Type == protocol.EventCommand || event.Type == protocol.EventCallback
}

// carriesFlowState reports whether the payload should include persisted flow
// state: multi-step flows always, and any callback tap (its service may be
// mid-flow regardless of declared kind).
func carriesFlowState(route snapshot.Route, event protocol.Event) bool {
	return route.Kind == registry.KindCommandFlow || event.Type == protocol.EventCallback
}

func executionStatus(err error) string {
	var timeoutErr *sandbox.TimeoutError
	var protoErr *sandbox.ProtocolError
	switch {
	case errors.As(err, &timeoutErr):
		return journal.StatusTimeout
	case errors.As(err, &protoErr):
		return journal.StatusProtocol
	default:
		return journal.StatusError
	}
}

func triggerString(event protocol.Event, schedule string) string {
	switch event.Type {
	case protocol.EventCommand:
		return "command:" + event.Command
	case protocol.EventCallback:
		return "callback"
	case protocol.EventMessage:
		return "message"
	case protocol.EventScheduled:
		return "schedule:" + schedule
	default:
		return event.Type
	}
}
