package tool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// TimeoutCeiling is the hard upper bound on a single tool invocation. The
// effective timeout is min(caller timeout, descriptor timeout, ceiling).
const TimeoutCeiling = 30 * time.Second

// EventSink receives structured invocation events. Emission must never block
// the invoker; implementations drop on backpressure.
type EventSink interface {
	Emit(kind string, fields map[string]any)
}

// InvokeOptions carries per-call settings supplied by the orchestrator.
type InvokeOptions struct {
	// Timeout is the caller-supplied budget for this call. Zero means the
	// descriptor timeout (capped by TimeoutCeiling) applies alone.
	Timeout time.Duration
}

// Invoker wraps a single tool call with a cancellation/timeout envelope.
type Invoker struct {
	registry *Registry
	log      *slog.Logger
	sink     EventSink
	ceiling  time.Duration
}

func NewInvoker(registry *Registry, log *slog.Logger, sink EventSink) *Invoker {
	if log == nil {
		log = slog.Default()
	}
	return &Invoker{
		registry: registry,
		log:      log.With("component", "tool_invoker"),
		sink:     sink,
		ceiling:  TimeoutCeiling,
	}
}

// Invoke runs one tool call. Unknown names fail fast with no timer started.
// Handler panics and errors are absorbed at this boundary and always come
// back as a classified InvocationResult; the error return is reserved for
// invoker misuse (nil receiver, unknown tool).
func (iv *Invoker) Invoke(ctx context.Context, name string, inputs map[string]any, opts InvokeOptions) (InvocationResult, error) {
	if iv == nil || iv.registry == nil {
		return InvocationResult{}, errors.New("nil tool invoker")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	name = strings.TrimSpace(name)

	desc, err := iv.registry.Lookup(name)
	if err != nil {
		return InvocationResult{}, err
	}

	timeout := effectiveTimeout(opts.Timeout, desc.Timeout, iv.ceiling)
	started := time.Now()
	sanitized := SanitizeInputs(inputs)

	iv.log.Debug("tool invocation started", "tool", name, "timeout_ms", timeout.Milliseconds(), "inputs", sanitized)
	iv.emit("invoke.begin", map[string]any{"tool": name, "timeout_ms": timeout.Milliseconds(), "inputs": sanitized})

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type handlerOutcome struct {
		data map[string]any
		err  error
	}
	done := make(chan handlerOutcome, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- handlerOutcome{err: fmt.Errorf("tool panic: %v", rec)}
			}
		}()
		data, err := desc.Handler(callCtx, inputs)
		done <- handlerOutcome{data: data, err: err}
	}()

	var res InvocationResult
	select {
	case out := <-done:
		res = iv.finish(&desc, out.data, out.err, started)
	case <-callCtx.Done():
		// A late-completing handler's result is discarded; the reported
		// outcome always reflects the cancellation, never a race with a
		// late success.
		res = iv.finishCancelled(&desc, callCtx.Err(), started)
	}

	iv.registry.recordCall(name, !res.Success)
	iv.logResult(res)
	return res, nil
}

func (iv *Invoker) finish(d *Descriptor, data map[string]any, err error, started time.Time) InvocationResult {
	res := InvocationResult{
		ToolName:   d.Name,
		DurationMs: time.Since(started).Milliseconds(),
		AtUnixMs:   time.Now().UnixMilli(),
	}
	if err != nil {
		res.Error = classifyError(d, err)
		if errors.Is(err, context.DeadlineExceeded) {
			res.Error.Code = ErrorCodeTimeout
			res.Cancelled = true
		} else if errors.Is(err, context.Canceled) {
			res.Error.Code = ErrorCodeCanceled
			res.Cancelled = true
		}
		// A failing handler may still report side effects it already
		// applied; those must reach the journal for rollback.
		res.Changes = liftFileChanges(data)
		return res
	}
	res.Success = true
	res.Data = data
	res.Satisfies = liftSatisfies(data)
	res.Changes = liftFileChanges(data)
	return res
}

func (iv *Invoker) finishCancelled(d *Descriptor, cause error, started time.Time) InvocationResult {
	code := ErrorCodeCanceled
	msg := "tool execution canceled"
	if errors.Is(cause, context.DeadlineExceeded) {
		code = ErrorCodeTimeout
		msg = "tool execution timed out"
	}
	return InvocationResult{
		ToolName:   d.Name,
		Cancelled:  true,
		Error:      &Error{Code: code, Message: msg, ToolName: d.Name},
		DurationMs: time.Since(started).Milliseconds(),
		AtUnixMs:   time.Now().UnixMilli(),
	}
}

func (iv *Invoker) logResult(res InvocationResult) {
	fields := map[string]any{
		"tool":        res.ToolName,
		"success":     res.Success,
		"cancelled":   res.Cancelled,
		"duration_ms": res.DurationMs,
	}
	if res.Error != nil {
		fields["error_code"] = string(res.Error.Code)
		fields["error"] = res.Error.Message
	}
	if len(res.Data) > 0 {
		fields["outputs"] = SanitizeInputs(res.Data)
	}
	if res.Success {
		iv.log.Info("tool invocation completed", "tool", res.ToolName, "duration_ms", res.DurationMs)
	} else {
		iv.log.Warn("tool invocation failed", "tool", res.ToolName, "duration_ms", res.DurationMs, "error", fields["error"])
	}
	iv.emit("invoke.end", fields)
}

func (iv *Invoker) emit(kind string, fields map[string]any) {
	if iv == nil || iv.sink == nil {
		return
	}
	iv.sink.Emit(kind, fields)
}

func effectiveTimeout(caller, descriptor, ceiling time.Duration) time.Duration {
	out := ceiling
	if out <= 0 {
		out = TimeoutCeiling
	}
	if descriptor > 0 && descriptor < out {
		out = descriptor
	}
	if caller > 0 && caller < out {
		out = caller
	}
	return out
}

func liftSatisfies(data map[string]any) []string {
	if data == nil {
		return nil
	}
	raw, ok := data["satisfies"]
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case []string:
		return append([]string(nil), v...)
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, _ := item.(string)
			s = strings.TrimSpace(s)
			if s != "" {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func liftFileChanges(data map[string]any) []FileChange {
	if data == nil {
		return nil
	}
	raw, ok := data["file_changes"]
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case []FileChange:
		return append([]FileChange(nil), v...)
	case []map[string]any:
		return fileChangesFromMaps(v)
	case []any:
		maps := make([]map[string]any, 0, len(v))
		for _, item := range v {
			if m, ok := item.(map[string]any); ok {
				maps = append(maps, m)
			}
		}
		return fileChangesFromMaps(maps)
	default:
		return nil
	}
}

func fileChangesFromMaps(maps []map[string]any) []FileChange {
	out := make([]FileChange, 0, len(maps))
	for _, m := range maps {
		path, _ := m["path"].(string)
		id, _ := m["backup_id"].(string)
		if strings.TrimSpace(path) == "" {
			continue
		}
		out = append(out, FileChange{Path: path, BackupID: id})
	}
	return out
}
