package tools

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"aurora/pkg/api"
)

// InvocationResult 是一次工具呼叫的結果。執行失敗不會往上拋錯：
// Err 會被包成結構化錯誤送回模型脈絡，讓模型自行修正。
type InvocationResult struct {
	Result    any
	Err       string
	LatencyMs int64
}

// Failed reports whether the invocation produced an error payload.
func (r InvocationResult) Failed() bool { return r.Err != "" }

// Invoke looks up and executes a tool with a hard timeout and panic
// isolation. Unknown tools, timeouts, panics and tool errors all come back
// as an InvocationResult with Err set; the agent loop never dies because a
// tool misbehaved.
func Invoke(ctx context.Context, reg api.ToolRegistry, name string, args map[string]any, timeout time.Duration) InvocationResult {
	start := time.Now()

	tool, ok := reg.Get(name)
	if !ok {
		return InvocationResult{
			Err:       fmt.Sprintf("unknown tool: %s", name),
			LatencyMs: time.Since(start).Milliseconds(),
		}
	}

	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		result any
		err    error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("🛠 Tool panicked", "tool", name, "panic", r)
				done <- outcome{err: fmt.Errorf("tool panicked: %v", r)}
			}
		}()
		result, err := tool.Execute(execCtx, args)
		done <- outcome{result: result, err: err}
	}()

	select {
	case <-execCtx.Done():
		latency := time.Since(start).Milliseconds()
		slog.Warn("🛠 Tool timed out", "tool", name, "latency_ms", latency)
		return InvocationResult{
			Err:       fmt.Sprintf("tool %s timed out after %s", name, timeout),
			LatencyMs: latency,
		}
	case out := <-done:
		latency := time.Since(start).Milliseconds()
		if out.err != nil {
			slog.Warn("🛠 Tool failed", "tool", name, "error", out.err, "latency_ms", latency)
			return InvocationResult{Err: out.err.Error(), LatencyMs: latency}
		}
		slog.Info("🛠 Tool executed", "tool", name, "latency_ms", latency)
		return InvocationResult{Result: out.result, LatencyMs: latency}
	}
}
