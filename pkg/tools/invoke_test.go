package tools

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedTool struct {
	name    string
	execute func(ctx context.Context, args map[string]any) (any, error)
}

func (t *scriptedTool) Name() string               { return t.name }
func (t *scriptedTool) Description() string        { return "test tool" }
func (t *scriptedTool) Parameters() map[string]any { return map[string]any{"type": "object"} }
func (t *scriptedTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	return t.execute(ctx, args)
}

func TestInvokeSuccess(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&scriptedTool{
		name: "echo",
		execute: func(_ context.Context, args map[string]any) (any, error) {
			return map[string]any{"echo": args["msg"]}, nil
		},
	})

	res := Invoke(context.Background(), reg, "echo", map[string]any{"msg": "hi"}, time.Second)
	assert.False(t, res.Failed())
	assert.Equal(t, map[string]any{"echo": "hi"}, res.Result)
	assert.GreaterOrEqual(t, res.LatencyMs, int64(0))
}

func TestInvokeUnknownTool(t *testing.T) {
	reg := NewRegistry()
	res := Invoke(context.Background(), reg, "nope", nil, time.Second)
	assert.True(t, res.Failed())
	assert.Contains(t, res.Err, "unknown tool")
}

func TestInvokeToolError(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&scriptedTool{
		name: "broken",
		execute: func(_ context.Context, _ map[string]any) (any, error) {
			return nil, errors.New("backend unreachable")
		},
	})

	res := Invoke(context.Background(), reg, "broken", nil, time.Second)
	assert.True(t, res.Failed())
	assert.Contains(t, res.Err, "backend unreachable")
}

func TestInvokeTimeout(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&scriptedTool{
		name: "slow",
		execute: func(ctx context.Context, _ map[string]any) (any, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	})

	res := Invoke(context.Background(), reg, "slow", nil, 50*time.Millisecond)
	assert.True(t, res.Failed())
	assert.Contains(t, res.Err, "timed out")
}

func TestInvokeRecoversPanic(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&scriptedTool{
		name: "bomb",
		execute: func(_ context.Context, _ map[string]any) (any, error) {
			panic("boom")
		},
	})

	res := Invoke(context.Background(), reg, "bomb", nil, time.Second)
	assert.True(t, res.Failed())
	assert.Contains(t, res.Err, "boom")
}

func TestProfileToolKnownUser(t *testing.T) {
	tool := NewProfileTool()
	out, err := tool.Execute(context.Background(), map[string]any{"user_id": "user1"})
	require.NoError(t, err)

	profile := out.(map[string]any)
	assert.Equal(t, "user1", profile["user_id"])
	assert.Equal(t, "Alice Johnson", profile["name"])
	assert.Equal(t, "premium", profile["subscription_tier"])
	assert.Equal(t, "active", profile["account_status"])
}

func TestProfileToolUnknownUserSynthesized(t *testing.T) {
	tool := NewProfileTool()
	out, err := tool.Execute(context.Background(), map[string]any{"user_id": "somebody-else"})
	require.NoError(t, err)

	profile := out.(map[string]any)
	assert.Equal(t, "pending", profile["account_status"])
	assert.Equal(t, "somebody-else@example.com", profile["email"])
}

func TestProfileToolMissingUserID(t *testing.T) {
	tool := NewProfileTool()
	_, err := tool.Execute(context.Background(), map[string]any{})
	assert.Error(t, err)
}

func TestMetricsToolFilters(t *testing.T) {
	tool := NewMetricsTool()

	out, err := tool.Execute(context.Background(), map[string]any{"metric_type": "cpu"})
	require.NoError(t, err)
	cpu := out.(map[string]any)
	assert.Contains(t, cpu, "cpu_usage_percent")
	assert.NotContains(t, cpu, "memory_alloc_mb")

	out, err = tool.Execute(context.Background(), map[string]any{"metric_type": "memory"})
	require.NoError(t, err)
	mem := out.(map[string]any)
	assert.Contains(t, mem, "memory_alloc_mb")
	assert.NotContains(t, mem, "cpu_usage_percent")

	out, err = tool.Execute(context.Background(), map[string]any{"metric_type": "all"})
	require.NoError(t, err)
	all := out.(map[string]any)
	assert.Contains(t, all, "cpu_usage_percent")
	assert.Contains(t, all, "memory_alloc_mb")
	assert.Contains(t, all, "uptime_seconds")
}

func TestMetricsToolRejectsUnknownType(t *testing.T) {
	tool := NewMetricsTool()
	_, err := tool.Execute(context.Background(), map[string]any{"metric_type": "disk"})
	assert.Error(t, err)
}
