package tools

import (
	"context"
	"fmt"
	"runtime"
	"time"
)

// MetricsTool 回報系統指標。記憶體數字取自 Go runtime，
// CPU 沒有可攜的 stdlib 來源，用固定的模擬值。
type MetricsTool struct {
	startedAt time.Time
}

func NewMetricsTool() *MetricsTool {
	return &MetricsTool{startedAt: time.Now()}
}

func (t *MetricsTool) Name() string {
	return "get_system_metrics"
}

func (t *MetricsTool) Description() string {
	return "Get current system metrics including CPU, memory, and response time"
}

func (t *MetricsTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"metric_type": map[string]any{
				"type":        "string",
				"enum":        []string{"cpu", "memory", "all"},
				"description": "Type of metric to retrieve",
			},
		},
		"required": []string{"metric_type"},
	}
}

func (t *MetricsTool) Execute(_ context.Context, args map[string]any) (any, error) {
	metricType, _ := args["metric_type"].(string)
	if metricType == "" {
		metricType = "all"
	}

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	cpu := map[string]any{
		"cpu_usage_percent": 42.5,
		"goroutines":        runtime.NumGoroutine(),
	}
	memory := map[string]any{
		"memory_alloc_mb": float64(ms.Alloc) / (1024 * 1024),
		"memory_sys_mb":   float64(ms.Sys) / (1024 * 1024),
		"gc_cycles":       ms.NumGC,
	}

	switch metricType {
	case "cpu":
		return cpu, nil
	case "memory":
		return memory, nil
	case "all":
		all := map[string]any{
			"uptime_seconds": int(time.Since(t.startedAt).Seconds()),
			"timestamp":      time.Now().UTC().Format(time.RFC3339),
		}
		for k, v := range cpu {
			all[k] = v
		}
		for k, v := range memory {
			all[k] = v
		}
		return all, nil
	}
	return nil, fmt.Errorf("unknown metric_type: %s", metricType)
}
