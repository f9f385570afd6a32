package session

// AccumulatedUsage aggregates token counts reported by the agent runtime for
// one event loop. Field names mirror the runtime's usage payload.
type AccumulatedUsage struct {
	InputTokens           int64 `bson:"inputTokens" json:"inputTokens"`
	OutputTokens          int64 `bson:"outputTokens" json:"outputTokens"`
	TotalTokens           int64 `bson:"totalTokens" json:"totalTokens"`
	CacheReadInputTokens  int64 `bson:"cacheReadInputTokens" json:"cacheReadInputTokens"`
	CacheWriteInputTokens int64 `bson:"cacheWriteInputTokens" json:"cacheWriteInputTokens"`
}

// AccumulatedMetrics aggregates latency figures for one event loop.
type AccumulatedMetrics struct {
	LatencyMs         int64 `bson:"latencyMs" json:"latencyMs"`
	TimeToFirstByteMs int64 `bson:"timeToFirstByteMs" json:"timeToFirstByteMs"`
}

// CycleMetrics describes event loop cycle counts and durations in seconds.
type CycleMetrics struct {
	TotalCycles      int     `bson:"total_cycles" json:"total_cycles"`
	TotalDuration    float64 `bson:"total_duration" json:"total_duration"`
	AverageCycleTime float64 `bson:"average_cycle_time" json:"average_cycle_time"`
}

// ToolExecutionStats are the per-tool counters retained in storage.
type ToolExecutionStats struct {
	CallCount    int     `bson:"call_count" json:"call_count"`
	SuccessCount int     `bson:"success_count" json:"success_count"`
	ErrorCount   int     `bson:"error_count" json:"error_count"`
	TotalTime    float64 `bson:"total_time" json:"total_time"`
	AverageTime  float64 `bson:"average_time" json:"average_time"`
	SuccessRate  float64 `bson:"success_rate" json:"success_rate"`
}

// ToolMetric is the per-tool shape the agent runtime reports: a tool info
// block plus execution counters. Only the counters survive into storage.
type ToolMetric struct {
	ToolInfo       map[string]interface{} `json:"tool_info,omitempty"`
	ExecutionStats ToolExecutionStats     `json:"execution_stats"`
}

// MetricsSummary is the full metrics snapshot read from the agent runtime
// after a turn. SyncAgent flattens it into an EventLoopMetrics for storage.
type MetricsSummary struct {
	AccumulatedUsage   AccumulatedUsage      `json:"accumulated_usage"`
	AccumulatedMetrics AccumulatedMetrics    `json:"accumulated_metrics"`
	TotalCycles        int                   `json:"total_cycles"`
	TotalDuration      float64               `json:"total_duration"`
	AverageCycleTime   float64               `json:"average_cycle_time"`
	ToolUsage          map[string]ToolMetric `json:"tool_usage,omitempty"`
}

// EventLoopMetrics is the stored form of a turn's metrics, attached to the
// message that closed the turn. ToolUsage is flattened to execution stats
// keyed by tool name; tool info blocks are dropped.
type EventLoopMetrics struct {
	AccumulatedUsage   AccumulatedUsage              `bson:"accumulated_usage" json:"accumulated_usage"`
	AccumulatedMetrics AccumulatedMetrics            `bson:"accumulated_metrics" json:"accumulated_metrics"`
	CycleMetrics       CycleMetrics                  `bson:"cycle_metrics" json:"cycle_metrics"`
	ToolUsage          map[string]ToolExecutionStats `bson:"tool_usage,omitempty" json:"tool_usage,omitempty"`
}

// BuildEventLoopMetrics converts a runtime metrics summary into the stored
// per-message form.
func BuildEventLoopMetrics(summary *MetricsSummary) *EventLoopMetrics {
	if summary == nil {
		return nil
	}
	metrics := &EventLoopMetrics{
		AccumulatedUsage:   summary.AccumulatedUsage,
		AccumulatedMetrics: summary.AccumulatedMetrics,
		CycleMetrics: CycleMetrics{
			TotalCycles:      summary.TotalCycles,
			TotalDuration:    summary.TotalDuration,
			AverageCycleTime: summary.AverageCycleTime,
		},
	}
	if len(summary.ToolUsage) > 0 {
		metrics.ToolUsage = make(map[string]ToolExecutionStats, len(summary.ToolUsage))
		for name, tool := range summary.ToolUsage {
			metrics.ToolUsage[name] = tool.ExecutionStats
		}
	}
	return metrics
}
