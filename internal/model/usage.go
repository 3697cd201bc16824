package model

// TokenUsage tracks model token consumption and tool call counts.
type TokenUsage struct {
	InputTokens         int `json:"inputTokens"`
	OutputTokens        int `json:"outputTokens"`
	CacheCreationTokens int `json:"cacheCreationTokens"`
	CacheReadTokens     int `json:"cacheReadTokens"`
	ModelCalls          int `json:"modelCalls"`
	ToolCalls           int `json:"toolCalls"`
}

// Add merges token usage from another instance.
func (t *TokenUsage) Add(other TokenUsage) {
	t.InputTokens += other.InputTokens
	t.OutputTokens += other.OutputTokens
	t.CacheCreationTokens += other.CacheCreationTokens
	t.CacheReadTokens += other.CacheReadTokens
	t.ModelCalls += other.ModelCalls
	t.ToolCalls += other.ToolCalls
}

// Total returns input plus output tokens.
func (t TokenUsage) Total() int {
	return t.InputTokens + t.OutputTokens
}

// CostBreakdown splits the USD cost of an investigation by source.
type CostBreakdown struct {
	Model        float64 `json:"model"`
	Tools        float64 `json:"tools"`
	Verification float64 `json:"verification"`
	Total        float64 `json:"total"`
}

// Add merges another breakdown and recomputes the total.
func (c *CostBreakdown) Add(other CostBreakdown) {
	c.Model += other.Model
	c.Tools += other.Tools
	c.Verification += other.Verification
	c.Total = c.Model + c.Tools + c.Verification
}
