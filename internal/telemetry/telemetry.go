// Package telemetry implements the in-band telemetry sub-protocol: the
// generation backend appends a delimited JSON block to the tail of the text
// stream, and this codec strips it from the visible text and parses it into a
// structured record.
//
// Every field of every record is a pointer. Absence means "unknown", never
// zero; consumers must treat each field as independently missing.
package telemetry

import (
	"encoding/json"
	"regexp"
	"strings"
)

// Wire markers for an embedded telemetry block. Whitespace around the markers
// and the payload is insignificant.
const (
	StartMarker = "[[RUNJSON]]"
	EndMarker   = "[[/RUNJSON]]"
)

var blockPattern = regexp.MustCompile(`(?s)\[\[RUNJSON\]\]\s*(.*?)\s*\[\[/RUNJSON\]\]`)

// Stop reasons used when synthesizing a fallback block for jobs that ended
// without a server-flushed one.
const (
	StopUserCancel           = "user_cancel"
	StopUserCancelTimeout    = "user_cancel_timeout"
	StopEndOfStreamNoMetrics = "end_of_stream_no_metrics"
	StopClientAbortAfterStop = "client_abort_after_stop"
)

// Block is the top-level telemetry document.
type Block struct {
	Stats      *Stats      `json:"stats,omitempty"`
	BudgetView *BudgetView `json:"budgetView,omitempty"`
}

// Stats carries the per-generation performance record.
type Stats struct {
	StopReason          *string  `json:"stopReason,omitempty"`
	TokensPerSecond     *float64 `json:"tokensPerSecond,omitempty"`
	TimeToFirstTokenSec *float64 `json:"timeToFirstToken,omitempty"`
	OutputTokens        *int     `json:"outputTokens,omitempty"`
	InputTokens         *int     `json:"inputTokens,omitempty"`
	TotalTokens         *int     `json:"totalTokens,omitempty"`

	Retrieval *RetrievalStats `json:"retrieval,omitempty"`
	WebSearch *WebSearchStats `json:"webSearch,omitempty"`
	Budget    *BudgetStats    `json:"budget,omitempty"`
	Timings   *TimingStats    `json:"timings,omitempty"`
}

// RetrievalStats is the retrieval-augmentation sub-record.
type RetrievalStats struct {
	ChunksRetrieved *int     `json:"chunksRetrieved,omitempty"`
	ChunksInjected  *int     `json:"chunksInjected,omitempty"`
	TopScore        *float64 `json:"topScore,omitempty"`
	IndexName       *string  `json:"indexName,omitempty"`
	QueryTimeMS     *float64 `json:"queryTimeMs,omitempty"`
}

// WebSearchStats is the web-search sub-record.
type WebSearchStats struct {
	QueryCount   *int     `json:"queryCount,omitempty"`
	ResultsUsed  *int     `json:"resultsUsed,omitempty"`
	Provider     *string  `json:"provider,omitempty"`
	SearchTimeMS *float64 `json:"searchTimeMs,omitempty"`
}

// BudgetStats is the context-packing sub-record nested under stats.
type BudgetStats struct {
	ContextSize     *int `json:"contextSize,omitempty"`
	ClampMargin     *int `json:"clampMargin,omitempty"`
	InputTokens     *int `json:"inputTokens,omitempty"`
	RequestedOutput *int `json:"requestedOutput,omitempty"`
	MaxOutput       *int `json:"maxOutput,omitempty"`
}

// BudgetView is the top-level, pre-normalized budget record. When present it
// wins over the nested BudgetStats.
type BudgetView struct {
	ContextSize     *int `json:"contextSize,omitempty"`
	ClampMargin     *int `json:"clampMargin,omitempty"`
	InputTokens     *int `json:"inputTokens,omitempty"`
	ChosenOutput    *int `json:"chosenOutput,omitempty"`
	MaxOutput       *int `json:"maxOutput,omitempty"`
	AvailableOutput *int `json:"availableOutput,omitempty"`
	Overage         *int `json:"overage,omitempty"`
}

// TimingStats is the fine-grained timing breakdown sub-record.
type TimingStats struct {
	QueueMS      *float64 `json:"queueMs,omitempty"`
	PromptEvalMS *float64 `json:"promptEvalMs,omitempty"`
	EvalMS       *float64 `json:"evalMs,omitempty"`
	TotalMS      *float64 `json:"totalMs,omitempty"`
}

// Flattened is the derived flat metrics view. Each field is independently
// nilable; a missing telemetry block flattens to all-nil, not all-zero.
type Flattened struct {
	TTFTMillis   *float64 `json:"ttft_ms,omitempty"`
	TokPerSec    *float64 `json:"tok_per_sec,omitempty"`
	OutputTokens *int     `json:"output_tokens,omitempty"`
	InputTokens  *int     `json:"input_tokens,omitempty"`
	TotalTokens  *int     `json:"total_tokens,omitempty"`
	StopReason   *string  `json:"stop_reason,omitempty"`
}

// NormalizedBudget is the derived budget view, computed from either the
// top-level BudgetView (authoritative when present) or the nested
// stats.budget record.
type NormalizedBudget struct {
	ContextSize     *int `json:"context_size,omitempty"`
	ClampMargin     *int `json:"clamp_margin,omitempty"`
	InputTokens     *int `json:"input_tokens,omitempty"`
	ChosenOutput    *int `json:"chosen_output,omitempty"`
	MaxOutput       *int `json:"max_output,omitempty"`
	AvailableOutput *int `json:"available_output,omitempty"`
	Overage         *int `json:"overage,omitempty"`
}

// Extract scans the buffer for telemetry blocks. All matched spans are
// removed from the returned text; only the last block's payload is parsed.
// A payload that is not valid JSON still has its span stripped (the caller
// must never surface raw markers) and yields a nil Block.
func Extract(buffer string) (string, *Block) {
	spans := blockPattern.FindAllStringSubmatchIndex(buffer, -1)
	if len(spans) == 0 {
		return buffer, nil
	}

	var clean strings.Builder
	clean.Grow(len(buffer))
	prev := 0
	for _, span := range spans {
		clean.WriteString(buffer[prev:span[0]])
		prev = span[1]
	}
	clean.WriteString(buffer[prev:])

	last := spans[len(spans)-1]
	payload := buffer[last[2]:last[3]]

	var block Block
	if err := json.Unmarshal([]byte(payload), &block); err != nil {
		return clean.String(), nil
	}
	return clean.String(), &block
}

// Flatten derives the flat metrics view. Safe on a nil receiver.
func (b *Block) Flatten() Flattened {
	var f Flattened
	if b == nil || b.Stats == nil {
		return f
	}
	s := b.Stats
	if s.TimeToFirstTokenSec != nil {
		ms := *s.TimeToFirstTokenSec * 1000
		if ms < 0 {
			ms = 0
		}
		f.TTFTMillis = &ms
	}
	f.TokPerSec = s.TokensPerSecond
	f.OutputTokens = s.OutputTokens
	f.InputTokens = s.InputTokens
	f.TotalTokens = s.TotalTokens
	f.StopReason = s.StopReason
	return f
}

// Budget derives the normalized budget view. The top-level BudgetView wins;
// when only the nested stats.budget record exists, the available output
// budget is max(0, contextSize-inputTokens-clampMargin) and the overage is
// max(0, requestedOutput-available). Returns nil when neither record exists.
func (b *Block) Budget() *NormalizedBudget {
	if b == nil {
		return nil
	}
	if v := b.BudgetView; v != nil {
		return &NormalizedBudget{
			ContextSize:     v.ContextSize,
			ClampMargin:     v.ClampMargin,
			InputTokens:     v.InputTokens,
			ChosenOutput:    v.ChosenOutput,
			MaxOutput:       v.MaxOutput,
			AvailableOutput: v.AvailableOutput,
			Overage:         v.Overage,
		}
	}
	if b.Stats == nil || b.Stats.Budget == nil {
		return nil
	}
	n := b.Stats.Budget
	out := &NormalizedBudget{
		ContextSize:  n.ContextSize,
		ClampMargin:  n.ClampMargin,
		InputTokens:  n.InputTokens,
		ChosenOutput: n.RequestedOutput,
		MaxOutput:    n.MaxOutput,
	}
	if n.ContextSize != nil && n.InputTokens != nil && n.ClampMargin != nil {
		available := *n.ContextSize - *n.InputTokens - *n.ClampMargin
		if available < 0 {
			available = 0
		}
		out.AvailableOutput = &available
		if n.RequestedOutput != nil {
			overage := *n.RequestedOutput - available
			if overage < 0 {
				overage = 0
			}
			out.Overage = &overage
		}
	}
	return out
}

// Retrieval surfaces the retrieval-augmentation sub-record, or nil.
func (b *Block) Retrieval() *RetrievalStats {
	if b == nil || b.Stats == nil {
		return nil
	}
	return b.Stats.Retrieval
}

// WebSearch surfaces the web-search sub-record, or nil.
func (b *Block) WebSearch() *WebSearchStats {
	if b == nil || b.Stats == nil {
		return nil
	}
	return b.Stats.WebSearch
}

// ContextPacking surfaces the nested context-packing sub-record, or nil.
func (b *Block) ContextPacking() *BudgetStats {
	if b == nil || b.Stats == nil {
		return nil
	}
	return b.Stats.Budget
}

// Timings surfaces the timing-breakdown sub-record, or nil.
func (b *Block) Timings() *TimingStats {
	if b == nil || b.Stats == nil {
		return nil
	}
	return b.Stats.Timings
}

// Fallback synthesizes a telemetry block for jobs that ended without a
// server-flushed block. The output-token count is a rough estimate derived
// from the accumulated character count.
func Fallback(stopReason string, charCount int) *Block {
	approxTokens := charCount / 4
	return &Block{
		Stats: &Stats{
			StopReason:   &stopReason,
			OutputTokens: &approxTokens,
		},
	}
}
