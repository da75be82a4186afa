// Package tokens does model-tokenizer token accounting for strings and
// structured message lists. Counting is pure computation: no I/O, no failure
// modes beyond empty input, which counts as zero.
package tokens

import (
	"github.com/pkoukk/tiktoken-go"

	"github.com/pawpal/pawpal-context/internal/models"
)

// Chat-format billing overheads for OpenAI-style endpoints: every message
// costs a fixed number of wrapper tokens plus one for the role, and the reply
// is primed with a fixed preamble. Omitting these under-budgets requests and
// gets them rejected at the provider.
const (
	perMessageOverhead   = 3
	perRoleOverhead      = 1
	replyPrimingOverhead = 3
)

// Counter counts tokens the way the target completion service bills them.
type Counter interface {
	Count(text string) int
	CountMessages(msgs []models.ContextMessage) int
}

// TiktokenCounter counts with the model's actual BPE encoding. Falls back to
// the chars/4 heuristic when the model is unknown to tiktoken.
type TiktokenCounter struct {
	encoding *tiktoken.Tiktoken
}

// NewCounter returns a counter for the given model.
func NewCounter(model string) Counter {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		return HeuristicCounter{}
	}
	return &TiktokenCounter{encoding: enc}
}

func (c *TiktokenCounter) Count(text string) int {
	if text == "" {
		return 0
	}
	return len(c.encoding.Encode(text, nil, nil))
}

func (c *TiktokenCounter) CountMessages(msgs []models.ContextMessage) int {
	return countMessages(c, msgs)
}

// HeuristicCounter estimates ~4 characters per token, rounding up. Good
// enough for threshold comparison when no encoding is available; not billing
// accurate.
type HeuristicCounter struct{}

func (HeuristicCounter) Count(text string) int {
	if len(text) == 0 {
		return 0
	}
	return (len(text) + 3) / 4
}

func (h HeuristicCounter) CountMessages(msgs []models.ContextMessage) int {
	return countMessages(h, msgs)
}

func countMessages(c Counter, msgs []models.ContextMessage) int {
	if len(msgs) == 0 {
		return 0
	}
	total := replyPrimingOverhead
	for _, m := range msgs {
		total += perMessageOverhead + perRoleOverhead
		total += c.Count(m.Content)
	}
	return total
}

// MessageCost is the incremental cost of adding one message to a context,
// excluding the one-off reply priming. The builder uses it to fill budgets
// without overshoot.
func MessageCost(c Counter, m models.ContextMessage) int {
	return perMessageOverhead + perRoleOverhead + c.Count(m.Content)
}

// PrimingCost is the fixed reply-priming overhead of a non-empty context.
func PrimingCost() int {
	return replyPrimingOverhead
}
