package domain

import "fmt"

type OutcomeType string

const (
	OutcomeSuccess OutcomeType = "success"
	OutcomeWarning OutcomeType = "warning"
	OutcomeError   OutcomeType = "error"
	// OutcomeInfo marks a request that changed nothing.
	OutcomeInfo OutcomeType = "info"
)

// Outcome is the user-facing summary of a mutation.
type Outcome struct {
	Type    OutcomeType `json:"type"`
	Title   string      `json:"title"`
	Message string      `json:"message"`
	Detail  string      `json:"detail,omitempty"`
}

func Success(title, format string, args ...any) Outcome {
	return Outcome{Type: OutcomeSuccess, Title: title, Message: fmt.Sprintf(format, args...)}
}

func Warning(title, format string, args ...any) Outcome {
	return Outcome{Type: OutcomeWarning, Title: title, Message: fmt.Sprintf(format, args...)}
}

func Failure(title, format string, args ...any) Outcome {
	return Outcome{Type: OutcomeError, Title: title, Message: fmt.Sprintf(format, args...)}
}

func Info(title, format string, args ...any) Outcome {
	return Outcome{Type: OutcomeInfo, Title: title, Message: fmt.Sprintf(format, args...)}
}

// WithDetail returns a copy of o carrying detail.
func (o Outcome) WithDetail(format string, args ...any) Outcome {
	o.Detail = fmt.Sprintf(format, args...)
	return o
}

// StockDelta is the committed change to a variant's counters. Positive values
// consume stock, negative values restore it.
type StockDelta struct {
	Sale   int `json:"sale"`
	Rental int `json:"rental"`
}

func (d StockDelta) IsZero() bool {
	return d.Sale == 0 && d.Rental == 0
}

func (d StockDelta) Add(o StockDelta) StockDelta {
	return StockDelta{Sale: d.Sale + o.Sale, Rental: d.Rental + o.Rental}
}
