package client

import "github.com/parley-chat/parley/pkg/envelope"

// Indicator is the "assistant is thinking" flag. It turns on when a prompt is
// submitted and off at the first response or alert, or when the submission
// itself fails. There is no timeout.
type Indicator struct {
	on bool
}

func (i *Indicator) On() bool { return i.on }

// Start is called synchronously on submission.
func (i *Indicator) Start() { i.on = true }

// Observe clears the flag for terminal envelope types and reports whether it did.
func (i *Indicator) Observe(t envelope.Type) bool {
	if !i.on || !t.IsTerminal() {
		return false
	}
	i.on = false
	return true
}

// Fail clears the flag after a submission error.
func (i *Indicator) Fail() { i.on = false }
