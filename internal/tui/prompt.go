// internal/tui/prompt.go

package tui

import (
	"github.com/ajankowski/colloquy/internal/permission"
)

// promptExchange pairs one permission request with its reply channel.
type promptExchange struct {
	req   permission.Request
	reply chan permission.Response
}

// PromptBridge carries permission prompts from the gate's goroutine into
// the console's update loop. Ask blocks until the operator answers, which
// is the gate's contract.
type PromptBridge struct {
	exchanges chan promptExchange
}

// NewPromptBridge creates a bridge.
func NewPromptBridge() *PromptBridge {
	return &PromptBridge{exchanges: make(chan promptExchange)}
}

// Ask implements permission.Prompter.
func (b *PromptBridge) Ask(req permission.Request) permission.Response {
	exchange := promptExchange{req: req, reply: make(chan permission.Response, 1)}
	b.exchanges <- exchange
	return <-exchange.reply
}
