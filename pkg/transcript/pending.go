package transcript

import "github.com/rhuss/alpha/pkg/api"

// pendingCalls holds tool calls awaiting their results, keyed by call id.
// Issue order is kept so discarded calls can be reported deterministically.
type pendingCalls struct {
	calls map[string]api.ToolCall
	order []string
}

func newPendingCalls() *pendingCalls {
	return &pendingCalls{calls: make(map[string]api.ToolCall)}
}

// insert records call. A repeated call id replaces the earlier call but
// keeps its original position.
func (p *pendingCalls) insert(call api.ToolCall) {
	if _, ok := p.calls[call.ToolCallID]; !ok {
		p.order = append(p.order, call.ToolCallID)
	}
	p.calls[call.ToolCallID] = call
}

// remove deletes and returns the call for id.
func (p *pendingCalls) remove(id string) (api.ToolCall, bool) {
	call, ok := p.calls[id]
	if !ok {
		return api.ToolCall{}, false
	}
	delete(p.calls, id)
	for i, v := range p.order {
		if v == id {
			p.order = append(p.order[:i], p.order[i+1:]...)
			break
		}
	}
	return call, true
}

func (p *pendingCalls) len() int { return len(p.calls) }

// drain empties the set and returns the calls in issue order.
func (p *pendingCalls) drain() []api.ToolCall {
	out := make([]api.ToolCall, 0, len(p.order))
	for _, id := range p.order {
		out = append(out, p.calls[id])
	}
	p.calls = make(map[string]api.ToolCall)
	p.order = nil
	return out
}
