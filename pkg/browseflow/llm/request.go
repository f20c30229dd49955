package llm

import "time"

// Request is one completion call.
type Request struct {
	System string
	Prompt string
	// History holds earlier exchanges, oldest first, for follow-up prompts.
	History []Exchange

	// Model overrides the client's model when set.
	Model     string
	MaxTokens int
}

// Exchange is a prompt and the reply it got.
type Exchange struct {
	Prompt string
	Reply  string
}

// NewRequest builds a request with no history.
func NewRequest(system, prompt string) Request {
	return Request{System: system, Prompt: prompt}
}

// FollowUp returns a request continuing r: its prompt and reply join the
// history and prompt becomes the new question.
func (r Request) FollowUp(reply, prompt string) Request {
	next := r
	next.History = append(append([]Exchange(nil), r.History...), Exchange{Prompt: r.Prompt, Reply: reply})
	next.Prompt = prompt
	return next
}

// Response is a completed reply.
type Response struct {
	Content string
	Model   string
	Usage   Usage
	Elapsed time.Duration
}

// Usage counts the tokens a call consumed. Clients that cannot report it
// leave it zero.
type Usage struct {
	Input  int
	Output int
}

// Total is Input plus Output.
func (u Usage) Total() int { return u.Input + u.Output }
