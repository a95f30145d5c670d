package domain

// Result is what the worker forwards to the output sink for one action.
type Result struct {
	Seq        uint64 `json:"seq"`
	Kind       Kind   `json:"kind"`
	SessionRef string `json:"sessionRef"`
	Phase      Phase  `json:"phase"`

	// Author and Input echo the action's author and its text (or save id).
	Author string `json:"author,omitempty"`
	Input  string `json:"input,omitempty"`

	// Text is the human-readable reply, markdown-escaped for chat surfaces.
	Text string `json:"text"`

	// Speech is the same reply with markup removed, ready for a TTS adapter.
	Speech string `json:"speech,omitempty"`

	// Error is set when the action failed. Text then carries the user message.
	Error string `json:"error,omitempty"`
}

// Failed reports whether the result carries an error.
func (r Result) Failed() bool {
	return r.Error != ""
}
