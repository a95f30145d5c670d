package domain

import "strings"

// Turn is one action paired with its generated result.
type Turn struct {
	Action string `json:"action"`
	Result string `json:"result"`
}

// Prompt is the bounded view of a session handed to a generation backend.
type Prompt struct {
	Context string
	Memory  []string
	History []Turn
	Action  string
	Censor  bool
}

// Window bounds how much history goes into a Prompt.
type Window struct {
	MaxTurns int // 0 means no turn limit
	MaxChars int // 0 means no character limit
}

// DefaultWindow is used when callers do not configure one.
var DefaultWindow = Window{MaxTurns: 8, MaxChars: 6000}

// BuildPrompt assembles the prompt for action against s, trimming the oldest turns first.
func BuildPrompt(s *Session, action string, w Window) Prompt {
	turns := s.Turns()
	if w.MaxTurns > 0 && len(turns) > w.MaxTurns {
		turns = turns[len(turns)-w.MaxTurns:]
	}
	if w.MaxChars > 0 {
		budget := w.MaxChars - len(s.Context) - len(action)
		for _, m := range s.Memory {
			budget -= len(m)
		}
		used := 0
		start := len(turns)
		for i := len(turns) - 1; i >= 0; i-- {
			size := len(turns[i].Action) + len(turns[i].Result)
			if used+size > budget {
				break
			}
			used += size
			start = i
		}
		turns = turns[start:]
	}
	return Prompt{
		Context: s.Context,
		Memory:  cloneStrings(s.Memory),
		History: append([]Turn(nil), turns...),
		Action:  action,
		Censor:  s.Censor,
	}
}

// Premise is the remembered facts followed by the story context.
func (p Prompt) Premise() string {
	if len(p.Memory) == 0 {
		return p.Context
	}
	return strings.Join(p.Memory, "\n") + "\n\n" + p.Context
}

// Text renders the prompt as plain text for completion-style backends.
func (p Prompt) Text() string {
	var b strings.Builder
	b.WriteString(p.Premise())
	for _, t := range p.History {
		b.WriteString("\n> ")
		b.WriteString(t.Action)
		b.WriteString("\n")
		b.WriteString(t.Result)
	}
	b.WriteString("\n> ")
	b.WriteString(p.Action)
	b.WriteString("\n")
	return b.String()
}

// Instructions is the system line given to chat-style backends.
func (p Prompt) Instructions() string {
	s := "You are the narrator of an interactive text adventure. Continue the story from the player's last action in a few sentences, in second person."
	if p.Censor {
		s += " Keep the content suitable for all audiences."
	}
	return s
}
