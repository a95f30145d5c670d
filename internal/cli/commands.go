// Package cli holds the terminal glue shared by the tapestry commands.
package cli

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/aretw0/tapestry/pkg/domain"
)

// ErrEmptyLine is returned for blank input; callers usually just re-prompt.
var ErrEmptyLine = errors.New("empty line")

// ErrHelp is returned for /help.
var ErrHelp = errors.New("help requested")

// ErrUnknownCommand is returned for a slash command that maps to no action.
var ErrUnknownCommand = errors.New("unknown command")

type command struct {
	kind  domain.Kind
	usage string
	build func(a *domain.Action, arg string)
}

var commands = map[string]command{
	"revert":   {kind: domain.KindRevert, usage: "undo the last action"},
	"alter":    {kind: domain.KindAlter, usage: "<text> rewrite the last result", build: withText},
	"remember": {kind: domain.KindRemember, usage: "<fact> add a permanent fact", build: withText},
	"forget":   {kind: domain.KindForget, usage: "drop the newest fact"},
	"new":      {kind: domain.KindNewGame, usage: "start a new adventure"},
	"restart":  {kind: domain.KindRestart, usage: "go back to the first scene"},
	"load":     {kind: domain.KindLoad, usage: "<id> load a save", build: withID},
	"save":     {kind: domain.KindSave, usage: "[id] save, optionally under a new id", build: withID},
	"censor":   {kind: domain.KindToggleCensor, usage: "on|off toggle the censor", build: withFlag},
	"exit":     {kind: domain.KindExit, usage: "save and quit"},
}

var aliases = map[string]string{
	"newgame": "new",
	"quit":    "exit",
	"undo":    "revert",
}

func withText(a *domain.Action, arg string) { a.Text = arg }

func withID(a *domain.Action, arg string) { a.ID = arg }

func withFlag(a *domain.Action, arg string) {
	switch strings.ToLower(arg) {
	case "on", "true", "yes":
		a.Flag = domain.Bool(true)
	case "off", "false", "no":
		a.Flag = domain.Bool(false)
	}
}

// ParseLine turns one line of terminal input into an action for ref.
// Slash commands map to their kinds. Free text sets the context while the
// session has none and continues the story afterwards.
// The result is not validated.
func ParseLine(line string, phase domain.Phase, ref string) (domain.Action, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return domain.Action{}, ErrEmptyLine
	}

	if !strings.HasPrefix(line, "/") {
		kind := domain.KindAct
		if phase == domain.PhaseUninitialized {
			kind = domain.KindSetContext
		}
		return domain.Action{Kind: kind, SessionRef: ref, Text: line}, nil
	}

	name, arg, _ := strings.Cut(line[1:], " ")
	name = strings.ToLower(name)
	arg = strings.TrimSpace(arg)
	if name == "help" || name == "?" {
		return domain.Action{}, ErrHelp
	}
	if target, ok := aliases[name]; ok {
		name = target
	}
	cmd, ok := commands[name]
	if !ok {
		return domain.Action{}, fmt.Errorf("%w: /%s", ErrUnknownCommand, name)
	}

	a := domain.Action{Kind: cmd.kind, SessionRef: ref}
	if cmd.build != nil {
		cmd.build(&a, arg)
	}
	return a, nil
}

// Help lists the slash commands.
func Help() string {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString("Type to set the scene, then type what you do next.\n")
	for _, name := range names {
		fmt.Fprintf(&b, "  /%-9s %s\n", name, commands[name].usage)
	}
	return b.String()
}
