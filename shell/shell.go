// Package shell launches the wrapped shell with invisible prompt markers
// injected and reconstructs command and output records from the raw byte
// stream those markers segment.
package shell

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/m4xw311/conch/errors"
	"github.com/m4xw311/conch/parse"
)

// PromptGlyph ends the injected prompt. It doubles as the marker that tells
// the parser the shell is waiting for input.
const PromptGlyph = "🐚"

// Parser states for a marker-injected shell.
const (
	StateIdle    parse.State = "idle"
	StateCommand parse.State = "command"
	StateOutput  parse.State = "output"
)

// Events emitted as the shell moves between prompt, command echo and output.
const (
	EventPrompt         parse.Event = "prompt"
	EventCommand        parse.Event = "command"
	EventCommandAborted parse.Event = "command-aborted"
	EventOutput         parse.Event = "output"
)

// Shell describes the wrapped shell and the markers injected into it. The
// markers are fresh UUIDs per session so real output cannot collide with
// them.
type Shell struct {
	path      string
	name      string
	inputEnd  string // printed by the shell right after a command is accepted
	outputEnd string // printed right before each new prompt
}

// New resolves the shell to wrap. An empty path falls back to $SHELL.
func New(path string) (*Shell, error) {
	if path == "" {
		path = os.Getenv("SHELL")
	}
	if path == "" {
		return nil, errors.New("no shell given and $SHELL is not set")
	}
	return &Shell{
		path:      path,
		name:      filepath.Base(path),
		inputEnd:  uuid.NewString(),
		outputEnd: uuid.NewString(),
	}, nil
}

// Name returns the shell's base name, e.g. "bash" or "zsh".
func (s *Shell) Name() string {
	return s.name
}

// Command builds the exec.Cmd that starts the shell with markers injected
// through a temporary rc file. The returned cleanup removes that file and
// must run after the shell exits.
func (s *Shell) Command() (*exec.Cmd, func(), error) {
	switch s.name {
	case "zsh":
		return s.zshCommand()
	default:
		// bash and anything bash-compatible
		return s.bashCommand()
	}
}

// bashCommand injects markers via --rcfile. PS0 is expanded after a command
// line is accepted, PS1 before every prompt, which is exactly the boundary
// pair the parser needs.
func (s *Shell) bashCommand() (*exec.Cmd, func(), error) {
	rc, err := os.CreateTemp("", "conch-rc-*")
	if err != nil {
		return nil, nil, errors.Wrapf(err, "creating temp rcfile")
	}
	script := fmt.Sprintf(`[ -f "$HOME/.%src" ] && source "$HOME/.%src"
[ -f "$HOME/.conchrc" ] && source "$HOME/.conchrc"
export PS0="%s
$PS0"
export PS1="%s
${PS1}%s "
`, s.name, s.name, s.inputEnd, s.outputEnd, PromptGlyph)
	if _, err := rc.WriteString(script); err != nil {
		rc.Close()
		os.Remove(rc.Name())
		return nil, nil, errors.Wrapf(err, "writing rcfile")
	}
	if err := rc.Chmod(0o600); err != nil {
		rc.Close()
		os.Remove(rc.Name())
		return nil, nil, errors.Wrapf(err, "restricting rcfile")
	}
	rc.Close()

	cmd := exec.Command(s.path, "--rcfile", rc.Name())
	cmd.Env = os.Environ()
	cleanup := func() { os.Remove(rc.Name()) }
	return cmd, cleanup, nil
}

// zshCommand injects markers through a private ZDOTDIR. zsh has no PS0, so
// preexec and precmd hooks print the markers instead.
func (s *Shell) zshCommand() (*exec.Cmd, func(), error) {
	dir, err := os.MkdirTemp("", "conch-zdot-*")
	if err != nil {
		return nil, nil, errors.Wrapf(err, "creating temp zdotdir")
	}
	script := fmt.Sprintf(`[ -f "$HOME/.zshrc" ] && source "$HOME/.zshrc"
[ -f "$HOME/.conchrc" ] && source "$HOME/.conchrc"
preexec() { printf '%%s\n' %q }
precmd() { printf '%%s\n' %q }
PROMPT="${PROMPT}%s "
`, s.inputEnd, s.outputEnd, PromptGlyph)
	if err := os.WriteFile(filepath.Join(dir, ".zshrc"), []byte(script), 0o600); err != nil {
		os.RemoveAll(dir)
		return nil, nil, errors.Wrapf(err, "writing zshrc")
	}

	cmd := exec.Command(s.path)
	cmd.Env = append(os.Environ(), "ZDOTDIR="+dir)
	cleanup := func() { os.RemoveAll(dir) }
	return cmd, cleanup, nil
}

// Transitions wires the session markers into the parser. The machine starts
// in output so the very first prompt moves it to idle and then command like
// every later one.
func (s *Shell) Transitions() map[parse.State][]parse.Transition {
	// Markers are printed with \n, which the tty turns into \r\n.
	inputEnd := s.inputEnd + "\r\n"
	outputEnd := s.outputEnd + "\r\n"
	return map[parse.State][]parse.Transition{
		StateIdle: {
			{Marker: PromptGlyph, Next: StateCommand, Event: EventPrompt},
		},
		StateCommand: {
			{Marker: inputEnd, Next: StateOutput, Event: EventCommand},
			{Marker: outputEnd, Next: StateIdle, Event: EventCommandAborted},
		},
		StateOutput: {
			// Several commands submitted at once show up as output blocks
			// separated by input-end markers.
			{Marker: inputEnd, Next: StateOutput, Event: EventOutput},
			{Marker: outputEnd, Next: StateIdle, Event: EventOutput},
		},
	}
}

// StartState is where the parser begins for a fresh shell.
func (s *Shell) StartState() parse.State {
	return StateOutput
}
