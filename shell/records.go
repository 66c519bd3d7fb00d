package shell

import (
	"bytes"
	"strings"
	"sync"
	"time"

	"github.com/m4xw311/conch/parse"
)

// Kind classifies a record.
type Kind string

const (
	KindCommand        Kind = "COMMAND"
	KindCommandAborted Kind = "COMMAND_ABORTED"
	KindOutput         Kind = "OUTPUT"
)

// Record is one reconstructed piece of the session: a command the user ran,
// one they abandoned at the prompt, or the output a command produced. Text
// is already stripped of escape sequences and newline-normalized.
type Record struct {
	Kind    Kind
	Text    string
	Time    time.Time
	Ordinal uint64
}

// Store keeps the most recent records, oldest evicted first. Safe for
// concurrent use: the parse loop appends while the assistant path reads.
type Store struct {
	mu    sync.Mutex
	recs  []Record
	limit int
	next  uint64
}

// NewStore returns a store holding at most limit records.
func NewStore(limit int) *Store {
	if limit <= 0 {
		limit = 256
	}
	return &Store{limit: limit}
}

// Append adds a record stamped with the next ordinal.
func (s *Store) Append(kind Kind, text string) Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := Record{Kind: kind, Text: text, Time: time.Now(), Ordinal: s.next}
	s.next++
	s.recs = append(s.recs, rec)
	if len(s.recs) > s.limit {
		s.recs = append(s.recs[:0], s.recs[len(s.recs)-s.limit:]...)
	}
	return rec
}

// Snapshot returns a copy of the stored records in order.
func (s *Store) Snapshot() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Record, len(s.recs))
	copy(out, s.recs)
	return out
}

// Last returns at most n of the newest records, oldest first.
func (s *Store) Last(n int) []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n > len(s.recs) {
		n = len(s.recs)
	}
	out := make([]Record, n)
	copy(out, s.recs[len(s.recs)-n:])
	return out
}

// Assembler runs shell output through the marker parser and turns the
// resulting steps into records. It is a pure tap: it never touches the
// bytes shown to the user.
type Assembler struct {
	machine  *parse.Machine
	store    *Store
	command  bytes.Buffer
	output   bytes.Buffer
	onPrompt func()
}

// NewAssembler builds an assembler for sh writing into store. onPrompt, if
// non-nil, fires every time a fresh prompt is detected.
func NewAssembler(sh *Shell, store *Store, onPrompt func()) (*Assembler, error) {
	machine, err := parse.NewMachine(sh.StartState(), sh.Transitions())
	if err != nil {
		return nil, err
	}
	return &Assembler{machine: machine, store: store, onPrompt: onPrompt}, nil
}

// Consume feeds one chunk of raw shell output through the parser.
func (a *Assembler) Consume(chunk []byte) {
	for _, step := range a.machine.Feed(chunk) {
		a.apply(step)
	}
}

// Close flushes whatever the parser still holds, finalizing a command or
// output block cut off by shell exit.
func (a *Assembler) Close() {
	for _, step := range a.machine.Flush() {
		a.apply(step)
	}
	if a.command.Len() > 0 {
		a.finalize(KindCommandAborted, &a.command)
	}
	if a.output.Len() > 0 {
		a.finalize(KindOutput, &a.output)
	}
}

func (a *Assembler) apply(step parse.Step) {
	if !step.Change {
		switch step.State {
		case StateCommand:
			a.command.Write(step.Bytes)
		case StateOutput:
			a.output.Write(step.Bytes)
		}
		// Idle content is the shell drawing its prompt; nothing to keep.
		return
	}
	switch step.Event {
	case EventPrompt:
		if a.onPrompt != nil {
			a.onPrompt()
		}
	case EventCommand:
		a.finalize(KindCommand, &a.command)
	case EventCommandAborted:
		a.finalize(KindCommandAborted, &a.command)
	case EventOutput:
		a.finalize(KindOutput, &a.output)
	}
}

func (a *Assembler) finalize(kind Kind, buf *bytes.Buffer) {
	text := parse.NormalizeNewlines(parse.StripEscapes(buf.String()))
	buf.Reset()
	if kind == KindCommand || kind == KindCommandAborted {
		// The echo carries the space after the prompt glyph and the final
		// newline; neither is part of the command.
		text = strings.TrimSpace(text)
	}
	if text == "" {
		return
	}
	a.store.Append(kind, text)
}
