package shell

import (
	"fmt"
	"strings"
	"testing"
)

func testShell(t *testing.T) *Shell {
	t.Helper()
	sh, err := New("/bin/bash")
	if err != nil {
		t.Fatal(err)
	}
	return sh
}

// sessionBytes renders what a tty would deliver for one prompt/command/output
// round trip using sh's injected markers.
func sessionBytes(sh *Shell, command, output string) string {
	var b strings.Builder
	// prompt redraw: output-end marker, prompt text, glyph
	b.WriteString(sh.outputEnd + "\r\n")
	b.WriteString("user@host:~")
	b.WriteString(PromptGlyph + " ")
	// command echo, then the input-end marker from PS0
	b.WriteString(command + "\r\n")
	b.WriteString(sh.inputEnd + "\r\n")
	b.WriteString(output)
	return b.String()
}

func TestAssemblerRoundTrip(t *testing.T) {
	sh := testShell(t)
	store := NewStore(16)
	prompts := 0
	asm, err := NewAssembler(sh, store, func() { prompts++ })
	if err != nil {
		t.Fatal(err)
	}

	asm.Consume([]byte(sessionBytes(sh, "ls -l", "total 0\r\nfoo\r\n")))
	// Next prompt closes the output block.
	asm.Consume([]byte(sh.outputEnd + "\r\n"))

	recs := store.Snapshot()
	if len(recs) != 2 {
		t.Fatalf("got %d records, want 2: %+v", len(recs), recs)
	}
	if recs[0].Kind != KindCommand || recs[0].Text != "ls -l" {
		t.Errorf("command record = %+v", recs[0])
	}
	if recs[1].Kind != KindOutput || recs[1].Text != "total 0\nfoo\n" {
		t.Errorf("output record = %+v", recs[1])
	}
	if recs[0].Ordinal >= recs[1].Ordinal {
		t.Errorf("ordinals out of order: %d then %d", recs[0].Ordinal, recs[1].Ordinal)
	}
	if prompts != 1 {
		t.Errorf("prompt callbacks = %d, want 1", prompts)
	}
}

// Byte-at-a-time delivery must yield the same records as one big chunk, and
// no marker text may survive into any record.
func TestAssemblerChunkingInvariance(t *testing.T) {
	sh := testShell(t)
	input := sessionBytes(sh, "echo hi", "hi\r\n") + sh.outputEnd + "\r\n"

	whole := NewStore(16)
	asm, err := NewAssembler(sh, whole, nil)
	if err != nil {
		t.Fatal(err)
	}
	asm.Consume([]byte(input))

	split := NewStore(16)
	asm2, err := NewAssembler(sh, split, nil)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < len(input); i++ {
		asm2.Consume([]byte{input[i]})
	}

	a, b := whole.Snapshot(), split.Snapshot()
	if len(a) != len(b) {
		t.Fatalf("record counts differ: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i].Kind != b[i].Kind || a[i].Text != b[i].Text {
			t.Errorf("record %d differs: %+v vs %+v", i, a[i], b[i])
		}
		if strings.Contains(b[i].Text, sh.inputEnd) || strings.Contains(b[i].Text, sh.outputEnd) {
			t.Errorf("marker leaked into record: %+v", b[i])
		}
	}
}

func TestAssemblerAbortedCommand(t *testing.T) {
	sh := testShell(t)
	store := NewStore(16)
	asm, err := NewAssembler(sh, store, nil)
	if err != nil {
		t.Fatal(err)
	}

	// Prompt, partial input, then ^C: the shell redraws the prompt, so the
	// output-end marker arrives while still in the command state.
	asm.Consume([]byte(sh.outputEnd + "\r\n" + PromptGlyph + " "))
	asm.Consume([]byte("git pu^C\r\n"))
	asm.Consume([]byte(sh.outputEnd + "\r\n"))

	recs := store.Snapshot()
	if len(recs) != 1 {
		t.Fatalf("got %d records, want 1: %+v", len(recs), recs)
	}
	if recs[0].Kind != KindCommandAborted {
		t.Errorf("kind = %q, want %q", recs[0].Kind, KindCommandAborted)
	}
}

func TestAssemblerStripsEscapes(t *testing.T) {
	sh := testShell(t)
	store := NewStore(16)
	asm, err := NewAssembler(sh, store, nil)
	if err != nil {
		t.Fatal(err)
	}

	colored := "\x1b[31mred\x1b[0m\r\n"
	asm.Consume([]byte(sessionBytes(sh, "grep red f", colored)))
	asm.Consume([]byte(sh.outputEnd + "\r\n"))

	recs := store.Snapshot()
	if len(recs) != 2 {
		t.Fatalf("got %d records: %+v", len(recs), recs)
	}
	if recs[1].Text != "red\n" {
		t.Errorf("output text = %q, want %q", recs[1].Text, "red\n")
	}
}

func TestAssemblerCloseFlushesPartialOutput(t *testing.T) {
	sh := testShell(t)
	store := NewStore(16)
	asm, err := NewAssembler(sh, store, nil)
	if err != nil {
		t.Fatal(err)
	}

	asm.Consume([]byte(sessionBytes(sh, "tail -f log", "line one\r\n")))
	asm.Close()

	recs := store.Snapshot()
	if len(recs) != 2 {
		t.Fatalf("got %d records: %+v", len(recs), recs)
	}
	if recs[1].Kind != KindOutput || recs[1].Text != "line one\n" {
		t.Errorf("flushed output = %+v", recs[1])
	}
}

func TestStoreEvictsOldest(t *testing.T) {
	store := NewStore(3)
	for i := 0; i < 5; i++ {
		store.Append(KindOutput, fmt.Sprintf("rec %d", i))
	}
	recs := store.Snapshot()
	if len(recs) != 3 {
		t.Fatalf("got %d records, want 3", len(recs))
	}
	if recs[0].Text != "rec 2" || recs[2].Text != "rec 4" {
		t.Errorf("unexpected window: %+v", recs)
	}
	if recs[0].Ordinal != 2 {
		t.Errorf("ordinal = %d, want 2", recs[0].Ordinal)
	}
}

func TestStoreLast(t *testing.T) {
	store := NewStore(10)
	for i := 0; i < 4; i++ {
		store.Append(KindCommand, fmt.Sprintf("cmd %d", i))
	}
	last := store.Last(2)
	if len(last) != 2 || last[0].Text != "cmd 2" || last[1].Text != "cmd 3" {
		t.Errorf("Last(2) = %+v", last)
	}
	if got := store.Last(100); len(got) != 4 {
		t.Errorf("Last(100) returned %d records", len(got))
	}
}
