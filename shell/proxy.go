package shell

import (
	"context"
	"io"
	"log"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/m4xw311/conch/errors"
)

// Mode is what the controller is doing with user input.
type Mode int32

const (
	// ModePassthrough forwards stdin to the shell untouched.
	ModePassthrough Mode = iota
	// ModeAssistant routes stdin to the inline assistant prompt.
	ModeAssistant
)

// Glyphs for the assistant UI, printed on the user's terminal.
const (
	assistPromptHeader = "🌊 "
	assistReplyHeader  = "🦀〉"
)

// Suggestion is the assistant's answer to a query.
type Suggestion struct {
	Text       string
	Commands   []string
	Executable bool
}

// Assistant is the proxy's view of the helper daemon.
type Assistant interface {
	Generate(ctx context.Context, query string, records []Record) (*Suggestion, error)
}

// ProxyOptions tune the controller.
type ProxyOptions struct {
	Trigger byte          // first byte at a fresh prompt that opens the assistant
	Timeout time.Duration // bound on one assistant exchange
	Logger  *log.Logger
}

// Proxy shuttles bytes between the user's terminal and the shell's pty
// master while a parse loop taps the output stream. Shell output is written
// to the terminal before anything else looks at it; parsing can lag or drop
// but never delay display.
type Proxy struct {
	master    io.ReadWriter
	stdin     io.Reader
	stdout    io.Writer
	store     *Store
	asm       *Assembler
	assistant Assistant
	trigger   byte
	timeout   time.Duration
	logger    *log.Logger

	mode    atomic.Int32
	armed   atomic.Bool
	parseCh chan []byte
	fatal   chan error
	once    sync.Once
}

// NewProxy wires a proxy for sh. master is the pty master, stdin/stdout the
// user's terminal.
func NewProxy(master io.ReadWriter, stdin io.Reader, stdout io.Writer, sh *Shell, store *Store, assistant Assistant, opts ProxyOptions) (*Proxy, error) {
	if opts.Trigger == 0 {
		opts.Trigger = ':'
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	p := &Proxy{
		master:    master,
		stdin:     stdin,
		stdout:    stdout,
		store:     store,
		assistant: assistant,
		trigger:   opts.Trigger,
		timeout:   opts.Timeout,
		logger:    opts.Logger,
		parseCh:   make(chan []byte, 64),
		fatal:     make(chan error, 1),
	}
	asm, err := NewAssembler(sh, store, func() { p.armed.Store(true) })
	if err != nil {
		return nil, err
	}
	p.asm = asm
	return p, nil
}

// Mode reports what the controller is currently doing.
func (p *Proxy) Mode() Mode {
	return Mode(p.mode.Load())
}

// Run pumps both directions until the shell side closes or ctx is
// cancelled. A failed write to the user's terminal is fatal and returned.
func (p *Proxy) Run(ctx context.Context) error {
	outDone := make(chan struct{})
	parseDone := make(chan struct{})

	go func() {
		defer close(outDone)
		// The output loop is the only sender; closing here lets the parse
		// loop drain and stop.
		defer close(p.parseCh)
		p.outputLoop()
	}()
	go func() {
		defer close(parseDone)
		for chunk := range p.parseCh {
			p.asm.Consume(chunk)
		}
	}()
	go p.inputLoop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-p.fatal:
		return err
	case <-outDone:
		<-parseDone
		p.asm.Close()
		select {
		case err := <-p.fatal:
			return err
		default:
			return nil
		}
	}
}

// outputLoop drains the pty master. The terminal write always happens
// first; the parse path gets a copy on a best-effort basis.
func (p *Proxy) outputLoop() {
	buf := make([]byte, 4096)
	for {
		n, err := p.master.Read(buf)
		if n > 0 {
			if _, werr := p.stdout.Write(buf[:n]); werr != nil {
				p.fail(errors.WithKind(errors.KindIO, errors.Wrapf(werr, "writing to terminal")))
				return
			}
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			select {
			case p.parseCh <- chunk:
			default:
				p.logger.Printf("parse channel full, dropping %d bytes of context", n)
			}
		}
		if err != nil {
			// EOF or EIO both mean the shell is gone.
			return
		}
	}
}

func (p *Proxy) inputLoop() {
	buf := make([]byte, 1024)
	for {
		n, err := p.stdin.Read(buf)
		if err != nil {
			return
		}
		if n == 0 {
			continue
		}
		if p.armed.Swap(false) && buf[0] == p.trigger && p.assistant != nil {
			seed := make([]byte, n-1)
			copy(seed, buf[1:n])
			p.assistantSession(seed)
			continue
		}
		if _, err := p.master.Write(buf[:n]); err != nil {
			return
		}
	}
}

// assistantSession owns stdin until the exchange finishes, then hands the
// prompt back to the shell. Shell output keeps flowing the whole time.
func (p *Proxy) assistantSession(seed []byte) {
	p.mode.Store(int32(ModeAssistant))
	injected := false
	defer func() {
		p.mode.Store(int32(ModePassthrough))
		// A bare return gives the shell a fresh prompt line. An injected
		// command already carries its own, and a second one would run an
		// extra empty line.
		if !injected {
			p.master.Write([]byte("\r"))
		}
	}()

	p.echo("\r\n" + assistPromptHeader)
	query, ok := p.readLine(seed)
	if !ok || strings.TrimSpace(query) == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	sug, err := p.assistant.Generate(ctx, strings.TrimSpace(query), p.store.Snapshot())
	if err != nil {
		p.logger.Printf("assistant exchange failed: %v", err)
		p.reply("assistant unavailable: " + err.Error())
		return
	}
	p.reply(sug.Text)

	if !sug.Executable || len(sug.Commands) == 0 {
		return
	}
	cmd, ok := p.selectCommand(sug.Commands)
	if !ok {
		return
	}
	injected = true
	p.master.Write([]byte("\r" + cmd + "\r"))
}

// selectCommand shows the numbered menu and asks for confirmation.
func (p *Proxy) selectCommand(commands []string) (string, bool) {
	var menu strings.Builder
	menu.WriteString("run one of these? enter a number, empty to skip:\n")
	for i, c := range commands {
		menu.WriteString("[" + strconv.Itoa(i) + "] `" + c + "`\n")
	}
	p.reply(strings.TrimRight(menu.String(), "\n"))

	p.echo(assistPromptHeader)
	choice, ok := p.readLine(nil)
	if !ok {
		return "", false
	}
	choice = strings.TrimSpace(choice)
	if choice == "" {
		return "", false
	}
	idx, err := strconv.Atoi(choice)
	if err != nil || idx < 0 || idx >= len(commands) {
		p.reply("not a valid selection")
		return "", false
	}

	p.echo(assistPromptHeader + "run `" + commands[idx] + "`? [y/N] ")
	confirm, ok := p.readLine(nil)
	if !ok {
		return "", false
	}
	switch strings.ToLower(strings.TrimSpace(confirm)) {
	case "y", "yes":
		return commands[idx], true
	}
	return "", false
}

// readLine is a minimal line editor for the raw-mode terminal: echo,
// backspace, Enter submits, Ctrl-C or Ctrl-D aborts.
func (p *Proxy) readLine(seed []byte) (string, bool) {
	line := make([]byte, 0, 64)
	buf := make([]byte, 64)
	// Bytes typed in the same chunk as the trigger go through the same
	// editing path as everything after.
	chunk := seed
	for {
		for _, b := range chunk {
			switch {
			case b == '\r' || b == '\n':
				p.echo("\r\n")
				return string(line), true
			case b == 0x03 || b == 0x04: // Ctrl-C / Ctrl-D
				p.echo("\r\n")
				return "", false
			case b == 0x7f || b == 0x08: // backspace
				if len(line) > 0 {
					_, size := utf8.DecodeLastRune(line)
					line = line[:len(line)-size]
					p.echo("\b \b")
				}
			case b >= 0x20:
				line = append(line, b)
				p.echo(string([]byte{b}))
			}
		}
		n, err := p.stdin.Read(buf)
		if err != nil {
			return "", false
		}
		chunk = buf[:n]
	}
}

// reply prints an assistant message under its header, fixing newlines for
// the raw-mode terminal.
func (p *Proxy) reply(text string) {
	fixed := strings.ReplaceAll(text, "\n", "\r\n")
	p.echo(assistReplyHeader + fixed + "\r\n")
}

func (p *Proxy) echo(s string) {
	if _, err := io.WriteString(p.stdout, s); err != nil {
		p.fail(errors.WithKind(errors.KindIO, errors.Wrapf(err, "writing to terminal")))
	}
}

func (p *Proxy) fail(err error) {
	p.once.Do(func() { p.fatal <- err })
}
