// Package daemon implements conchd: the long-lived assistant the conch
// wrapper talks to over a unix socket.
package daemon

import (
	"context"
	"regexp"
	"strings"

	"github.com/m4xw311/conch/ipc"
	"github.com/m4xw311/conch/llm"
)

const systemPrompt = `You are an assistant for our user using a posix shell.
Your job is to answer the user's prompt, suggesting shell commands where
they help. Put every command you suggest on its own line inside a fenced
code block.`

const contextHeader = `For context, here are some of the user's shell usage history. The user's inputs to the shell are after
"User Input:", and the shell's output in response to user input is after "Shell Output:". Sometimes
the user will abort their shell prompt using control C, and that likely means their aborted command is
relevant to their intentions but is not exactly what they want. Now here are the user's shell history:
`

// Bot holds the per-session state: which user it serves and how many
// dialogues of context to show the model.
type Bot struct {
	user          string
	sessionID     string
	client        llm.Client
	contextWindow int
	allowlist     *Allowlist
}

// NewBot builds a bot for one wrapper session.
func NewBot(user, sessionID string, client llm.Client, contextWindow int, allowlist *Allowlist) *Bot {
	if contextWindow <= 0 {
		contextWindow = 3
	}
	return &Bot{
		user:          user,
		sessionID:     sessionID,
		client:        client,
		contextWindow: contextWindow,
		allowlist:     allowlist,
	}
}

// Generate answers one query given the wrapper's record snapshot.
func (b *Bot) Generate(ctx context.Context, query string, records []ipc.WireRecord) (*ipc.Suggestion, error) {
	system := systemPrompt
	if ctxPrompt := contextPrompt(records, b.contextWindow); ctxPrompt != "" {
		system += "\n\n" + ctxPrompt
	}

	reply, err := b.client.Generate(ctx, system, query)
	if err != nil {
		return nil, err
	}

	commands := ExtractCommands(reply)
	return &ipc.Suggestion{
		Text:       reply,
		Commands:   commands,
		Executable: len(commands) > 0 && b.allowlist.AllowsAll(commands),
	}, nil
}

// contextPrompt renders the last few command dialogues. A dialogue is the
// run of records up to and including an OUTPUT record.
func contextPrompt(records []ipc.WireRecord, window int) string {
	var dialogues [][]ipc.WireRecord
	var current []ipc.WireRecord
	hasCommand := false
	for _, rec := range records {
		// A command that produced no output has no OUTPUT record; the
		// next user input still starts a dialogue of its own, so aborted
		// attempts ride with the command they lead up to.
		if hasCommand && (rec.Kind == "COMMAND" || rec.Kind == "COMMAND_ABORTED") {
			dialogues = append(dialogues, current)
			current = nil
			hasCommand = false
		}
		current = append(current, rec)
		if rec.Kind == "COMMAND" {
			hasCommand = true
		}
		if rec.Kind == "OUTPUT" {
			dialogues = append(dialogues, current)
			current = nil
			hasCommand = false
		}
	}
	if len(current) > 0 {
		dialogues = append(dialogues, current)
	}
	if len(dialogues) > window {
		dialogues = dialogues[len(dialogues)-window:]
	}
	if len(dialogues) == 0 {
		return ""
	}

	var items []string
	for _, diag := range dialogues {
		for _, rec := range diag {
			switch rec.Kind {
			case "COMMAND":
				items = append(items, `User Input: "`+rec.Text+`"`)
			case "COMMAND_ABORTED":
				items = append(items, `User Aborted Input: "`+rec.Text+`"`)
			case "OUTPUT":
				items = append(items, `Shell Output: "`+rec.Text+`"`)
			}
		}
	}
	return contextHeader + strings.Join(items, "\n")
}

var (
	fencedBlock = regexp.MustCompile("(?s)```[a-zA-Z]*\n(.*?)```")
	inlineCode  = regexp.MustCompile("`([^`\n]+)`")
)

// ExtractCommands pulls candidate commands out of a model reply: every
// non-empty line of every fenced code block, or failing that, inline
// single-backtick spans.
func ExtractCommands(reply string) []string {
	var commands []string
	seen := make(map[string]bool)
	add := func(cmd string) {
		cmd = strings.TrimSpace(cmd)
		if cmd == "" || seen[cmd] {
			return
		}
		seen[cmd] = true
		commands = append(commands, cmd)
	}

	blocks := fencedBlock.FindAllStringSubmatch(reply, -1)
	for _, block := range blocks {
		for _, line := range strings.Split(block[1], "\n") {
			add(line)
		}
	}
	if len(blocks) > 0 {
		return commands
	}

	for _, m := range inlineCode.FindAllStringSubmatch(reply, -1) {
		add(m[1])
	}
	return commands
}
