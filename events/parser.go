package events

import (
	"encoding/base64"
	"strings"

	"github.com/gagliardetto/solana-go"

	"anchorlink/codec"
	"anchorlink/idl"
)

const dataPrefix = "Program data: "

// frame is one entry of the invocation stack.
type frame struct {
	id    string
	depth int
}

// ParseLogs runs the ordered log lines through a stack machine:
// "Program <id> invoke [<depth>]" pushes a frame, "Program <id> success"
// and "Program <id> failed ..." pop it, and "Program data: <base64>" blocks
// are attributed to the program currently on top of the stack. Blocks
// belonging to the observed program are matched against the schema's event
// discriminators; unknown discriminators are skipped silently (unknown
// event types are forward-compatible), while malformed or truncated blocks
// are counted in dropped and never abort the remaining log.
func ParseLogs(schema *idl.Schema, program solana.PublicKey, logs []string, ctx EventContext) ([]*ParsedEvent, int) {
	programStr := program.String()
	ctx.Program = program

	var (
		stack   []frame
		events  []*ParsedEvent
		dropped int
	)

	for _, line := range logs {
		switch {
		case strings.HasPrefix(line, dataPrefix):
			if len(stack) == 0 || stack[len(stack)-1].id != programStr {
				continue
			}
			raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(line[len(dataPrefix):]))
			if err != nil || len(raw) < 8 {
				dropped++
				continue
			}
			name, fields, known, err := codec.DecodeEvent(schema, raw)
			if !known {
				continue
			}
			if err != nil {
				dropped++
				continue
			}
			events = append(events, &ParsedEvent{Name: name, Data: fields, Context: ctx})

		default:
			if id, depth, ok := parseInvoke(line); ok {
				stack = append(stack, frame{id: id, depth: depth})
				continue
			}
			if id, ok := parseCompletion(line); ok {
				stack = popFrame(stack, id)
			}
		}
	}
	return events, dropped
}

// parseInvoke matches "Program <id> invoke [<depth>]".
func parseInvoke(line string) (string, int, bool) {
	rest, ok := strings.CutPrefix(line, "Program ")
	if !ok {
		return "", 0, false
	}
	id, rest, ok := strings.Cut(rest, " invoke [")
	if !ok || strings.ContainsRune(id, ' ') {
		return "", 0, false
	}
	digits, ok := strings.CutSuffix(rest, "]")
	if !ok {
		return "", 0, false
	}
	depth := 0
	for _, r := range digits {
		if r < '0' || r > '9' {
			return "", 0, false
		}
		depth = depth*10 + int(r-'0')
	}
	return id, depth, true
}

// parseCompletion matches "Program <id> success" and
// "Program <id> failed ...".
func parseCompletion(line string) (string, bool) {
	rest, ok := strings.CutPrefix(line, "Program ")
	if !ok {
		return "", false
	}
	if id, found := strings.CutSuffix(rest, " success"); found && !strings.ContainsRune(id, ' ') {
		return id, true
	}
	if id, _, found := strings.Cut(rest, " failed"); found && !strings.ContainsRune(id, ' ') {
		return id, true
	}
	return "", false
}

// popFrame removes the nearest frame matching id, searching from the top.
// Well-formed logs always complete the top frame; the downward search only
// matters for truncated logs.
func popFrame(stack []frame, id string) []frame {
	for i := len(stack) - 1; i >= 0; i-- {
		if stack[i].id == id {
			return append(stack[:i], stack[i+1:]...)
		}
	}
	return stack
}
