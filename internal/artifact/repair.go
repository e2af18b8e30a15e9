package artifact

import (
	"encoding/json"
	"errors"
	"io"
	"reflect"
	"strings"

	"github.com/cloudwego/eino/schema"
)

type frame struct {
	object    bool
	expectKey bool
}

type cut struct {
	at      int
	closers string
}

// Repair turns a truncated JSON object into the largest valid object it
// describes. Unterminated string values are closed; dangling keys, colons
// and commas are dropped. It reports false until an object has started.
func Repair(s string) (map[string]any, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return nil, false
	}
	s = s[start:]

	var (
		stack    []frame
		inString bool
		isKey    bool
		escaped  bool
		unicode  int // remaining hex digits of a \u escape
		strStart int
		last     *cut
	)
	closers := func() string {
		var b strings.Builder
		for i := len(stack) - 1; i >= 0; i-- {
			if stack[i].object {
				b.WriteByte('}')
			} else {
				b.WriteByte(']')
			}
		}
		return b.String()
	}
	mark := func(at int) { last = &cut{at: at, closers: closers()} }
	valueDone := func(at int) {
		if n := len(stack); n > 0 && stack[n-1].object {
			stack[n-1].expectKey = false
		}
		mark(at)
	}

	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case unicode > 0:
				unicode--
			case escaped:
				escaped = false
				if c == 'u' {
					unicode = 4
				}
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
				if !isKey {
					valueDone(i + 1)
				}
			}
			continue
		}

		switch c {
		case '{':
			stack = append(stack, frame{object: true, expectKey: true})
			mark(i + 1)
		case '[':
			stack = append(stack, frame{})
			mark(i + 1)
		case '}', ']':
			if len(stack) == 0 {
				return decodeObject(s[:i])
			}
			stack = stack[:len(stack)-1]
			valueDone(i + 1)
			if len(stack) == 0 {
				return decodeObject(s[:i+1])
			}
		case '"':
			inString = true
			strStart = i
			n := len(stack)
			isKey = n > 0 && stack[n-1].object && stack[n-1].expectKey
		case ':':
		case ',':
			if n := len(stack); n > 0 && stack[n-1].object {
				stack[n-1].expectKey = true
			}
		case ' ', '\t', '\n', '\r':
		default:
			// literal or number; complete once the next byte ends it
			if i+1 < len(s) && strings.IndexByte(" \t\r\n,}]", s[i+1]) >= 0 {
				valueDone(i + 1)
			}
		}
	}

	// Try the whole prefix first so strings and numbers grow as they stream.
	if inString && !isKey {
		body := s
		if escaped {
			body = body[:len(body)-1]
		}
		if unicode > 0 {
			if k := strings.LastIndex(body[strStart:], `\u`); k >= 0 {
				body = body[:strStart+k]
			}
		}
		if obj, ok := decodeObject(body + `"` + closers()); ok {
			return obj, true
		}
	} else if !inString {
		trimmed := strings.TrimRight(s, " \t\r\n")
		if trimmed != "" && !strings.ContainsAny(trimmed[len(trimmed)-1:], ",:") {
			if obj, ok := decodeObject(trimmed + closers()); ok {
				return obj, true
			}
		}
	}

	if last == nil {
		return nil, false
	}
	return decodeObject(s[:last.at] + last.closers)
}

func decodeObject(s string) (map[string]any, bool) {
	var obj map[string]any
	if err := json.Unmarshal([]byte(s), &obj); err != nil || obj == nil {
		return nil, false
	}
	return obj, true
}

// stripFence drops a leading markdown code fence from model output.
func stripFence(s string) string {
	t := strings.TrimLeft(s, " \t\r\n")
	if !strings.HasPrefix(t, "```") {
		return s
	}
	if nl := strings.IndexByte(t, '\n'); nl >= 0 {
		t = t[nl+1:]
	} else {
		return ""
	}
	if end := strings.LastIndex(t, "```"); end >= 0 {
		t = t[:end]
	}
	return t
}

// FromText adapts a stream of model text deltas into a stream of object
// snapshots. A snapshot is emitted only when the repaired object changes.
func FromText(sr *schema.StreamReader[*schema.Message]) *schema.StreamReader[map[string]any] {
	var (
		buf  strings.Builder
		prev map[string]any
	)
	return schema.StreamReaderWithConvert(sr, func(msg *schema.Message) (map[string]any, error) {
		if msg == nil || msg.Content == "" {
			return nil, schema.ErrNoValue
		}
		buf.WriteString(msg.Content)
		obj, ok := Repair(stripFence(buf.String()))
		if !ok || reflect.DeepEqual(obj, prev) {
			return nil, schema.ErrNoValue
		}
		prev = obj
		return obj, nil
	})
}

// Collect drains a snapshot stream and returns the last snapshot.
func Collect(sr *schema.StreamReader[map[string]any]) (map[string]any, error) {
	defer sr.Close()
	var last map[string]any
	for {
		obj, err := sr.Recv()
		if errors.Is(err, io.EOF) {
			return last, nil
		}
		if err != nil {
			return last, err
		}
		last = obj
	}
}
