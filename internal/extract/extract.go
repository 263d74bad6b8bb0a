// Package extract pulls structured capability calls out of raw model text.
// Model output is adversarial by construction: directives may be truncated,
// mis-nested, or carry mangled JSON. The scanner skips anything it cannot
// parse and keeps going; it never fails the whole extraction.
package extract

import (
	"encoding/json"
	"fmt"
	"log"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"
)

const (
	openTag  = "<function_call>"
	closeTag = "</function_call>"
)

// Param is one named argument of a Call. Value is either a plain string or
// a decoded JSON value (map/slice) when the text lexically looked like one.
type Param struct {
	Name  string
	Value any
}

// Call is one capability invocation extracted from model text. Platform and
// Function are always non-empty; spans missing either are dropped during
// extraction, never handed to the dispatcher.
type Call struct {
	ID       string
	Platform string
	Function string
	Params   []Param
}

// Target returns "platform.function".
func (c Call) Target() string {
	return c.Platform + "." + c.Function
}

var paramPattern = regexp.MustCompile(`(?s)<parameter\s+name="([^"]+)">(.*?)</parameter>`)

// Parse extracts calls from model text in source order. The canonical form
// is an XML <function_call> block with <platform>, <function> and
// <parameter name="..."> sub-elements. When no such block exists, the
// legacy <call:{...}> JSON form is tried. Returns nil when the text
// contains no parseable call.
func Parse(text string) []Call {
	if !strings.Contains(text, openTag) {
		if strings.Contains(text, "<call:") {
			return parseLegacy(text)
		}
		return nil
	}

	var calls []Call
	rest := text
	for {
		start := strings.Index(rest, openTag)
		if start < 0 {
			break
		}
		rest = rest[start+len(openTag):]
		end := strings.Index(rest, closeTag)
		if end < 0 {
			break
		}
		block := rest[:end]
		rest = rest[end+len(closeTag):]

		call, ok := parseBlock(block, len(calls)+1)
		if !ok {
			continue
		}
		calls = append(calls, call)
	}
	if len(calls) == 0 {
		return nil
	}
	return calls
}

func parseBlock(block string, n int) (Call, bool) {
	platform := strings.TrimSpace(innerText(block, "platform"))
	if platform == "" {
		log.Printf("extract: skipping block without platform")
		return Call{}, false
	}
	function := strings.TrimSpace(innerText(block, "function"))
	if function == "" {
		log.Printf("extract: skipping block without function")
		return Call{}, false
	}

	var params []Param
	for _, m := range paramPattern.FindAllStringSubmatch(block, -1) {
		params = append(params, Param{
			Name:  strings.TrimSpace(m[1]),
			Value: classifyValue(m[2]),
		})
	}

	return Call{
		ID:       callID(n),
		Platform: platform,
		Function: function,
		Params:   params,
	}, true
}

// innerText returns the text between <tag> and </tag>, or "" if either
// boundary is missing.
func innerText(block, tag string) string {
	open, close := "<"+tag+">", "</"+tag+">"
	start := strings.Index(block, open)
	if start < 0 {
		return ""
	}
	rest := block[start+len(open):]
	end := strings.Index(rest, close)
	if end < 0 {
		return ""
	}
	return rest[:end]
}

// classifyValue decodes a parameter value that lexically looks like a JSON
// object or array. A value that fails to decode goes through one repair
// pass for over-escaped quotes before falling back to the raw string. A
// bad parameter never fails the whole call.
func classifyValue(raw string) any {
	trimmed := strings.TrimSpace(raw)
	if !strings.HasPrefix(trimmed, "{") && !strings.HasPrefix(trimmed, "[") {
		return raw
	}
	if v, ok := decodeJSON(trimmed); ok {
		return v
	}
	if v, ok := decodeJSON(repairEscapes(trimmed)); ok {
		log.Printf("extract: parameter value parsed after escape repair")
		return v
	}
	log.Printf("extract: keeping raw string for unparseable JSON-like value")
	return raw
}

func decodeJSON(s string) (any, bool) {
	if !gjson.Valid(s) {
		return nil, false
	}
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, false
	}
	return v, true
}

// repairEscapes undoes the most common model encoding artifacts: quotes
// escaped inside a bare JSON literal and doubled backslash escapes.
func repairEscapes(s string) string {
	s = strings.ReplaceAll(s, `\\"`, `\"`)
	s = strings.ReplaceAll(s, `\"`, `"`)
	return s
}

// legacyCall is the shape inside <call:{...}>.
type legacyCall struct {
	Platform   string `json:"platform"`
	Function   string `json:"function"`
	Parameters []struct {
		Name  string `json:"name"`
		Value any    `json:"value"`
	} `json:"parameters"`
}

// parseLegacy scans <call:{...}> spans. The payload is a JSON object that
// may contain nested objects, so the closing brace is found by balanced
// counting, not first-match.
func parseLegacy(text string) []Call {
	var calls []Call
	pos := 0
	for {
		start := strings.Index(text[pos:], "<call:")
		if start < 0 {
			break
		}
		start += pos
		braceStart := strings.Index(text[start:], "{")
		if braceStart < 0 {
			break
		}
		braceStart += start

		depth := 1
		i := braceStart + 1
		for depth > 0 && i < len(text) {
			switch text[i] {
			case '{':
				depth++
			case '}':
				depth--
			}
			i++
		}
		pos = i
		if depth != 0 {
			break
		}

		var lc legacyCall
		if err := json.Unmarshal([]byte(text[braceStart:i]), &lc); err != nil {
			log.Printf("extract: skipping legacy call payload: %v", err)
			continue
		}
		if lc.Platform == "" || lc.Function == "" {
			continue
		}
		call := Call{
			ID:       callID(len(calls) + 1),
			Platform: lc.Platform,
			Function: lc.Function,
		}
		for _, p := range lc.Parameters {
			call.Params = append(call.Params, Param{Name: p.Name, Value: p.Value})
		}
		calls = append(calls, call)
	}
	if len(calls) == 0 {
		return nil
	}
	return calls
}

func callID(n int) string {
	return fmt.Sprintf("call-%d", n)
}
