package session

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Control signals carried on the reserved io platform.
const (
	SignalContinue = "continue"
	SignalEnd      = "end"
)

// RenderCall renders a call replay entry in the wire format the model was
// instructed to emit, so the model sees its own calls verbatim on replay.
func RenderCall(platform, function string, params []NamedValue) Entry {
	var sb strings.Builder
	sb.WriteString("<function_call>\n")
	fmt.Fprintf(&sb, "  <platform>%s</platform>\n", platform)
	fmt.Fprintf(&sb, "  <function>%s</function>\n", function)
	sb.WriteString("  <parameters>\n")
	for _, p := range params {
		fmt.Fprintf(&sb, "    <parameter name=%q>%s</parameter>\n", p.Name, renderValue(p.Value))
	}
	sb.WriteString("  </parameters>\n")
	sb.WriteString("</function_call>")
	return Entry{Kind: EntryCall, Content: sb.String()}
}

// NamedValue is one parameter as it appeared in the call.
type NamedValue struct {
	Name  string
	Value any
}

// RenderResult renders a success payload. Structured payloads are written
// as compact JSON so they round-trip through the prompt without loss.
func RenderResult(platform, function string, payload any) Entry {
	return Entry{
		Kind: EntryResult,
		Content: fmt.Sprintf("<function_result>\n  <platform>%s</platform>\n  <function>%s</function>\n  <result>%s</result>\n</function_result>",
			platform, function, renderValue(payload)),
	}
}

// RenderFailure renders a failure result naming the capability and the
// error text.
func RenderFailure(platform, function, errText string) Entry {
	return Entry{
		Kind: EntryResult,
		Content: fmt.Sprintf("<function_result>\n  <platform>%s</platform>\n  <function>%s</function>\n  <error>%s</error>\n</function_result>",
			platform, function, errText),
	}
}

// RenderControl renders an io control signal marker.
func RenderControl(signal string) Entry {
	return Entry{
		Kind:   EntryControl,
		Signal: signal,
		Content: fmt.Sprintf("<function_call><platform>io</platform><function>%s</function><parameters></parameters></function_call>",
			signal),
	}
}

// renderValue writes a value the way the protocol expects: structured
// values as compact JSON, strings as-is (a string that is itself JSON is
// re-marshaled compact), everything else via Sprint.
func renderValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		trimmed := strings.TrimSpace(val)
		if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
			var decoded any
			if err := json.Unmarshal([]byte(trimmed), &decoded); err == nil {
				if data, err := json.Marshal(decoded); err == nil {
					return string(data)
				}
			}
		}
		return val
	case map[string]any, []any:
		data, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(data)
	default:
		data, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(data)
	}
}
