package orchestrator

import (
	"strings"

	"github.com/openrelay/openrelay/internal/provider"
	"github.com/openrelay/openrelay/internal/session"
)

// protocolInstructions teaches the model the call wire format and the
// continue/end discipline. The extractor and the renderer both depend on
// the exact tag shapes shown here.
const protocolInstructions = `You are a helpful AI assistant that can interact with various functions. When a user makes a request:

1. First make any necessary function calls using this EXACT XML format:
<function_call>
  <platform>platform_name</platform>
  <function>function_name</function>
  <parameters>
    <parameter name="param1">value1</parameter>
    <parameter name="param2">value2</parameter>
  </parameters>
</function_call>

2. After making a function call that returns data, ALWAYS use:
<function_call>
  <platform>io</platform>
  <function>continue</function>
  <parameters></parameters>
</function_call>

3. When you receive the function results in the next prompt:
   - DO NOT say what you will do or explain your next steps
   - If you need to make another function call based on the results, IMMEDIATELY make that call
   - If no more calls are needed, provide a detailed analysis/response based on the data
   - Then end with:
<function_call>
  <platform>io</platform>
  <function>end</function>
  <parameters></parameters>
</function_call>

CRITICAL RULES:
1. ALWAYS wrap ALL your responses in function call tags. NEVER output plain text in between function calls.
2. Parameters MUST be enclosed in <parameter> tags with a name attribute.
3. For JSON values, include the JSON directly inside the parameter tags:
   CORRECT: <parameter name="cells">{"A1": {"value": 1}}</parameter>
   INCORRECT: <parameter name="cells">"{"A1": {"value": 1}}"</parameter>
4. NEVER escape quotes in JSON values.
5. NEVER ask the user for extra information - just follow the command as best you can.
6. When you receive function results, DO NOT say what you will do - just make the next function call.
7. You cannot directly access or modify data - you must always make function calls to do so.
`

// buildSystemPrompt assembles the protocol instructions, the safety rules,
// the capability descriptor document and the current time into one system
// message.
func (o *Orchestrator) buildSystemPrompt() string {
	var sb strings.Builder
	sb.WriteString(protocolInstructions)
	sb.WriteString("\n")
	sb.WriteString(o.rules.BuildPromptSection())

	sb.WriteString("Available capabilities:\n")
	if doc, err := o.doc.PromptJSON(); err == nil {
		sb.WriteString(doc)
	}
	sb.WriteString("\n\nThe current date, time, and timezone is: ")
	sb.WriteString(o.now().Format("Mon, 02 Jan 2006 15:04:05 MST"))
	sb.WriteString("\n")
	return sb.String()
}

// buildMessages renders the session into the completion request: the
// system prompt, the original instruction, and the transcript replayed as
// assistant messages. The instruction itself never changes across turns;
// only the replayed history grows.
func (o *Orchestrator) buildMessages(sess *session.Session) []provider.Message {
	replay := sess.Transcript.Replay()

	messages := make([]provider.Message, 0, len(replay)+2)
	messages = append(messages, provider.Message{
		Role:    provider.RoleSystem,
		Content: o.buildSystemPrompt(),
	})
	messages = append(messages, provider.Message{
		Role:    provider.RoleUser,
		Content: sess.Input,
	})
	for _, e := range replay {
		messages = append(messages, provider.Message{
			Role:    provider.RoleAssistant,
			Content: e.Content,
		})
	}
	return messages
}
