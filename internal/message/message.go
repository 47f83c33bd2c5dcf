// Package message holds the provider-neutral message model, the response
// parser and the helpers that prepare prompt payloads (screenshot scaling,
// hashed href rendering).
package message

// Role of a conversation turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// PartKind discriminates Part payloads.
type PartKind int

const (
	PartText PartKind = iota
	PartImage
	PartToolResult
	PartToolCall
)

// Image is an encoded picture attached to a turn.
type Image struct {
	Data     []byte
	MIMEType string
}

// ToolCall is a native tool invocation the model issued on an assistant turn.
// Arguments is the raw JSON argument object.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string
}

// ToolResult answers a native tool call issued by the model on a previous turn.
type ToolResult struct {
	CallID  string
	Name    string
	Content string
	IsError bool
}

// Part is one piece of a turn. Exactly one payload field is set, per Kind.
type Part struct {
	Kind       PartKind
	Text       string
	Image      *Image
	ToolResult *ToolResult
	ToolCall   *ToolCall
}

// Message is a provider-neutral conversation turn. Adapters translate it into
// each family's native convention.
type Message struct {
	Role  Role
	Parts []Part
	// Cacheable marks static content the provider may cache inline.
	Cacheable bool
}

// TextPart wraps s.
func TextPart(s string) Part { return Part{Kind: PartText, Text: s} }

// ImagePart wraps an encoded image. An empty MIME type means image/png.
func ImagePart(img Image) Part {
	if img.MIMEType == "" {
		img.MIMEType = "image/png"
	}
	return Part{Kind: PartImage, Image: &img}
}

// ToolResultPart wraps a tool call answer.
func ToolResultPart(r ToolResult) Part { return Part{Kind: PartToolResult, ToolResult: &r} }

// ToolCallPart wraps a tool invocation.
func ToolCallPart(c ToolCall) Part { return Part{Kind: PartToolCall, ToolCall: &c} }

// Text concatenates the text parts of m.
func (m Message) Text() string {
	var out string
	for _, p := range m.Parts {
		if p.Kind == PartText {
			out += p.Text
		}
	}
	return out
}

// HasImages reports whether m carries at least one image.
func (m Message) HasImages() bool {
	for _, p := range m.Parts {
		if p.Kind == PartImage {
			return true
		}
	}
	return false
}

// System builds a system turn.
func System(text string) Message {
	return Message{Role: RoleSystem, Parts: []Part{TextPart(text)}}
}

// CachedSystem builds a system turn holding cacheable static content.
func CachedSystem(text string) Message {
	m := System(text)
	m.Cacheable = true
	return m
}

// BuildUserTurn returns one user turn holding the prompt followed by images.
// Pending tool results are placed first so they answer the previous
// assistant turn.
func BuildUserTurn(prompt string, images []Image, toolResults ...ToolResult) Message {
	parts := make([]Part, 0, 1+len(images)+len(toolResults))
	for _, r := range toolResults {
		parts = append(parts, ToolResultPart(r))
	}
	if prompt != "" {
		parts = append(parts, TextPart(prompt))
	}
	for _, img := range images {
		parts = append(parts, ImagePart(img))
	}
	return Message{Role: RoleUser, Parts: parts}
}

// AssistantPrefix is the priming turn that seeds the reply with "{".
func AssistantPrefix() Message {
	return Message{Role: RoleAssistant, Parts: []Part{TextPart("{")}}
}

// Assistant builds an assistant turn holding text followed by the tool calls
// the model issued. Empty text is omitted when there are tool calls.
func Assistant(text string, calls ...ToolCall) Message {
	parts := make([]Part, 0, 1+len(calls))
	if text != "" || len(calls) == 0 {
		parts = append(parts, TextPart(text))
	}
	for _, c := range calls {
		parts = append(parts, ToolCallPart(c))
	}
	return Message{Role: RoleAssistant, Parts: parts}
}

// ToolCalls returns the tool invocations carried by m.
func (m Message) ToolCalls() []ToolCall {
	var out []ToolCall
	for _, p := range m.Parts {
		if p.Kind == PartToolCall {
			out = append(out, *p.ToolCall)
		}
	}
	return out
}
