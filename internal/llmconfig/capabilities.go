package llmconfig

import "strings"

// reasoningModels are name prefixes of models that accept a reasoning or
// thinking budget.
var reasoningModels = []string{
	"o1", "o3", "o4",
	"gpt-5",
	"claude-3-7-sonnet", "claude-sonnet-4", "claude-opus-4", "claude-haiku-4",
	"gemini-2.5", "gemini-3",
	"deepseek-r1", "deepseek-reasoner",
	"grok-3-mini", "grok-4",
	"qwq",
}

// SupportsReasoning reports whether model accepts reasoning parameters.
func SupportsReasoning(model string) bool {
	name := strings.ToLower(ModelName(model))
	// OpenRouter style vendor prefixes: "anthropic/claude-sonnet-4".
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	for _, prefix := range reasoningModels {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}

// SupportsInlineCaching reports whether the family accepts cached static
// content as a leading system message.
func SupportsInlineCaching(f Family) bool {
	return f == FamilyOpenAI || f == FamilyAnthropic
}
