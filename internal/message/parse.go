package message

import (
	"encoding/json"
	"strings"

	"github.com/tidwall/jsonc"

	"github.com/vnmchuo/modelgate/internal/llmerr"
)

// ParseJSON turns raw model output into a JSON object.
//
// A single surrounding markdown code fence is removed. When primed is set the
// reply continues an assistant turn that already contained "{", so a missing
// leading brace is restored. Everything outside the first "{" and the
// last "}" is discarded, and the remainder is decoded permissively (comments
// and trailing commas are tolerated).
func ParseJSON(raw string, primed bool) (map[string]any, error) {
	content := strings.TrimSpace(raw)
	if content == "" {
		return nil, llmerr.New(llmerr.KindEmptyResponse, "llm returned empty content")
	}
	content = stripCodeFence(content)
	if content == "" {
		return nil, llmerr.New(llmerr.KindEmptyResponse, "llm returned an empty code block")
	}
	if primed && !strings.HasPrefix(content, "{") {
		content = "{" + content
	}

	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end < start {
		return nil, llmerr.New(llmerr.KindInvalidResponseFormat, "no json object in llm response: "+truncate(content, 200))
	}
	content = content[start : end+1]

	var out map[string]any
	if err := json.Unmarshal(jsonc.ToJSON([]byte(content)), &out); err != nil {
		return nil, llmerr.Wrap(llmerr.KindInvalidResponseFormat, err, "llm response is not valid json: "+truncate(content, 200))
	}
	return out, nil
}

func stripCodeFence(s string) string {
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
		// language tag on the opening fence
		if nl := strings.IndexByte(s, '\n'); nl >= 0 && !strings.ContainsAny(s[:nl], "{}") {
			s = s[nl+1:]
		}
	}
	s = strings.TrimSpace(s)
	return strings.TrimSpace(strings.TrimSuffix(s, "```"))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
