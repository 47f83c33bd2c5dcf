package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"reflect"
	"sync"
	"testing"

	"github.com/vnmchuo/modelgate/internal/llmconfig"
	"github.com/vnmchuo/modelgate/internal/llmerr"
	"github.com/vnmchuo/modelgate/internal/message"
	"github.com/vnmchuo/modelgate/internal/provider"
	"github.com/vnmchuo/modelgate/internal/provider/claude"
)

func computerTool() map[string]any {
	return map[string]any{
		"type":              "computer_20250124",
		"name":              "computer",
		"display_width_px":  1920,
		"display_height_px": 1080,
	}
}

func TestCaller_FailedTurnLeavesNoTrace(t *testing.T) {
	cfg := llmconfig.ProviderConfig{Key: "KEY", Model: "gpt-4o", CallDefaults: llmconfig.CallDefaults{AddAssistantPrefix: true}}

	failing := 1
	flaky := &mockProvider{name: "mock", reply: func(ctx context.Context, req *provider.Request) (*provider.Response, error) {
		if failing > 0 {
			failing--
			return nil, &provider.APIError{Provider: "mock", StatusCode: 500, Message: "boom"}
		}
		return textResponse(req, `"done": true}`), nil
	}}
	d := singleProvider(t, cfg, flaky)
	c, err := d.NewCaller("KEY")
	if err != nil {
		t.Fatalf("NewCaller failed: %v", err)
	}
	if _, err := c.Call(context.Background(), CallRequest{Prompt: "p"}); !errors.Is(err, llmerr.ErrRetryableProvider) {
		t.Fatalf("Expected retryable failure, got %v", err)
	}
	if len(c.History()) != 0 {
		t.Fatalf("Expected empty history after failure, got %d turns", len(c.History()))
	}
	if _, err := c.Call(context.Background(), CallRequest{Prompt: "p"}); err != nil {
		t.Fatalf("Call failed: %v", err)
	}

	clean := singleProvider(t, cfg, &mockProvider{name: "mock", reply: replyText(`"done": true}`)})
	ref, _ := clean.NewCaller("KEY")
	if _, err := ref.Call(context.Background(), CallRequest{Prompt: "p"}); err != nil {
		t.Fatalf("Call failed: %v", err)
	}

	if !reflect.DeepEqual(c.History(), ref.History()) {
		t.Errorf("History after retry differs from a clean call:\n%+v\n%+v", c.History(), ref.History())
	}
	got := c.History()
	if len(got) != 2 || got[1].Text() != `{"done": true}` {
		t.Errorf("Expected user turn and primed assistant reply, got %+v", got)
	}
}

func TestCaller_SendsHistory(t *testing.T) {
	p := &mockProvider{name: "mock"}
	d := singleProvider(t, llmconfig.ProviderConfig{Key: "KEY", Model: "gpt-4o"}, p)
	c, _ := d.NewCaller("KEY")

	for _, prompt := range []string{"first", "second"} {
		if _, err := c.Call(context.Background(), CallRequest{Prompt: prompt}); err != nil {
			t.Fatalf("Call failed: %v", err)
		}
	}
	msgs := p.last().Messages
	if len(msgs) != 3 {
		t.Fatalf("Expected 3 messages on second turn, got %d", len(msgs))
	}
	if msgs[0].Text() != "first" || msgs[1].Role != message.RoleAssistant || msgs[2].Text() != "second" {
		t.Errorf("Unexpected conversation %+v", msgs)
	}
}

func TestCaller_ToolResultsClearedOnSuccess(t *testing.T) {
	fail := true
	p := &mockProvider{name: "mock", reply: func(ctx context.Context, req *provider.Request) (*provider.Response, error) {
		if fail {
			return nil, &provider.APIError{Provider: "mock", StatusCode: 503, Message: "busy"}
		}
		return textResponse(req, `{"ok": true}`), nil
	}}
	d := singleProvider(t, llmconfig.ProviderConfig{Key: "KEY", Model: "gpt-4o"}, p)
	c, _ := d.NewCaller("KEY")
	c.AddToolResult(message.ToolResult{CallID: "call_1", Name: "computer", Content: "clicked"})

	if _, err := c.Call(context.Background(), CallRequest{Prompt: "p"}); err == nil {
		t.Fatal("Expected failure")
	}
	fail = false
	if _, err := c.Call(context.Background(), CallRequest{Prompt: "p"}); err != nil {
		t.Fatalf("Call failed: %v", err)
	}
	parts := p.last().Messages[0].Parts
	if len(parts) != 2 || parts[0].Kind != message.PartToolResult || parts[0].ToolResult.CallID != "call_1" {
		t.Fatalf("Expected pending tool result to be retried, got %+v", parts)
	}

	if _, err := c.Call(context.Background(), CallRequest{Prompt: "p"}); err != nil {
		t.Fatalf("Call failed: %v", err)
	}
	last := p.last().Messages
	if parts := last[len(last)-1].Parts; len(parts) != 1 || parts[0].Kind != message.PartText {
		t.Errorf("Expected tool results to be consumed, got %+v", parts)
	}
}

func TestCaller_PatchesComputerTool(t *testing.T) {
	p := &mockProvider{name: "mock"}
	d := singleProvider(t, llmconfig.ProviderConfig{Key: "KEY", Model: "anthropic/claude-sonnet-4-20250514"}, p)
	original := computerTool()
	c, err := d.NewCaller("KEY", WithTools([]map[string]any{original}), WithScreenshotScaling(true))
	if err != nil {
		t.Fatalf("NewCaller failed: %v", err)
	}

	tool := c.Tools()[0]
	if tool["display_width_px"] != 1366 || tool["display_height_px"] != 768 {
		t.Errorf("Expected FWXGA for a 16:9 viewport, got %vx%v", tool["display_width_px"], tool["display_height_px"])
	}
	if original["display_width_px"] != 1920 {
		t.Error("Expected caller to patch a copy of the tool definition")
	}

	c.SetWindowDimension(1440, 900)
	tool = c.Tools()[0]
	if tool["display_width_px"] != 1280 || tool["display_height_px"] != 800 {
		t.Errorf("Expected WXGA for a 16:10 viewport, got %vx%v", tool["display_width_px"], tool["display_height_px"])
	}
	if got := c.ScreenshotResolution(); got != message.ResolutionWXGA {
		t.Errorf("Expected WXGA screenshots, got %+v", got)
	}

	if _, err := c.Call(context.Background(), CallRequest{Prompt: "p"}); err != nil {
		t.Fatalf("Call failed: %v", err)
	}
	if sent := p.last().Params.Tools; len(sent) != 1 || sent[0]["display_width_px"] != 1280 {
		t.Errorf("Expected patched tools on the request, got %+v", sent)
	}
}

func TestCaller_WithoutScalingKeepsViewport(t *testing.T) {
	d := singleProvider(t, llmconfig.ProviderConfig{Key: "KEY", Model: "gpt-4o"}, &mockProvider{name: "mock"})
	c, _ := d.NewCaller("KEY", WithTools([]map[string]any{computerTool()}))

	c.SetWindowDimension(1440, 900)
	if got := c.ScreenshotResolution(); got != (message.Resolution{Width: 1440, Height: 900}) {
		t.Errorf("Expected viewport resolution, got %+v", got)
	}
	if c.Tools()[0]["display_width_px"] != 1440 {
		t.Errorf("Expected tool width 1440, got %v", c.Tools()[0]["display_width_px"])
	}
}

func TestCaller_ConcurrentCallsSerialize(t *testing.T) {
	d := singleProvider(t, llmconfig.ProviderConfig{Key: "KEY", Model: "gpt-4o"}, &mockProvider{name: "mock"})
	c, _ := d.NewCaller("KEY")

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.Call(context.Background(), CallRequest{Prompt: "p"}); err != nil {
				t.Errorf("Call failed: %v", err)
			}
		}()
	}
	wg.Wait()

	history := c.History()
	if len(history) != 20 {
		t.Fatalf("Expected 20 committed turns, got %d", len(history))
	}
	for i, m := range history {
		want := message.RoleUser
		if i%2 == 1 {
			want = message.RoleAssistant
		}
		if m.Role != want {
			t.Fatalf("Turn %d: expected %s, got %s", i, want, m.Role)
		}
	}
}

func TestNewCaller_UnknownKey(t *testing.T) {
	d := newTestDispatcher(t, nil, nil)
	if _, err := d.NewCaller("NOPE"); !errors.Is(err, llmerr.ErrUnknownConfig) {
		t.Errorf("Expected UnknownConfig, got %v", err)
	}
}

const toolUseReply = `{"id": "msg_1", "type": "message", "role": "assistant", "model": "claude-sonnet-4-0",
  "content": [{"type": "text", "text": "clicking"},
    {"type": "tool_use", "id": "toolu_1", "name": "computer", "input": {"action": "left_click"}}],
  "stop_reason": "tool_use", "usage": {"input_tokens": 10, "output_tokens": 5}}`

const textReply = `{"id": "msg_2", "type": "message", "role": "assistant", "model": "claude-sonnet-4-0",
  "content": [{"type": "text", "text": "{\"done\": true}"}],
  "stop_reason": "end_turn", "usage": {"input_tokens": 10, "output_tokens": 5}}`

func TestCaller_ToolUseRoundTrip(t *testing.T) {
	var mu sync.Mutex
	var bodies []map[string]any
	replies := []string{toolUseReply, textReply}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		var body map[string]any
		_ = json.Unmarshal(raw, &body)
		mu.Lock()
		reply := replies[len(bodies)]
		bodies = append(bodies, body)
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(reply))
	}))
	defer server.Close()

	cfg := llmconfig.ProviderConfig{Key: "CLAUDE", Model: "anthropic/claude-sonnet-4-0", Family: llmconfig.FamilyAnthropic}
	d := newTestDispatcher(t, []llmconfig.Config{cfg}, map[string]provider.Provider{
		"CLAUDE": claude.New(claude.Options{APIKey: "test-key", BaseURL: server.URL}),
	})
	c, err := d.NewCaller("CLAUDE")
	if err != nil {
		t.Fatalf("NewCaller failed: %v", err)
	}

	res, err := c.Call(context.Background(), CallRequest{Prompt: "p1", Raw: true})
	if err != nil {
		t.Fatalf("first turn failed: %v", err)
	}
	if len(res.Response.ToolCalls) != 1 || res.Response.ToolCalls[0].ID != "toolu_1" {
		t.Fatalf("Expected tool call toolu_1, got %+v", res.Response.ToolCalls)
	}
	c.AddToolResult(message.ToolResult{CallID: "toolu_1", Name: "computer", Content: "clicked"})
	if _, err := c.Call(context.Background(), CallRequest{Prompt: "p2"}); err != nil {
		t.Fatalf("second turn failed: %v", err)
	}

	if len(bodies) != 2 {
		t.Fatalf("Expected 2 requests, got %d", len(bodies))
	}
	msgs, _ := bodies[1]["messages"].([]any)
	if len(msgs) != 3 {
		t.Fatalf("Expected 3 messages on the second turn, got %d", len(msgs))
	}
	assistant := msgs[1].(map[string]any)
	blocks, _ := assistant["content"].([]any)
	var toolUse map[string]any
	for _, b := range blocks {
		if block := b.(map[string]any); block["type"] == "tool_use" {
			toolUse = block
		}
	}
	if toolUse == nil || toolUse["id"] != "toolu_1" || toolUse["name"] != "computer" {
		t.Fatalf("Expected tool_use block toolu_1 on the assistant turn, got %v", blocks)
	}
	if input, _ := toolUse["input"].(map[string]any); input["action"] != "left_click" {
		t.Errorf("Expected tool input to be replayed, got %v", toolUse["input"])
	}
	user := msgs[2].(map[string]any)
	first := user["content"].([]any)[0].(map[string]any)
	if first["type"] != "tool_result" || first["tool_use_id"] != "toolu_1" {
		t.Errorf("Expected tool_result for toolu_1 first, got %v", first)
	}
}
