package proxy

import (
	"context"
	"sync"

	"github.com/vnmchuo/modelgate/internal/llmconfig"
	"github.com/vnmchuo/modelgate/internal/llmerr"
	"github.com/vnmchuo/modelgate/internal/message"
)

// Caller is a stateful conversation with one logical key. Turns are committed
// to its history only when a call succeeds; concurrent calls on the same
// Caller are serialized.
type Caller struct {
	d   *Dispatcher
	cfg llmconfig.Config

	mu       sync.Mutex
	history  []message.Message
	pending  []message.ToolResult
	tools    []map[string]any
	scaling  bool
	viewport message.Resolution
	target   message.Resolution
}

type CallerOption func(*Caller)

// WithTools sets the native tool definitions sent on every turn.
func WithTools(tools []map[string]any) CallerOption {
	return func(c *Caller) { c.tools = tools }
}

// WithScreenshotScaling downsizes attached screenshots to the standard
// resolution closest to the viewport.
func WithScreenshotScaling(enabled bool) CallerOption {
	return func(c *Caller) { c.scaling = enabled }
}

// NewCaller binds a stateful caller to key.
func (d *Dispatcher) NewCaller(key string, opts ...CallerOption) (*Caller, error) {
	cfg, err := d.registry.Get(key)
	if err != nil {
		return nil, err
	}
	c := &Caller{d: d, cfg: cfg, viewport: d.viewport, scaling: d.scaling}
	for _, opt := range opts {
		opt(c)
	}
	c.target = message.TargetResolution(c.viewport)
	c.patchTools()
	return c, nil
}

// Call sends the prompt as the next turn of the conversation.
func (c *Caller) Call(ctx context.Context, req CallRequest) (*Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.scaling && len(req.Images) > 0 && c.target != c.viewport {
		scaled, err := message.ResizeScreenshots(req.Images, c.target)
		if err != nil {
			return nil, llmerr.Wrap(llmerr.KindFatalProvider, err, "failed to scale screenshots",
				llmerr.WithLLMKey(c.cfg.LLMKey()), llmerr.WithPrompt(req.PromptName))
		}
		req.Images = scaled
	}
	if req.Tools == nil {
		req.Tools = c.tools
	}

	res, commit, err := c.d.dispatch(ctx, callSpec{
		cfg:         c.cfg,
		req:         req,
		history:     c.history,
		toolResults: c.pending,
	})
	if err != nil {
		return nil, err
	}
	c.history = append(c.history, commit...)
	c.pending = nil
	return res, nil
}

// AddToolResult queues a tool call answer for the next turn.
func (c *Caller) AddToolResult(r message.ToolResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending = append(c.pending, r)
}

// SetWindowDimension records the browser window size reported by the agent
// and recomputes the screenshot target.
func (c *Caller) SetWindowDimension(width, height int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.viewport = message.Resolution{Width: width, Height: height}
	c.target = message.TargetResolution(c.viewport)
	c.patchTools()
}

// History returns a copy of the committed turns.
func (c *Caller) History() []message.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]message.Message(nil), c.history...)
}

// ScreenshotResolution is the size screenshots are sent at.
func (c *Caller) ScreenshotResolution() message.Resolution {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.screenSize()
}

func (c *Caller) screenSize() message.Resolution {
	if c.scaling {
		return c.target
	}
	return c.viewport
}

// patchTools rewrites the screen size fields of computer-use tool
// definitions. Tools are copied before patching.
func (c *Caller) patchTools() {
	size := c.screenSize()
	out := make([]map[string]any, len(c.tools))
	for i, tool := range c.tools {
		cp := make(map[string]any, len(tool))
		for k, v := range tool {
			cp[k] = v
		}
		if _, ok := cp["display_width_px"]; ok {
			cp["display_width_px"] = size.Width
		}
		if _, ok := cp["display_height_px"]; ok {
			cp["display_height_px"] = size.Height
		}
		if _, ok := cp["display_width"]; ok {
			cp["display_width"] = size.Width
		}
		if _, ok := cp["display_height"]; ok {
			cp["display_height"] = size.Height
		}
		out[i] = cp
	}
	if c.tools != nil {
		c.tools = out
	}
}

// Tools returns the current tool definitions.
func (c *Caller) Tools() []map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tools
}
