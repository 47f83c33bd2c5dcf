package cache

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"google.golang.org/genai"

	"github.com/vnmchuo/modelgate/internal/llmconfig"
)

// VertexBackend stores cached content through the Vertex AI cachedContents
// API.
type VertexBackend struct {
	client *genai.Client
}

func NewVertexBackend(client *genai.Client) *VertexBackend {
	return &VertexBackend{client: client}
}

// Create stores content as a user turn of a new cachedContents object.
func (b *VertexBackend) Create(ctx context.Context, model, content string, ttl time.Duration) (Entry, error) {
	name := llmconfig.ModelName(model)
	cfg := &genai.CreateCachedContentConfig{
		TTL:      ttl,
		Contents: []*genai.Content{genai.NewContentFromText(content, genai.RoleUser)},
	}
	cached, err := b.client.Caches.Create(ctx, name, cfg)
	if err != nil {
		return Entry{}, errors.Wrap(err, "vertex cachedContents.create")
	}
	expire := cached.ExpireTime
	if expire.IsZero() {
		expire = time.Now().Add(ttl)
	}
	return Entry{Name: cached.Name, Model: cached.Model, ExpireTime: expire}, nil
}

func (b *VertexBackend) Delete(ctx context.Context, name string) error {
	if _, err := b.client.Caches.Delete(ctx, name, nil); err != nil {
		return errors.Wrap(err, "vertex cachedContents.delete")
	}
	return nil
}
