package vector

import "context"

// NilProvider is the "none" backend: writes vanish, searches come back
// empty. Recall degrades to keyword-only and the writer's matcher always
// inserts.
type NilProvider struct{}

func NewNilProvider() *NilProvider {
	return &NilProvider{}
}

func (p *NilProvider) Upsert(ctx context.Context, id string, vec []float32, metadata map[string]any) error {
	return nil
}

func (p *NilProvider) Search(ctx context.Context, vec []float32, topK int, agentID string) ([]Result, error) {
	return nil, nil
}

func (p *NilProvider) Delete(ctx context.Context, ids ...string) error {
	return nil
}

func (p *NilProvider) Name() string { return "none" }

func (p *NilProvider) Close() error { return nil }
