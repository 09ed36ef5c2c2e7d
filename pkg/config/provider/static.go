package provider

import "context"

// StaticProvider serves a fixed byte slice. It backs zero-config startup
// and tests that need a config source without touching the filesystem.
type StaticProvider struct {
	data []byte
}

// NewStaticProvider creates a provider that always returns data.
func NewStaticProvider(data []byte) *StaticProvider {
	return &StaticProvider{data: data}
}

// Type returns TypeStatic.
func (p *StaticProvider) Type() Type {
	return TypeStatic
}

// Load returns the fixed bytes.
func (p *StaticProvider) Load(ctx context.Context) ([]byte, error) {
	return p.data, nil
}

// Close is a no-op.
func (p *StaticProvider) Close() error {
	return nil
}

var _ Provider = (*StaticProvider)(nil)
