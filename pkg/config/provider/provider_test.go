package provider

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseType(t *testing.T) {
	tests := []struct {
		input   string
		want    Type
		wantErr bool
	}{
		{input: "file", want: TypeFile},
		{input: "", want: TypeFile},
		{input: "static", want: TypeStatic},
		{input: "consul", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseType(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFileProviderLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "polis.yaml")
	require.NoError(t, os.WriteFile(path, []byte("logging:\n  level: debug\n"), 0644))

	p, err := NewFileProvider(path)
	require.NoError(t, err)
	defer p.Close()

	assert.Equal(t, TypeFile, p.Type())

	data, err := p.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "logging:\n  level: debug\n", string(data))
}

func TestFileProviderMissing(t *testing.T) {
	p, err := NewFileProvider(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	_, err = p.Load(context.Background())
	assert.Error(t, err)
}

func TestStaticProviderLoad(t *testing.T) {
	p := NewStaticProvider([]byte(`{"logging":{}}`))
	assert.Equal(t, TypeStatic, p.Type())

	data, err := p.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, `{"logging":{}}`, string(data))
	assert.NoError(t, p.Close())
}

func TestNewProvider(t *testing.T) {
	p, err := New(ProviderConfig{Type: TypeStatic})
	require.NoError(t, err)
	assert.Equal(t, TypeStatic, p.Type())

	_, err = New(ProviderConfig{Type: "etcd"})
	assert.Error(t, err)
}
