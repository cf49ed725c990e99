package models

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBackend struct {
	name     string
	manifest []ModelInfo
}

func (b *fakeBackend) Name() string        { return b.name }
func (b *fakeBackend) Models() []ModelInfo { return b.manifest }
func (b *fakeBackend) Ping(context.Context) error {
	return nil
}
func (b *fakeBackend) GenerateText(context.Context, TextRequest) (string, error) {
	return "", errors.New("not implemented")
}
func (b *fakeBackend) Embed(context.Context, string, []string) ([][]float32, error) {
	return nil, errors.New("not implemented")
}

func testBackends() []Backend {
	return []Backend{
		&fakeBackend{
			name: "alpha",
			manifest: []ModelInfo{
				{ID: "alpha-text", Capabilities: []Capability{CapText}},
				{ID: "alpha-vision", Capabilities: []Capability{CapText, CapVision}},
			},
		},
		&fakeBackend{
			name: "beta",
			manifest: []ModelInfo{
				{ID: "beta-embed", Capabilities: []Capability{CapEmbed}},
			},
		},
	}
}

func TestResolveConfiguredSelection(t *testing.T) {
	r := NewRouter(testBackends(), map[ModelPhase]SelectionConfig{
		PhaseVision: {Backend: "alpha", Model: "alpha-vision", Params: map[string]any{"temperature": 0.2}},
	})

	sel, err := r.Resolve(PhaseVision)
	require.NoError(t, err)
	assert.Equal(t, "alpha", sel.Backend.Name())
	assert.Equal(t, "alpha-vision", sel.Model)
	assert.Equal(t, 0.2, sel.Params["temperature"])
}

func TestResolveCapabilityMismatchIsFatal(t *testing.T) {
	// alpha-text is configured for vision but only declares text.
	r := NewRouter(testBackends(), map[ModelPhase]SelectionConfig{
		PhaseVision: {Backend: "alpha", Model: "alpha-text"},
	})

	_, err := r.Resolve(PhaseVision)
	var mismatch *CapabilityMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, PhaseVision, mismatch.Phase)
	assert.Equal(t, CapVision, mismatch.Capability)
}

func TestResolveFallbackIsDeterministic(t *testing.T) {
	r := NewRouter(testBackends(), nil)

	// First backend, first model declaring the capability.
	for i := 0; i < 5; i++ {
		sel, err := r.Resolve(PhaseKBGeneration)
		require.NoError(t, err)
		assert.Equal(t, "alpha", sel.Backend.Name())
		assert.Equal(t, "alpha-text", sel.Model)
	}

	sel, err := r.Resolve(PhaseEmbeddings)
	require.NoError(t, err)
	assert.Equal(t, "beta", sel.Backend.Name())
	assert.Equal(t, "beta-embed", sel.Model)
}

func TestResolveNoCapableModel(t *testing.T) {
	r := NewRouter([]Backend{
		&fakeBackend{name: "alpha", manifest: []ModelInfo{
			{ID: "alpha-text", Capabilities: []Capability{CapText}},
		}},
	}, nil)

	_, err := r.Resolve(PhaseEmbeddings)
	var unavailable *ModelUnavailableError
	require.ErrorAs(t, err, &unavailable)
	assert.Equal(t, CapEmbed, unavailable.Capability)
}

func TestResolveUnknownBackendOrModel(t *testing.T) {
	r := NewRouter(testBackends(), map[ModelPhase]SelectionConfig{
		PhaseSynthesis: {Backend: "gamma", Model: "whatever"},
	})
	_, err := r.Resolve(PhaseSynthesis)
	assert.Error(t, err)

	r = NewRouter(testBackends(), map[ModelPhase]SelectionConfig{
		PhaseSynthesis: {Backend: "alpha", Model: "missing"},
	})
	_, err = r.Resolve(PhaseSynthesis)
	assert.Error(t, err)
}
