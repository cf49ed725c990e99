package models

import "context"

// Capability is a declared ability of a (backend, model) pair.
type Capability string

const (
	CapText   Capability = "text"
	CapVision Capability = "vision"
	CapEmbed  Capability = "embed"
)

// ModelPhase names a processing phase from the router's point of view. This
// is a fixed enumeration; each phase requires exactly one capability.
type ModelPhase string

const (
	PhaseVision       ModelPhase = "vision"
	PhaseKBGeneration ModelPhase = "kb_generation"
	PhaseSynthesis    ModelPhase = "synthesis"
	PhaseChat         ModelPhase = "chat"
	PhaseEmbeddings   ModelPhase = "embeddings"
)

// RequiredCapability returns the capability a phase's model must declare.
// The second return is false for unknown phases.
func (p ModelPhase) RequiredCapability() (Capability, bool) {
	switch p {
	case PhaseVision:
		return CapVision, true
	case PhaseKBGeneration, PhaseSynthesis, PhaseChat:
		return CapText, true
	case PhaseEmbeddings:
		return CapEmbed, true
	}
	return "", false
}

// ModelInfo is one entry of a backend's capability manifest.
type ModelInfo struct {
	ID           string
	Capabilities []Capability
}

// Has reports whether the model declares a capability.
func (m ModelInfo) Has(c Capability) bool {
	for _, have := range m.Capabilities {
		if have == c {
			return true
		}
	}
	return false
}

// ImageInput carries raw image bytes for vision requests.
type ImageInput struct {
	MediaType string // e.g. "image/jpeg"
	Data      []byte
}

// TextRequest is one text-generation call.
type TextRequest struct {
	Model     string
	Prompt    string
	Image     *ImageInput // optional, vision models only
	MaxTokens int
	Params    map[string]any
}

// Backend is a model provider. Implementations may block on network I/O;
// callers apply timeouts through the context.
type Backend interface {
	Name() string
	// Models returns the capability manifest in a fixed order. The router's
	// fallback search depends on this order being deterministic.
	Models() []ModelInfo
	// Ping verifies the backend is reachable. Used during initialization.
	Ping(ctx context.Context) error
	GenerateText(ctx context.Context, req TextRequest) (string, error)
	Embed(ctx context.Context, model string, inputs []string) ([][]float32, error)
}

// Selection is a resolved backend/model/parameter triple for one phase.
type Selection struct {
	Backend Backend
	Model   string
	Params  map[string]any
}
