package models

import "fmt"

// CapabilityMismatchError reports a user-configured model that lacks the
// capability its phase requires. There is no silent substitution: this is
// fatal for the calling phase run.
type CapabilityMismatchError struct {
	Phase      ModelPhase
	Backend    string
	Model      string
	Capability Capability
}

func (e *CapabilityMismatchError) Error() string {
	return fmt.Sprintf("model %s/%s configured for phase %q lacks required capability %q",
		e.Backend, e.Model, e.Phase, e.Capability)
}

// ModelUnavailableError reports that no registered backend advertises the
// capability a phase requires.
type ModelUnavailableError struct {
	Phase      ModelPhase
	Capability Capability
}

func (e *ModelUnavailableError) Error() string {
	return fmt.Sprintf("no model with capability %q available for phase %q", e.Capability, e.Phase)
}

// SelectionConfig pins a phase to a backend/model/parameter triple. Written
// through the configuration path only; the router just reads it.
type SelectionConfig struct {
	Backend string
	Model   string
	Params  map[string]any
}

// Router resolves which backend/model/parameter triple serves a phase.
// Resolution is a pure lookup with no side effects; callers record the model
// actually used (provenance) after a successful call.
type Router struct {
	backends   []Backend
	configured map[ModelPhase]SelectionConfig
}

// NewRouter builds a router over the given backends. Backend order is the
// fallback search order and must be deterministic.
func NewRouter(backends []Backend, configured map[ModelPhase]SelectionConfig) *Router {
	if configured == nil {
		configured = map[ModelPhase]SelectionConfig{}
	}
	return &Router{backends: backends, configured: configured}
}

// Backends returns the registered backends in search order.
func (r *Router) Backends() []Backend {
	return r.backends
}

// Resolve returns the selection for a phase.
//
// A configured selection is validated against the backend's capability
// manifest and a mismatch is fatal. Without a configured selection the first
// backend/model advertising the required capability is used, in registration
// order.
func (r *Router) Resolve(phase ModelPhase) (Selection, error) {
	capability, ok := phase.RequiredCapability()
	if !ok {
		return Selection{}, fmt.Errorf("unknown model phase %q", phase)
	}

	if cfg, ok := r.configured[phase]; ok && cfg.Model != "" {
		backend := r.backendByName(cfg.Backend)
		if backend == nil {
			return Selection{}, fmt.Errorf("phase %q configured with unknown backend %q", phase, cfg.Backend)
		}
		info, found := manifestEntry(backend, cfg.Model)
		if !found {
			return Selection{}, fmt.Errorf("phase %q configured with unknown model %s/%s", phase, cfg.Backend, cfg.Model)
		}
		if !info.Has(capability) {
			return Selection{}, &CapabilityMismatchError{
				Phase:      phase,
				Backend:    cfg.Backend,
				Model:      cfg.Model,
				Capability: capability,
			}
		}
		return Selection{Backend: backend, Model: cfg.Model, Params: cfg.Params}, nil
	}

	for _, backend := range r.backends {
		for _, info := range backend.Models() {
			if info.Has(capability) {
				return Selection{Backend: backend, Model: info.ID}, nil
			}
		}
	}

	return Selection{}, &ModelUnavailableError{Phase: phase, Capability: capability}
}

func (r *Router) backendByName(name string) Backend {
	for _, b := range r.backends {
		if b.Name() == name {
			return b
		}
	}
	return nil
}

func manifestEntry(b Backend, model string) (ModelInfo, bool) {
	for _, info := range b.Models() {
		if info.ID == model {
			return info, true
		}
	}
	return ModelInfo{}, false
}
