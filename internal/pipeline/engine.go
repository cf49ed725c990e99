package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ejwhitmore/tweetvault/internal/config"
	"github.com/ejwhitmore/tweetvault/internal/kb"
	"github.com/ejwhitmore/tweetvault/internal/logger"
	"github.com/ejwhitmore/tweetvault/internal/media"
	"github.com/ejwhitmore/tweetvault/internal/models"
	"github.com/ejwhitmore/tweetvault/internal/notifier"
	"github.com/ejwhitmore/tweetvault/internal/source"
	"github.com/ejwhitmore/tweetvault/internal/store"
	"github.com/ejwhitmore/tweetvault/internal/thread"
	"github.com/ejwhitmore/tweetvault/internal/types"
)

// Engine drives items through the processing phases. It is constructed once
// per process and holds every collaborator explicitly; there is no global
// state.
type Engine struct {
	store   *store.Store
	router  *models.Router
	source  source.Source
	media   *media.Cache
	threads *thread.Detector
	kb      *kb.Builder
	rec     *recorder
	log     *logger.Logger
	cfg     config.PipelineConfig

	// logExchanges controls persisting prompt/response pairs to the LLM
	// cache directory.
	logExchanges bool
}

// Deps are the collaborators an Engine needs.
type Deps struct {
	Store    *store.Store
	Router   *models.Router
	Source   source.Source
	Media    *media.Cache
	Threads  *thread.Detector
	KB       *kb.Builder
	Notifier *notifier.Notifier
	Log      *logger.Logger
	Config   config.PipelineConfig

	// DisableExchangeLog turns off the on-disk LLM exchange cache (tests).
	DisableExchangeLog bool
}

// New creates an engine.
func New(d Deps) *Engine {
	log := d.Log.With("component", "engine")
	cfg := d.Config
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.ModelTimeoutSeconds <= 0 {
		cfg.ModelTimeoutSeconds = 120
	}
	return &Engine{
		store:        d.Store,
		router:       d.Router,
		source:       d.Source,
		media:        d.Media,
		threads:      d.Threads,
		kb:           d.KB,
		rec:          newRecorder(d.Log, d.Notifier),
		log:          log,
		cfg:          cfg,
		logExchanges: !d.DisableExchangeLog,
	}
}

// result accumulates one executor pass. Counters and failures survive even
// when the pass aborts, so the PhaseRun always reflects the work done.
type result struct {
	processed int
	skipped   int
	failed    int
	failures  []types.PhaseFailure
	itemIDs   []string

	// Categorization quality signal.
	reusedCategories int
	newCategories    int
}

func failure(itemID string, err error) types.PhaseFailure {
	return types.PhaseFailure{ItemID: itemID, Message: err.Error()}
}

func (r *result) add(other result) {
	r.processed += other.processed
	r.skipped += other.skipped
	r.failed += other.failed
	r.failures = append(r.failures, other.failures...)
	r.itemIDs = append(r.itemIDs, other.itemIDs...)
	r.reusedCategories += other.reusedCategories
	r.newCategories += other.newCategories
}

// ExecutePhase runs one phase (or a single content sub-phase) over its
// candidate set and returns the finalized PhaseRun.
//
// Fatal setup errors (dependency gate, router resolution, source outage)
// surface as a non-nil error; item-level failures are aggregated into the
// run's failure list and the run still completes.
func (e *Engine) ExecutePhase(ctx context.Context, phase Phase, sub *types.SubPhase, force bool) (*types.PhaseRun, error) {
	phaseID := ID(phase, sub)

	vr, err := e.Validate(phase, sub)
	if err != nil {
		return nil, err
	}
	if !vr.OK {
		return nil, &DependencyUnmetError{Phase: phaseID, Reason: vr.Reason}
	}

	run := &types.PhaseRun{
		ID:        uuid.NewString(),
		Phase:     phaseID,
		StartedAt: time.Now(),
		Status:    types.RunRunning,
	}
	if err := e.store.CreateRun(run); err != nil {
		return nil, err
	}
	e.rec.phaseStarted(run)

	res, execErr := e.execute(ctx, phase, sub, force)

	finalizeRunRecord(run, res, execErr)
	if err := e.store.FinalizeRun(run); err != nil {
		e.log.Error("failed to finalize phase run", "run_id", run.ID, "error", err)
	}
	e.rec.phaseFinished(run)

	if execErr != nil {
		return run, execErr
	}
	return run, nil
}

// finalizeRunRecord copies an executor result and terminal status onto a run
// record before it is written.
func finalizeRunRecord(run *types.PhaseRun, res result, execErr error) {
	run.Processed = res.processed
	run.Skipped = res.skipped
	run.Failed = res.failed
	run.ItemIDs = res.itemIDs
	run.Failures = res.failures
	run.ReusedCategories = res.reusedCategories
	run.NewCategories = res.newCategories
	run.FinishedAt = time.Now()

	switch {
	case execErr == nil:
		run.Status = types.RunCompleted
	case errors.Is(execErr, context.Canceled) || errors.Is(execErr, context.DeadlineExceeded):
		run.Status = types.RunCancelled
		run.Error = "cancelled"
	default:
		run.Status = types.RunFailed
		run.Error = execErr.Error()
	}
}

// execute dispatches to the executor for a phase. The switch is exhaustive
// over the Phase enum.
func (e *Engine) execute(ctx context.Context, phase Phase, sub *types.SubPhase, force bool) (result, error) {
	switch phase {
	case PhaseInitialization:
		return e.runInitialization(ctx)
	case PhaseFetch:
		return e.runFetch(ctx)
	case PhaseContent:
		return e.runContent(ctx, sub, force)
	case PhaseSynthesis:
		return e.runSynthesis(ctx, force)
	case PhaseEmbeddings:
		return e.runEmbeddings(ctx, force)
	case PhaseIndex:
		return e.runIndex(ctx)
	case PhasePublish:
		return e.runPublish(ctx)
	}
	return result{}, errors.New("unreachable: unknown phase")
}

// RunAll executes every phase in order with the dependency gates in force.
// A DependencyUnmetError on a downstream phase ends the pass without error:
// it simply means there is nothing for that phase to do yet.
func (e *Engine) RunAll(ctx context.Context, force bool) error {
	for _, phase := range Phases {
		if _, err := e.ExecutePhase(ctx, phase, nil, force); err != nil {
			var unmet *DependencyUnmetError
			if errors.As(err, &unmet) {
				e.log.Warn("skipping phase", "phase", phase.String(), "reason", unmet.Reason)
				continue
			}
			return err
		}
	}
	return nil
}

// modelTimeout is the per-call ceiling on blocking model I/O.
func (e *Engine) modelTimeout() time.Duration {
	return time.Duration(e.cfg.ModelTimeoutSeconds) * time.Second
}

// generate performs one text-generation call with the per-call timeout and
// persists the exchange to the LLM cache.
func (e *Engine) generate(ctx context.Context, phase models.ModelPhase, sel models.Selection, prompt string, img *models.ImageInput) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.modelTimeout())
	defer cancel()

	text, err := sel.Backend.GenerateText(callCtx, models.TextRequest{
		Model:  sel.Model,
		Prompt: prompt,
		Image:  img,
		Params: sel.Params,
	})

	if e.logExchanges {
		exchange := store.LLMExchange{
			Timestamp: time.Now(),
			Backend:   sel.Backend.Name(),
			Model:     sel.Model,
			Phase:     string(phase),
			Prompt:    prompt,
			Response:  text,
		}
		if err != nil {
			exchange.Error = err.Error()
		}
		if _, saveErr := store.SaveLLMExchange(exchange); saveErr != nil {
			e.log.Warn("failed to cache LLM exchange", "error", saveErr)
		}
	}

	return text, err
}

// inflightSet tracks items dispatched but not yet completed within a pass,
// so failure recovery can roll back exactly the in-flight batch.
type inflightSet struct {
	mu  sync.Mutex
	ids map[string]struct{}
}

func newInflightSet() *inflightSet {
	return &inflightSet{ids: make(map[string]struct{})}
}

func (s *inflightSet) add(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids[id] = struct{}{}
}

func (s *inflightSet) remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.ids, id)
}

func (s *inflightSet) list() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.ids))
	for id := range s.ids {
		out = append(out, id)
	}
	return out
}
