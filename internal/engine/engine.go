// Package engine implements the Rules Engine: it loads rule specs into
// concrete Rule instances, validates them (including dependency and
// cycle checks), computes a topological phase schedule, and executes
// each phase with a bounded worker pool, rolling back on request.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/sxngo/sxngo/internal/cmdallow"
	"github.com/sxngo/sxngo/internal/cmdexec"
	"github.com/sxngo/sxngo/internal/filecopy"
	"github.com/sxngo/sxngo/internal/rules"
)

// RuleSpec is one entry of the rules configuration the caller submits.
type RuleSpec struct {
	Name         string
	Type         string // "copy_files" | "setup_commands" | "template"
	Config       interface{} // expected map[string]interface{}
	Dependencies []string
}

// Options configures a single Apply run.
type Options struct {
	Parallel          bool
	ContinueOnFailure bool
	MaxParallelism    int // default 4
	ValidateOnly      bool
}

// DefaultOptions matches spec 4.H's defaults.
func DefaultOptions() Options {
	return Options{Parallel: true, ContinueOnFailure: false, MaxParallelism: 4}
}

// FailedRule pairs a rule with the error that failed it.
type FailedRule struct {
	Rule rules.Rule
	Err  error
}

// SkippedRule names a rule that never reached Apply, with why.
type SkippedRule struct {
	Name   string
	Reason string
}

// ExecutionResult is the outcome of Apply.
type ExecutionResult struct {
	Applied        []rules.Rule
	Failed         []FailedRule
	Skipped        []SkippedRule
	TotalDuration  time.Duration
	PhaseDurations map[string]time.Duration
	EngineErrors   []error
}

// Success is true iff no rule failed and no engine error occurred.
func (r *ExecutionResult) Success() bool {
	return len(r.Failed) == 0 && len(r.EngineErrors) == 0
}

// Kind identifies the category of a top-level Engine Error.
type Kind int

const (
	KindUnknownRuleType Kind = iota
	KindMalformedRuleSpec
	KindDuplicateRuleName
	KindMissingDependency
	KindCircularDependency
)

func (k Kind) String() string {
	switch k {
	case KindUnknownRuleType:
		return "UnknownRuleType"
	case KindMalformedRuleSpec:
		return "MalformedRuleSpec"
	case KindDuplicateRuleName:
		return "DuplicateRuleName"
	case KindMissingDependency:
		return "MissingDependency"
	case KindCircularDependency:
		return "CircularDependency"
	default:
		return "Unknown"
	}
}

// Error is a hard, run-aborting engine failure (Load/Validate stage).
type Error struct {
	Kind Kind
	Msg  string
}

func (e *Error) Error() string { return fmt.Sprintf("%s: %s", e.Kind, e.Msg) }

var knownRuleTypes = []string{"copy_files", "setup_commands", "template"}

// Engine applies a rules configuration against a project root (reads)
// and a session root (writes).
type Engine struct {
	projectRoot string
	sessionRoot string
	sessionName string
	projectName string
	cipher      filecopy.Cipher
	allow       *cmdallow.List
	executor    *cmdexec.Executor
}

// New constructs an Engine. cipher may be nil (encryption requests
// then fail at apply time); allow nil uses the default allow-list.
func New(projectRoot, sessionRoot, sessionName, projectName string, cipher filecopy.Cipher, allow *cmdallow.List) *Engine {
	if allow == nil {
		allow = cmdallow.Default()
	}
	return &Engine{
		projectRoot: projectRoot,
		sessionRoot: sessionRoot,
		sessionName: sessionName,
		projectName: projectName,
		cipher:      cipher,
		allow:       allow,
		executor:    cmdexec.New(sessionRoot, allow),
	}
}

// Apply loads, validates, schedules, and executes the given rule
// specs, returning an ExecutionResult. A non-nil error indicates a
// hard Load/Validate failure — in that case the filesystem is
// unchanged and the result (if any) is nil.
func (e *Engine) Apply(ctx context.Context, specs []RuleSpec, opts Options) (*ExecutionResult, error) {
	if opts.MaxParallelism <= 0 {
		opts.MaxParallelism = 4
	}
	start := time.Now()

	if len(specs) == 0 {
		return &ExecutionResult{PhaseDurations: map[string]time.Duration{}, TotalDuration: time.Since(start)}, nil
	}

	loaded, err := e.load(specs)
	if err != nil {
		return nil, err
	}

	result := &ExecutionResult{PhaseDurations: map[string]time.Duration{}}

	var firstValidationErr error
	for _, r := range loaded {
		if verr := r.Validate(ctx); verr != nil {
			if firstValidationErr == nil {
				firstValidationErr = verr
			}
			result.Skipped = append(result.Skipped, SkippedRule{Name: r.Name(), Reason: verr.Error()})
		}
	}

	if firstValidationErr == nil {
		if err := checkDependencies(loaded); err != nil {
			firstValidationErr = err
		} else if err := checkCycles(loaded); err != nil {
			firstValidationErr = err
		}
	}

	// Validation errors are fatal for the whole run: no rules are
	// applied, unless the caller only wanted a dry validation pass.
	if firstValidationErr != nil {
		if opts.ValidateOnly {
			result.TotalDuration = time.Since(start)
			return result, nil
		}
		return nil, firstValidationErr
	}

	if opts.ValidateOnly {
		result.TotalDuration = time.Since(start)
		return result, nil
	}

	phases, err := schedule(loaded)
	if err != nil {
		return nil, err
	}

	e.executePhases(ctx, phases, opts, result)

	result.TotalDuration = time.Since(start)
	slog.Info("engine.apply.completed", "rules", len(loaded), "phases", len(phases),
		"applied", len(result.Applied), "failed", len(result.Failed), "duration_ms", result.TotalDuration.Milliseconds())
	return result, nil
}

// load instantiates a Rule for every spec, in input order, checking
// for duplicate names and unknown/malformed specs.
func (e *Engine) load(specs []RuleSpec) ([]rules.Rule, error) {
	seen := make(map[string]bool, len(specs))
	loaded := make([]rules.Rule, 0, len(specs))

	for _, spec := range specs {
		if seen[spec.Name] {
			return nil, &Error{Kind: KindDuplicateRuleName, Msg: fmt.Sprintf("duplicate rule name %q", spec.Name)}
		}
		seen[spec.Name] = true

		cfgMap, ok := spec.Config.(map[string]interface{})
		if !ok {
			return nil, &Error{Kind: KindMalformedRuleSpec, Msg: fmt.Sprintf("rule %q: config must be a map", spec.Name)}
		}

		r, err := e.instantiate(spec.Name, spec.Type, cfgMap, spec.Dependencies)
		if err != nil {
			return nil, err
		}
		loaded = append(loaded, r)
	}
	return loaded, nil
}

func (e *Engine) instantiate(name, ruleType string, cfg map[string]interface{}, deps []string) (rules.Rule, error) {
	switch ruleType {
	case "copy_files":
		return e.loadCopyFiles(name, deps, cfg)
	case "setup_commands":
		return e.loadSetupCommands(name, deps, cfg)
	case "template":
		return e.loadTemplate(name, deps, cfg)
	default:
		return nil, &Error{Kind: KindUnknownRuleType, Msg: fmt.Sprintf("unknown rule type %q, known types: %v", ruleType, knownRuleTypes)}
	}
}

// remarshal decodes a generic map into a strongly-typed shadow struct
// by round-tripping through JSON, since the engine's input contract is
// already-parsed, duck-typed configuration (spec §1 non-goal: no
// on-disk config format is owned here).
func remarshal(cfg map[string]interface{}, out interface{}) error {
	data, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

func checkDependencies(loaded []rules.Rule) error {
	names := make(map[string]bool, len(loaded))
	for _, r := range loaded {
		names[r.Name()] = true
	}
	for _, r := range loaded {
		for _, dep := range r.Dependencies() {
			if !names[dep] {
				return &Error{Kind: KindMissingDependency, Msg: fmt.Sprintf("rule %q depends on unknown rule %q", r.Name(), dep)}
			}
		}
	}
	return nil
}

const (
	white = iota
	gray
	black
)

func checkCycles(loaded []rules.Rule) error {
	byName := make(map[string]rules.Rule, len(loaded))
	for _, r := range loaded {
		byName[r.Name()] = r
	}
	color := make(map[string]int, len(loaded))

	var visit func(name string) error
	visit = func(name string) error {
		switch color[name] {
		case gray:
			return &Error{Kind: KindCircularDependency, Msg: fmt.Sprintf("circular dependency involving rule %q", name)}
		case black:
			return nil
		}
		color[name] = gray
		for _, dep := range byName[name].Dependencies() {
			if err := visit(dep); err != nil {
				return err
			}
		}
		color[name] = black
		return nil
	}

	for _, r := range loaded {
		if color[r.Name()] == white {
			if err := visit(r.Name()); err != nil {
				return err
			}
		}
	}
	return nil
}

// schedule produces Kahn-style phases: phase k contains every rule
// whose dependencies are all satisfied by phases < k.
func schedule(loaded []rules.Rule) ([][]rules.Rule, error) {
	remaining := make(map[string]rules.Rule, len(loaded))
	for _, r := range loaded {
		remaining[r.Name()] = r
	}
	completed := make(map[string]bool, len(loaded))

	var phases [][]rules.Rule
	for len(remaining) > 0 {
		var phase []rules.Rule
		for _, r := range loaded {
			if _, ok := remaining[r.Name()]; !ok {
				continue
			}
			ready := true
			for _, dep := range r.Dependencies() {
				if !completed[dep] {
					ready = false
					break
				}
			}
			if ready {
				phase = append(phase, r)
			}
		}
		if len(phase) == 0 {
			// checkCycles already guards against this; defensive only.
			return nil, &Error{Kind: KindCircularDependency, Msg: "unable to schedule remaining rules"}
		}
		for _, r := range phase {
			delete(remaining, r.Name())
			completed[r.Name()] = true
		}
		phases = append(phases, phase)
	}
	return phases, nil
}

func (e *Engine) executePhases(ctx context.Context, phases [][]rules.Rule, opts Options, result *ExecutionResult) {
	var mu sync.Mutex
	halted := false

	for i, phase := range phases {
		if halted {
			for _, r := range phase {
				result.Skipped = append(result.Skipped, SkippedRule{Name: r.Name(), Reason: "phase not reached: prior phase failed"})
			}
			continue
		}

		phaseStart := time.Now()

		if opts.Parallel && len(phase) > 1 {
			e.executePhaseParallel(ctx, phase, opts, result, &mu)
		} else {
			for _, r := range phase {
				e.applyOne(ctx, r, opts, result, &mu)
			}
		}

		result.PhaseDurations[fmt.Sprintf("phase-%d", i)] = time.Since(phaseStart)

		if len(result.Failed) > 0 && !opts.ContinueOnFailure {
			halted = true
		}
	}
}

// executePhaseParallel starts one goroutine per rule in the phase. A
// buffered channel enforces the hard max_parallelism concurrency bound;
// a rate.Limiter (rate and burst both max_parallelism) paces how fast
// those goroutines are admitted to the channel: after the initial
// burst, at most max_parallelism admissions per second.
func (e *Engine) executePhaseParallel(ctx context.Context, phase []rules.Rule, opts Options, result *ExecutionResult, mu *sync.Mutex) {
	limiter := rate.NewLimiter(rate.Limit(opts.MaxParallelism), opts.MaxParallelism)
	sem := make(chan struct{}, opts.MaxParallelism)
	var wg sync.WaitGroup

	for _, r := range phase {
		r := r
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := limiter.Wait(ctx); err != nil {
				mu.Lock()
				result.EngineErrors = append(result.EngineErrors, err)
				mu.Unlock()
				return
			}
			sem <- struct{}{}
			defer func() { <-sem }()
			e.applyOne(ctx, r, opts, result, mu)
		}()
	}
	wg.Wait()
}

// applyOne calls Apply on a single rule and records success/failure
// under lock. On failure it attempts the rule's own local rollback
// immediately if it recorded any changes before failing.
func (e *Engine) applyOne(ctx context.Context, r rules.Rule, opts Options, result *ExecutionResult, mu *sync.Mutex) {
	defer func() {
		if rec := recover(); rec != nil {
			mu.Lock()
			result.EngineErrors = append(result.EngineErrors, fmt.Errorf("rule %q panicked: %v", r.Name(), rec))
			result.Failed = append(result.Failed, FailedRule{Rule: r, Err: fmt.Errorf("panic: %v", rec)})
			mu.Unlock()
		}
	}()

	err := r.Apply(ctx)
	mu.Lock()
	defer mu.Unlock()
	if err != nil {
		result.Failed = append(result.Failed, FailedRule{Rule: r, Err: err})
		if len(r.Changes()) > 0 {
			if rbErr := r.Rollback(ctx); rbErr != nil {
				slog.Warn("engine.rule_rollback_failed", "rule", r.Name(), "error", rbErr)
			}
		}
		return
	}
	result.Applied = append(result.Applied, r)
}

// RollbackAll reverses every applied rule's effects in LIFO order,
// logging (not aborting on) per-rule rollback errors.
func RollbackAll(ctx context.Context, result *ExecutionResult) {
	for i := len(result.Applied) - 1; i >= 0; i-- {
		r := result.Applied[i]
		if err := r.Rollback(ctx); err != nil {
			slog.Warn("engine.rollback_all_error", "rule", r.Name(), "error", err)
		}
	}
	result.Applied = nil
}
