// Package orchestrator drives a research session through its state
// machine: plan, fan worker iterations out in parallel, aggregate
// their deltas, replan, and finish with verification and gap-fill.
// The orchestrator is the single writer of ResearchState; workers only
// ever see clones.
package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"prospector/internal/logging"
	"prospector/internal/store"
	"prospector/internal/types"
	"prospector/internal/verify"
)

// Defaults for the stopping conditions.
const (
	DefaultMaxIterations       = 5
	DefaultSaturationThreshold = 0.05

	// minSaturationIterations is how many iterations must complete
	// before low novelty may stop the loop.
	minSaturationIterations = 2

	// killNoveltyThreshold feeds the per-worker low-novelty streak the
	// planner uses for kill decisions.
	killNoveltyThreshold = 0.05

	gapFillPageBudget = 15
)

// Planner is the planning port.
type Planner interface {
	InitialPlan(ctx context.Context, topic string) (*types.ResearchPlan, float64, error)
	AdaptivePlan(ctx context.Context, state *types.ResearchState) (*types.ResearchPlan, float64)
}

// Verifier is the verification port.
type Verifier interface {
	VerifyEntity(ctx context.Context, entity *types.Entity, analysis types.QueryAnalysis) types.VerificationResult
}

// IterationRunner executes one worker iteration.
type IterationRunner interface {
	RunIteration(ctx context.Context, w *types.WorkerState, topic string) (*types.WorkerResult, error)
}

// Options tunes an Orchestrator.
type Options struct {
	MaxIterations       int
	SaturationThreshold float64
}

// Summary is what Run returns to the caller.
type Summary struct {
	SessionID     string `json:"session_id"`
	Topic         string `json:"topic"`
	EntitiesFound int    `json:"entities_found"`
	Iterations    int    `json:"iterations"`
	Status        string `json:"status"`

	Verified  int     `json:"verified"`
	Uncertain int     `json:"uncertain"`
	Rejected  int     `json:"rejected"`
	TotalCost float64 `json:"total_cost"`
}

// Orchestrator owns one session's state machine.
type Orchestrator struct {
	planner  Planner
	runner   IterationRunner
	verifier Verifier
	store    store.SessionStore
	opts     Options
}

// New builds an Orchestrator.
func New(p Planner, r IterationRunner, v Verifier, s store.SessionStore, opts Options) *Orchestrator {
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = DefaultMaxIterations
	}
	if opts.SaturationThreshold <= 0 {
		opts.SaturationThreshold = DefaultSaturationThreshold
	}
	return &Orchestrator{planner: p, runner: r, verifier: v, store: s, opts: opts}
}

// Run executes a full session for the topic and returns its summary.
// Partial state is durable at every checkpoint; an error leaves the
// session row at status failed.
func (o *Orchestrator) Run(ctx context.Context, topic string) (*Summary, error) {
	state := types.NewResearchState(uuid.NewString(), topic)
	summary, err := o.Resume(ctx, state)
	return summary, err
}

// Resume drives an existing state through the machine. Used by Run and
// by session recovery.
func (o *Orchestrator) Resume(ctx context.Context, state *types.ResearchState) (*Summary, error) {
	audit := logging.AuditWithSession(state.ID)
	audit.SessionStart(state.Topic)
	logging.Orchestrator("session %s: starting for topic %q", state.ID, state.Topic)

	// INIT
	state.Status = types.SessionRunning
	state.AppendLog("session started: %s", state.Topic)
	if err := o.checkpoint(ctx, state); err != nil {
		return nil, o.fail(ctx, state, fmt.Errorf("initial checkpoint: %w", err))
	}

	// PLANNING
	if state.Plan == nil {
		plan, cost, err := o.planner.InitialPlan(ctx, state.Topic)
		if err != nil {
			return nil, o.fail(ctx, state, fmt.Errorf("initial plan: %w", err))
		}
		state.Plan = plan
		state.TotalCost += cost
		for _, spec := range plan.InitialWorkers {
			state.Workers[spec.WorkerID] = types.NewWorkerState(state.ID, spec)
			audit.WorkerSpawn(spec.WorkerID, spec.Strategy)
		}
		state.AppendLog("plan ready: %d workers, reserve %.0f%%", len(plan.InitialWorkers), plan.BudgetReservePct*100)
		logging.Orchestrator("session %s: plan has %d workers (%s)", state.ID, len(plan.InitialWorkers), plan.Reasoning)
		if err := o.checkpoint(ctx, state); err != nil {
			return nil, o.fail(ctx, state, fmt.Errorf("plan checkpoint: %w", err))
		}
	}

	// ITERATING
	for {
		if err := ctx.Err(); err != nil {
			return nil, o.fail(ctx, state, err)
		}
		runnable := state.RunnableWorkers()
		if len(runnable) == 0 {
			logging.Orchestrator("session %s: no runnable workers, moving to verification", state.ID)
			break
		}

		logging.Orchestrator("session %s: iteration %d with %d workers", state.ID, state.IterationCount, len(runnable))
		results := o.fanOut(ctx, state, runnable)
		pages, newEntities := o.aggregate(state, results)
		state.IterationCount++

		globalNovelty := float64(newEntities) / float64(max(pages, 1))
		audit.IterationEnd(state.IterationCount, pages, newEntities, globalNovelty)
		state.AppendLog("iteration %d: %d pages, %d new entities, novelty %.3f",
			state.IterationCount, pages, newEntities, globalNovelty)

		if globalNovelty < o.opts.SaturationThreshold && state.IterationCount >= minSaturationIterations {
			state.AppendLog("saturation reached at iteration %d", state.IterationCount)
			logging.Orchestrator("session %s: saturated (novelty %.3f)", state.ID, globalNovelty)
			break
		}
		if state.IterationCount >= o.opts.MaxIterations {
			state.AppendLog("iteration budget exhausted")
			break
		}

		plan, cost := o.planner.AdaptivePlan(ctx, state)
		state.TotalCost += cost
		o.applyPlan(state, plan, audit)

		if err := o.checkpoint(ctx, state); err != nil {
			return nil, o.fail(ctx, state, fmt.Errorf("iteration checkpoint: %w", err))
		}
	}

	// VERIFYING
	state.Status = types.SessionVerificationPending
	if err := o.checkpoint(ctx, state); err != nil {
		return nil, o.fail(ctx, state, fmt.Errorf("verification checkpoint: %w", err))
	}
	verdicts := o.verifyAll(ctx, state, audit)
	o.gapFill(ctx, state, verdicts, audit)

	// FINAL
	state.Status = types.SessionCompleted
	state.AppendLog("session completed: %d entities over %d iterations", len(state.KnownEntities), state.IterationCount)
	if err := o.checkpoint(ctx, state); err != nil {
		return nil, o.fail(ctx, state, fmt.Errorf("final checkpoint: %w", err))
	}

	summary := o.summarize(state)
	audit.SessionEnd(string(state.Status), state.IterationCount, summary.EntitiesFound, state.TotalCost)
	logging.Orchestrator("session %s: done, %d entities (%d verified)", state.ID, summary.EntitiesFound, summary.Verified)
	return summary, nil
}

// fanOut runs one iteration for every runnable worker in parallel and
// returns the results that arrived.
func (o *Orchestrator) fanOut(ctx context.Context, state *types.ResearchState, ids []string) []*types.WorkerResult {
	var mu sync.Mutex
	var results []*types.WorkerResult

	g, gctx := errgroup.WithContext(ctx)
	for _, id := range ids {
		clone := state.Workers[id].Clone()
		g.Go(func() error {
			result, err := o.runner.RunIteration(gctx, clone, state.Topic)
			if err != nil {
				logging.Orchestrator("worker %s iteration failed: %v", clone.ID, err)
				return nil
			}
			mu.Lock()
			results = append(results, result)
			mu.Unlock()
			return nil
		})
	}
	g.Wait()

	// Aggregation order must not depend on completion order.
	sort.Slice(results, func(i, j int) bool { return results[i].WorkerID < results[j].WorkerID })
	return results
}

// aggregate folds worker deltas into the authoritative state. Returns
// total pages fetched and globally new entities for the iteration.
func (o *Orchestrator) aggregate(state *types.ResearchState, results []*types.WorkerResult) (pages, newEntities int) {
	for _, result := range results {
		w, ok := state.Workers[result.WorkerID]
		if !ok {
			logging.Orchestrator("dropping result from unknown worker %q", result.WorkerID)
			continue
		}

		pages += result.PagesFetched
		newEntities += result.NewEntities

		w.PagesFetched += result.PagesFetched
		w.EntitiesFound += result.EntitiesFound
		w.NewEntities += result.NewEntities
		w.Status = result.Status
		if result.EngineUsed != "" {
			w.SearchEngineHistory = append(w.SearchEngineHistory, result.EngineUsed)
		}
		if result.NoveltyRate < killNoveltyThreshold {
			w.LowNoveltyStreak++
		} else {
			w.LowNoveltyStreak = 0
		}

		consumed := make(map[string]bool, len(result.ConsumedURLs))
		for _, u := range result.ConsumedURLs {
			consumed[u] = true
		}
		kept := w.PersonalQueue[:0]
		for _, u := range w.PersonalQueue {
			if !consumed[u] {
				kept = append(kept, u)
			}
		}
		w.PersonalQueue = kept

		for _, link := range result.DiscoveredLinks {
			if state.VisitedURLs[link] {
				continue
			}
			state.VisitedURLs[link] = true
			w.PersonalQueue = append(w.PersonalQueue, link)
		}

		for _, domain := range result.NewDomains {
			w.ExploredDomains[domain] = true
		}
		for query, delta := range result.QueryStatsDelta {
			w.QueryHistory = append(w.QueryHistory, query)
			qs, ok := w.QueryPerformance[query]
			if !ok {
				qs = &types.QueryStats{ByEngine: map[string]int{}}
				w.QueryPerformance[query] = qs
			}
			qs.Runs += delta.Runs
			qs.Results += delta.Results
			qs.NewEntities += delta.NewEntities
			for engine, n := range delta.ByEngine {
				if qs.ByEngine == nil {
					qs.ByEngine = map[string]int{}
				}
				qs.ByEngine[engine] += n
			}
		}
		for domain, delta := range result.DomainStatsDelta {
			ds, ok := w.LinkPerformance[domain]
			if !ok {
				ds = &types.DomainStats{}
				w.LinkPerformance[domain] = ds
			}
			ds.LinksAdded += delta.LinksAdded
			ds.EntitiesFound += delta.EntitiesFound
		}

		for _, obs := range result.ExtractedData {
			en := state.Entity(obs.CanonicalName)
			en.Observe(obs)
			o.harvestHints(state, en)
		}
		for _, u := range result.HighValueURLs {
			appendUnique(&state.HighValueURLs, u)
		}

		state.TotalCost += result.Cost
	}
	return pages, newEntities
}

// harvestHints feeds planner context from fresh observations.
func (o *Orchestrator) harvestHints(state *types.ResearchState, en *types.Entity) {
	if looksLikeCodeName(en.CanonicalName) {
		appendUnique(&state.DiscoveredCodeNames, en.CanonicalName)
	}
	if owner := en.Attributes[types.AttrOwner]; types.AttributeKnown(owner) {
		appendUnique(&state.DiscoveredCompanies, owner)
	}
}

// applyPlan folds adaptive decisions into the worker fleet. An empty
// decision set leaves the fleet unchanged.
func (o *Orchestrator) applyPlan(state *types.ResearchState, plan *types.ResearchPlan, audit *logging.AuditLogger) {
	if plan == nil {
		return
	}
	state.Plan = plan

	for _, id := range plan.WorkersToKill {
		if w, ok := state.Workers[id]; ok {
			w.Status = types.WorkerDeadEnd
			audit.WorkerKill(id, "planner decision")
			state.AppendLog("worker %s killed by planner", id)
		}
	}
	for _, spec := range plan.SpawnWorkers {
		if spec.WorkerID == "" {
			spec.WorkerID = "worker_" + uuid.NewString()[:8]
		}
		if _, exists := state.Workers[spec.WorkerID]; exists {
			logging.Orchestrator("dropping duplicate spawn %q", spec.WorkerID)
			continue
		}
		state.Workers[spec.WorkerID] = types.NewWorkerState(state.ID, spec)
		audit.WorkerSpawn(spec.WorkerID, spec.Strategy)
		state.AppendLog("worker %s spawned (%s)", spec.WorkerID, spec.Strategy)
	}
	for id, queries := range plan.UpdatedQueries {
		if w, ok := state.Workers[id]; ok && len(queries) > 0 {
			w.Queries = append([]string{}, queries...)
		}
	}
}

// verifyAll fans the verifier out over all known entities.
func (o *Orchestrator) verifyAll(ctx context.Context, state *types.ResearchState, audit *logging.AuditLogger) map[string]types.VerificationResult {
	names := make([]string, 0, len(state.KnownEntities))
	for name := range state.KnownEntities {
		names = append(names, name)
	}
	sort.Strings(names)

	verdicts := make(map[string]types.VerificationResult, len(names))
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for _, name := range names {
		en := state.KnownEntities[name]
		g.Go(func() error {
			result := o.verifier.VerifyEntity(gctx, en, state.Plan.QueryAnalysis)
			mu.Lock()
			verdicts[name] = result
			state.TotalCost += result.Cost
			mu.Unlock()
			audit.Verdict(name, string(result.Status), result.Confidence)
			return nil
		})
	}
	g.Wait()
	logging.Orchestrator("session %s: verified %d entities", state.ID, len(verdicts))
	return verdicts
}

// gapFill launches one-shot workers for UNCERTAIN entities missing P0
// fields and merges whatever they find.
func (o *Orchestrator) gapFill(ctx context.Context, state *types.ResearchState, verdicts map[string]types.VerificationResult, audit *logging.AuditLogger) {
	names := make([]string, 0, len(verdicts))
	for name := range verdicts {
		names = append(names, name)
	}
	sort.Strings(names)

	var gapWorkers []*types.WorkerState
	for _, name := range names {
		result := verdicts[name]
		if !verify.NeedsGapFill(result) {
			continue
		}
		queries := verify.GapQueries(state.KnownEntities[name], result)
		if len(queries) == 0 {
			continue
		}
		spec := types.WorkerSpec{
			WorkerID:            "gapfill_" + sanitizeID(name),
			Strategy:            "gap_fill",
			StrategyDescription: "resolve missing fields for " + name,
			ExampleQueries:      queries,
			PageBudget:          gapFillPageBudget,
		}
		gw := types.NewWorkerState(state.ID, spec)
		gapWorkers = append(gapWorkers, gw)
		state.Workers[gw.ID] = gw
		audit.WorkerSpawn(gw.ID, gw.Strategy)
		state.AppendLog("gap-fill worker for %s: %v", name, queries)
	}
	if len(gapWorkers) == 0 {
		return
	}

	logging.Orchestrator("session %s: %d gap-fill workers", state.ID, len(gapWorkers))
	ids := make([]string, len(gapWorkers))
	for i, gw := range gapWorkers {
		ids[i] = gw.ID
	}
	results := o.fanOut(ctx, state, ids)
	o.aggregate(state, results)

	// Gap-fill workers are single-shot.
	for _, gw := range gapWorkers {
		gw.Status = types.WorkerExhausted
	}
}

func (o *Orchestrator) checkpoint(ctx context.Context, state *types.ResearchState) error {
	return o.store.SaveSession(ctx, state)
}

func (o *Orchestrator) fail(ctx context.Context, state *types.ResearchState, cause error) error {
	state.Status = types.SessionFailed
	state.AppendLog("session failed: %v", cause)
	if err := o.store.SaveSession(ctx, state); err != nil {
		logging.Orchestrator("failed to persist failure state: %v", err)
	}
	return cause
}

func (o *Orchestrator) summarize(state *types.ResearchState) *Summary {
	s := &Summary{
		SessionID:     state.ID,
		Topic:         state.Topic,
		EntitiesFound: len(state.KnownEntities),
		Iterations:    state.IterationCount,
		Status:        string(state.Status),
		TotalCost:     state.TotalCost,
	}
	for _, en := range state.KnownEntities {
		switch en.VerificationStatus {
		case types.StatusVerified:
			s.Verified++
		case types.StatusUncertain:
			s.Uncertain++
		case types.StatusRejected:
			s.Rejected++
		}
	}
	return s
}

// looksLikeCodeName matches development-code shapes such as BMS-986158
// or ISM9274: letters plus digits, no spaces.
func looksLikeCodeName(name string) bool {
	if strings.ContainsAny(name, " \t") {
		return false
	}
	hasLetter, hasDigit := false, false
	for _, r := range name {
		switch {
		case unicode.IsLetter(r):
			hasLetter = true
		case unicode.IsDigit(r):
			hasDigit = true
		}
	}
	return hasLetter && hasDigit
}

func appendUnique(list *[]string, value string) {
	for _, v := range *list {
		if v == value {
			return
		}
	}
	*list = append(*list, value)
}

func sanitizeID(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
