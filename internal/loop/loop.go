// Package loop implements AutonomyLoop (spec component C9): one
// cooperative Observe-Decide-Validate-Act tick per agent, a goal queue,
// and a bounded outcome history. Its per-agent ticker/done-channel
// Start/Stop shape is the same one internal/world.Observer and the
// teacher's internal/mdloader.Watcher use.
package loop

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/swarmwarden/swarmwarden/internal/admission"
	"github.com/swarmwarden/swarmwarden/internal/detection"
	"github.com/swarmwarden/swarmwarden/internal/experience"
	"github.com/swarmwarden/swarmwarden/internal/model"
	"github.com/swarmwarden/swarmwarden/internal/planner"
	"github.com/swarmwarden/swarmwarden/internal/registry"
	"github.com/swarmwarden/swarmwarden/internal/world"
)

// State is the per-agent loop state machine (spec.md §4.9).
type State string

const (
	StateIdle     State = "idle"
	StatePlanning State = "planning"
	StateActing   State = "acting"
	StatePaused   State = "paused"
	StateStopping State = "stopping"
)

// Defaults per spec.md §4.9/§4.11.
const (
	DefaultTickInterval   = 1000 * time.Millisecond
	DefaultStaleThreshold = 5 * time.Second
	DefaultHistoryCap     = 1000
)

// HistoryEntry is one recorded ODVA outcome.
type HistoryEntry struct {
	Timestamp  time.Time
	GoalName   string
	ActionType model.ActionType
	Success    bool
	Skipped    bool
	Error      string
}

// Config tunes Loop behavior; zero values fall back to defaults.
type Config struct {
	TickInterval   time.Duration
	StaleThreshold time.Duration
	HistoryCap     int
}

func (c Config) withDefaults() Config {
	if c.TickInterval <= 0 {
		c.TickInterval = DefaultTickInterval
	}
	if c.StaleThreshold <= 0 {
		c.StaleThreshold = DefaultStaleThreshold
	}
	if c.HistoryCap <= 0 {
		c.HistoryCap = DefaultHistoryCap
	}
	return c
}

// Loop is AutonomyLoop (C9). It owns its own goal queue and history
// exclusively (spec.md §3); everything else it reads through its
// collaborators' own locks.
type Loop struct {
	mu        sync.Mutex
	agentID   string
	userID    string
	state     State
	goalQueue []model.Goal
	plan      *model.Plan
	cursor    int
	history   []HistoryEntry
	cfg       Config

	cancel context.CancelFunc
	done   chan struct{}

	observer   *world.Observer
	planner    *planner.Planner
	registry   *registry.Registry
	admission  *admission.Host
	experience *experience.Buffer // optional
	detector   *detection.Engine  // optional

	logger *slog.Logger
}

// New constructs a Loop for one agent. experienceBuffer and detector may be nil.
func New(agentID, userID string, observer *world.Observer, p *planner.Planner, reg *registry.Registry, host *admission.Host, experienceBuffer *experience.Buffer, detector *detection.Engine, cfg Config, logger *slog.Logger) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{
		agentID:    agentID,
		userID:     userID,
		state:      StateIdle,
		cfg:        cfg.withDefaults(),
		observer:   observer,
		planner:    p,
		registry:   reg,
		admission:  host,
		experience: experienceBuffer,
		detector:   detector,
		logger:     logger.With("component", "loop.Loop", "agent_id", agentID),
	}
}

// Start launches the tick goroutine. Call Stop to cancel it.
func (l *Loop) Start(ctx context.Context) {
	loopCtx, cancel := context.WithCancel(ctx)
	l.mu.Lock()
	l.cancel = cancel
	l.done = make(chan struct{})
	done := l.done
	l.mu.Unlock()

	go l.run(loopCtx, done)
}

// Stop cancels the in-flight action (via context cancellation) and
// terminates the ticker, waiting for the goroutine to exit.
func (l *Loop) Stop() {
	l.mu.Lock()
	l.state = StateStopping
	cancel := l.cancel
	done := l.done
	l.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	if done != nil {
		<-done
	}
}

// Pause suspends ticking without cancelling any in-flight action;
// Resume clears it.
func (l *Loop) Pause() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.state = StatePaused
}

// Resume clears a Pause, returning the loop to Idle.
func (l *Loop) Resume() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == StatePaused {
		l.state = StateIdle
	}
}

// QueueGoal appends a goal to this agent's queue.
func (l *Loop) QueueGoal(name string, ctx map[string]interface{}, priority model.Priority) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.goalQueue = append(l.goalQueue, model.Goal{Name: name, Context: ctx, Priority: priority})
}

// GetHistory returns the last n recorded ODVA outcomes (n<=0 returns the
// full bounded history).
func (l *Loop) GetHistory(n int) []HistoryEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	if n <= 0 || n >= len(l.history) {
		return append([]HistoryEntry(nil), l.history...)
	}
	return append([]HistoryEntry(nil), l.history[len(l.history)-n:]...)
}

// State returns the loop's current state.
func (l *Loop) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *Loop) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(l.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.tick(ctx)
		}
	}
}

// tick runs one Observe-Decide-Validate-Act cycle.
func (l *Loop) tick(ctx context.Context) {
	l.mu.Lock()
	if l.state == StatePaused || l.state == StateStopping {
		l.mu.Unlock()
		return
	}
	l.mu.Unlock()

	// Observe: non-blocking read of the latest snapshot; skip the tick if
	// stale or absent.
	snapshot := l.observer.Snapshot(l.agentID)
	if snapshot == nil || time.Since(snapshot.Timestamp) > l.cfg.StaleThreshold {
		return
	}

	l.decide(snapshot)
	l.act(ctx, snapshot)
}

// decide pops the next goal and generates a plan when idle with no plan
// in progress.
func (l *Loop) decide(snapshot *model.WorldSnapshot) {
	l.mu.Lock()
	hasPlan := l.plan != nil && l.cursor < len(l.plan.Actions)
	var goal model.Goal
	haveGoal := false
	if !hasPlan && len(l.goalQueue) > 0 {
		goal = l.goalQueue[0]
		l.goalQueue = l.goalQueue[1:]
		haveGoal = true
		l.state = StatePlanning
	}
	l.mu.Unlock()

	if !haveGoal {
		return
	}

	plan, err := l.planner.Generate(goal.Name, planner.Request{
		AgentID:  l.agentID,
		Snapshot: snapshot,
		Registry: l.registry,
		Context:  goal.Context,
	})
	if err != nil {
		l.logger.Warn("plan generation failed", "goal", goal.Name, "error", err)
		l.recordHistory(HistoryEntry{Timestamp: time.Now(), GoalName: goal.Name, Success: false, Error: err.Error()})
		l.mu.Lock()
		l.state = StateIdle
		l.mu.Unlock()
		return
	}

	l.mu.Lock()
	if len(plan.Actions) == 0 {
		l.plan = nil
		l.cursor = 0
		l.state = StateIdle
	} else {
		l.plan = &plan
		l.cursor = 0
		l.state = StateActing
	}
	l.mu.Unlock()
}

// act dispatches the current plan's next not-yet-executed action.
func (l *Loop) act(ctx context.Context, snapshot *model.WorldSnapshot) {
	l.mu.Lock()
	if l.plan == nil || l.cursor >= len(l.plan.Actions) {
		l.mu.Unlock()
		return
	}
	action := l.plan.Actions[l.cursor]
	goalName := l.plan.GoalName
	l.mu.Unlock()

	agent := l.registry.Get(l.agentID)
	outcome := l.admission.ExecuteTask(ctx, action, agent, l.userID)

	entry := HistoryEntry{Timestamp: time.Now(), GoalName: goalName, ActionType: action.Type}
	switch {
	case outcome.Blocked:
		entry.Error = "kill switch engaged"
	case outcome.Ticket != nil:
		entry.Skipped = true
		entry.Error = "awaiting approval"
	case !outcome.Report.Valid:
		entry.Error = joinErrors(outcome.Report.Errors)
	default:
		entry.Success = outcome.Result.Success
		entry.Error = outcome.Result.Error
	}
	l.recordHistory(entry)

	if l.experience != nil {
		reward := 0.0
		if entry.Success {
			reward = 1.0
		}
		l.experience.Log(model.Experience{
			AgentID:   l.agentID,
			Action:    action,
			Success:   entry.Success,
			Reward:    reward,
			Notes:     entry.Error,
			Timestamp: entry.Timestamp,
		})
	}

	if l.detector != nil {
		l.detector.Analyze(detection.ActionEvent{
			AgentID:    l.agentID,
			ActionType: string(action.Type),
			Signature:  actionSignature(action),
			GoalText:   goalText(goalName, action),
		})
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if entry.Skipped || entry.Error == "kill switch engaged" {
		// Leave the plan cursor in place; a later approval or kill-switch
		// release lets the same action retry on a future tick.
		return
	}
	if entry.Success {
		l.cursor++
		if l.plan != nil && l.cursor >= len(l.plan.Actions) {
			l.plan = nil
			l.cursor = 0
			l.state = StateIdle
		}
		return
	}

	// Failure policy: abandon the current plan and return to Idle so the
	// next tick can pick up a fresh goal, per spec.md §7's
	// fail-the-plan-not-the-loop guidance.
	l.plan = nil
	l.cursor = 0
	l.state = StateIdle
}

func (l *Loop) recordHistory(entry HistoryEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.history = append(l.history, entry)
	if len(l.history) > l.cfg.HistoryCap {
		l.history = l.history[len(l.history)-l.cfg.HistoryCap:]
	}
}

// actionSignature builds a stable string for loop/velocity detection from
// an action's type and its parameters, the same type:name:target shape the
// teacher's proxy adapters use for its own action signatures.
func actionSignature(action model.Action) string {
	keys := make([]string, 0, len(action.Parameters))
	for k := range action.Parameters {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	sig := string(action.Type)
	for _, k := range keys {
		sig += fmt.Sprintf(":%s=%v", k, action.Parameters[k])
	}
	return sig
}

// goalText serializes a goal name and its triggering action for spiral
// detection, which compares consecutive goal texts for near-identical
// retries.
func goalText(goalName string, action model.Action) string {
	return fmt.Sprintf("%s %s", goalName, actionSignature(action))
}

func joinErrors(errs []string) string {
	if len(errs) == 0 {
		return ""
	}
	out := errs[0]
	for _, e := range errs[1:] {
		out += "; " + e
	}
	return out
}
