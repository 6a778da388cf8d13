// Package autoprompt schedules recurring synthetic user turns: each enabled
// record fires on its interval, daily or weekly UTC schedule and runs the
// agent against its chat.
package autoprompt

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/openguenther/guenther/internal/agent"
	"github.com/openguenther/guenther/internal/config"
	"github.com/openguenther/guenther/internal/observability"
	"github.com/openguenther/guenther/internal/storage"
	"github.com/openguenther/guenther/internal/terminallog"
	"github.com/openguenther/guenther/pkg/models"
)

// RunFunc executes one agent turn. The orchestrator's Run method satisfies
// it; tests inject fakes.
type RunFunc func(ctx context.Context, req agent.Request) (string, error)

// Scheduler arms one trigger per enabled autoprompt and fires them from a
// tick loop. Reload rebuilds all triggers after any store mutation.
type Scheduler struct {
	store    *config.AutopromptStore
	chats    *storage.ChatStore
	settings *config.SettingsStore
	run      RunFunc
	logger   *observability.Logger

	agents  *config.AgentStore
	bus     *terminallog.Bus
	metrics *observability.Metrics

	now  func() time.Time
	tick time.Duration

	mu       sync.Mutex
	triggers map[string]time.Time
	started  bool
	wg       sync.WaitGroup
}

// Option configures the scheduler.
type Option func(*Scheduler)

// WithAgentStore lets fires resolve their agent profile.
func WithAgentStore(agents *config.AgentStore) Option {
	return func(s *Scheduler) { s.agents = agents }
}

// WithBus attaches the terminal event bus for progress and done events.
func WithBus(bus *terminallog.Bus) Option {
	return func(s *Scheduler) { s.bus = bus }
}

// WithMetrics attaches fire counters.
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// WithNow overrides the clock for tests.
func WithNow(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// WithTickInterval overrides the scheduler tick interval.
func WithTickInterval(interval time.Duration) Option {
	return func(s *Scheduler) {
		if interval > 0 {
			s.tick = interval
		}
	}
}

func New(store *config.AutopromptStore, chats *storage.ChatStore, settings *config.SettingsStore, run RunFunc, logger *observability.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:    store,
		chats:    chats,
		settings: settings,
		run:      run,
		logger:   logger.WithFields("component", "autoprompt"),
		now:      time.Now,
		tick:     time.Second,
		triggers: make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.Reload()
	return s
}

// Reload rebuilds the trigger table from the store: exactly one armed
// trigger per enabled record, none for disabled ones.
func (s *Scheduler) Reload() {
	now := s.now()
	next := make(map[string]time.Time)
	for _, rec := range s.store.List() {
		if !rec.Enabled {
			continue
		}
		fire, err := nextFire(rec.Schedule, now)
		if err != nil {
			s.logger.Warn(context.Background(), "autoprompt not armed", "id", rec.ID, "name", rec.Name, "error", err)
			continue
		}
		next[rec.ID] = fire
	}

	s.mu.Lock()
	s.triggers = next
	s.mu.Unlock()
}

// Start runs the tick loop until the context is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.tick)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.runDue(ctx)
			}
		}
	}()
}

// Stop waits for the loop and any in-flight fires to finish.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunOnce fires all due triggers immediately, primarily for tests.
func (s *Scheduler) RunOnce(ctx context.Context) int {
	return s.runDue(ctx)
}

// RunNow fires one autoprompt in the background regardless of its
// schedule. The armed trigger is untouched.
func (s *Scheduler) RunNow(id string) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.fire(context.Background(), id); err != nil {
			s.logger.Warn(context.Background(), "manual autoprompt run failed", "id", id, "error", err)
		}
	}()
}

// NextRun returns the armed trigger time for one record, if any.
func (s *Scheduler) NextRun(id string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.triggers[id]
	return t, ok
}

func (s *Scheduler) runDue(ctx context.Context) int {
	now := s.now()

	s.mu.Lock()
	var due []string
	for id, at := range s.triggers {
		if !at.After(now) {
			due = append(due, id)
		}
	}
	s.mu.Unlock()

	count := 0
	for _, id := range due {
		if err := s.fire(ctx, id); err != nil {
			s.logger.Warn(ctx, "autoprompt fire failed", "id", id, "error", err)
		}
		count++

		// Re-arm from the current clock, so interval schedules measure
		// from this fire.
		rec, err := s.store.Get(id)
		s.mu.Lock()
		if err != nil || !rec.Enabled {
			delete(s.triggers, id)
		} else if next, nerr := nextFire(rec.Schedule, s.now()); nerr == nil {
			s.triggers[id] = next
		} else {
			delete(s.triggers, id)
		}
		s.mu.Unlock()
	}
	return count
}

// fire runs one autoprompt: ensure its chat exists, build the transcript
// with the prompt appended as a user message, run the agent and persist
// the exchange.
func (s *Scheduler) fire(ctx context.Context, id string) error {
	rec, err := s.store.Get(id)
	if err != nil {
		return err
	}

	chatID := rec.ChatID
	if chatID != "" {
		if _, err := s.chats.GetChat(ctx, chatID); err != nil {
			chatID = ""
		}
	}
	if chatID == "" {
		chat, err := s.chats.CreateChat(ctx, "Autoprompt: "+rec.Name, rec.AgentID)
		if err != nil {
			s.markError(rec.ID, err)
			return err
		}
		chatID = chat.ID
		if err := s.store.SetChatID(rec.ID, chatID); err != nil {
			s.logger.Warn(ctx, "cannot persist autoprompt chat id", "id", rec.ID, "error", err)
		}
	}

	history, err := s.chats.Messages(ctx, chatID)
	if err != nil {
		s.markError(rec.ID, err)
		return err
	}
	userMsg := models.ChatMessage{Role: models.RoleUser, Content: models.TextContent(rec.Prompt)}

	req := agent.Request{
		Messages: append(history, userMsg),
		Snapshot: s.settings.Get(),
		ChatID:   chatID,
		Source:   "autoprompt",
	}
	if s.bus != nil {
		req.Emit = s.bus.Publish
	}
	if rec.AgentID != "" && s.agents != nil {
		if profile, err := s.agents.Get(rec.AgentID); err == nil {
			req.SystemPrompt = profile.SystemPrompt
			req.AgentProviderID = profile.ProviderID
			req.AgentModel = profile.Model
		}
	}

	answer, err := s.run(ctx, req)
	if err != nil {
		s.markError(rec.ID, err)
		return err
	}

	toAppend := []models.ChatMessage{userMsg}
	if answer != "" {
		toAppend = append(toAppend, models.ChatMessage{
			Role:    models.RoleAssistant,
			Content: models.TextContent(answer),
		})
	}
	if err := s.chats.AppendMessages(ctx, chatID, toAppend); err != nil {
		s.markError(rec.ID, err)
		return err
	}

	if err := s.store.MarkRun(rec.ID, s.now().UTC()); err != nil {
		s.logger.Warn(ctx, "cannot mark autoprompt run", "id", rec.ID, "error", err)
	}
	if s.metrics != nil {
		s.metrics.RecordAutopromptFire("ok")
	}
	if s.bus != nil {
		s.bus.Publish(terminallog.Event{
			Type:    terminallog.TypeAutopromptDone,
			Message: fmt.Sprintf("Autoprompt '%s' ausgeführt", rec.Name),
			Data:    map[string]any{"id": rec.ID, "chat_id": chatID},
		})
	}
	return nil
}

func (s *Scheduler) markError(id string, err error) {
	if merr := s.store.MarkError(id, err.Error()); merr != nil {
		s.logger.Warn(context.Background(), "cannot mark autoprompt error", "id", id, "error", merr)
	}
	if s.metrics != nil {
		s.metrics.RecordAutopromptFire("error")
	}
}
