package autoprompt

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/openguenther/guenther/internal/agent"
	"github.com/openguenther/guenther/internal/config"
	"github.com/openguenther/guenther/internal/observability"
	"github.com/openguenther/guenther/internal/storage"
	"github.com/openguenther/guenther/internal/terminallog"
	"github.com/openguenther/guenther/pkg/models"
)

func testLogger() *observability.Logger {
	return observability.NewLogger(observability.LogConfig{Output: io.Discard, Level: "error"})
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type schedEnv struct {
	store    *config.AutopromptStore
	chats    *storage.ChatStore
	settings *config.SettingsStore
	clock    *fakeClock

	mu     sync.Mutex
	runs   []agent.Request
	answer string
	runErr error
}

func newSchedEnv(t *testing.T) *schedEnv {
	t.Helper()
	dir := t.TempDir()

	store, err := config.NewAutopromptStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	settings, err := config.NewSettingsStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	db, err := storage.Open(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	return &schedEnv{
		store:    store,
		chats:    storage.NewChatStore(db),
		settings: settings,
		clock:    &fakeClock{t: time.Date(2026, 1, 7, 12, 0, 0, 0, time.UTC)},
		answer:   "Erledigt.",
	}
}

func (e *schedEnv) run(ctx context.Context, req agent.Request) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.runs = append(e.runs, req)
	return e.answer, e.runErr
}

func (e *schedEnv) runCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.runs)
}

func (e *schedEnv) scheduler(t *testing.T, opts ...Option) *Scheduler {
	t.Helper()
	opts = append([]Option{WithNow(e.clock.Now)}, opts...)
	return New(e.store, e.chats, e.settings, e.run, testLogger(), opts...)
}

func (e *schedEnv) createInterval(t *testing.T, name string, minutes int) models.Autoprompt {
	t.Helper()
	rec, err := e.store.Create(models.Autoprompt{
		Name:     name,
		Prompt:   "Was gibt es Neues?",
		Enabled:  true,
		Schedule: models.Schedule{Kind: models.ScheduleInterval, IntervalMinutes: minutes},
	})
	if err != nil {
		t.Fatal(err)
	}
	return rec
}

func TestNextFire(t *testing.T) {
	// 2026-01-07 is a Wednesday.
	now := time.Date(2026, 1, 7, 12, 0, 0, 0, time.UTC)

	got, err := nextFire(models.Schedule{Kind: models.ScheduleInterval, IntervalMinutes: 5}, now)
	if err != nil || !got.Equal(now.Add(5*time.Minute)) {
		t.Fatalf("interval next = %v, err = %v", got, err)
	}

	got, err = nextFire(models.Schedule{Kind: models.ScheduleDaily, TimeOfDay: "13:30"}, now)
	if err != nil || !got.Equal(time.Date(2026, 1, 7, 13, 30, 0, 0, time.UTC)) {
		t.Fatalf("daily next = %v, err = %v", got, err)
	}
	got, err = nextFire(models.Schedule{Kind: models.ScheduleDaily, TimeOfDay: "09:00"}, now)
	if err != nil || !got.Equal(time.Date(2026, 1, 8, 9, 0, 0, 0, time.UTC)) {
		t.Fatalf("daily rollover next = %v, err = %v", got, err)
	}

	// Weekday 0 is Monday.
	got, err = nextFire(models.Schedule{Kind: models.ScheduleWeekly, Weekday: 0, TimeOfDay: "09:00"}, now)
	if err != nil || !got.Equal(time.Date(2026, 1, 12, 9, 0, 0, 0, time.UTC)) {
		t.Fatalf("weekly next = %v, err = %v", got, err)
	}
	// Weekday 6 is Sunday.
	got, err = nextFire(models.Schedule{Kind: models.ScheduleWeekly, Weekday: 6, TimeOfDay: "09:00"}, now)
	if err != nil || !got.Equal(time.Date(2026, 1, 11, 9, 0, 0, 0, time.UTC)) {
		t.Fatalf("weekly sunday next = %v, err = %v", got, err)
	}

	if _, err := nextFire(models.Schedule{Kind: models.ScheduleInterval}, now); err == nil {
		t.Fatal("zero interval should fail")
	}
	if _, err := nextFire(models.Schedule{Kind: models.ScheduleDaily, TimeOfDay: "25:00"}, now); err == nil {
		t.Fatal("bad time of day should fail")
	}
}

func TestIntervalFiring(t *testing.T) {
	env := newSchedEnv(t)
	rec := env.createInterval(t, "Morgenpost", 5)
	s := env.scheduler(t)
	ctx := context.Background()

	// First fire is one interval after arming.
	if n := s.RunOnce(ctx); n != 0 {
		t.Fatalf("fired %d, want 0", n)
	}
	env.clock.Advance(5*time.Minute + time.Second)
	if n := s.RunOnce(ctx); n != 1 {
		t.Fatalf("fired %d, want 1", n)
	}
	if n := s.RunOnce(ctx); n != 0 {
		t.Fatalf("refired %d, want 0", n)
	}
	env.clock.Advance(5*time.Minute + time.Second)
	if n := s.RunOnce(ctx); n != 1 {
		t.Fatalf("second round fired %d, want 1", n)
	}
	if env.runCount() != 2 {
		t.Fatalf("runs = %d", env.runCount())
	}

	// The prompt arrives as the final user message.
	req := env.runs[0]
	last := req.Messages[len(req.Messages)-1]
	if last.Role != models.RoleUser || last.Content.JoinText() != "Was gibt es Neues?" {
		t.Fatalf("last message = %+v", last)
	}
	if req.Source != "autoprompt" {
		t.Fatalf("source = %q", req.Source)
	}

	stored, err := env.store.Get(rec.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.LastRun.IsZero() || stored.LastError != "" {
		t.Fatalf("stored = %+v", stored)
	}
	if stored.ChatID == "" {
		t.Fatal("chat id not stored back")
	}

	chat, err := env.chats.GetChat(ctx, stored.ChatID)
	if err != nil {
		t.Fatal(err)
	}
	if chat.Title != "Autoprompt: Morgenpost" {
		t.Fatalf("title = %q", chat.Title)
	}
	msgs, err := env.chats.Messages(ctx, stored.ChatID)
	if err != nil {
		t.Fatal(err)
	}
	// Two fires, user plus assistant each.
	if len(msgs) != 4 {
		t.Fatalf("messages = %d", len(msgs))
	}
	if msgs[1].Role != models.RoleAssistant || msgs[1].Content.JoinText() != "Erledigt." {
		t.Fatalf("assistant message = %+v", msgs[1])
	}

	// The second fire sees the history of the first.
	if len(env.runs[1].Messages) != 3 {
		t.Fatalf("second run saw %d messages", len(env.runs[1].Messages))
	}
}

func TestReloadContract(t *testing.T) {
	env := newSchedEnv(t)
	rec := env.createInterval(t, "Morgenpost", 5)
	s := env.scheduler(t)

	if _, ok := s.NextRun(rec.ID); !ok {
		t.Fatal("enabled record should be armed")
	}

	rec.Enabled = false
	if _, err := env.store.Update(rec); err != nil {
		t.Fatal(err)
	}
	s.Reload()
	if _, ok := s.NextRun(rec.ID); ok {
		t.Fatal("disabled record must have no trigger")
	}

	rec.Enabled = true
	if _, err := env.store.Update(rec); err != nil {
		t.Fatal(err)
	}
	s.Reload()
	if _, ok := s.NextRun(rec.ID); !ok {
		t.Fatal("re-enabled record should be armed again")
	}
}

func TestChatRecreatedWhenMissing(t *testing.T) {
	env := newSchedEnv(t)
	rec := env.createInterval(t, "Wetterbericht", 5)
	if err := env.store.SetChatID(rec.ID, "geloescht"); err != nil {
		t.Fatal(err)
	}
	s := env.scheduler(t)

	env.clock.Advance(6 * time.Minute)
	if n := s.RunOnce(context.Background()); n != 1 {
		t.Fatalf("fired %d", n)
	}

	stored, _ := env.store.Get(rec.ID)
	if stored.ChatID == "" || stored.ChatID == "geloescht" {
		t.Fatalf("chat id = %q", stored.ChatID)
	}
	chat, err := env.chats.GetChat(context.Background(), stored.ChatID)
	if err != nil {
		t.Fatal(err)
	}
	if chat.Title != "Autoprompt: Wetterbericht" {
		t.Fatalf("title = %q", chat.Title)
	}
}

func TestAgentProfileApplied(t *testing.T) {
	env := newSchedEnv(t)
	agents, err := config.NewAgentStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	profile, err := agents.Create(models.AgentProfile{
		Name:         "Rechercheur",
		SystemPrompt: "Du bist ein Rechercheur.",
		ProviderID:   "openrouter",
		Model:        "openai/gpt-4o",
	})
	if err != nil {
		t.Fatal(err)
	}

	rec := env.createInterval(t, "Recherche", 5)
	rec.AgentID = profile.ID
	if _, err := env.store.Update(rec); err != nil {
		t.Fatal(err)
	}

	s := env.scheduler(t, WithAgentStore(agents))
	env.clock.Advance(6 * time.Minute)
	if n := s.RunOnce(context.Background()); n != 1 {
		t.Fatalf("fired %d", n)
	}

	req := env.runs[0]
	if req.SystemPrompt != "Du bist ein Rechercheur." {
		t.Fatalf("system prompt = %q", req.SystemPrompt)
	}
	if req.AgentProviderID != "openrouter" || req.AgentModel != "openai/gpt-4o" {
		t.Fatalf("override = %q/%q", req.AgentProviderID, req.AgentModel)
	}
}

func TestFireErrorRecorded(t *testing.T) {
	env := newSchedEnv(t)
	env.runErr = errors.New("Provider nicht erreichbar")
	rec := env.createInterval(t, "Morgenpost", 5)
	s := env.scheduler(t)

	env.clock.Advance(6 * time.Minute)
	s.RunOnce(context.Background())

	stored, _ := env.store.Get(rec.ID)
	if stored.LastError != "Provider nicht erreichbar" {
		t.Fatalf("last error = %q", stored.LastError)
	}
	if !stored.LastRun.IsZero() {
		t.Fatal("failed fire must not set last_run")
	}

	// The schedule stays armed for the next round.
	if _, ok := s.NextRun(rec.ID); !ok {
		t.Fatal("trigger should survive a failed fire")
	}
}

func TestRunNowFiresInBackground(t *testing.T) {
	env := newSchedEnv(t)
	rec := env.createInterval(t, "Sofort", 60)
	s := env.scheduler(t)

	s.RunNow(rec.ID)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatal(err)
	}

	if env.runCount() != 1 {
		t.Fatalf("runs = %d", env.runCount())
	}
	stored, _ := env.store.Get(rec.ID)
	if stored.LastRun.IsZero() {
		t.Fatal("run_now should mark last_run")
	}

	// The armed trigger is untouched by a manual run.
	next, ok := s.NextRun(rec.ID)
	if !ok || !next.Equal(env.clock.Now().Add(60*time.Minute)) {
		t.Fatalf("next = %v, ok = %v", next, ok)
	}
}

func TestAutopromptDoneEvent(t *testing.T) {
	env := newSchedEnv(t)
	bus := terminallog.NewBus(16)
	rec := env.createInterval(t, "Morgenpost", 5)
	s := env.scheduler(t, WithBus(bus))

	ch, _, cancel := bus.Subscribe(16)
	defer cancel()

	env.clock.Advance(6 * time.Minute)
	s.RunOnce(context.Background())

	deadline := time.After(2 * time.Second)
	for {
		select {
		case e := <-ch:
			if e.Type == terminallog.TypeAutopromptDone {
				data, _ := e.Data.(map[string]any)
				if data["id"] != rec.ID {
					t.Fatalf("event data = %+v", data)
				}
				return
			}
		case <-deadline:
			t.Fatal("no autoprompt_done event")
		}
	}
}

func TestTickLoopFires(t *testing.T) {
	env := newSchedEnv(t)
	env.createInterval(t, "Ticker", 5)
	s := env.scheduler(t, WithTickInterval(5*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)

	env.clock.Advance(6 * time.Minute)
	deadline := time.Now().Add(2 * time.Second)
	for env.runCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	if err := s.Stop(stopCtx); err != nil {
		t.Fatal(err)
	}
	if env.runCount() == 0 {
		t.Fatal("tick loop never fired")
	}
}
