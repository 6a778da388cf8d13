package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/openguenther/guenther/pkg/models"
)

// AutopromptStore persists autoprompts as autoprompts.json.
type AutopromptStore struct {
	path string

	mu      sync.Mutex
	prompts []models.Autoprompt
}

// NewAutopromptStore loads autoprompts.json from dir, starting empty when
// missing.
func NewAutopromptStore(dir string) (*AutopromptStore, error) {
	s := &AutopromptStore{path: filepath.Join(dir, "autoprompts.json")}
	if err := readJSONFile(s.path, &s.prompts); err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	return s, nil
}

// List returns all autoprompts sorted by name.
func (s *AutopromptStore) List() []models.Autoprompt {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.Autoprompt, len(s.prompts))
	copy(out, s.prompts)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Get returns the autoprompt with the given id.
func (s *AutopromptStore) Get(id string) (models.Autoprompt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range s.prompts {
		if p.ID == id {
			return p, nil
		}
	}
	return models.Autoprompt{}, ErrNotFound
}

// Create stores a new autoprompt, assigning id and creation time.
func (s *AutopromptStore) Create(p models.Autoprompt) (models.Autoprompt, error) {
	if err := validateSchedule(p.Schedule); err != nil {
		return models.Autoprompt{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	p.CreatedAt = time.Now().UTC()

	next := append(append([]models.Autoprompt{}, s.prompts...), p)
	if err := writeJSONFile(s.path, next); err != nil {
		return models.Autoprompt{}, err
	}
	s.prompts = next
	return p, nil
}

// Update replaces the autoprompt with the same id.
func (s *AutopromptStore) Update(p models.Autoprompt) (models.Autoprompt, error) {
	if err := validateSchedule(p.Schedule); err != nil {
		return models.Autoprompt{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for i, old := range s.prompts {
		if old.ID == p.ID {
			p.CreatedAt = old.CreatedAt

			next := make([]models.Autoprompt, len(s.prompts))
			copy(next, s.prompts)
			next[i] = p

			if err := writeJSONFile(s.path, next); err != nil {
				return models.Autoprompt{}, err
			}
			s.prompts = next
			return p, nil
		}
	}
	return models.Autoprompt{}, ErrNotFound
}

// Delete removes the autoprompt with the given id.
func (s *AutopromptStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, p := range s.prompts {
		if p.ID == id {
			next := append(append([]models.Autoprompt{}, s.prompts[:i]...), s.prompts[i+1:]...)
			if err := writeJSONFile(s.path, next); err != nil {
				return err
			}
			s.prompts = next
			return nil
		}
	}
	return ErrNotFound
}

// MarkRun records a successful fire.
func (s *AutopromptStore) MarkRun(id string, at time.Time) error {
	return s.patch(id, func(p *models.Autoprompt) {
		p.LastRun = at
		p.LastError = ""
	})
}

// MarkError records a failed fire.
func (s *AutopromptStore) MarkError(id string, msg string) error {
	return s.patch(id, func(p *models.Autoprompt) {
		p.LastError = msg
	})
}

// SetChatID rebinds an autoprompt to a chat, used when the target chat had
// to be recreated.
func (s *AutopromptStore) SetChatID(id, chatID string) error {
	return s.patch(id, func(p *models.Autoprompt) {
		p.ChatID = chatID
	})
}

func (s *AutopromptStore) patch(id string, fn func(*models.Autoprompt)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.prompts {
		if s.prompts[i].ID == id {
			next := make([]models.Autoprompt, len(s.prompts))
			copy(next, s.prompts)
			fn(&next[i])

			if err := writeJSONFile(s.path, next); err != nil {
				return err
			}
			s.prompts = next
			return nil
		}
	}
	return ErrNotFound
}

// Export wraps all autoprompts in an export envelope.
func (s *AutopromptStore) Export() (models.ExportEnvelope, error) {
	s.mu.Lock()
	data, err := json.Marshal(s.prompts)
	s.mu.Unlock()
	if err != nil {
		return models.ExportEnvelope{}, err
	}
	return models.ExportEnvelope{
		Type:       models.ExportTypeAutoprompts,
		Version:    1,
		ExportedAt: time.Now().UTC(),
		Data:       data,
	}, nil
}

// Import adds autoprompts from an export envelope. Imported records get
// fresh ids, cleared run state and an " (importiert)" suffix on name
// collision. Returns the number of imported records.
func (s *AutopromptStore) Import(env models.ExportEnvelope) (int, error) {
	if env.Type != models.ExportTypeAutoprompts {
		return 0, fmt.Errorf("unexpected export type %q", env.Type)
	}
	var incoming []models.Autoprompt
	if err := json.Unmarshal(env.Data, &incoming); err != nil {
		return 0, fmt.Errorf("failed to parse export data: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	names := make(map[string]bool, len(s.prompts))
	for _, p := range s.prompts {
		names[p.Name] = true
	}

	next := append([]models.Autoprompt{}, s.prompts...)
	now := time.Now().UTC()
	for _, p := range incoming {
		if err := validateSchedule(p.Schedule); err != nil {
			return 0, err
		}
		p.ID = uuid.New().String()
		for names[p.Name] {
			p.Name += " (importiert)"
		}
		names[p.Name] = true
		p.LastRun = time.Time{}
		p.LastError = ""
		p.CreatedAt = now
		next = append(next, p)
	}

	if err := writeJSONFile(s.path, next); err != nil {
		return 0, err
	}
	s.prompts = next
	return len(incoming), nil
}

func validateSchedule(sc models.Schedule) error {
	switch sc.Kind {
	case models.ScheduleInterval:
		if sc.IntervalMinutes <= 0 {
			return fmt.Errorf("interval_minutes must be positive")
		}
	case models.ScheduleDaily:
		if _, _, err := ParseTimeOfDay(sc.TimeOfDay); err != nil {
			return err
		}
	case models.ScheduleWeekly:
		if sc.Weekday < 0 || sc.Weekday > 6 {
			return fmt.Errorf("weekday must be 0 (Monday) through 6 (Sunday)")
		}
		if _, _, err := ParseTimeOfDay(sc.TimeOfDay); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown schedule kind %q", sc.Kind)
	}
	return nil
}

// ParseTimeOfDay parses "HH:MM" into hour and minute.
func ParseTimeOfDay(s string) (hour, minute int, err error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, 0, fmt.Errorf("time_of_day must be HH:MM: %w", err)
	}
	return t.Hour(), t.Minute(), nil
}
