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

// ErrNotFound is returned by the JSON stores when a record id is unknown.
var ErrNotFound = fmt.Errorf("record not found")

// AgentStore persists agent profiles as agents.json.
type AgentStore struct {
	path string

	mu     sync.Mutex
	agents []models.AgentProfile
}

// NewAgentStore loads agents.json from dir, starting empty when missing.
func NewAgentStore(dir string) (*AgentStore, error) {
	s := &AgentStore{path: filepath.Join(dir, "agents.json")}
	if err := readJSONFile(s.path, &s.agents); err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	return s, nil
}

// List returns all profiles sorted by name.
func (s *AgentStore) List() []models.AgentProfile {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.AgentProfile, len(s.agents))
	copy(out, s.agents)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Get returns the profile with the given id.
func (s *AgentStore) Get(id string) (models.AgentProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, a := range s.agents {
		if a.ID == id {
			return a, nil
		}
	}
	return models.AgentProfile{}, ErrNotFound
}

// Create stores a new profile, assigning id and timestamps.
func (s *AgentStore) Create(agent models.AgentProfile) (models.AgentProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if agent.ID == "" {
		agent.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	agent.CreatedAt = now
	agent.UpdatedAt = now

	next := append(append([]models.AgentProfile{}, s.agents...), agent)
	if err := writeJSONFile(s.path, next); err != nil {
		return models.AgentProfile{}, err
	}
	s.agents = next
	return agent, nil
}

// Update replaces the profile with the same id.
func (s *AgentStore) Update(agent models.AgentProfile) (models.AgentProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, a := range s.agents {
		if a.ID == agent.ID {
			agent.CreatedAt = a.CreatedAt
			agent.UpdatedAt = time.Now().UTC()

			next := make([]models.AgentProfile, len(s.agents))
			copy(next, s.agents)
			next[i] = agent

			if err := writeJSONFile(s.path, next); err != nil {
				return models.AgentProfile{}, err
			}
			s.agents = next
			return agent, nil
		}
	}
	return models.AgentProfile{}, ErrNotFound
}

// Delete removes the profile with the given id.
func (s *AgentStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, a := range s.agents {
		if a.ID == id {
			next := append(append([]models.AgentProfile{}, s.agents[:i]...), s.agents[i+1:]...)
			if err := writeJSONFile(s.path, next); err != nil {
				return err
			}
			s.agents = next
			return nil
		}
	}
	return ErrNotFound
}

// Export wraps all profiles in an export envelope.
func (s *AgentStore) Export() (models.ExportEnvelope, error) {
	s.mu.Lock()
	data, err := json.Marshal(s.agents)
	s.mu.Unlock()
	if err != nil {
		return models.ExportEnvelope{}, err
	}
	return models.ExportEnvelope{
		Type:       models.ExportTypeAgents,
		Version:    1,
		ExportedAt: time.Now().UTC(),
		Data:       data,
	}, nil
}

// Import adds profiles from an export envelope. Imported profiles get fresh
// ids; a name already in use gets an " (importiert)" suffix. Returns the
// number of imported profiles.
func (s *AgentStore) Import(env models.ExportEnvelope) (int, error) {
	if env.Type != models.ExportTypeAgents {
		return 0, fmt.Errorf("unexpected export type %q", env.Type)
	}
	var incoming []models.AgentProfile
	if err := json.Unmarshal(env.Data, &incoming); err != nil {
		return 0, fmt.Errorf("failed to parse export data: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	names := make(map[string]bool, len(s.agents))
	for _, a := range s.agents {
		names[a.Name] = true
	}

	next := append([]models.AgentProfile{}, s.agents...)
	now := time.Now().UTC()
	for _, a := range incoming {
		a.ID = uuid.New().String()
		for names[a.Name] {
			a.Name += " (importiert)"
		}
		names[a.Name] = true
		a.CreatedAt = now
		a.UpdatedAt = now
		next = append(next, a)
	}

	if err := writeJSONFile(s.path, next); err != nil {
		return 0, err
	}
	s.agents = next
	return len(incoming), nil
}
