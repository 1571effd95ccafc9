package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/okapi-tools/switchboard/paths"
	"github.com/okapi-tools/switchboard/session"
)

// maxStoredMessages caps per-thread message history on disk.
const maxStoredMessages = 10000

// Compile-time interface satisfaction check.
var _ session.Store = (*FileStore)(nil)

// threadRecord is the on-disk shape: one JSON file per thread holding the
// thread, its agent sessions, and its messages.
type threadRecord struct {
	Thread        session.Thread          `json:"thread"`
	AgentSessions []*session.AgentSession `json:"agent_sessions"`
	Messages      []*session.Message      `json:"messages"`
}

// FileStore is a JSON-file implementation of session.Store, one file per
// thread under the user data directory. It makes the module usable
// stand-alone; anything with a real database implements session.Store
// instead.
type FileStore struct {
	mu  sync.Mutex
	dir string
}

// NewFileStore opens the store in the default threads directory.
func NewFileStore() (*FileStore, error) {
	dir, err := paths.ThreadsDir()
	if err != nil {
		return nil, err
	}
	return NewFileStoreAt(dir)
}

// NewFileStoreAt opens the store in a specific directory (for tests).
func NewFileStoreAt(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create threads directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) path(threadID string) string {
	return filepath.Join(s.dir, threadID+".json")
}

// load reads a thread record; the caller must hold s.mu.
func (s *FileStore) load(threadID string) (*threadRecord, error) {
	data, err := os.ReadFile(s.path(threadID))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("thread %q not found", threadID)
	}
	if err != nil {
		return nil, err
	}

	var rec threadRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to parse thread %q: %w", threadID, err)
	}
	return &rec, nil
}

// save writes a thread record; the caller must hold s.mu.
func (s *FileStore) save(rec *threadRecord) error {
	if len(rec.Messages) > maxStoredMessages {
		rec.Messages = rec.Messages[len(rec.Messages)-maxStoredMessages:]
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path(rec.Thread.ID), data, 0644)
}

// mutate applies fn to a loaded record and writes it back.
func (s *FileStore) mutate(threadID string, fn func(*threadRecord) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.load(threadID)
	if err != nil {
		return err
	}
	if err := fn(rec); err != nil {
		return err
	}
	return s.save(rec)
}

// CreateThread writes a new thread record. Not part of session.Store;
// thread creation belongs to whoever bootstraps a conversation.
func (s *FileStore) CreateThread(t *session.Thread) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := os.Stat(s.path(t.ID)); err == nil {
		return fmt.Errorf("thread %q already exists", t.ID)
	}
	return s.save(&threadRecord{Thread: *t})
}

// ListThreads returns every stored thread record's thread.
func (s *FileStore) ListThreads() ([]*session.Thread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}

	var threads []*session.Thread
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		rec, err := s.load(strings.TrimSuffix(entry.Name(), ".json"))
		if err != nil {
			// Skip unreadable files rather than failing the listing
			continue
		}
		t := rec.Thread
		threads = append(threads, &t)
	}
	return threads, nil
}

// DeleteThread removes a thread record and all its history.
func (s *FileStore) DeleteThread(threadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.path(threadID))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func (s *FileStore) GetThread(id string) (*session.Thread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.load(id)
	if err != nil {
		return nil, err
	}
	t := rec.Thread
	return &t, nil
}

func (s *FileStore) SaveThread(t *session.Thread) error {
	return s.mutate(t.ID, func(rec *threadRecord) error {
		rec.Thread = *t
		return nil
	})
}

func (s *FileStore) UpdateThreadStatus(threadID string, status session.Status) error {
	return s.mutate(threadID, func(rec *threadRecord) error {
		rec.Thread.Status = status
		return nil
	})
}

func (s *FileStore) SetThreadTitle(threadID, title string, generated bool) error {
	return s.mutate(threadID, func(rec *threadRecord) error {
		rec.Thread.Title = title
		rec.Thread.TitleGenerated = generated
		return nil
	})
}

func (s *FileStore) AddUsage(threadID string, inputTokens, outputTokens int) error {
	return s.mutate(threadID, func(rec *threadRecord) error {
		rec.Thread.InputTokens += inputTokens
		rec.Thread.OutputTokens += outputTokens
		return nil
	})
}

func (s *FileStore) ListAgentSessions(threadID string) ([]*session.AgentSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.load(threadID)
	if err != nil {
		return nil, err
	}
	out := make([]*session.AgentSession, 0, len(rec.AgentSessions))
	for _, as := range rec.AgentSessions {
		cp := *as
		out = append(out, &cp)
	}
	return out, nil
}

func (s *FileStore) CreateAgentSession(as *session.AgentSession) error {
	return s.mutate(as.ThreadID, func(rec *threadRecord) error {
		for _, existing := range rec.AgentSessions {
			if existing.ID == as.ID {
				return fmt.Errorf("agent session %q already exists", as.ID)
			}
		}
		cp := *as
		rec.AgentSessions = append(rec.AgentSessions, &cp)
		return nil
	})
}

func (s *FileStore) SetAgentSessionResumeID(id, resumeID string) error {
	threadID, err := s.threadForAgentSession(id)
	if err != nil {
		return err
	}
	return s.mutate(threadID, func(rec *threadRecord) error {
		for _, as := range rec.AgentSessions {
			if as.ID == id {
				as.ResumeID = resumeID
				return nil
			}
		}
		return fmt.Errorf("agent session %q not found", id)
	})
}

func (s *FileStore) SetActiveAgentSession(threadID, agentSessionID string) error {
	return s.mutate(threadID, func(rec *threadRecord) error {
		rec.Thread.ActiveAgentSessionID = agentSessionID
		return nil
	})
}

func (s *FileStore) InsertMessage(m *session.Message) error {
	return s.mutate(m.ThreadID, func(rec *threadRecord) error {
		cp := *m
		rec.Messages = append(rec.Messages, &cp)
		return nil
	})
}

// Messages returns a thread's stored messages in insertion order.
func (s *FileStore) Messages(threadID string) ([]*session.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.load(threadID)
	if err != nil {
		return nil, err
	}
	out := make([]*session.Message, 0, len(rec.Messages))
	for _, m := range rec.Messages {
		cp := *m
		out = append(out, &cp)
	}
	return out, nil
}

// threadForAgentSession scans records for the agent session's owner. Agent
// session ids are globally unique uuids.
func (s *FileStore) threadForAgentSession(id string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return "", err
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		rec, err := s.load(strings.TrimSuffix(entry.Name(), ".json"))
		if err != nil {
			continue
		}
		for _, as := range rec.AgentSessions {
			if as.ID == id {
				return rec.Thread.ID, nil
			}
		}
	}
	return "", fmt.Errorf("agent session %q not found", id)
}
