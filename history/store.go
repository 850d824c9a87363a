// Package history persists completed analysis results to a bounded JSON
// file so past verdicts survive restarts.
package history

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"truthscan/forensic"
	"truthscan/log"
)

// MaxEntries caps the store; appending past the cap evicts the oldest.
const MaxEntries = 50

const FileName = "scan_history.json"

// Store is a file-backed, in-memory list of results ordered oldest first.
// Every mutation rewrites the file.
type Store struct {
	mu      sync.Mutex
	path    string
	entries []forensic.Result
}

// Open loads the store at path. A missing file yields an empty store; an
// unreadable or corrupt file is logged and likewise degrades to empty
// rather than blocking new analyses.
func Open(path string) (*Store, error) {
	s := &Store{path: path}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Errorf("could not read history file, starting empty: %v", err)
		}
		return s, nil
	}
	if err := json.Unmarshal(data, &s.entries); err != nil {
		log.Errorf("history file corrupt, starting empty: %v", err)
		s.entries = nil
		return s, nil
	}
	if len(s.entries) > MaxEntries {
		s.entries = s.entries[len(s.entries)-MaxEntries:]
	}
	return s, nil
}

// OpenDefault opens the store in the log directory.
func OpenDefault() (*Store, error) {
	return Open(filepath.Join(log.Dir(), FileName))
}

// Append records a result, evicting the oldest entry past the cap. Results
// with a language mismatch are rejected: their risk signal is synthetic
// (forced by the mismatch override) and would pollute the archive. The
// boolean reports whether the entry was stored.
func (s *Store) Append(res forensic.Result) (bool, error) {
	if !res.LanguageMatch {
		return false, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = append(s.entries, res)
	if len(s.entries) > MaxEntries {
		s.entries = s.entries[len(s.entries)-MaxEntries:]
	}
	return true, s.persistLocked()
}

// Remove deletes the entry with the given id, reporting whether it existed.
func (s *Store) Remove(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, e := range s.entries {
		if e.ID == id {
			s.entries = append(s.entries[:i], s.entries[i+1:]...)
			return true, s.persistLocked()
		}
	}
	return false, nil
}

// Clear empties the store and its file.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = nil
	return s.persistLocked()
}

// List returns the entries most recent first.
func (s *Store) List() []forensic.Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]forensic.Result, len(s.entries))
	for i, e := range s.entries {
		out[len(s.entries)-1-i] = e
	}
	return out
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Stats are the archive counters shown by the history command.
type Stats struct {
	Total    int
	Fraud    int
	HighRisk int
}

func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Stats{Total: len(s.entries)}
	for _, e := range s.entries {
		if e.Verdict == forensic.VerdictSyntheticFraud || e.Verdict == forensic.VerdictBlockNow {
			st.Fraud++
		}
		if e.RiskLevel == forensic.RiskHigh {
			st.HighRisk++
		}
	}
	return st
}

func (s *Store) persistLocked() error {
	data, err := json.MarshalIndent(s.entries, "", "  ")
	if err != nil {
		return fmt.Errorf("could not encode history: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("could not create history dir: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("could not write history: %w", err)
	}
	return nil
}
