package storage

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/cuongbtq/script-studio/internal/worker/domain"
)

// Storage is the on-disk script archive: one file per generated script and
// an append-only ledger of archived outcomes
type Storage struct {
	dir    string
	logger *slog.Logger

	// mu serializes ledger appends across worker goroutines
	mu sync.Mutex
}

// NewStorage creates the archive directory if needed
func NewStorage(dir string, logger *slog.Logger) (*Storage, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create archive dir: %w", err)
	}
	return &Storage{
		dir:    dir,
		logger: logger,
	}, nil
}

// Dir returns the archive directory
func (s *Storage) Dir() string {
	return s.dir
}

// SaveScript writes the script for jobID and returns its path. The file is
// replaced atomically so a redelivered event never leaves a partial script.
func (s *Storage) SaveScript(jobID, script string) (string, error) {
	path := filepath.Join(s.dir, jobID+domain.ScriptFileExt)

	tmp, err := os.CreateTemp(s.dir, jobID+".*.tmp")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.WriteString(script); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("failed to write script: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("failed to close script file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("failed to move script into place: %w", err)
	}

	s.logger.Debug("Script saved",
		slog.String("job_id", jobID),
		slog.String("path", path),
		slog.Int("size", len(script)),
	)
	return path, nil
}

// AppendEntry adds one line to the outcome ledger
func (s *Storage) AppendEntry(entry domain.Entry) error {
	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal entry: %w", err)
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.ledgerPath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open ledger: %w", err)
	}
	if _, err := f.Write(line); err != nil {
		f.Close()
		return fmt.Errorf("failed to append entry: %w", err)
	}
	return f.Close()
}

// Entries reads the ledger in append order. A missing ledger is empty.
func (s *Storage) Entries() ([]domain.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.ledgerPath())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}
	defer f.Close()

	var entries []domain.Entry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var e domain.Entry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			return nil, fmt.Errorf("failed to parse ledger line %d: %w", len(entries)+1, err)
		}
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read ledger: %w", err)
	}
	return entries, nil
}

func (s *Storage) ledgerPath() string {
	return filepath.Join(s.dir, domain.LedgerFileName)
}
