// Package ledger keeps the set of nodes that already received the greeting.
package ledger

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/google/renameio/maybe"

	"meshreplier/internal/mesh"
)

// Ledger is a durable set of contacted node ids backed by a flat file with
// one decimal id per line. Only one goroutine is expected to mutate it.
type Ledger struct {
	path   string
	logger *slog.Logger

	mu  sync.RWMutex
	ids map[mesh.NodeID]struct{}
}

// Load reads the ledger file. A missing file yields an empty ledger; lines that
// are not unsigned 32-bit integers are skipped.
func Load(path string, logger *slog.Logger) (*Ledger, error) {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Ledger{
		path:   filepath.Clean(path),
		logger: logger,
		ids:    make(map[mesh.NodeID]struct{}),
	}

	// #nosec G304 -- path comes from operator config.
	raw, err := os.ReadFile(l.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logger.Info("ledger file not found, starting empty", "path", l.path)

			return l, nil
		}

		return nil, fmt.Errorf("read ledger: %w", err)
	}

	skipped := 0
	sc := bufio.NewScanner(bytes.NewReader(raw))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		v, err := strconv.ParseUint(line, 10, 32)
		if err != nil {
			skipped++
			continue
		}
		l.ids[mesh.NodeID(v)] = struct{}{}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan ledger: %w", err)
	}
	if skipped > 0 {
		logger.Debug("skipped malformed ledger lines", "path", l.path, "count", skipped)
	}
	logger.Info("ledger loaded", "path", l.path, "nodes", len(l.ids))

	return l, nil
}

func (l *Ledger) Path() string {
	return l.path
}

func (l *Ledger) Contains(id mesh.NodeID) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.ids[id]

	return ok
}

// Add records id and reports whether it was new.
func (l *Ledger) Add(id mesh.NodeID) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.ids[id]; ok {
		return false
	}
	l.ids[id] = struct{}{}

	return true
}

func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return len(l.ids)
}

// IDs returns the membership sorted ascending.
func (l *Ledger) IDs() []mesh.NodeID {
	l.mu.RLock()
	out := make([]mesh.NodeID, 0, len(l.ids))
	for id := range l.ids {
		out = append(out, id)
	}
	l.mu.RUnlock()
	slices.Sort(out)

	return out
}

// Persist replaces the backing file with the full membership, atomically
// where the platform supports it.
// On failure the in-memory set is left untouched.
func (l *Ledger) Persist() error {
	ids := l.IDs()
	var buf bytes.Buffer
	for _, id := range ids {
		buf.WriteString(strconv.FormatUint(uint64(id), 10))
		buf.WriteByte('\n')
	}

	if dir := filepath.Dir(l.path); dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("create ledger dir: %w", err)
		}
	}
	if err := maybe.WriteFile(l.path, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("write ledger: %w", err)
	}
	l.logger.Debug("ledger persisted", "path", l.path, "nodes", len(ids))

	return nil
}
