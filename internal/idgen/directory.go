package idgen

import (
	"sync"
	"sync/atomic"

	"logblock/internal/base"
)

// CreateHint carries the caller's placement preference for a new block. The
// zero value means "no preference"; the default picker ignores it entirely
// and simply round-robins.
type CreateHint struct {
	Group string
}

// DirectoryPicker maps a creation hint to one of the engine's configured
// data directories. This is the "directory-group placement" collaborator:
// treated as an oracle, its only contract is "return a directory that is
// currently usable."
type DirectoryPicker interface {
	Pick(hint CreateHint) (string, error)
	Exclude(dir string)
}

// RoundRobinPicker is the default DirectoryPicker: it cycles through the
// configured directories, skipping any that have been excluded (marked
// unusable after a disk failure).
type RoundRobinPicker struct {
	dirs   []string
	cursor atomic.Uint64

	mu       sync.Mutex
	excluded map[string]struct{}
}

// NewRoundRobinPicker returns a picker over dirs.
func NewRoundRobinPicker(dirs []string) *RoundRobinPicker {
	return &RoundRobinPicker{
		dirs:     append([]string(nil), dirs...),
		excluded: make(map[string]struct{}),
	}
}

// Pick returns the next usable directory, ignoring hint.
func (p *RoundRobinPicker) Pick(_ CreateHint) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.excluded) >= len(p.dirs) {
		return "", base.ErrResourceExhausted
	}
	for i := 0; i < len(p.dirs); i++ {
		idx := p.cursor.Add(1) % uint64(len(p.dirs))
		dir := p.dirs[idx]
		if _, bad := p.excluded[dir]; !bad {
			return dir, nil
		}
	}
	return "", base.ErrResourceExhausted
}

// Exclude marks dir permanently unusable (a disk failure was reported for
// it).
func (p *RoundRobinPicker) Exclude(dir string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.excluded[dir] = struct{}{}
}
