// Package cache keeps the open documents of a language server session and
// the last compile of each.
package cache

import (
	"sort"
	"sync"

	"github.com/marte-community/register-dev-tools/internal/compiler"
	"github.com/marte-community/register-dev-tools/internal/index"
	"github.com/marte-community/register-dev-tools/internal/resolver"
)

// Snapshot is one version of an open document.
type Snapshot struct {
	URI     string
	Path    string
	Version int
	Text    string
	Result  *compiler.Result

	// Index and Device come from the newest compile that got that far, so
	// hover keeps working while the document is briefly broken.
	Index  *index.ObjectTree
	Device *resolver.Device
}

type Session struct {
	mu   sync.Mutex
	docs map[string]*Snapshot
}

func NewSession() *Session {
	return &Session{docs: make(map[string]*Snapshot)}
}

// Update stores snap as the current version of its document. Older
// versions are ignored.
func (s *Session) Update(snap *Snapshot) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.docs[snap.URI]
	if prev != nil && snap.Version != 0 && snap.Version < prev.Version {
		return false
	}
	if snap.Result != nil {
		snap.Index = snap.Result.Index
		snap.Device = snap.Result.Device
	}
	if prev != nil {
		if snap.Index == nil {
			snap.Index = prev.Index
		}
		if snap.Device == nil {
			snap.Device = prev.Device
		}
	}
	s.docs[snap.URI] = snap
	return true
}

func (s *Session) Snapshot(uri string) *Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.docs[uri]
}

func (s *Session) Close(uri string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.docs, uri)
}

// Documents lists the open URIs, sorted.
func (s *Session) Documents() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.docs))
	for uri := range s.docs {
		out = append(out, uri)
	}
	sort.Strings(out)
	return out
}
