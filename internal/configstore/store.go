// Package configstore holds the device's hierarchical configuration tree.
// Values are revisioned: a component reads its configuration as a snapshot at
// step boundaries, so a change arriving mid-step is never torn.
package configstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// MergeBehavior controls how UpdateFromMap combines with existing values.
type MergeBehavior int

const (
	// MergeOverlay overlays the new map onto the existing subtree; keys not
	// present in the update are kept.
	MergeOverlay MergeBehavior = iota
	// ReplaceSubtree discards the existing subtree before applying.
	ReplaceSubtree
)

// Change describes one notification delivered to subscribers.
type Change struct {
	Path     string
	Revision uint64
}

type subscription struct {
	prefix string
	fn     func(Change)
}

// Store is the configuration tree. Mutations go through Set/UpdateFromMap
// under a single write lock; reads are snapshot copies.
type Store struct {
	mu       sync.RWMutex
	root     map[string]any
	revision uint64
	filePath string

	subMu  sync.RWMutex
	subs   map[int]*subscription
	nextID int
}

// New creates a store persisted at filePath (created on first Save). An
// existing file is loaded.
func New(filePath string) (*Store, error) {
	s := &Store{
		root:     make(map[string]any),
		filePath: filePath,
		subs:     make(map[int]*subscription),
	}
	if filePath != "" {
		if err := os.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
			return nil, fmt.Errorf("create config dir: %w", err)
		}
		if err := s.loadLocked(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Store) loadLocked() error {
	data, err := os.ReadFile(s.filePath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read config store: %w", err)
	}
	var root map[string]any
	if err := json.Unmarshal(data, &root); err != nil {
		return fmt.Errorf("parse config store: %w", err)
	}
	s.root = root
	return nil
}

// Revision returns the current mutation counter.
func (s *Store) Revision() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.revision
}

// Lookup returns the value at the slash-separated path.
func (s *Store) Lookup(path string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	node := any(s.root)
	for _, key := range splitPath(path) {
		m, ok := node.(map[string]any)
		if !ok {
			return nil, false
		}
		node, ok = m[key]
		if !ok {
			return nil, false
		}
	}
	return deepCopy(node), true
}

// Snapshot returns a deep copy of the subtree at path together with the
// revision it was taken at. A missing subtree yields an empty map.
func (s *Store) Snapshot(path string) (map[string]any, uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	node := any(s.root)
	for _, key := range splitPath(path) {
		m, ok := node.(map[string]any)
		if !ok {
			return map[string]any{}, s.revision
		}
		node, ok = m[key]
		if !ok {
			return map[string]any{}, s.revision
		}
	}
	m, ok := node.(map[string]any)
	if !ok {
		return map[string]any{}, s.revision
	}
	return deepCopy(m).(map[string]any), s.revision
}

// Set writes a single value and notifies subscribers of the changed path.
func (s *Store) Set(path string, value any) {
	s.mu.Lock()
	keys := splitPath(path)
	node := s.root
	for _, key := range keys[:len(keys)-1] {
		child, ok := node[key].(map[string]any)
		if !ok {
			child = make(map[string]any)
			node[key] = child
		}
		node = child
	}
	node[keys[len(keys)-1]] = deepCopy(value)
	s.revision++
	rev := s.revision
	s.mu.Unlock()

	s.notify([]Change{{Path: path, Revision: rev}})
}

// UpdateFromMap applies m under the subtree at prefix. Changed paths are
// collected and notified after the write lock is released.
func (s *Store) UpdateFromMap(prefix string, m map[string]any, behavior MergeBehavior) {
	s.mu.Lock()
	keys := splitPath(prefix)
	node := s.root
	for _, key := range keys {
		child, ok := node[key].(map[string]any)
		if !ok {
			child = make(map[string]any)
			node[key] = child
		}
		node = child
	}

	var changed []string
	if behavior == ReplaceSubtree {
		for key := range node {
			if _, kept := m[key]; !kept {
				delete(node, key)
				changed = append(changed, joinPath(prefix, key))
			}
		}
	}
	changed = append(changed, mergeInto(node, m, prefix)...)

	var changes []Change
	if len(changed) > 0 {
		s.revision++
		for _, p := range changed {
			changes = append(changes, Change{Path: p, Revision: s.revision})
		}
	}
	s.mu.Unlock()

	s.notify(changes)
}

// mergeInto overlays src onto dst, returning the paths whose values changed.
func mergeInto(dst, src map[string]any, prefix string) []string {
	var changed []string
	for key, val := range src {
		childPath := joinPath(prefix, key)
		if srcMap, ok := val.(map[string]any); ok {
			dstMap, ok := dst[key].(map[string]any)
			if !ok {
				dstMap = make(map[string]any)
				dst[key] = dstMap
			}
			changed = append(changed, mergeInto(dstMap, srcMap, childPath)...)
			continue
		}
		if equalValue(dst[key], val) {
			continue
		}
		dst[key] = deepCopy(val)
		changed = append(changed, childPath)
	}
	return changed
}

// Subscribe registers fn for changes under prefix ("" matches everything).
// The returned cancel function removes the subscription.
func (s *Store) Subscribe(prefix string, fn func(Change)) func() {
	s.subMu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = &subscription{prefix: prefix, fn: fn}
	s.subMu.Unlock()

	return func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

func (s *Store) notify(changes []Change) {
	if len(changes) == 0 {
		return
	}
	s.subMu.RLock()
	defer s.subMu.RUnlock()
	for _, ch := range changes {
		for _, sub := range s.subs {
			if sub.prefix == "" || ch.Path == sub.prefix || strings.HasPrefix(ch.Path, sub.prefix+"/") {
				sub.fn(ch)
			}
		}
	}
}

// Save persists the tree to its backing file.
func (s *Store) Save() error {
	if s.filePath == "" {
		return nil
	}
	s.mu.RLock()
	data, err := json.MarshalIndent(s.root, "", "  ")
	s.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("marshal config store: %w", err)
	}
	tmp := s.filePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write config store: %w", err)
	}
	return os.Rename(tmp, s.filePath)
}

// Reload re-reads the backing file and notifies a root-level change.
func (s *Store) Reload() error {
	s.mu.Lock()
	if err := s.loadLocked(); err != nil {
		s.mu.Unlock()
		return err
	}
	s.revision++
	rev := s.revision
	s.mu.Unlock()

	s.notify([]Change{{Path: "", Revision: rev}})
	return nil
}

func splitPath(path string) []string {
	if path == "" {
		return nil
	}
	return strings.Split(strings.Trim(path, "/"), "/")
}

func joinPath(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "/" + key
}

func equalValue(a, b any) bool {
	if a == nil && b == nil {
		return true
	}
	aj, errA := json.Marshal(a)
	bj, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	return string(aj) == string(bj)
}

func deepCopy(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = deepCopy(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = deepCopy(val)
		}
		return out
	default:
		return v
	}
}
