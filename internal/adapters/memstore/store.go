// Package memstore is an in-process NodeStore. It backs tests and the
// offline "tree" command, and mirrors the structure the OPC UA server store
// builds.
package memstore

import (
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/fledge-iot/fledge-north-opcua/internal/domain"
	"github.com/fledge-iot/fledge-north-opcua/internal/ports"
)

type node struct {
	id        string
	key       string
	name      string
	parent    string
	container bool
	value     domain.Value
	source    time.Time
	children  []string
	handlers  []ports.ChangeHandler
}

// Store keeps nodes in a map keyed by a generated identifier.
type Store struct {
	mu      sync.RWMutex
	nodes   map[string]*node
	keys    map[string]string
	seq     uint64
	root    string
	created int
}

// New returns a store with a single root container called rootName.
func New(rootName string) *Store {
	s := &Store{
		nodes: make(map[string]*node),
		keys:  make(map[string]string),
	}
	s.root = s.nextID()
	s.nodes[s.root] = &node{id: s.root, name: rootName, container: true}
	return s
}

func (s *Store) nextID() string {
	s.seq++
	return "i=" + strconv.FormatUint(s.seq, 10)
}

func (s *Store) Root() ports.NodeRef { return ports.NewNodeRef(s.root) }

func (s *Store) CreateContainer(parent ports.NodeRef, key, name string) (ports.NodeRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, err := s.containerLocked(parent)
	if err != nil {
		return ports.NodeRef{}, err
	}
	n := &node{id: s.nextID(), key: key, name: name, parent: p.id, container: true}
	s.addLocked(p, n)
	return ports.NewNodeRef(n.id), nil
}

func (s *Store) CreateVariable(parent ports.NodeRef, name string, value domain.Value) (ports.NodeRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, err := s.containerLocked(parent)
	if err != nil {
		return ports.NodeRef{}, err
	}
	n := &node{id: s.nextID(), name: name, parent: p.id, value: value}
	s.addLocked(p, n)
	return ports.NewNodeRef(n.id), nil
}

func (s *Store) addLocked(parent, n *node) {
	s.nodes[n.id] = n
	if n.key != "" {
		if _, taken := s.keys[n.key]; !taken {
			s.keys[n.key] = n.id
		}
	}
	parent.children = append(parent.children, n.id)
	s.created++
}

func (s *Store) ListChildVariables(ref ports.NodeRef) ([]ports.NodeRef, error) {
	return s.children(ref, false)
}

func (s *Store) ListChildContainers(ref ports.NodeRef) ([]ports.NodeRef, error) {
	return s.children(ref, true)
}

func (s *Store) children(ref ports.NodeRef, containers bool) ([]ports.NodeRef, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, err := s.containerLocked(ref)
	if err != nil {
		return nil, err
	}
	var out []ports.NodeRef
	for _, id := range p.children {
		if s.nodes[id].container == containers {
			out = append(out, ports.NewNodeRef(id))
		}
	}
	return out, nil
}

func (s *Store) Name(ref ports.NodeRef) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.nodes[ref.ID()]
	if !ok {
		return "", fmt.Errorf("%w: %s", ports.ErrUnknownNode, ref)
	}
	return n.name, nil
}

func (s *Store) SetValue(ref ports.NodeRef, value domain.Value, source time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, err := s.variableLocked(ref)
	if err != nil {
		return err
	}
	n.value = value
	n.source = source
	return nil
}

func (s *Store) SubscribeDataChange(ref ports.NodeRef, h ports.ChangeHandler) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, err := s.variableLocked(ref)
	if err != nil {
		return err
	}
	n.handlers = append(n.handlers, h)
	return nil
}

// Write stores value as if a client had written it and notifies the
// subscribed handlers on the calling goroutine.
func (s *Store) Write(ref ports.NodeRef, value domain.Value) error {
	s.mu.Lock()
	n, err := s.variableLocked(ref)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	n.value = value
	n.source = time.Now().UTC()
	handlers := append([]ports.ChangeHandler(nil), n.handlers...)
	s.mu.Unlock()

	for _, h := range handlers {
		h.DataChange(ref, value)
	}
	return nil
}

// Value returns the current value and source timestamp of a variable.
func (s *Store) Value(ref ports.NodeRef) (domain.Value, time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, err := s.variableLocked(ref)
	if err != nil {
		return nil, time.Time{}, err
	}
	return n.value, n.source, nil
}

// Key returns the identifier requested when the container was created.
func (s *Store) Key(ref ports.NodeRef) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if n, ok := s.nodes[ref.ID()]; ok {
		return n.key
	}
	return ""
}

// ByKey finds a container by the key it was created with.
func (s *Store) ByKey(key string) (ports.NodeRef, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.keys[key]
	return ports.NewNodeRef(id), ok
}

// Find follows browse names down from the root. The first child with a
// matching name is taken at every step.
func (s *Store) Find(path ...string) (ports.NodeRef, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cur := s.nodes[s.root]
	for _, name := range path {
		var next *node
		for _, id := range cur.children {
			if c := s.nodes[id]; c.name == name {
				next = c
				break
			}
		}
		if next == nil {
			return ports.NodeRef{}, false
		}
		cur = next
	}
	return ports.NewNodeRef(cur.id), true
}

// Count returns the number of nodes created since New, excluding the root.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.created
}

// NodeInfo describes one node visited by Walk.
type NodeInfo struct {
	Ref       ports.NodeRef
	Depth     int
	Name      string
	Container bool
	Value     domain.Value
	Source    time.Time
}

// Walk visits the tree depth first in creation order, starting below the root.
func (s *Store) Walk(fn func(NodeInfo)) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	s.walkLocked(s.nodes[s.root], 0, fn)
}

func (s *Store) walkLocked(n *node, depth int, fn func(NodeInfo)) {
	children := append([]string(nil), n.children...)
	// containers after variables keeps leaf values next to their parent
	sort.SliceStable(children, func(i, j int) bool {
		return !s.nodes[children[i]].container && s.nodes[children[j]].container
	})
	for _, id := range children {
		c := s.nodes[id]
		fn(NodeInfo{
			Ref:       ports.NewNodeRef(c.id),
			Depth:     depth,
			Name:      c.name,
			Container: c.container,
			Value:     c.value,
			Source:    c.source,
		})
		if c.container {
			s.walkLocked(c, depth+1, fn)
		}
	}
}

func (s *Store) containerLocked(ref ports.NodeRef) (*node, error) {
	n, ok := s.nodes[ref.ID()]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ports.ErrUnknownNode, ref)
	}
	if !n.container {
		return nil, fmt.Errorf("%w: %s", ports.ErrNotContainer, ref)
	}
	return n, nil
}

func (s *Store) variableLocked(ref ports.NodeRef) (*node, error) {
	n, ok := s.nodes[ref.ID()]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ports.ErrUnknownNode, ref)
	}
	if n.container {
		return nil, fmt.Errorf("%w: %s", ports.ErrNotVariable, ref)
	}
	return n, nil
}

var _ ports.NodeStore = (*Store)(nil)
