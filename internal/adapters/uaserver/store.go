// Package uaserver is a NodeStore backed by an embedded gopcua server.
// Projected nodes live in their own namespace, linked below the standard
// Objects folder.
package uaserver

import (
	"context"
	"fmt"
	"net/url"
	"reflect"
	"strconv"
	"sync"
	"time"

	"github.com/gopcua/opcua/id"
	"github.com/gopcua/opcua/server"
	"github.com/gopcua/opcua/ua"

	"github.com/fledge-iot/fledge-north-opcua/internal/adapters/uavariant"
	"github.com/fledge-iot/fledge-north-opcua/internal/domain"
	"github.com/fledge-iot/fledge-north-opcua/internal/ports"
)

const defaultPollInterval = 100 * time.Millisecond

type Config struct {
	// URL is the endpoint, e.g. opc.tcp://localhost:4840/fledge/server.
	URL       string
	Namespace string
	// Name and URI identify the server in logs.
	Name string
	URI  string
	// PollInterval is how often writable nodes are checked for client
	// writes.
	PollInterval time.Duration
}

type entry struct {
	node      *server.Node
	name      string
	container bool
	children  []string

	// subscribed variables only
	handlers []ports.ChangeHandler
	seen     any
}

type Store struct {
	cfg  Config
	obs  ports.Observability
	srv  *server.Server
	ns   *server.NodeNameSpace
	root string

	mu      sync.RWMutex
	entries map[string]*entry
	seq     uint32

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(cfg Config, obs ports.Observability) (*Store, error) {
	host, port, err := splitEndpoint(cfg.URL)
	if err != nil {
		return nil, err
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}

	srv := server.New(
		server.EndPoint(host, port),
		server.EnableSecurity("None", ua.MessageSecurityModeNone),
		server.EnableAuthMode(ua.UserTokenTypeAnonymous),
	)
	ns := server.NewNodeNameSpace(srv, cfg.Namespace)

	base, err := srv.Namespace(0)
	if err != nil {
		return nil, fmt.Errorf("uaserver: base namespace: %w", err)
	}
	objects := ns.Objects()
	base.Objects().AddRef(objects, id.HasComponent, true)

	s := &Store{
		cfg:     cfg,
		obs:     obs,
		srv:     srv,
		ns:      ns,
		entries: make(map[string]*entry),
	}
	s.root = objects.ID().String()
	s.entries[s.root] = &entry{node: objects, name: cfg.Name, container: true}
	return s, nil
}

func splitEndpoint(raw string) (string, int, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", 0, fmt.Errorf("uaserver: endpoint %q: %w", raw, err)
	}
	if u.Scheme != "opc.tcp" {
		return "", 0, fmt.Errorf("uaserver: endpoint %q: scheme must be opc.tcp", raw)
	}
	port := 4840
	if p := u.Port(); p != "" {
		if port, err = strconv.Atoi(p); err != nil {
			return "", 0, fmt.Errorf("uaserver: endpoint %q: %w", raw, err)
		}
	}
	return u.Hostname(), port, nil
}

// Start opens the endpoint and begins watching subscribed nodes.
func (s *Store) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	if err := s.srv.Start(ctx); err != nil {
		cancel()
		return fmt.Errorf("uaserver: start %s: %w", s.cfg.URL, err)
	}
	s.cancel = cancel
	s.wg.Add(1)
	go s.watch(ctx)

	s.obs.LogInfo("opcua_server_started",
		ports.F("url", s.cfg.URL),
		ports.F("name", s.cfg.Name),
		ports.F("uri", s.cfg.URI),
		ports.F("namespace", s.cfg.Namespace),
		ports.F("namespace_index", s.ns.ID()),
	)
	return nil
}

func (s *Store) Stop() error {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	return s.srv.Close()
}

func (s *Store) Root() ports.NodeRef { return ports.NewNodeRef(s.root) }

func (s *Store) CreateContainer(parent ports.NodeRef, key, name string) (ports.NodeRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, err := s.containerLocked(parent)
	if err != nil {
		return ports.NodeRef{}, err
	}

	n := server.NewNode(
		s.nodeIDLocked(key),
		map[ua.AttributeID]*ua.DataValue{
			ua.AttributeIDNodeClass:   server.DataValueFromValue(uint32(ua.NodeClassObject)),
			ua.AttributeIDBrowseName:  server.DataValueFromValue(s.browseName(name)),
			ua.AttributeIDDisplayName: server.DataValueFromValue(displayName(name)),
		},
		nil,
		nil,
	)
	return s.addLocked(p, n, &entry{node: n, name: name, container: true}), nil
}

func (s *Store) CreateVariable(parent ports.NodeRef, name string, value domain.Value) (ports.NodeRef, error) {
	dv, err := uavariant.DataValue(value, time.Time{})
	if err != nil {
		return ports.NodeRef{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	p, err := s.containerLocked(parent)
	if err != nil {
		return ports.NodeRef{}, err
	}

	access := byte(ua.AccessLevelTypeCurrentRead | ua.AccessLevelTypeCurrentWrite)
	n := server.NewNode(
		s.nodeIDLocked(""),
		map[ua.AttributeID]*ua.DataValue{
			ua.AttributeIDNodeClass:       server.DataValueFromValue(uint32(ua.NodeClassVariable)),
			ua.AttributeIDBrowseName:      server.DataValueFromValue(s.browseName(name)),
			ua.AttributeIDDisplayName:     server.DataValueFromValue(displayName(name)),
			ua.AttributeIDDataType:        server.DataValueFromValue(uavariant.DataType(value)),
			ua.AttributeIDAccessLevel:     server.DataValueFromValue(access),
			ua.AttributeIDUserAccessLevel: server.DataValueFromValue(access),
			ua.AttributeIDValue:           dv,
		},
		nil,
		nil,
	)
	return s.addLocked(p, n, &entry{node: n, name: name, seen: dv.Value.Value()}), nil
}

func (s *Store) addLocked(parent *entry, n *server.Node, e *entry) ports.NodeRef {
	s.ns.AddNode(n)
	parent.node.AddRef(n, id.HasComponent, true)
	ref := n.ID().String()
	s.entries[ref] = e
	parent.children = append(parent.children, ref)
	return ports.NewNodeRef(ref)
}

// nodeIDLocked uses key as a string identifier when it is free and falls
// back to a numeric identifier otherwise.
func (s *Store) nodeIDLocked(key string) *ua.NodeID {
	if key != "" {
		nid := ua.NewStringNodeID(s.ns.ID(), key)
		if _, taken := s.entries[nid.String()]; !taken {
			return nid
		}
	}
	for {
		s.seq++
		nid := ua.NewNumericNodeID(s.ns.ID(), 1000+s.seq)
		if _, taken := s.entries[nid.String()]; !taken {
			return nid
		}
	}
}

func (s *Store) browseName(name string) *ua.QualifiedName {
	return &ua.QualifiedName{NamespaceIndex: s.ns.ID(), Name: name}
}

func displayName(name string) *ua.LocalizedText {
	return &ua.LocalizedText{EncodingMask: ua.LocalizedTextText, Text: name}
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
	for _, c := range p.children {
		if s.entries[c].container == containers {
			out = append(out, ports.NewNodeRef(c))
		}
	}
	return out, nil
}

func (s *Store) Name(ref ports.NodeRef) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[ref.ID()]
	if !ok {
		return "", fmt.Errorf("%w: %s", ports.ErrUnknownNode, ref)
	}
	return e.name, nil
}

func (s *Store) SetValue(ref ports.NodeRef, value domain.Value, source time.Time) error {
	dv, err := uavariant.DataValue(value, source)
	if err != nil {
		return err
	}

	// The node value and seen change together so the watcher never sees
	// one without the other.
	s.mu.Lock()
	e, err := s.variableLocked(ref)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	nid := e.node.ID()
	s.ns.SetAttribute(nid, ua.AttributeIDValue, dv)
	e.seen = dv.Value.Value()
	s.mu.Unlock()

	s.srv.ChangeNotification(nid)
	return nil
}

func (s *Store) SubscribeDataChange(ref ports.NodeRef, h ports.ChangeHandler) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, err := s.variableLocked(ref)
	if err != nil {
		return err
	}
	e.handlers = append(e.handlers, h)
	return nil
}

type change struct {
	ref      ports.NodeRef
	value    domain.Value
	handlers []ports.ChangeHandler
}

// watch detects client writes on subscribed variables by comparing their
// current value with the last value this store wrote or reported.
func (s *Store) watch(ctx context.Context) {
	defer s.wg.Done()
	t := time.NewTicker(s.cfg.PollInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			for _, c := range s.pendingChanges() {
				for _, h := range c.handlers {
					h.DataChange(c.ref, c.value)
				}
			}
		}
	}
}

func (s *Store) pendingChanges() []change {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []change
	for ref, e := range s.entries {
		if len(e.handlers) == 0 {
			continue
		}
		dv := e.node.Value()
		if dv == nil || dv.Value == nil {
			continue
		}
		current := dv.Value.Value()
		if reflect.DeepEqual(current, e.seen) {
			continue
		}
		e.seen = current
		out = append(out, change{
			ref:      ports.NewNodeRef(ref),
			value:    uavariant.FromVariant(dv.Value),
			handlers: append([]ports.ChangeHandler(nil), e.handlers...),
		})
	}
	return out
}

func (s *Store) containerLocked(ref ports.NodeRef) (*entry, error) {
	e, ok := s.entries[ref.ID()]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ports.ErrUnknownNode, ref)
	}
	if !e.container {
		return nil, fmt.Errorf("%w: %s", ports.ErrNotContainer, ref)
	}
	return e, nil
}

func (s *Store) variableLocked(ref ports.NodeRef) (*entry, error) {
	e, ok := s.entries[ref.ID()]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ports.ErrUnknownNode, ref)
	}
	if e.container {
		return nil, fmt.Errorf("%w: %s", ports.ErrNotVariable, ref)
	}
	return e, nil
}

var (
	_ ports.NodeStore = (*Store)(nil)
	_ ports.Lifecycle = (*Store)(nil)
)
