// Package control exposes writable control nodes in the node tree and
// forwards client writes on them to the hosting service.
package control

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/fledge-iot/fledge-north-opcua/internal/domain"
	"github.com/fledge-iot/fledge-north-opcua/internal/ports"
)

// DefaultRoot is the browse name of the container holding control nodes.
const DefaultRoot = "Control"

var (
	ErrAlreadySetUp = errors.New("control: binding already set up")
	errNoWriter     = errors.New("no write callback registered")
)

// Control is a definition together with the node created for it.
type Control struct {
	domain.ControlDefinition
	Node ports.NodeRef
}

// Binding owns the control nodes. The control list is written once by Setup
// before any subscription exists and only read afterwards.
type Binding struct {
	store ports.NodeStore
	obs   ports.Observability
	defs  domain.ControlMap

	root     ports.NodeRef
	controls []Control
	ready    atomic.Bool

	writer atomic.Pointer[ports.WriteFunc]
}

func New(defs domain.ControlMap, store ports.NodeStore, obs ports.Observability) *Binding {
	return &Binding{defs: defs, store: store, obs: obs}
}

// SetWriter installs the callback client writes are forwarded to. It may be
// called before or after Setup; nil removes the callback.
func (b *Binding) SetWriter(w ports.WriteFunc) {
	if w == nil {
		b.writer.Store(nil)
		return
	}
	b.writer.Store(&w)
}

// Setup creates the control root under parent, one variable per definition
// and then subscribes to every created variable.
func (b *Binding) Setup(parent ports.NodeRef, rootName string) error {
	if b.ready.Load() {
		return ErrAlreadySetUp
	}
	if rootName == "" {
		rootName = DefaultRoot
	}
	root, err := b.store.CreateContainer(parent, rootName, rootName)
	if err != nil {
		return fmt.Errorf("create control root %q: %w", rootName, err)
	}
	b.root = root

	controls := make([]Control, 0, len(b.defs))
	for _, def := range b.defs {
		initial, ok := initialValue(def.Type)
		if !ok {
			b.obs.LogWarn("control_type_unknown",
				ports.F("control", def.Name),
				ports.F("type", def.Type),
			)
			continue
		}
		ref, err := b.store.CreateVariable(root, def.Name, initial)
		if err != nil {
			b.obs.LogError("control_create_failed", err, ports.F("control", def.Name))
			continue
		}
		controls = append(controls, Control{ControlDefinition: def, Node: ref})
	}
	b.controls = controls
	b.ready.Store(true)

	for _, c := range controls {
		if err := b.store.SubscribeDataChange(c.Node, b); err != nil {
			b.obs.LogError("control_subscribe_failed", err, ports.F("control", c.Name))
		}
	}
	b.obs.LogInfo("controls_ready",
		ports.F("root", rootName),
		ports.F("controls", len(controls)),
	)
	return nil
}

// initialValue is the value a control node holds before its first write.
func initialValue(typ string) (domain.Value, bool) {
	switch typ {
	case domain.ControlTypeInteger:
		return domain.Integer(32), true
	case domain.ControlTypeFloat:
		return domain.Float(32.8), true
	default:
		return nil, false
	}
}

// DataChange handles a value written to a control node.
func (b *Binding) DataChange(ref ports.NodeRef, value domain.Value) {
	text, ok := RenderEvent(value)
	if !ok {
		return
	}

	w := b.writer.Load()
	if w == nil {
		b.obs.IncCounter(ports.MetricControlDropped, 1)
		b.obs.LogError("control_change_dropped", errNoWriter, ports.F("node", ref.String()))
		return
	}

	c, found := b.lookup(ref)
	if !found {
		b.obs.IncCounter(ports.MetricControlDropped, 1)
		b.obs.LogWarn("control_node_unknown", ports.F("node", ref.String()))
		return
	}

	arg := c.Argument
	if c.Destination == domain.DestinationBroadcast {
		arg = ""
	}
	accepted := (*w)(c.Name, text, c.Destination, arg)
	b.obs.IncCounter(ports.MetricControlWrites, 1)
	b.obs.LogInfo("control_write",
		ports.F("control", c.Name),
		ports.F("value", text),
		ports.F("destination", c.Destination.String()),
		ports.F("argument", arg),
		ports.F("accepted", accepted),
	)
}

// lookup is a linear scan; control lists are small.
func (b *Binding) lookup(ref ports.NodeRef) (Control, bool) {
	if !b.ready.Load() {
		return Control{}, false
	}
	for _, c := range b.controls {
		if c.Node == ref {
			return c, true
		}
	}
	return Control{}, false
}

// Controls returns the controls created by Setup.
func (b *Binding) Controls() []Control {
	if !b.ready.Load() {
		return nil
	}
	return append([]Control(nil), b.controls...)
}

// Root returns the control root container, zero before Setup.
func (b *Binding) Root() ports.NodeRef {
	if !b.ready.Load() {
		return ports.NodeRef{}
	}
	return b.root
}

var _ ports.ChangeHandler = (*Binding)(nil)
