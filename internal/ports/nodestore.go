package ports

import (
	"errors"
	"time"

	"github.com/fledge-iot/fledge-north-opcua/internal/domain"
)

var (
	// ErrUnknownNode is returned for a NodeRef the store did not issue.
	ErrUnknownNode = errors.New("node store: unknown node")
	// ErrNotContainer is returned when a container operation targets a variable.
	ErrNotContainer = errors.New("node store: not a container")
	// ErrNotVariable is returned when a value operation targets a container.
	ErrNotVariable = errors.New("node store: not a variable")
)

// NodeRef identifies a node held by a NodeStore. It is a plain comparable
// value; the store owns the node itself.
type NodeRef struct {
	id string
}

// NewNodeRef wraps a store specific identifier.
func NewNodeRef(id string) NodeRef { return NodeRef{id: id} }

// ID returns the store specific identifier.
func (r NodeRef) ID() string { return r.id }

// IsZero reports whether r refers to no node.
func (r NodeRef) IsZero() bool { return r.id == "" }

func (r NodeRef) String() string { return r.id }

// ChangeHandler receives value changes of subscribed nodes. Stores may call
// it from their own goroutines.
type ChangeHandler interface {
	DataChange(ref NodeRef, value domain.Value)
}

// ChangeHandlerFunc adapts a function to ChangeHandler.
type ChangeHandlerFunc func(ref NodeRef, value domain.Value)

func (f ChangeHandlerFunc) DataChange(ref NodeRef, value domain.Value) { f(ref, value) }

// NodeStore is the address space the projection writes into.
type NodeStore interface {
	// Root is the container all projected nodes descend from.
	Root() NodeRef
	// CreateContainer adds a container under parent. key is the identifier
	// the store should use when it can; name is the browse name.
	CreateContainer(parent NodeRef, key, name string) (NodeRef, error)
	// CreateVariable adds a variable under parent holding value.
	CreateVariable(parent NodeRef, name string, value domain.Value) (NodeRef, error)
	ListChildVariables(ref NodeRef) ([]NodeRef, error)
	ListChildContainers(ref NodeRef) ([]NodeRef, error)
	Name(ref NodeRef) (string, error)
	// SetValue replaces the value of a variable and stamps it with the
	// source timestamp.
	SetValue(ref NodeRef, value domain.Value, source time.Time) error
	// SubscribeDataChange delivers externally written values of ref to h.
	SubscribeDataChange(ref NodeRef, h ChangeHandler) error
}

// Lifecycle is implemented by stores that run a server.
type Lifecycle interface {
	Start() error
	Stop() error
}
