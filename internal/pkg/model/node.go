package model

import (
	"slices"
	"strings"
	"sync"

	"github.com/samber/lo"

	"github.com/anicoll/homie-bridge/internal/pkg/attribute"
)

type NodeState int

const (
	NodeUnknown NodeState = iota
	NodeAnnouncing
	NodeReady
	NodeOffline
	NodeRemoved
)

func (s NodeState) String() string {
	switch s {
	case NodeAnnouncing:
		return "announcing"
	case NodeReady:
		return "ready"
	case NodeOffline:
		return "offline"
	case NodeRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

type Node struct {
	attribute.Store
	device *Device
	id     string

	mu         sync.RWMutex
	properties map[string]*Property
	added      []*propertyHook
	discovered bool
	removed    bool
}

type propertyHook struct {
	fn func(*Property)
}

func newNode(d *Device, id string) *Node {
	return &Node{
		device:     d,
		id:         id,
		properties: make(map[string]*Property),
	}
}

func (n *Node) ID() string {
	return n.id
}

func (n *Node) Device() *Device {
	return n.device
}

// EntityID is the lookup key of the node: "<device>/<node>".
func (n *Node) EntityID() string {
	return n.device.id + "/" + n.id
}

func (n *Node) Type() string {
	v, _ := n.Get(AttrType)
	return v
}

func (n *Node) Name() string {
	if v, ok := n.Get(AttrName); ok && v != "" {
		return v
	}
	return n.id
}

// DeclaredProperties returns the ids listed in "$properties".
func (n *Node) DeclaredProperties() []string {
	v, ok := n.Get(AttrProperties)
	if !ok {
		return nil
	}
	return ParseList(v)
}

// Property returns the property with id, creating an empty one on first reference.
// Hooks registered with OnPropertyAdded run for a created property before it is
// returned.
func (n *Node) Property(id string) *Property {
	n.mu.Lock()
	p, ok := n.properties[id]
	if ok {
		n.mu.Unlock()
		return p
	}
	p = newProperty(n, id)
	n.properties[id] = p
	hooks := slices.Clone(n.added)
	n.mu.Unlock()

	for _, h := range hooks {
		h.fn(p)
	}
	return p
}

// OnPropertyAdded calls fn with every property created on the node from now on. The
// returned function removes the hook.
func (n *Node) OnPropertyAdded(fn func(*Property)) (remove func()) {
	h := &propertyHook{fn: fn}
	n.mu.Lock()
	n.added = append(n.added, h)
	n.mu.Unlock()
	return func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		n.added = slices.DeleteFunc(n.added, func(x *propertyHook) bool { return x == h })
	}
}

func (n *Node) LookupProperty(id string) (*Property, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	p, ok := n.properties[id]
	return p, ok
}

// HasProperty reports whether id is known and has announced its datatype.
func (n *Node) HasProperty(id string) bool {
	p, ok := n.LookupProperty(id)
	return ok && p.HasMetadata()
}

// Properties returns the node's properties ordered by id.
func (n *Node) Properties() []*Property {
	n.mu.RLock()
	props := lo.Values(n.properties)
	n.mu.RUnlock()
	slices.SortFunc(props, func(a, b *Property) int {
		return strings.Compare(a.id, b.id)
	})
	return props
}

// RemoveProperty detaches the property from the node and drops its listeners.
func (n *Node) RemoveProperty(id string) (*Property, bool) {
	n.mu.Lock()
	p, ok := n.properties[id]
	delete(n.properties, id)
	n.mu.Unlock()
	if ok {
		p.ClearListeners()
	}
	return p, ok
}

// RequiredProperties returns the properties that must have metadata before the node
// is ready. Types missing from the requirements table fall back to "$properties".
func (n *Node) RequiredProperties() ([]string, bool) {
	nodeType, ok := n.Get(AttrType)
	if !ok {
		return nil, false
	}
	if req, ok := n.device.requirements.Lookup(nodeType); ok {
		return req, true
	}
	if !n.Has(AttrProperties) {
		return nil, false
	}
	return n.DeclaredProperties(), true
}

// Complete reports whether the declared type and every required property's metadata
// are known.
func (n *Node) Complete() bool {
	req, ok := n.RequiredProperties()
	if !ok {
		return false
	}
	for _, id := range req {
		if !n.HasProperty(id) {
			return false
		}
	}
	return true
}

func (n *Node) State() NodeState {
	n.mu.RLock()
	removed := n.removed
	n.mu.RUnlock()
	switch {
	case removed:
		return NodeRemoved
	case !n.Complete():
		return NodeAnnouncing
	case n.device.Offline():
		return NodeOffline
	default:
		return NodeReady
	}
}

// Ready mirrors the engine maintained "_ready" attribute.
func (n *Node) Ready() bool {
	v, _ := n.Get(AttrReady)
	return ParseBool(v)
}

// Discovered reports whether a discovery event has been fired for the current
// announcement of the node.
func (n *Node) Discovered() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.discovered
}

// MarkDiscovered flips the discovered flag and returns true only the first time.
func (n *Node) MarkDiscovered() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.discovered || n.removed {
		return false
	}
	n.discovered = true
	return true
}

// ResetDiscovered clears the discovered flag and returns its previous value.
func (n *Node) ResetDiscovered() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	was := n.discovered
	n.discovered = false
	return was
}

// MarkRemoved detaches the node for good. Listeners on the node and its properties are
// dropped.
func (n *Node) MarkRemoved() {
	n.mu.Lock()
	n.removed = true
	props := lo.Values(n.properties)
	n.added = nil
	n.mu.Unlock()
	for _, p := range props {
		p.ClearListeners()
	}
	n.ClearListeners()
}
