package model

import (
	"slices"
	"strings"
	"sync"

	"github.com/samber/lo"

	"github.com/anicoll/homie-bridge/internal/pkg/attribute"
)

type Device struct {
	attribute.Store
	id           string
	prefix       string
	qos          byte
	publish      Publisher
	requirements Requirements

	mu    sync.RWMutex
	nodes map[string]*Node
}

type DeviceOption func(*Device)

// WithPublisher sets the function used by Property.SetValue.
func WithPublisher(publish Publisher, qos byte) DeviceOption {
	return func(d *Device) {
		d.publish = publish
		d.qos = qos
	}
}

func WithRequirements(r Requirements) DeviceOption {
	return func(d *Device) {
		d.requirements = r
	}
}

func NewDevice(id, prefix string, opts ...DeviceOption) *Device {
	d := &Device{
		id:           id,
		prefix:       strings.TrimSuffix(prefix, "/"),
		requirements: DefaultRequirements,
		nodes:        make(map[string]*Node),
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

func (d *Device) ID() string {
	return d.id
}

func (d *Device) Prefix() string {
	return d.prefix
}

func (d *Device) Name() string {
	if v, ok := d.Get(AttrName); ok && v != "" {
		return v
	}
	return d.id
}

// AddChangeListener registers l for the device attributes in names, or all of them.
func (d *Device) AddChangeListener(l attribute.Listener, names ...string) attribute.Handle {
	return d.AddListener(l, names...)
}

// Online is false until the device announces itself online.
func (d *Device) Online() bool {
	v, _ := d.Get(AttrOnline)
	return ParseBool(v)
}

// Offline is true only when the device explicitly reported it is not online.
func (d *Device) Offline() bool {
	v, ok := d.Get(AttrOnline)
	return ok && !ParseBool(v)
}

func (d *Device) Ready() bool {
	v, _ := d.Get(AttrReady)
	return ParseBool(v)
}

// DeclaredNodes returns the ids listed in "$nodes".
func (d *Device) DeclaredNodes() []string {
	v, ok := d.Get(AttrNodes)
	if !ok {
		return nil
	}
	return ParseList(v)
}

// Node returns the node with id, creating an empty one on first reference.
func (d *Device) Node(id string) *Node {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, ok := d.nodes[id]
	if !ok {
		n = newNode(d, id)
		d.nodes[id] = n
	}
	return n
}

func (d *Device) LookupNode(id string) (*Node, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	n, ok := d.nodes[id]
	return n, ok
}

// Nodes returns the device's nodes ordered by id.
func (d *Device) Nodes() []*Node {
	d.mu.RLock()
	nodes := lo.Values(d.nodes)
	d.mu.RUnlock()
	slices.SortFunc(nodes, func(a, b *Node) int {
		return strings.Compare(a.id, b.id)
	})
	return nodes
}

// RemoveNode detaches the node from the device.
func (d *Device) RemoveNode(id string) (*Node, bool) {
	d.mu.Lock()
	n, ok := d.nodes[id]
	delete(d.nodes, id)
	d.mu.Unlock()
	if ok {
		n.MarkRemoved()
	}
	return n, ok
}

// Close drops every node and listener of the device.
func (d *Device) Close() {
	for _, n := range d.Nodes() {
		d.RemoveNode(n.id)
	}
	d.ClearListeners()
}
