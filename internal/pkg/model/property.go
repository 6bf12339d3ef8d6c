package model

import (
	"fmt"

	"github.com/anicoll/homie-bridge/internal/pkg/attribute"
	"github.com/anicoll/homie-bridge/internal/pkg/topic"
)

// Property is a single observable attribute of a node. Its value and metadata live in
// the embedded attribute store.
type Property struct {
	attribute.Store
	node *Node
	id   string
}

func newProperty(n *Node, id string) *Property {
	return &Property{node: n, id: id}
}

func (p *Property) ID() string {
	return p.id
}

func (p *Property) Node() *Node {
	return p.node
}

// Value returns the last value published by the device. ok is false until a value
// arrives, even if the metadata is known.
func (p *Property) Value() (string, bool) {
	return p.Get(AttrValue)
}

func (p *Property) Settable() bool {
	v, _ := p.Get(AttrSettable)
	return ParseBool(v)
}

// Retained defaults to true as the convention does.
func (p *Property) Retained() bool {
	v, ok := p.Get(AttrRetained)
	return !ok || ParseBool(v)
}

func (p *Property) Datatype() Datatype {
	v, _ := p.Get(AttrDatatype)
	return Datatype(v)
}

func (p *Property) Unit() string {
	v, _ := p.Get(AttrUnit)
	return v
}

func (p *Property) Format() string {
	v, _ := p.Get(AttrFormat)
	return v
}

func (p *Property) Name() string {
	if v, ok := p.Get(AttrName); ok && v != "" {
		return v
	}
	return p.id
}

// HasMetadata reports whether the datatype has been announced.
func (p *Property) HasMetadata() bool {
	return p.Has(AttrDatatype)
}

func (p *Property) path() topic.Path {
	return topic.Path{
		DeviceID:   p.node.device.id,
		NodeID:     p.node.id,
		PropertyID: p.id,
		Attribute:  AttrValue,
	}
}

// Topic is the absolute value topic of the property.
func (p *Property) Topic() string {
	return p.path().Topic(p.node.device.prefix)
}

// CommandTopic is the "/set" topic of the property.
func (p *Property) CommandTopic() string {
	path := p.path()
	path.Command = true
	return path.Topic(p.node.device.prefix)
}

// SetValue asks the device to change the property by publishing to its "/set" topic.
// The local value is only updated once the device republishes it.
func (p *Property) SetValue(v string) error {
	if raw, ok := p.Get(AttrSettable); ok && !ParseBool(raw) {
		return fmt.Errorf("%s: %w", p.node.EntityID()+"/"+p.id, ErrNotSettable)
	}
	d := p.node.device
	if d.publish == nil {
		return fmt.Errorf("%w: no publisher for %s", ErrTransport, d.id)
	}
	if err := d.publish(p.CommandTopic(), []byte(v), d.qos, false); err != nil {
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}
	return nil
}

// AddChangeListener registers l for value and metadata changes of this property.
func (p *Property) AddChangeListener(l attribute.Listener) attribute.Handle {
	return p.AddListener(l)
}
