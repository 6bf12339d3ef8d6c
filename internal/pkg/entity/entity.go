package entity

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/gosimple/slug"
	"github.com/samber/lo"

	"github.com/anicoll/homie-bridge/internal/pkg/attribute"
	"github.com/anicoll/homie-bridge/internal/pkg/model"
)

var (
	ErrMissingProperty = errors.New("node is missing a required property")
	ErrUnsupported     = errors.New("operation not supported by entity")
	ErrInvalidValue    = errors.New("invalid value")
)

type Platform string

const (
	PlatformSwitch Platform = "switch"
	PlatformLight  Platform = "light"
	PlatformSensor Platform = "sensor"
)

// State is a point-in-time view of an entity as served by the API.
type State struct {
	ID         string   `json:"id"`
	Platform   Platform `json:"platform"`
	Name       string   `json:"name"`
	Node       string   `json:"node"`
	Available  bool     `json:"available"`
	On         *bool    `json:"on,omitempty"`
	Brightness *int     `json:"brightness,omitempty"`
	RGB        string   `json:"rgb,omitempty"`
	Value      string   `json:"value,omitempty"`
	Unit       string   `json:"unit,omitempty"`
}

// TurnOnOptions are the optional attributes of a turn on request.
type TurnOnOptions struct {
	Brightness *int   `json:"brightness,omitempty"`
	RGB        string `json:"rgb,omitempty"`
}

type Entity interface {
	ID() string
	Platform() Platform
	Name() string
	Node() *model.Node
	Available() bool
	State() State
	Info() model.EntityInfo

	attach(onChange func())
	detach()
}

// Controllable entities accept on/off commands.
type Controllable interface {
	Entity
	TurnOn(opts TurnOnOptions) error
	TurnOff() error
}

// ID builds "<platform>.<slug(device_node)>".
func ID(p Platform, n *model.Node) string {
	return fmt.Sprintf("%s.%s", p, slug.Make(n.Device().ID()+"_"+n.ID()))
}

type subscription struct {
	store  *attribute.Store
	handle attribute.Handle
}

type base struct {
	id       string
	platform Platform
	node     *model.Node
	watched  []string

	mu   sync.Mutex
	subs []subscription
}

func newBase(p Platform, n *model.Node, required []string, optional ...string) (*base, error) {
	missing := lo.Filter(required, func(id string, _ int) bool {
		return !n.HasProperty(id)
	})
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s needs %s", ErrMissingProperty, n.EntityID(), strings.Join(missing, ", "))
	}
	watched := append(append([]string(nil), required...), lo.Filter(optional, func(id string, _ int) bool {
		return n.HasProperty(id)
	})...)
	return &base{
		id:       ID(p, n),
		platform: p,
		node:     n,
		watched:  watched,
	}, nil
}

func (b *base) ID() string {
	return b.id
}

func (b *base) Platform() Platform {
	return b.platform
}

func (b *base) Name() string {
	if name, ok := b.node.Get(model.AttrName); ok && name != "" {
		return name
	}
	return b.id
}

func (b *base) Node() *model.Node {
	return b.node
}

func (b *base) Available() bool {
	return b.node.Device().Online()
}

// attach listens to the device availability and every watched property.
func (b *base) attach(onChange func()) {
	fn := attribute.ListenerFunc(func(attribute.Change) { onChange() })
	d := b.node.Device()

	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, subscription{&d.Store, d.AddChangeListener(fn, model.AttrOnline)})
	for _, id := range b.watched {
		p := b.node.Property(id)
		b.subs = append(b.subs, subscription{&p.Store, p.AddChangeListener(fn)})
	}
}

func (b *base) detach() {
	b.mu.Lock()
	subs := b.subs
	b.subs = nil
	b.mu.Unlock()
	for _, s := range subs {
		s.store.RemoveListener(s.handle)
	}
}

func (b *base) value(id string) string {
	p, ok := b.node.LookupProperty(id)
	if !ok {
		return ""
	}
	v, _ := p.Value()
	return v
}

func (b *base) set(id, value string) error {
	p, ok := b.node.LookupProperty(id)
	if !ok {
		return fmt.Errorf("%w: %s/%s", ErrMissingProperty, b.node.EntityID(), id)
	}
	return p.SetValue(value)
}

func (b *base) state() State {
	return State{
		ID:        b.id,
		Platform:  b.platform,
		Name:      b.Name(),
		Node:      b.node.EntityID(),
		Available: b.Available(),
	}
}

func (b *base) Info() model.EntityInfo {
	d := b.node.Device()
	info := model.EntityInfo{
		ID:                b.id,
		Platform:          string(b.platform),
		NodeID:            b.node.EntityID(),
		Name:              b.Name(),
		DeviceID:          d.ID(),
		DeviceName:        d.Name(),
		Properties:        make(map[string]string),
		CommandTopics:     make(map[string]string),
		Formats:           make(map[string]string),
		AvailabilityTopic: d.Prefix() + "/" + d.ID() + "/$online",
	}
	for _, id := range b.watched {
		p, ok := b.node.LookupProperty(id)
		if !ok {
			continue
		}
		info.Properties[id] = p.Topic()
		if p.Settable() {
			info.CommandTopics[id] = p.CommandTopic()
		}
		if f := p.Format(); f != "" {
			info.Formats[id] = f
		}
		if info.Unit == "" {
			info.Unit = p.Unit()
		}
	}
	return info
}

// parseRange reads a Homie integer "$format" ("min:max").
func parseRange(format string) (int, int, bool) {
	from, to, ok := strings.Cut(format, ":")
	if !ok {
		return 0, 0, false
	}
	low, err := strconv.Atoi(from)
	if err != nil {
		return 0, 0, false
	}
	high, err := strconv.Atoi(to)
	if err != nil {
		return 0, 0, false
	}
	return low, high, true
}
