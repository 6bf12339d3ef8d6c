package discovery

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/anicoll/homie-bridge/internal/pkg/model"
)

var (
	ErrAlreadyStarted = errors.New("discovery engine already started")
	ErrStopped        = errors.New("discovery engine stopped")
	ErrInvalidPrefix  = errors.New("invalid discovery prefix")
)

// BindError is returned when a consumer asks for a node that has not been discovered.
type BindError struct {
	EntityID string
}

func (e *BindError) Error() string {
	return fmt.Sprintf("no discovered node %q to bind to", e.EntityID)
}

// MessageHandler receives a publication delivered by the transport.
type MessageHandler func(topic string, payload []byte)

// Transport is the publish/subscribe capability the engine needs from an MQTT client.
type Transport interface {
	Publish(topic string, payload []byte, qos byte, retain bool) error
	// Subscribe returns a function removing the subscription.
	Subscribe(filter string, qos byte, handler MessageHandler) (func() error, error)
}

type (
	NodeCallback   func(*model.Node)
	DeviceCallback func(*model.Device)
)

type deviceEntry struct {
	device     *model.Device
	readyFired bool
	timer      *time.Timer
	generation uint64
}

// Engine rebuilds the device/node/property tree from topic publications and fires one
// discovery callback per node when it becomes ready.
//
// Publications are processed one at a time. Callbacks run on the ingesting goroutine
// while the engine lock is held; they may call LookupNode, Bind and Devices but must
// not call Start or Stop.
type Engine struct {
	transport    Transport
	logger       *zap.Logger
	requirements model.Requirements
	settle       time.Duration

	mu          sync.Mutex
	running     bool
	prefix      string
	qos         byte
	unsubscribe func() error

	tableMu sync.RWMutex
	devices map[string]*deviceEntry

	cbMu          sync.RWMutex
	onDiscovered  []NodeCallback
	onRemoved     []NodeCallback
	onDeviceReady []DeviceCallback
}

type Option func(*Engine)

func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithRequirements replaces the type to required-property table.
func WithRequirements(r model.Requirements) Option {
	return func(e *Engine) {
		e.requirements = r
	}
}

// WithSettleWindow marks a device ready once no structural topic arrived for d.
// Zero disables the window; devices then become ready through "$nodes" only.
func WithSettleWindow(d time.Duration) Option {
	return func(e *Engine) {
		e.settle = d
	}
}

func New(transport Transport, opts ...Option) *Engine {
	e := &Engine{
		transport:    transport,
		logger:       zap.L(),
		requirements: model.DefaultRequirements,
		devices:      make(map[string]*deviceEntry),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Start subscribes to "<prefix>/#".
func (e *Engine) Start(prefix string, qos byte) error {
	prefix = strings.TrimSuffix(prefix, "/")
	if prefix == "" || strings.ContainsAny(prefix, "#+") {
		return fmt.Errorf("%w: %q", ErrInvalidPrefix, prefix)
	}
	if qos > 2 {
		return fmt.Errorf("invalid qos %d", qos)
	}

	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return ErrAlreadyStarted
	}
	e.running = true
	e.prefix = prefix
	e.qos = qos
	e.mu.Unlock()

	// the lock is released while subscribing: retained messages may be delivered
	// before the subscription is acknowledged.
	filter := prefix + "/#"
	unsubscribe, err := e.transport.Subscribe(filter, qos, e.HandleMessage)

	e.mu.Lock()
	defer e.mu.Unlock()
	if err != nil {
		e.running = false
		// retained messages delivered before the failure must not outlive it
		dropped := e.clearDevices()
		e.logger.Warn("discovery failed to start", zap.String("filter", filter), zap.Int("devices", dropped), zap.Error(err))
		return fmt.Errorf("%w: subscribe %s: %w", model.ErrTransport, filter, err)
	}
	if !e.running {
		if unsubscribe != nil {
			_ = unsubscribe()
		}
		return ErrStopped
	}
	e.unsubscribe = unsubscribe
	e.logger.Info("discovery started", zap.String("filter", filter), zap.Uint8("qos", qos))
	return nil
}

// Stop unsubscribes, detaches every listener and clears the device table. A message
// being processed completes first; nothing is processed afterwards.
func (e *Engine) Stop() error {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return nil
	}
	e.running = false
	unsubscribe := e.unsubscribe
	e.unsubscribe = nil
	dropped := e.clearDevices()
	e.mu.Unlock()

	e.logger.Info("discovery stopped", zap.Int("devices", dropped))
	if unsubscribe == nil {
		return nil
	}
	if err := unsubscribe(); err != nil {
		return fmt.Errorf("%w: unsubscribe: %w", model.ErrTransport, err)
	}
	return nil
}

// clearDevices empties the device table and detaches every listener. e.mu must be held.
func (e *Engine) clearDevices() int {
	e.tableMu.Lock()
	entries := lo.Values(e.devices)
	e.devices = make(map[string]*deviceEntry)
	e.tableMu.Unlock()
	for _, entry := range entries {
		if entry.timer != nil {
			entry.timer.Stop()
		}
		entry.device.Close()
	}
	return len(entries)
}

func (e *Engine) OnNodeDiscovered(cb NodeCallback) {
	e.cbMu.Lock()
	defer e.cbMu.Unlock()
	e.onDiscovered = append(e.onDiscovered, cb)
}

func (e *Engine) OnNodeRemoved(cb NodeCallback) {
	e.cbMu.Lock()
	defer e.cbMu.Unlock()
	e.onRemoved = append(e.onRemoved, cb)
}

func (e *Engine) OnDeviceReady(cb DeviceCallback) {
	e.cbMu.Lock()
	defer e.cbMu.Unlock()
	e.onDeviceReady = append(e.onDeviceReady, cb)
}

// LookupNode finds a node by "<device>/<node>" in any state. The returned node must not
// be used after a removal callback for it.
func (e *Engine) LookupNode(entityID string) (*model.Node, bool) {
	deviceID, nodeID, ok := strings.Cut(entityID, "/")
	if !ok {
		return nil, false
	}
	e.tableMu.RLock()
	entry, ok := e.devices[deviceID]
	e.tableMu.RUnlock()
	if !ok {
		return nil, false
	}
	return entry.device.LookupNode(nodeID)
}

// Bind returns a discovered node or a *BindError.
func (e *Engine) Bind(entityID string) (*model.Node, error) {
	n, ok := e.LookupNode(entityID)
	if !ok || !n.Discovered() {
		return nil, &BindError{EntityID: entityID}
	}
	return n, nil
}

func (e *Engine) LookupDevice(id string) (*model.Device, bool) {
	e.tableMu.RLock()
	defer e.tableMu.RUnlock()
	entry, ok := e.devices[id]
	if !ok {
		return nil, false
	}
	return entry.device, true
}

// Devices returns the known devices ordered by id.
func (e *Engine) Devices() []*model.Device {
	e.tableMu.RLock()
	devices := lo.Map(lo.Values(e.devices), func(entry *deviceEntry, _ int) *model.Device {
		return entry.device
	})
	e.tableMu.RUnlock()
	slices.SortFunc(devices, func(a, b *model.Device) int {
		return strings.Compare(a.ID(), b.ID())
	})
	return devices
}

func (e *Engine) fireDiscovered(n *model.Node) {
	e.cbMu.RLock()
	cbs := slices.Clone(e.onDiscovered)
	e.cbMu.RUnlock()
	e.logger.Info("node discovered", zap.String("node", n.EntityID()), zap.String("type", n.Type()))
	for _, cb := range cbs {
		e.safely("discovered", n.EntityID(), func() { cb(n) })
	}
}

func (e *Engine) fireRemoved(n *model.Node) {
	e.cbMu.RLock()
	cbs := slices.Clone(e.onRemoved)
	e.cbMu.RUnlock()
	e.logger.Info("node removed", zap.String("node", n.EntityID()))
	for _, cb := range cbs {
		e.safely("removed", n.EntityID(), func() { cb(n) })
	}
}

func (e *Engine) fireDeviceReady(d *model.Device) {
	e.cbMu.RLock()
	cbs := slices.Clone(e.onDeviceReady)
	e.cbMu.RUnlock()
	e.logger.Info("device ready", zap.String("device", d.ID()), zap.Int("nodes", len(d.Nodes())))
	for _, cb := range cbs {
		e.safely("device ready", d.ID(), func() { cb(d) })
	}
}

// safely keeps a panicking consumer callback from taking the ingestion path down.
func (e *Engine) safely(event, id string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("callback panicked",
				zap.String("event", event),
				zap.String("id", id),
				zap.Any("panic", r))
		}
	}()
	fn()
}
