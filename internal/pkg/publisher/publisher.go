package publisher

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/anicoll/homie-bridge/internal/pkg/attribute"
	"github.com/anicoll/homie-bridge/internal/pkg/model"
)

var errAlreadyRegistered = errors.New("publisher already registered")

type publisher interface {
	// Write publishes property samples to the adapter
	Write(ctx context.Context, samples []model.Sample) error
	RegisterEntity(ctx context.Context, info model.EntityInfo) error
}

var unitAliases = map[string]string{
	"℃":  "°C",
	"℉":  "°F",
	"kWp": "kW",
}

type tracked struct {
	property *model.Property
	handle   attribute.Handle
}

type trackedNode struct {
	entityID   string
	properties []tracked
	stopAdded  func()
}

// Publisher queues property values of bound entities and fans them out to every
// registered adapter.
type Publisher struct {
	mu         sync.RWMutex
	publishers map[string]publisher

	values sync.Map

	queue         chan model.Sample
	batchSize     int
	flushInterval time.Duration

	trackMu sync.Mutex
	tracked map[string]*trackedNode

	logger *zap.Logger
}

type Option func(*Publisher)

func WithQueueSize(n int) Option {
	return func(p *Publisher) {
		p.queue = make(chan model.Sample, n)
	}
}

func WithBatch(size int, interval time.Duration) Option {
	return func(p *Publisher) {
		p.batchSize = size
		p.flushInterval = interval
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(p *Publisher) {
		p.logger = l
	}
}

func New(opts ...Option) *Publisher {
	p := &Publisher{
		publishers:    make(map[string]publisher),
		queue:         make(chan model.Sample, 1024),
		batchSize:     100,
		flushInterval: time.Second,
		tracked:       make(map[string]*trackedNode),
		logger:        zap.L(),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

func (p *Publisher) RegisterPublisher(name string, pub publisher) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.publishers[name]; ok {
		return fmt.Errorf("%w: %s", errAlreadyRegistered, name)
	}
	p.publishers[name] = pub
	return nil
}

// Track records every value change of the node's properties under entityID,
// including properties the node gains later. The current values are queued straight
// away.
func (p *Publisher) Track(entityID string, n *model.Node) {
	p.Untrack(n.EntityID())

	tn := &trackedNode{entityID: entityID}
	stop := n.OnPropertyAdded(func(prop *model.Property) {
		p.trackMu.Lock()
		defer p.trackMu.Unlock()
		// untracked or tracked again meanwhile
		if p.tracked[n.EntityID()] != tn {
			return
		}
		p.trackProperty(tn, prop)
		p.logger.Debug("tracking new property",
			zap.String("entity", entityID),
			zap.String("property", prop.ID()))
	})

	p.trackMu.Lock()
	defer p.trackMu.Unlock()
	tn.stopAdded = stop
	p.tracked[n.EntityID()] = tn
	for _, prop := range n.Properties() {
		p.trackProperty(tn, prop)
	}
}

// trackProperty must be called with trackMu held.
func (p *Publisher) trackProperty(tn *trackedNode, prop *model.Property) {
	if lo.ContainsBy(tn.properties, func(t tracked) bool { return t.property == prop }) {
		return
	}
	h := prop.AddChangeListener(attribute.ListenerFunc(func(c attribute.Change) {
		if c.Name != model.AttrValue || c.Removed {
			return
		}
		p.Enqueue(newSample(tn.entityID, prop, c.Current))
	}))
	tn.properties = append(tn.properties, tracked{property: prop, handle: h})
	if v, ok := prop.Value(); ok {
		p.Enqueue(newSample(tn.entityID, prop, v))
	}
}

// Untrack stops recording the node "<device>/<node>".
func (p *Publisher) Untrack(nodeID string) {
	p.trackMu.Lock()
	tn, ok := p.tracked[nodeID]
	delete(p.tracked, nodeID)
	p.trackMu.Unlock()
	if !ok {
		return
	}
	if tn.stopAdded != nil {
		tn.stopAdded()
	}
	for _, t := range tn.properties {
		t.property.RemoveListener(t.handle)
	}
}

func newSample(entityID string, prop *model.Property, value string) model.Sample {
	return model.Sample{
		EntityID:   entityID,
		NodeID:     prop.Node().EntityID(),
		PropertyID: prop.ID(),
		Value:      value,
		Unit:       normaliseUnit(prop.Unit()),
		Timestamp:  time.Now(),
	}
}

func normaliseUnit(unit string) string {
	if alias, ok := unitAliases[unit]; ok {
		return alias
	}
	return unit
}

// Enqueue never blocks; it reports false when the queue is full and the sample was
// dropped.
func (p *Publisher) Enqueue(s model.Sample) bool {
	select {
	case p.queue <- s:
		return true
	default:
		p.logger.Warn("publish queue full, dropping sample",
			zap.String("entity", s.EntityID),
			zap.String("property", s.PropertyID))
		return false
	}
}

// Run drains the queue in batches until ctx is done. The last batch is flushed before
// returning.
func (p *Publisher) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.flushInterval)
	defer ticker.Stop()

	batch := make([]model.Sample, 0, p.batchSize)
	flush := func(ctx context.Context) {
		if len(batch) == 0 {
			return
		}
		if err := p.PublishData(ctx, batch); err != nil {
			p.logger.Error("failed to publish samples", zap.Error(err))
		}
		batch = make([]model.Sample, 0, p.batchSize)
	}

	for {
		select {
		case <-ctx.Done():
		drain:
			for {
				select {
				case s := <-p.queue:
					batch = append(batch, s)
				default:
					break drain
				}
			}
			flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			flush(flushCtx)
			cancel()
			return nil
		case s := <-p.queue:
			batch = append(batch, s)
			if len(batch) >= p.batchSize {
				flush(ctx)
			}
		case <-ticker.C:
			flush(ctx)
		}
	}
}

// PublishData writes the samples whose value changed since the last write to every
// registered adapter.
func (p *Publisher) PublishData(ctx context.Context, samples []model.Sample) error {
	data := make([]model.Sample, 0, len(samples))
	for _, s := range samples {
		if !p.shouldUpdate(s.EntityID, s.PropertyID, s.Value) {
			continue
		}
		data = append(data, s)
	}
	if len(data) == 0 {
		return nil
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	var errs []error
	for name, pub := range p.publishers {
		if err := pub.Write(ctx, data); err != nil {
			p.logger.Error("failed to publish data", zap.Error(err), zap.String("publisher", name))
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		}
		p.logger.Debug("updated properties", zap.Int("count", len(data)), zap.String("publisher", name))
	}
	return errors.Join(errs...)
}

func (p *Publisher) RegisterEntity(ctx context.Context, info model.EntityInfo) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var errs []error
	for name, pub := range p.publishers {
		if err := pub.RegisterEntity(ctx, info); err != nil {
			p.logger.Error("failed to register entity", zap.Error(err), zap.String("publisher", name))
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		}
		p.logger.Debug("registered entity", zap.String("entity", info.ID), zap.String("publisher", name))
	}
	return errors.Join(errs...)
}

func (p *Publisher) shouldUpdate(entityID, property, newValue string) bool {
	key := fmt.Sprintf("%s_%s", entityID, property)
	oldValue, exists := p.values.Load(key)
	if exists && strings.EqualFold(newValue, oldValue.(string)) {
		return false
	}
	if !exists {
		p.logger.Info("tracking property", zap.String("entity", entityID), zap.String("property", property), zap.String("value", newValue))
	}
	p.values.Store(key, newValue)
	return true
}
