package entity

import (
	"slices"
	"strings"
	"sync"

	"github.com/samber/lo"
	"go.uber.org/zap"
)

type UpdateType string

const (
	UpdateAdded   UpdateType = "added"
	UpdateChanged UpdateType = "changed"
	UpdateRemoved UpdateType = "removed"
)

type Update struct {
	Type   UpdateType `json:"type"`
	Entity State      `json:"entity"`
}

// Registry holds the bound entities and fans their changes out to subscribers.
type Registry struct {
	mu       sync.RWMutex
	entities map[string]Entity
	byNode   map[string]string

	subMu   sync.Mutex
	subs    map[int]chan Update
	nextSub int

	logger *zap.Logger
}

func NewRegistry() *Registry {
	return &Registry{
		entities: make(map[string]Entity),
		byNode:   make(map[string]string),
		subs:     make(map[int]chan Update),
		logger:   zap.L(),
	}
}

// Add starts tracking e. An entity already bound to the same node is replaced.
func (r *Registry) Add(e Entity) {
	r.mu.Lock()
	var old Entity
	if id, ok := r.byNode[e.Node().EntityID()]; ok {
		old = r.entities[id]
		delete(r.entities, id)
	}
	r.entities[e.ID()] = e
	r.byNode[e.Node().EntityID()] = e.ID()
	r.mu.Unlock()

	if old != nil {
		old.detach()
	}
	e.attach(func() { r.broadcast(UpdateChanged, e) })
	r.logger.Info("entity added", zap.String("entity", e.ID()), zap.String("node", e.Node().EntityID()))
	r.broadcast(UpdateAdded, e)
}

// Remove drops the entity bound to the node "<device>/<node>".
func (r *Registry) Remove(nodeID string) (Entity, bool) {
	r.mu.Lock()
	id, ok := r.byNode[nodeID]
	if !ok {
		r.mu.Unlock()
		return nil, false
	}
	e := r.entities[id]
	delete(r.entities, id)
	delete(r.byNode, nodeID)
	r.mu.Unlock()

	e.detach()
	r.logger.Info("entity removed", zap.String("entity", id))
	r.broadcast(UpdateRemoved, e)
	return e, true
}

func (r *Registry) Get(id string) (Entity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entities[id]
	return e, ok
}

// List returns the entities ordered by id.
func (r *Registry) List() []Entity {
	r.mu.RLock()
	entities := lo.Values(r.entities)
	r.mu.RUnlock()
	slices.SortFunc(entities, func(a, b Entity) int {
		return strings.Compare(a.ID(), b.ID())
	})
	return entities
}

// Subscribe returns a channel of entity updates. Updates are dropped while the
// channel buffer is full. cancel closes the channel.
func (r *Registry) Subscribe(buffer int) (<-chan Update, func()) {
	ch := make(chan Update, buffer)
	r.subMu.Lock()
	id := r.nextSub
	r.nextSub++
	r.subs[id] = ch
	r.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			r.subMu.Lock()
			delete(r.subs, id)
			r.subMu.Unlock()
			close(ch)
		})
	}
}

// broadcast never blocks: it runs inside attribute listeners on the ingestion path.
func (r *Registry) broadcast(t UpdateType, e Entity) {
	u := Update{Type: t, Entity: e.State()}
	r.subMu.Lock()
	defer r.subMu.Unlock()
	for _, ch := range r.subs {
		select {
		case ch <- u:
		default:
			r.logger.Debug("dropping entity update for slow subscriber", zap.String("entity", e.ID()))
		}
	}
}
