package router

import (
	"errors"
	"fmt"
	"sync"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/anicoll/homie-bridge/internal/pkg/model"
)

var ErrUnroutableType = errors.New("no handler registered for node type")

// Handler receives a discovered node whose type matched its registered prefix.
type Handler func(node *model.Node) error

// Router dispatches ready nodes to the handler registered for the longest prefix of
// their declared type.
type Router struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	logger   *zap.Logger
}

func New() *Router {
	return &Router{
		handlers: make(map[string]Handler),
		logger:   zap.L(),
	}
}

// Register replaces any handler already registered for typePrefix.
func (r *Router) Register(typePrefix string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[typePrefix] = h
}

// Route returns the handler for nodeType and the prefix it was registered under.
func (r *Router) Route(nodeType string) (Handler, string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	prefix, ok := model.LongestPrefix(lo.Keys(r.handlers), nodeType)
	if !ok {
		return nil, "", fmt.Errorf("%w: %q", ErrUnroutableType, nodeType)
	}
	return r.handlers[prefix], prefix, nil
}

// Dispatch hands node to its handler. Unroutable types and handler failures are logged
// and never returned to the engine.
func (r *Router) Dispatch(node *model.Node) {
	h, prefix, err := r.Route(node.Type())
	if err != nil {
		r.logger.Info("unroutable node", zap.String("node", node.EntityID()), zap.String("type", node.Type()))
		return
	}
	if err := h(node); err != nil {
		r.logger.Error("failed to handle node",
			zap.String("node", node.EntityID()),
			zap.String("handler", prefix),
			zap.Error(err))
		return
	}
	r.logger.Debug("dispatched node", zap.String("node", node.EntityID()), zap.String("handler", prefix))
}
