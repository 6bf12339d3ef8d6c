package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/anicoll/homie-bridge/internal/pkg/database"
	"github.com/anicoll/homie-bridge/internal/pkg/discovery"
	"github.com/anicoll/homie-bridge/internal/pkg/entity"
	"github.com/anicoll/homie-bridge/internal/pkg/model"
	"github.com/anicoll/homie-bridge/pkg/api"
	"github.com/anicoll/homie-bridge/pkg/sockets"
)

var _ api.ServerInterface = (*server)(nil)

var (
	errNotFound        = errors.New("not found")
	errBadRequest      = errors.New("bad request")
	errHistoryDisabled = errors.New("history is not recorded")
)

type entityRegistry interface {
	Get(id string) (entity.Entity, bool)
	List() []entity.Entity
	Subscribe(buffer int) (<-chan entity.Update, func())
}

type nodeBinder interface {
	Bind(entityID string) (*model.Node, error)
}

type historyStore interface {
	GetHistory(ctx context.Context, entityID, property string, from, to *time.Time) (database.Records, error)
	GetLatest(ctx context.Context, entityID string) (database.Records, error)
}

type server struct {
	entities     entityRegistry
	nodes        nodeBinder
	history      historyStore
	pingInterval time.Duration
	logger       *zap.Logger
}

// New serves the entity API. history may be nil when no database is configured.
func New(entities entityRegistry, nodes nodeBinder, history historyStore) *server {
	return &server{
		entities:     entities,
		nodes:        nodes,
		history:      history,
		pingInterval: 30 * time.Second,
		logger:       zap.L(),
	}
}

func (s *server) Handler() http.Handler {
	return api.HandlerWithOptions(s, api.GorillaServerOptions{
		Middlewares: []api.MiddlewareFunc{LoggingMiddleware},
		ErrorHandlerFunc: func(w http.ResponseWriter, _ *http.Request, err error) {
			handleError(w, fmt.Errorf("%w: %w", errBadRequest, err))
		},
	})
}

func (s *server) GetEntities(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, lo.Map(s.entities.List(), func(e entity.Entity, _ int) entity.State {
		return e.State()
	}))
}

func (s *server) GetEntity(w http.ResponseWriter, _ *http.Request, id api.EntityID) {
	e, ok := s.entities.Get(id)
	if !ok {
		handleError(w, fmt.Errorf("entity %s: %w", id, errNotFound))
		return
	}
	writeJSON(w, http.StatusOK, e.State())
}

func (s *server) PostTurnOn(w http.ResponseWriter, r *http.Request, id api.EntityID) {
	req, err := unmarshalPayload[api.PostTurnOnJSONRequestBody](r)
	if err != nil {
		handleError(w, err)
		return
	}
	s.command(w, r, id, func(c entity.Controllable) error {
		return c.TurnOn(entity.TurnOnOptions{Brightness: req.Brightness, RGB: lo.FromPtr(req.Rgb)})
	})
}

func (s *server) PostTurnOff(w http.ResponseWriter, r *http.Request, id api.EntityID) {
	s.command(w, r, id, func(c entity.Controllable) error {
		return c.TurnOff()
	})
}

// command responds 202: the state changes once the device republishes it.
func (s *server) command(w http.ResponseWriter, r *http.Request, id string, fn func(entity.Controllable) error) {
	e, ok := s.entities.Get(id)
	if !ok {
		handleError(w, fmt.Errorf("entity %s: %w", id, errNotFound))
		return
	}
	c, ok := e.(entity.Controllable)
	if !ok {
		handleError(w, fmt.Errorf("%w: %s cannot be switched", entity.ErrUnsupported, id))
		return
	}
	if err := fn(c); err != nil {
		s.logger.Error("command failed", zap.String("entity", id), zap.Error(err))
		handleError(w, err)
		return
	}
	s.logger.Info("command sent", zap.String("entity", id), zap.String("path", r.URL.Path))
	writeJSON(w, http.StatusAccepted, e.State())
}

func (s *server) GetNode(w http.ResponseWriter, _ *http.Request, device string, node string) {
	n, err := s.nodes.Bind(device + "/" + node)
	if err != nil {
		handleError(w, err)
		return
	}
	snapshot := api.NodeSnapshot{
		EntityId:   n.EntityID(),
		Type:       n.Type(),
		State:      n.State().String(),
		Ready:      n.Ready(),
		Online:     n.Device().Online(),
		Attributes: n.Snapshot(),
		Properties: make(map[string]map[string]string),
	}
	for _, p := range n.Properties() {
		snapshot.Properties[p.ID()] = p.Snapshot()
	}
	writeJSON(w, http.StatusOK, snapshot)
}

func (s *server) GetLatest(w http.ResponseWriter, r *http.Request, id api.EntityID) {
	if s.history == nil {
		handleError(w, errHistoryDisabled)
		return
	}
	records, err := s.history.GetLatest(r.Context(), id)
	if err != nil {
		handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *server) GetHistory(w http.ResponseWriter, r *http.Request, id api.EntityID, property string, params api.GetHistoryParams) {
	if s.history == nil {
		handleError(w, errHistoryDisabled)
		return
	}
	records, err := s.history.GetHistory(r.Context(), id, property, params.From, params.To)
	if err != nil {
		handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

// GetStream sends every entity as "added" and then each registry update until the
// client disconnects.
func (s *server) GetStream(w http.ResponseWriter, r *http.Request) {
	updates, cancel := s.entities.Subscribe(64)
	defer cancel()

	conn, err := sockets.Accept(w, r,
		sockets.WithPingInterval(s.pingInterval),
		sockets.OnError(func(err error) {
			s.logger.Debug("websocket closed", zap.Error(err))
		}))
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	for _, e := range s.entities.List() {
		if err := conn.Send(entity.Update{Type: entity.UpdateAdded, Entity: e.State()}); err != nil {
			return
		}
	}
	for {
		select {
		case u, ok := <-updates:
			if !ok {
				return
			}
			if err := conn.Send(u); err != nil {
				return
			}
		case <-conn.Done():
			return
		case <-r.Context().Done():
			return
		}
	}
}

func statusFor(err error) int {
	var bindErr *discovery.BindError
	switch {
	case errors.Is(err, errNotFound), errors.Is(err, errHistoryDisabled), errors.As(err, &bindErr):
		return http.StatusNotFound
	case errors.Is(err, entity.ErrInvalidValue), errors.Is(err, entity.ErrUnsupported), errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrNotSettable):
		return http.StatusConflict
	case errors.Is(err, model.ErrTransport):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func handleError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), api.Error{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// unmarshalPayload decodes an optional JSON body; an empty body yields the zero value.
func unmarshalPayload[T any](r *http.Request) (*T, error) {
	var out T
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return &out, nil
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("%w: %w", errBadRequest, err)
	}
	return &out, nil
}
