package router

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/anicoll/homie-bridge/internal/pkg/model"
)

func newNode(nodeType string) *model.Node {
	n := model.NewDevice("dev1", "homie").Node("main")
	n.Set(model.AttrType, nodeType)
	return n
}

func TestRouter_LongestPrefixWins(t *testing.T) {
	r := New()
	var got []string
	r.Register("light", func(*model.Node) error { got = append(got, "light"); return nil })
	r.Register("light-rgb", func(*model.Node) error { got = append(got, "light-rgb"); return nil })

	r.Dispatch(newNode("light-rgb"))
	r.Dispatch(newNode("light"))
	r.Dispatch(newNode("light-dimmer"))

	assert.Equal(t, []string{"light-rgb", "light", "light"}, got)
}

func TestRouter_Unroutable(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	r := New()
	r.logger = zap.New(core)

	_, _, err := r.Route("thermostat")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnroutableType))

	r.Dispatch(newNode("thermostat"))
	entries := logs.FilterMessage("unroutable node").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "thermostat", entries[0].ContextMap()["type"])
}

func TestRouter_HandlerErrorIsContained(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	r := New()
	r.logger = zap.New(core)
	r.Register("switch", func(*model.Node) error { return errors.New("bind failed") })

	assert.NotPanics(t, func() { r.Dispatch(newNode("switch")) })
	assert.Equal(t, 1, logs.FilterMessage("failed to handle node").Len())
}

func TestRouter_RegisterReplaces(t *testing.T) {
	r := New()
	calls := 0
	r.Register("sensor", func(*model.Node) error { calls += 10; return nil })
	r.Register("sensor", func(*model.Node) error { calls++; return nil })
	r.Dispatch(newNode("sensor"))
	assert.Equal(t, 1, calls)
}
