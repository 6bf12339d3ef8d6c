package discovery

import (
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/anicoll/homie-bridge/internal/pkg/model"
	"github.com/anicoll/homie-bridge/internal/pkg/topic"
)

// Homie 4 "$state" values and whether they mean the device is reachable.
var stateOnline = map[string]bool{
	"ready":        true,
	"alert":        true,
	"init":         false,
	"disconnected": false,
	"sleeping":     false,
	"lost":         false,
}

// HandleMessage applies one publication to the tree. It is safe to call from several
// goroutines; publications are processed one at a time.
func (e *Engine) HandleMessage(t string, payload []byte) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running {
		return
	}

	path, err := topic.Parse(e.prefix, t)
	if err != nil {
		e.logger.Debug("dropping malformed topic", zap.String("topic", t), zap.Error(err))
		return
	}
	if path.Command {
		return
	}

	value := string(payload)
	switch path.Level() {
	case topic.LevelDevice:
		e.applyDevice(path, value)
	case topic.LevelNode:
		e.applyNode(path, value)
	case topic.LevelProperty:
		e.applyProperty(path, value)
	}
}

func (e *Engine) entry(id string, create bool) (*deviceEntry, bool) {
	e.tableMu.Lock()
	defer e.tableMu.Unlock()
	entry, ok := e.devices[id]
	if ok || !create {
		return entry, ok
	}
	entry = &deviceEntry{
		device: model.NewDevice(id, e.prefix,
			model.WithPublisher(e.transport.Publish, e.qos),
			model.WithRequirements(e.requirements)),
	}
	e.devices[id] = entry
	e.logger.Debug("tracking device", zap.String("device", id))
	return entry, true
}

func (e *Engine) applyDevice(path topic.Path, value string) {
	if path.Attribute == "" {
		return
	}
	if value == "" && (path.Attribute == model.AttrNodes || path.Attribute == model.AttrHomie) {
		e.removeDevice(path.DeviceID)
		return
	}

	entry, _ := e.entry(path.DeviceID, true)
	d := entry.device
	// only structure restarts the settle window, not periodic "$stats" or "$online"
	if path.Attribute == model.AttrNodes || path.Attribute == model.AttrHomie {
		e.touch(entry)
	}

	if value == "" {
		d.Delete(path.Attribute)
		if path.Attribute == model.AttrRawOnline || path.Attribute == model.AttrState {
			e.setOnline(entry, false)
		}
		return
	}
	d.Set(path.Attribute, value)

	switch path.Attribute {
	case model.AttrRawOnline:
		e.setOnline(entry, model.ParseBool(value))
	case model.AttrState:
		if online, known := stateOnline[value]; known {
			e.setOnline(entry, online)
		}
	case model.AttrNodes:
		declared := d.DeclaredNodes()
		for _, n := range d.Nodes() {
			if !lo.Contains(declared, n.ID()) {
				e.removeNode(entry, n.ID())
			}
		}
		e.evaluateDevice(entry)
	}
}

func (e *Engine) applyNode(path topic.Path, value string) {
	if value == "" && (path.Attribute == model.AttrType || path.Attribute == model.AttrProperties) {
		if entry, ok := e.entry(path.DeviceID, false); ok {
			e.removeNode(entry, path.NodeID)
			e.evaluateDevice(entry)
		}
		return
	}

	entry, _ := e.entry(path.DeviceID, true)
	e.touch(entry)
	n := entry.device.Node(path.NodeID)

	if value == "" {
		n.Delete(path.Attribute)
		return
	}
	if path.Attribute == model.AttrType {
		if prev, ok := n.Get(model.AttrType); ok && prev != value {
			// a retyped node is routed again
			e.retract(n)
		}
	}
	n.Set(path.Attribute, value)

	if path.Attribute == model.AttrProperties {
		declared := n.DeclaredProperties()
		for _, p := range n.Properties() {
			if !lo.Contains(declared, p.ID()) {
				e.removeProperty(n, p.ID())
			}
		}
	}
	e.evaluate(n)
	e.evaluateDevice(entry)
}

func (e *Engine) applyProperty(path topic.Path, value string) {
	if value == "" && path.IsMeta() {
		entry, ok := e.entry(path.DeviceID, false)
		if !ok {
			return
		}
		n, ok := entry.device.LookupNode(path.NodeID)
		if !ok {
			return
		}
		e.removeProperty(n, path.PropertyID)
		e.evaluateDevice(entry)
		return
	}

	entry, _ := e.entry(path.DeviceID, true)
	n := entry.device.Node(path.NodeID)
	p := n.Property(path.PropertyID)
	p.Set(path.Attribute, value)

	// value updates never change readiness
	if path.IsMeta() {
		e.touch(entry)
		e.evaluate(n)
		e.evaluateDevice(entry)
	}
}

// evaluate re-checks a single node after a structural change and fires discovery on the
// Announcing->Ready edge only.
func (e *Engine) evaluate(n *model.Node) {
	complete := n.Complete()
	if !complete {
		// metadata a discovered node relied on went away
		e.retract(n)
		return
	}
	if n.MarkDiscovered() {
		e.syncReady(n)
		e.fireDiscovered(n)
		return
	}
	e.syncReady(n)
}

// retract moves a discovered node back to Announcing and tells consumers it is gone.
func (e *Engine) retract(n *model.Node) {
	if n.ResetDiscovered() {
		e.syncReady(n)
		e.fireRemoved(n)
	}
}

func (e *Engine) syncReady(n *model.Node) {
	ready := n.Discovered() && n.State() == model.NodeReady
	setIfChanged(n, model.AttrReady, model.FormatBool(ready))
}

func (e *Engine) removeProperty(n *model.Node, id string) {
	if _, ok := n.RemoveProperty(id); !ok {
		return
	}
	e.logger.Debug("property removed", zap.String("node", n.EntityID()), zap.String("property", id))
	e.retract(n)
	e.evaluate(n)
}

func (e *Engine) removeNode(entry *deviceEntry, id string) {
	n, ok := entry.device.RemoveNode(id)
	if !ok {
		return
	}
	n.Set(model.AttrReady, model.FormatBool(false))
	if n.ResetDiscovered() {
		e.fireRemoved(n)
	}
}

func (e *Engine) removeDevice(id string) {
	entry, ok := e.entry(id, false)
	if !ok {
		return
	}
	e.tableMu.Lock()
	delete(e.devices, id)
	e.tableMu.Unlock()
	if entry.timer != nil {
		entry.timer.Stop()
	}
	for _, n := range entry.device.Nodes() {
		e.removeNode(entry, n.ID())
	}
	entry.device.Close()
	e.logger.Info("device removed", zap.String("device", id))
}

func (e *Engine) setOnline(entry *deviceEntry, online bool) {
	if !setIfChanged(entry.device, model.AttrOnline, model.FormatBool(online)) {
		return
	}
	e.logger.Info("device availability changed",
		zap.String("device", entry.device.ID()),
		zap.Bool("online", online))
	for _, n := range entry.device.Nodes() {
		e.syncReady(n)
	}
}

// evaluateDevice marks the device ready once every node listed in "$nodes" has been
// discovered.
func (e *Engine) evaluateDevice(entry *deviceEntry) {
	if entry.readyFired {
		return
	}
	d := entry.device
	if !d.Has(model.AttrNodes) {
		return
	}
	for _, id := range d.DeclaredNodes() {
		n, ok := d.LookupNode(id)
		if !ok || !n.Discovered() {
			return
		}
	}
	e.markDeviceReady(entry)
}

func (e *Engine) markDeviceReady(entry *deviceEntry) {
	entry.readyFired = true
	if entry.timer != nil {
		entry.timer.Stop()
		entry.timer = nil
	}
	entry.device.Set(model.AttrReady, model.FormatBool(true))
	e.fireDeviceReady(entry.device)
}

// touch restarts the settle window of a device that is still announcing.
func (e *Engine) touch(entry *deviceEntry) {
	if e.settle <= 0 || entry.readyFired {
		return
	}
	entry.generation++
	gen := entry.generation
	id := entry.device.ID()
	if entry.timer != nil {
		entry.timer.Stop()
	}
	entry.timer = time.AfterFunc(e.settle, func() {
		e.settleDevice(id, gen)
	})
}

func (e *Engine) settleDevice(id string, gen uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running {
		return
	}
	entry, ok := e.entry(id, false)
	if !ok || entry.readyFired || entry.generation != gen {
		return
	}
	e.logger.Debug("device settled", zap.String("device", id))
	e.markDeviceReady(entry)
}

type valueStore interface {
	Get(name string) (string, bool)
	Set(name, value string)
}

func setIfChanged(s valueStore, name, value string) bool {
	if prev, ok := s.Get(name); ok && prev == value {
		return false
	}
	s.Set(name, value)
	return true
}
