package discovery

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/anicoll/homie-bridge/internal/pkg/attribute"
	"github.com/anicoll/homie-bridge/internal/pkg/model"
)

type publication struct {
	topic   string
	payload string
	qos     byte
	retain  bool
}

type fakeTransport struct {
	mu           sync.Mutex
	published    []publication
	filter       string
	handler      MessageHandler
	retained     []msg
	subscribeErr error
	unsubscribed bool
}

func (f *fakeTransport) Publish(topic string, payload []byte, qos byte, retain bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, publication{topic, string(payload), qos, retain})
	return nil
}

func (f *fakeTransport) Subscribe(filter string, qos byte, handler MessageHandler) (func() error, error) {
	// the broker may deliver retained messages before the suback
	for _, m := range f.retained {
		handler(m.topic, []byte(m.payload))
	}
	if f.subscribeErr != nil {
		return nil, f.subscribeErr
	}
	f.mu.Lock()
	f.filter = filter
	f.handler = handler
	f.mu.Unlock()
	return func() error {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.unsubscribed = true
		return nil
	}, nil
}

// deliver mimics the broker routing a publication to the subscriber.
func (f *fakeTransport) deliver(topic, payload string) {
	f.mu.Lock()
	h := f.handler
	f.mu.Unlock()
	if h != nil {
		h(topic, []byte(payload))
	}
}

type msg struct {
	topic   string
	payload string
}

type recorder struct {
	mu         sync.Mutex
	discovered []*model.Node
	removed    []*model.Node
	devices    []*model.Device
}

func (r *recorder) counts() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.discovered), len(r.removed)
}

func newTestEngine(t *testing.T, opts ...Option) (*Engine, *fakeTransport, *recorder) {
	t.Helper()
	tr := &fakeTransport{}
	e := New(tr, append([]Option{WithLogger(zaptest.NewLogger(t))}, opts...)...)
	rec := &recorder{}
	e.OnNodeDiscovered(func(n *model.Node) {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		rec.discovered = append(rec.discovered, n)
	})
	e.OnNodeRemoved(func(n *model.Node) {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		rec.removed = append(rec.removed, n)
	})
	e.OnDeviceReady(func(d *model.Device) {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		rec.devices = append(rec.devices, d)
	})
	require.NoError(t, e.Start("home", 1))
	t.Cleanup(func() { _ = e.Stop() })
	return e, tr, rec
}

func feed(tr *fakeTransport, msgs ...msg) {
	for _, m := range msgs {
		tr.deliver(m.topic, m.payload)
	}
}

var bulbAnnouncement = []msg{
	{"home/bulb1/$nodes", "main"},
	{"home/bulb1/main/$type", "light"},
	{"home/bulb1/main/$properties", "on,brightness"},
	{"home/bulb1/main/on/$datatype", "boolean"},
	{"home/bulb1/main/brightness/$datatype", "integer"},
	{"home/bulb1/$online", "true"},
}

func switchAnnouncement(dev string) []msg {
	return []msg{
		{"home/" + dev + "/$nodes", "main"},
		{"home/" + dev + "/main/$type", "switch"},
		{"home/" + dev + "/main/$properties", "on,power"},
		{"home/" + dev + "/main/on/$datatype", "boolean"},
		{"home/" + dev + "/main/on/$settable", "true"},
		{"home/" + dev + "/main/power/$datatype", "float"},
		{"home/" + dev + "/main/on", "false"},
		{"home/" + dev + "/$online", "true"},
	}
}

func TestEngine_StartSubscribesToPrefixWildcard(t *testing.T) {
	_, tr, _ := newTestEngine(t)
	assert.Equal(t, "home/#", tr.filter)
}

func TestEngine_BulbScenario(t *testing.T) {
	e, tr, rec := newTestEngine(t)

	for i, m := range bulbAnnouncement {
		feed(tr, m)
		discovered, _ := rec.counts()
		if i < 4 {
			assert.Zero(t, discovered, "fired early after %s", m.topic)
		} else {
			assert.Equal(t, 1, discovered, "after %s", m.topic)
		}
	}

	require.Len(t, rec.discovered, 1)
	assert.Equal(t, "bulb1/main", rec.discovered[0].EntityID())

	n, ok := e.LookupNode("bulb1/main")
	require.True(t, ok)
	assert.True(t, n.Device().Online())
	assert.True(t, n.Ready())
	assert.True(t, n.Device().Ready())
	assert.Equal(t, model.NodeReady, n.State())
	assert.Len(t, rec.devices, 1)
}

func TestEngine_ValueBeforeDatatypeIsKept(t *testing.T) {
	e, tr, rec := newTestEngine(t)
	var seen []string
	e.OnNodeDiscovered(func(n *model.Node) {
		v, _ := n.Property("on").Value()
		seen = append(seen, v)
	})

	feed(tr,
		msg{"home/sw1/main/$type", "switch"},
		msg{"home/sw1/main/on", "true"},
	)
	discovered, _ := rec.counts()
	assert.Zero(t, discovered)

	feed(tr, msg{"home/sw1/main/on/$datatype", "boolean"})
	discovered, _ = rec.counts()
	assert.Equal(t, 1, discovered)
	assert.Equal(t, []string{"true"}, seen)
}

func TestEngine_DiscoveryIsPermutationInvariant(t *testing.T) {
	index := func(msgs []msg, topic string) int {
		for i, m := range msgs {
			if m.topic == topic {
				return i
			}
		}
		return -1
	}

	for i, order := range permutations(bulbAnnouncement) {
		t.Run(fmt.Sprintf("order-%03d", i), func(t *testing.T) {
			_, tr, rec := newTestEngine(t)
			firedAt := -1
			for i, m := range order {
				feed(tr, m)
				if d, _ := rec.counts(); d == 1 && firedAt < 0 {
					firedAt = i
				}
			}
			discovered, removed := rec.counts()
			assert.Equal(t, 1, discovered)
			assert.Zero(t, removed)

			want := max(
				index(order, "home/bulb1/main/$type"),
				index(order, "home/bulb1/main/on/$datatype"),
				index(order, "home/bulb1/main/brightness/$datatype"),
			)
			assert.Equal(t, want, firedAt)
		})
	}
}

func TestEngine_ReplayDoesNotRediscover(t *testing.T) {
	e, tr, rec := newTestEngine(t)
	feed(tr, switchAnnouncement("sw1")...)
	discovered, _ := rec.counts()
	require.Equal(t, 1, discovered)

	replay := switchAnnouncement("sw1")
	replay[6].payload = "true"
	feed(tr, replay...)

	discovered, removed := rec.counts()
	assert.Equal(t, 1, discovered)
	assert.Zero(t, removed)

	n, ok := e.LookupNode("sw1/main")
	require.True(t, ok)
	v, _ := n.Property("on").Value()
	assert.Equal(t, "true", v)
}

func TestEngine_RequiredPropertyRemoval(t *testing.T) {
	e, tr, rec := newTestEngine(t)
	feed(tr, bulbAnnouncement...)

	feed(tr, msg{"home/bulb1/main/brightness/$datatype", ""})

	discovered, removed := rec.counts()
	assert.Equal(t, 1, discovered)
	assert.Equal(t, 1, removed)

	n, ok := e.LookupNode("bulb1/main")
	require.True(t, ok)
	_, has := n.LookupProperty("brightness")
	assert.False(t, has)
	assert.False(t, n.Ready())
	assert.Equal(t, model.NodeAnnouncing, n.State())

	// a second empty publication finds nothing to remove
	feed(tr, msg{"home/bulb1/main/brightness/$unit", ""})
	_, removed = rec.counts()
	assert.Equal(t, 1, removed)

	// the property coming back announces the node again
	feed(tr, msg{"home/bulb1/main/brightness/$datatype", "integer"})
	discovered, _ = rec.counts()
	assert.Equal(t, 2, discovered)
}

func TestEngine_OptionalPropertyRemovalReannounces(t *testing.T) {
	_, tr, rec := newTestEngine(t)
	feed(tr, switchAnnouncement("sw1")...)

	feed(tr, msg{"home/sw1/main/power/$datatype", ""})

	discovered, removed := rec.counts()
	assert.Equal(t, 1, removed)
	assert.Equal(t, 2, discovered)
	_, has := rec.discovered[1].LookupProperty("power")
	assert.False(t, has)
}

func TestEngine_RemovalBeforeReadyIsSilent(t *testing.T) {
	_, tr, rec := newTestEngine(t)
	feed(tr,
		msg{"home/sw1/main/$type", "switch"},
		msg{"home/sw1/main/power/$datatype", "float"},
		msg{"home/sw1/main/power/$datatype", ""},
	)
	discovered, removed := rec.counts()
	assert.Zero(t, discovered)
	assert.Zero(t, removed)
}

func TestEngine_OfflineKeepsStructure(t *testing.T) {
	e, tr, rec := newTestEngine(t)
	feed(tr, switchAnnouncement("sw1")...)
	n, _ := e.LookupNode("sw1/main")

	var onlineChanges []attribute.Change
	n.Device().AddListener(attribute.ListenerFunc(func(c attribute.Change) {
		onlineChanges = append(onlineChanges, c)
	}), model.AttrOnline)

	feed(tr, msg{"home/sw1/$online", "false"})
	assert.False(t, n.Ready())
	assert.Equal(t, model.NodeOffline, n.State())
	_, ok := n.LookupProperty("on")
	assert.True(t, ok)

	feed(tr, msg{"home/sw1/$online", "true"})
	assert.True(t, n.Ready())

	discovered, removed := rec.counts()
	assert.Equal(t, 1, discovered)
	assert.Zero(t, removed)
	require.Len(t, onlineChanges, 2)
	assert.Equal(t, "false", onlineChanges[0].Current)
	assert.Equal(t, "true", onlineChanges[1].Current)
}

func TestEngine_StateAttributeDrivesOnline(t *testing.T) {
	e, tr, _ := newTestEngine(t)
	feed(tr, msg{"home/dev4/$state", "init"})
	d, ok := e.LookupDevice("dev4")
	require.True(t, ok)
	assert.False(t, d.Online())
	assert.True(t, d.Offline())

	feed(tr, msg{"home/dev4/$state", "ready"})
	assert.True(t, d.Online())

	feed(tr, msg{"home/dev4/$state", "lost"})
	assert.False(t, d.Online())

	feed(tr, msg{"home/dev4/$state", "alert"})
	assert.True(t, d.Online())
}

func TestEngine_ClearedOnlineMarksOffline(t *testing.T) {
	e, tr, _ := newTestEngine(t)
	feed(tr, switchAnnouncement("sw1")...)
	n, ok := e.LookupNode("sw1/main")
	require.True(t, ok)
	d := n.Device()
	require.True(t, d.Online())

	feed(tr, msg{"home/sw1/$online", ""})
	assert.False(t, d.Online())
	assert.False(t, d.Has(model.AttrRawOnline))
	assert.False(t, n.Ready())

	feed(tr, msg{"home/sw1/$online", "true"})
	assert.True(t, n.Ready())

	feed(tr, msg{"home/sw1/$state", "ready"}, msg{"home/sw1/$state", ""})
	assert.False(t, d.Online())
	assert.Equal(t, model.NodeOffline, n.State())
}

func TestEngine_NodesListShrinkRemovesNode(t *testing.T) {
	e, tr, rec := newTestEngine(t)
	feed(tr, switchAnnouncement("sw1")...)
	feed(tr,
		msg{"home/sw1/$nodes", "main,aux"},
		msg{"home/sw1/aux/$type", "sensor"},
		msg{"home/sw1/aux/value/$datatype", "float"},
	)
	discovered, _ := rec.counts()
	require.Equal(t, 2, discovered)

	feed(tr, msg{"home/sw1/$nodes", "main"})
	_, removed := rec.counts()
	assert.Equal(t, 1, removed)
	assert.Equal(t, "sw1/aux", rec.removed[0].EntityID())
	assert.Equal(t, model.NodeRemoved, rec.removed[0].State())

	_, ok := e.LookupNode("sw1/aux")
	assert.False(t, ok)
}

func TestEngine_EmptyTypeRemovesNode(t *testing.T) {
	e, tr, rec := newTestEngine(t)
	feed(tr, switchAnnouncement("sw1")...)
	feed(tr, msg{"home/sw1/main/$type", ""})

	_, removed := rec.counts()
	assert.Equal(t, 1, removed)
	_, ok := e.LookupNode("sw1/main")
	assert.False(t, ok)
}

func TestEngine_EmptyNodesRemovesDevice(t *testing.T) {
	e, tr, rec := newTestEngine(t)
	feed(tr, switchAnnouncement("sw1")...)
	feed(tr, msg{"home/sw1/$nodes", ""})

	_, removed := rec.counts()
	assert.Equal(t, 1, removed)
	_, ok := e.LookupDevice("sw1")
	assert.False(t, ok)
	assert.Empty(t, e.Devices())
}

func TestEngine_RetypedNodeIsRoutedAgain(t *testing.T) {
	_, tr, rec := newTestEngine(t)
	feed(tr, switchAnnouncement("sw1")...)
	feed(tr,
		msg{"home/sw1/main/brightness/$datatype", "integer"},
		msg{"home/sw1/main/$type", "light"},
	)
	discovered, removed := rec.counts()
	assert.Equal(t, 1, removed)
	assert.Equal(t, 2, discovered)
	assert.Equal(t, "light", rec.discovered[1].Type())
}

func TestEngine_UnknownTypeUsesDeclaredProperties(t *testing.T) {
	_, tr, rec := newTestEngine(t)
	feed(tr,
		msg{"home/th1/heat/$type", "thermostat"},
		msg{"home/th1/heat/target/$datatype", "float"},
	)
	discovered, _ := rec.counts()
	assert.Zero(t, discovered)

	feed(tr, msg{"home/th1/heat/$properties", "target"})
	discovered, _ = rec.counts()
	assert.Equal(t, 1, discovered)
}

func TestEngine_MalformedTopicsAreDropped(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	_, tr, rec := newTestEngine(t, WithLogger(zap.New(core)))

	assert.NotPanics(t, func() {
		feed(tr,
			msg{"home/Bad_Device/$online", "true"},
			msg{"home/sw1/main", "x"},
			msg{"home/sw1/main/on/bogus", "x"},
		)
	})
	assert.Equal(t, 3, logs.FilterMessage("dropping malformed topic").Len())
	discovered, _ := rec.counts()
	assert.Zero(t, discovered)
}

func TestEngine_CommandEchoIsIgnored(t *testing.T) {
	e, tr, _ := newTestEngine(t)
	feed(tr, switchAnnouncement("sw1")...)
	feed(tr, msg{"home/sw1/main/on/set", "true"})

	n, _ := e.LookupNode("sw1/main")
	v, _ := n.Property("on").Value()
	assert.Equal(t, "false", v)
}

func TestEngine_SetValuePublishesThroughTransport(t *testing.T) {
	e, tr, _ := newTestEngine(t)
	feed(tr, switchAnnouncement("sw1")...)

	n, err := e.Bind("sw1/main")
	require.NoError(t, err)
	require.NoError(t, n.Property("on").SetValue("true"))

	tr.mu.Lock()
	defer tr.mu.Unlock()
	require.Len(t, tr.published, 1)
	assert.Equal(t, publication{"home/sw1/main/on/set", "true", 1, false}, tr.published[0])
}

func TestEngine_BindError(t *testing.T) {
	e, tr, _ := newTestEngine(t)
	feed(tr, msg{"home/sw1/main/$type", "switch"})

	_, err := e.Bind("sw1/main")
	var bindErr *BindError
	require.True(t, errors.As(err, &bindErr))
	assert.Equal(t, "sw1/main", bindErr.EntityID)

	_, err = e.Bind("nope")
	assert.True(t, errors.As(err, &bindErr))
}

func TestEngine_Stop(t *testing.T) {
	e, tr, rec := newTestEngine(t)
	feed(tr, bulbAnnouncement[:4]...)
	require.NoError(t, e.Stop())

	assert.True(t, tr.unsubscribed)
	assert.Empty(t, e.Devices())

	feed(tr, bulbAnnouncement[4:]...)
	discovered, _ := rec.counts()
	assert.Zero(t, discovered)
	assert.NoError(t, e.Stop())
}

func TestEngine_StartErrors(t *testing.T) {
	e, _, _ := newTestEngine(t)
	assert.ErrorIs(t, e.Start("home", 1), ErrAlreadyStarted)

	other := New(&fakeTransport{subscribeErr: errors.New("not connected")})
	err := other.Start("home", 1)
	assert.ErrorIs(t, err, model.ErrTransport)
	assert.NoError(t, other.Stop())

	assert.ErrorIs(t, New(&fakeTransport{}).Start("home/#", 1), ErrInvalidPrefix)
	assert.ErrorIs(t, New(&fakeTransport{}).Start("", 1), ErrInvalidPrefix)
}

func TestEngine_FailedStartDropsRetainedDevices(t *testing.T) {
	tr := &fakeTransport{
		retained:     switchAnnouncement("sw1"),
		subscribeErr: errors.New("suback refused"),
	}
	e := New(tr, WithLogger(zaptest.NewLogger(t)))
	var discovered []*model.Node
	e.OnNodeDiscovered(func(n *model.Node) {
		discovered = append(discovered, n)
	})

	require.ErrorIs(t, e.Start("home", 1), model.ErrTransport)
	require.Len(t, discovered, 1)
	assert.Empty(t, e.Devices())
	_, ok := e.LookupDevice("sw1")
	assert.False(t, ok)
	_, err := e.Bind("sw1/main")
	assert.Error(t, err)

	tr.retained = nil
	tr.subscribeErr = nil
	require.NoError(t, e.Start("home", 1))
	t.Cleanup(func() { _ = e.Stop() })
	assert.Empty(t, e.Devices())

	feed(tr, switchAnnouncement("sw1")...)
	assert.Len(t, discovered, 2)
}

func TestEngine_PanickingCallbackIsContained(t *testing.T) {
	e, tr, rec := newTestEngine(t)
	e.OnNodeDiscovered(func(*model.Node) { panic("consumer bug") })
	assert.NotPanics(t, func() { feed(tr, switchAnnouncement("sw1")...) })
	discovered, _ := rec.counts()
	assert.Equal(t, 1, discovered)
}

func TestEngine_SettleWindowMarksDeviceReady(t *testing.T) {
	e, tr, rec := newTestEngine(t, WithSettleWindow(20*time.Millisecond))
	feed(tr,
		msg{"home/sw2/main/$type", "switch"},
		msg{"home/sw2/main/on/$datatype", "boolean"},
	)
	d, ok := e.LookupDevice("sw2")
	require.True(t, ok)

	require.Eventually(t, d.Ready, time.Second, 5*time.Millisecond)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Len(t, rec.devices, 1)
}

func TestEngine_DeviceStatsDoNotRestartSettleWindow(t *testing.T) {
	e, tr, _ := newTestEngine(t, WithSettleWindow(50*time.Millisecond))
	feed(tr,
		msg{"home/sw2/main/$type", "switch"},
		msg{"home/sw2/main/on/$datatype", "boolean"},
	)
	d, ok := e.LookupDevice("sw2")
	require.True(t, ok)

	// telemetry keeps arriving faster than the window
	deadline := time.Now().Add(time.Second)
	for !d.Ready() && time.Now().Before(deadline) {
		feed(tr,
			msg{"home/sw2/$stats/uptime", "42"},
			msg{"home/sw2/$online", "true"},
			msg{"home/sw2/$state", "ready"},
			msg{"home/sw2/$fw/version", "1.0.2"},
		)
		time.Sleep(20 * time.Millisecond)
	}
	assert.True(t, d.Ready())
}

func TestEngine_ConcurrentDelivery(t *testing.T) {
	_, tr, rec := newTestEngine(t)
	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			feed(tr, switchAnnouncement(fmt.Sprintf("sw%d", i%2))...)
		}()
	}
	wg.Wait()
	discovered, removed := rec.counts()
	assert.Equal(t, 2, discovered)
	assert.Zero(t, removed)
}

// permutations returns every ordering of msgs (Heap's algorithm).
func permutations(msgs []msg) [][]msg {
	var out [][]msg
	a := append([]msg(nil), msgs...)
	var generate func(k int)
	generate = func(k int) {
		if k == 1 {
			out = append(out, append([]msg(nil), a...))
			return
		}
		generate(k - 1)
		for i := 0; i < k-1; i++ {
			if k%2 == 0 {
				a[i], a[k-1] = a[k-1], a[i]
			} else {
				a[0], a[k-1] = a[k-1], a[0]
			}
			generate(k - 1)
		}
	}
	generate(len(a))
	return out
}
