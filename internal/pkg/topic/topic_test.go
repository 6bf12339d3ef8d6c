package topic

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name  string
		topic string
		want  Path
		level Level
		meta  bool
	}{
		{
			name:  "bare device",
			topic: "home/bulb1",
			want:  Path{DeviceID: "bulb1"},
			level: LevelDevice,
		},
		{
			name:  "device online",
			topic: "home/bulb1/$online",
			want:  Path{DeviceID: "bulb1", Attribute: "online"},
			level: LevelDevice,
			meta:  true,
		},
		{
			name:  "device stats",
			topic: "home/bulb1/$stats/uptime",
			want:  Path{DeviceID: "bulb1", Attribute: "stats/uptime"},
			level: LevelDevice,
			meta:  true,
		},
		{
			name:  "node type",
			topic: "home/bulb1/main/$type",
			want:  Path{DeviceID: "bulb1", NodeID: "main", Attribute: "type"},
			level: LevelNode,
			meta:  true,
		},
		{
			name:  "property value",
			topic: "home/bulb1/main/on",
			want:  Path{DeviceID: "bulb1", NodeID: "main", PropertyID: "on", Attribute: AttrValue},
			level: LevelProperty,
		},
		{
			name:  "property datatype",
			topic: "home/bulb1/main/on/$datatype",
			want:  Path{DeviceID: "bulb1", NodeID: "main", PropertyID: "on", Attribute: "datatype"},
			level: LevelProperty,
			meta:  true,
		},
		{
			name:  "property command",
			topic: "home/bulb1/main/on/set",
			want:  Path{DeviceID: "bulb1", NodeID: "main", PropertyID: "on", Command: true},
			level: LevelProperty,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse("home", tt.topic)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.level, got.Level())
			assert.Equal(t, tt.meta, got.IsMeta())
			assert.Equal(t, tt.topic, got.Topic("home"))
		})
	}
}

func TestParse_MultiSegmentPrefix(t *testing.T) {
	got, err := Parse("devices/homie/", "devices/homie/sw1/main/$properties")
	require.NoError(t, err)
	assert.Equal(t, Path{DeviceID: "sw1", NodeID: "main", Attribute: "properties"}, got)
}

func TestParse_Malformed(t *testing.T) {
	topics := []string{
		"other/bulb1/$online",
		"home",
		"home/",
		"home/Bulb1/$online",
		"home/-bulb/$online",
		"home/bulb1/main",
		"home/bulb_1/main/$type",
		"home/bulb1/main/$type/extra",
		"home/bulb1/main/on/bogus",
		"home/bulb1/main/on/$value",
		"home/bulb1/main/on/$datatype/x",
		"home/bulb1/$stats/up/time",
		"home/bulb1/$",
	}
	for _, tp := range topics {
		t.Run(tp, func(t *testing.T) {
			_, err := Parse("home", tp)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrMalformed))
			var perr *ParseError
			require.True(t, errors.As(err, &perr))
			assert.Equal(t, tp, perr.Topic)
		})
	}
}

func TestParse_Idempotent(t *testing.T) {
	a, errA := Parse("home", "home/sw1/main/on/$settable")
	b, errB := Parse("home", "home/sw1/main/on/$settable")
	require.NoError(t, errA)
	require.NoError(t, errB)
	assert.Equal(t, a, b)
}

func TestValidateID(t *testing.T) {
	assert.NoError(t, ValidateID("now-is-the-time-1"))
	assert.Error(t, ValidateID(""))
	assert.Error(t, ValidateID("-lead"))
	assert.Error(t, ValidateID("now_is_the_time"))
	assert.Error(t, ValidateID("Upper"))
}
