package model

import (
	"errors"
	"strings"

	"github.com/samber/lo"

	"github.com/anicoll/homie-bridge/internal/pkg/topic"
)

var (
	ErrNotSettable = errors.New("property is not settable")
	// ErrTransport wraps failures returned by the transport when publishing.
	ErrTransport = errors.New("transport error")
)

// Attribute names. Names with a leading underscore are maintained by the discovery
// engine and never come from a topic (ids cannot contain '_').
const (
	AttrOnline = "_online"
	AttrReady  = "_ready"

	AttrHomie      = "homie"
	AttrName       = "name"
	AttrState      = "state"
	AttrRawOnline  = "online"
	AttrNodes      = "nodes"
	AttrType       = "type"
	AttrProperties = "properties"
	AttrDatatype   = "datatype"
	AttrSettable   = "settable"
	AttrRetained   = "retained"
	AttrUnit       = "unit"
	AttrFormat     = "format"
	AttrValue      = topic.AttrValue
)

// Publisher sends a payload to the transport.
type Publisher func(topic string, payload []byte, qos byte, retain bool) error

type Datatype string

func (d Datatype) String() string {
	return string(d)
}

const (
	DatatypeString  Datatype = "string"
	DatatypeInteger Datatype = "integer"
	DatatypeFloat   Datatype = "float"
	DatatypeBoolean Datatype = "boolean"
	DatatypeEnum    Datatype = "enum"
	DatatypeColor   Datatype = "color"
)

// Well known property ids used by the default type table.
const (
	PropOn         = "on"
	PropBrightness = "brightness"
	PropRGB        = "rgb"
	PropValue      = "value"
)

// Well known node types.
const (
	TypeSwitch   = "switch"
	TypeLight    = "light"
	TypeLightRGB = "light-rgb"
	TypeSensor   = "sensor"
)

// Requirements maps a node type prefix to the properties that must have known
// metadata before a node of that type is ready.
type Requirements map[string][]string

// DefaultRequirements is used when the engine is not given a table.
var DefaultRequirements = Requirements{
	TypeSwitch:   {PropOn},
	TypeLight:    {PropOn, PropBrightness},
	TypeLightRGB: {PropOn, PropBrightness, PropRGB},
	TypeSensor:   {PropValue},
}

// Lookup returns the entry whose key is the longest prefix of nodeType.
func (r Requirements) Lookup(nodeType string) ([]string, bool) {
	key, ok := LongestPrefix(lo.Keys(map[string][]string(r)), nodeType)
	if !ok {
		return nil, false
	}
	return r[key], true
}

// LongestPrefix returns the longest candidate that prefixes s.
func LongestPrefix(candidates []string, s string) (string, bool) {
	matches := lo.Filter(candidates, func(c string, _ int) bool {
		return strings.HasPrefix(s, c)
	})
	if len(matches) == 0 {
		return "", false
	}
	return lo.MaxBy(matches, func(a, b string) bool {
		return len(a) > len(b) || (len(a) == len(b) && a < b)
	}), true
}

// ParseList splits a "$nodes"/"$properties" payload into ids. Array markers ("[]",
// "[0-3]") and legacy ":settable" suffixes are stripped.
func ParseList(payload string) []string {
	ids := lo.Map(strings.Split(payload, ","), func(s string, _ int) string {
		s = strings.TrimSpace(s)
		if i := strings.IndexAny(s, "[:"); i >= 0 {
			s = s[:i]
		}
		return s
	})
	return lo.Uniq(lo.Compact(ids))
}

// ParseBool reads the protocol's boolean literals.
func ParseBool(s string) bool {
	return strings.EqualFold(strings.TrimSpace(s), "true")
}

func FormatBool(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
