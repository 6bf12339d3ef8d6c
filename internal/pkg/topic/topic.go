package topic

import (
	"errors"
	"fmt"
	"strings"
)

// ErrMalformed is wrapped by every ParseError.
var ErrMalformed = errors.New("malformed topic")

const (
	// AttrValue is the attribute a property value topic is stored under.
	AttrValue = "value"
	// CommandSegment is the property sub-topic consumers publish to.
	CommandSegment = "set"
)

type ParseError struct {
	Topic  string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s %q: %s", ErrMalformed, e.Topic, e.Reason)
}

func (e *ParseError) Unwrap() error {
	return ErrMalformed
}

type Level int

const (
	LevelDevice Level = iota
	LevelNode
	LevelProperty
)

func (l Level) String() string {
	switch l {
	case LevelNode:
		return "node"
	case LevelProperty:
		return "property"
	default:
		return "device"
	}
}

// Path is a parsed topic relative to the discovery prefix.
type Path struct {
	DeviceID   string
	NodeID     string
	PropertyID string
	// Attribute is the addressed attribute without its "$" marker. It is AttrValue for
	// a property value topic and empty for a bare device topic.
	Attribute string
	// Command is set for "<property>/set" topics.
	Command bool
}

func (p Path) Level() Level {
	switch {
	case p.PropertyID != "":
		return LevelProperty
	case p.NodeID != "":
		return LevelNode
	default:
		return LevelDevice
	}
}

// IsMeta reports whether the path addresses a "$" attribute rather than a value.
func (p Path) IsMeta() bool {
	if p.Command || p.Attribute == "" {
		return false
	}
	return p.Level() != LevelProperty || p.Attribute != AttrValue
}

// Topic rebuilds the absolute topic under prefix.
func (p Path) Topic(prefix string) string {
	parts := []string{strings.TrimSuffix(prefix, "/"), p.DeviceID}
	if p.NodeID != "" {
		parts = append(parts, p.NodeID)
	}
	if p.PropertyID != "" {
		parts = append(parts, p.PropertyID)
	}
	switch {
	case p.Command:
		parts = append(parts, CommandSegment)
	case p.Attribute == AttrValue && p.PropertyID != "":
	case p.Attribute != "":
		parts = append(parts, "$"+p.Attribute)
	}
	return strings.Join(parts, "/")
}

// Parse validates topic against the protocol grammar below prefix:
//
//	<device>[/$attr[/sub]]
//	<device>/<node>/$attr
//	<device>/<node>/<property>[/$attr|/set]
func Parse(prefix, topic string) (Path, error) {
	prefix = strings.TrimSuffix(prefix, "/")
	if !strings.HasPrefix(topic, prefix+"/") {
		return Path{}, &ParseError{Topic: topic, Reason: "outside discovery prefix " + prefix}
	}
	segs := strings.Split(strings.TrimPrefix(topic, prefix+"/"), "/")
	if len(segs) < 1 || len(segs) > 4 {
		return Path{}, &ParseError{Topic: topic, Reason: fmt.Sprintf("%d segments below prefix", len(segs))}
	}

	var p Path
	if err := ValidateID(segs[0]); err != nil {
		return Path{}, &ParseError{Topic: topic, Reason: "device id: " + err.Error()}
	}
	p.DeviceID = segs[0]
	if len(segs) == 1 {
		return p, nil
	}

	// device attribute, optionally with one sub-segment ($stats/uptime, $fw/name)
	if isAttr(segs[1]) {
		if len(segs) > 3 {
			return Path{}, &ParseError{Topic: topic, Reason: "device attribute too deep"}
		}
		name, err := attrName(segs[1])
		if err != nil {
			return Path{}, &ParseError{Topic: topic, Reason: err.Error()}
		}
		if len(segs) == 3 {
			if err := ValidateID(segs[2]); err != nil {
				return Path{}, &ParseError{Topic: topic, Reason: "device attribute: " + err.Error()}
			}
			name += "/" + segs[2]
		}
		p.Attribute = name
		return p, nil
	}

	if err := ValidateID(segs[1]); err != nil {
		return Path{}, &ParseError{Topic: topic, Reason: "node id: " + err.Error()}
	}
	p.NodeID = segs[1]
	if len(segs) == 2 {
		return Path{}, &ParseError{Topic: topic, Reason: "node topic without attribute"}
	}

	if isAttr(segs[2]) {
		if len(segs) != 3 {
			return Path{}, &ParseError{Topic: topic, Reason: "node attribute too deep"}
		}
		name, err := attrName(segs[2])
		if err != nil {
			return Path{}, &ParseError{Topic: topic, Reason: err.Error()}
		}
		p.Attribute = name
		return p, nil
	}

	if err := ValidateID(segs[2]); err != nil {
		return Path{}, &ParseError{Topic: topic, Reason: "property id: " + err.Error()}
	}
	p.PropertyID = segs[2]
	if len(segs) == 3 {
		p.Attribute = AttrValue
		return p, nil
	}

	switch {
	case segs[3] == CommandSegment:
		p.Command = true
	case isAttr(segs[3]):
		name, err := attrName(segs[3])
		if err != nil {
			return Path{}, &ParseError{Topic: topic, Reason: err.Error()}
		}
		if name == AttrValue {
			return Path{}, &ParseError{Topic: topic, Reason: "reserved property attribute $value"}
		}
		p.Attribute = name
	default:
		return Path{}, &ParseError{Topic: topic, Reason: "unknown property sub-topic " + segs[3]}
	}
	return p, nil
}

// ValidateID checks a Homie id: non-empty, [a-z0-9-], not starting with '-'.
func ValidateID(id string) error {
	if id == "" {
		return errors.New("empty id")
	}
	if id[0] == '-' {
		return errors.New("id may not begin with '-'")
	}
	for i := 0; i < len(id); i++ {
		b := id[i]
		if (b < 'a' || b > 'z') && (b < '0' || b > '9') && b != '-' {
			return fmt.Errorf("invalid character %q in %q", b, id)
		}
	}
	return nil
}

func isAttr(seg string) bool {
	return strings.HasPrefix(seg, "$")
}

func attrName(seg string) (string, error) {
	name := strings.TrimPrefix(seg, "$")
	if err := ValidateID(name); err != nil {
		return "", fmt.Errorf("attribute %s: %w", seg, err)
	}
	return name, nil
}
