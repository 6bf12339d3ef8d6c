package entity

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/anicoll/homie-bridge/internal/pkg/model"
)

type Light struct {
	*base
	rgb bool
}

// NewLight binds a dimmable light. Nodes of type "light-rgb" must also expose "rgb".
func NewLight(n *model.Node) (*Light, error) {
	required := []string{model.PropOn, model.PropBrightness}
	rgb := n.Type() == model.TypeLightRGB || n.HasProperty(model.PropRGB)
	if rgb {
		required = append(required, model.PropRGB)
	}
	b, err := newBase(PlatformLight, n, required)
	if err != nil {
		return nil, err
	}
	return &Light{base: b, rgb: rgb}, nil
}

func (l *Light) IsOn() bool {
	return model.ParseBool(l.value(model.PropOn))
}

// Brightness returns 0 until the device reports a parsable value.
func (l *Light) Brightness() int {
	v, err := strconv.Atoi(strings.TrimSpace(l.value(model.PropBrightness)))
	if err != nil {
		return 0
	}
	return v
}

// RGB returns the "r,g,b" colour, empty for lights without colour support.
func (l *Light) RGB() string {
	if !l.rgb {
		return ""
	}
	return l.value(model.PropRGB)
}

func (l *Light) TurnOn(opts TurnOnOptions) error {
	if opts.Brightness != nil {
		if err := l.checkBrightness(*opts.Brightness); err != nil {
			return err
		}
	}
	if opts.RGB != "" {
		if !l.rgb {
			return fmt.Errorf("%w: %s has no colour", ErrUnsupported, l.id)
		}
		if _, err := ParseRGB(opts.RGB); err != nil {
			return err
		}
	}

	if opts.Brightness != nil {
		if err := l.set(model.PropBrightness, strconv.Itoa(*opts.Brightness)); err != nil {
			return err
		}
	}
	if opts.RGB != "" {
		if err := l.set(model.PropRGB, opts.RGB); err != nil {
			return err
		}
	}
	return l.set(model.PropOn, model.FormatBool(true))
}

func (l *Light) TurnOff() error {
	return l.set(model.PropOn, model.FormatBool(false))
}

func (l *Light) checkBrightness(v int) error {
	low, high := 0, 255
	if p, ok := l.node.LookupProperty(model.PropBrightness); ok {
		if from, to, ok := parseRange(p.Format()); ok {
			low, high = from, to
		}
	}
	if v < low || v > high {
		return fmt.Errorf("%w: brightness %d outside %d:%d", ErrInvalidValue, v, low, high)
	}
	return nil
}

func (l *Light) State() State {
	st := l.state()
	on := l.IsOn()
	brightness := l.Brightness()
	st.On = &on
	st.Brightness = &brightness
	st.RGB = l.RGB()
	return st
}

// ParseRGB parses an "r,g,b" triple with components in 0..255.
func ParseRGB(s string) ([3]int, error) {
	var rgb [3]int
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return rgb, fmt.Errorf("%w: rgb %q", ErrInvalidValue, s)
	}
	for i, part := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || v < 0 || v > 255 {
			return rgb, fmt.Errorf("%w: rgb %q", ErrInvalidValue, s)
		}
		rgb[i] = v
	}
	return rgb, nil
}
