package entity

import (
	"github.com/anicoll/homie-bridge/internal/pkg/model"
)

type Switch struct {
	*base
}

// NewSwitch binds a switch to a node exposing an "on" property.
func NewSwitch(n *model.Node) (*Switch, error) {
	b, err := newBase(PlatformSwitch, n, []string{model.PropOn})
	if err != nil {
		return nil, err
	}
	return &Switch{base: b}, nil
}

func (s *Switch) IsOn() bool {
	return model.ParseBool(s.value(model.PropOn))
}

func (s *Switch) TurnOn(opts TurnOnOptions) error {
	if opts.Brightness != nil || opts.RGB != "" {
		return ErrUnsupported
	}
	return s.set(model.PropOn, model.FormatBool(true))
}

func (s *Switch) TurnOff() error {
	return s.set(model.PropOn, model.FormatBool(false))
}

func (s *Switch) State() State {
	st := s.state()
	on := s.IsOn()
	st.On = &on
	return st
}
