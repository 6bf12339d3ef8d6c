package entity

import (
	"github.com/anicoll/homie-bridge/internal/pkg/model"
)

type Sensor struct {
	*base
}

func NewSensor(n *model.Node) (*Sensor, error) {
	b, err := newBase(PlatformSensor, n, []string{model.PropValue})
	if err != nil {
		return nil, err
	}
	return &Sensor{base: b}, nil
}

func (s *Sensor) Value() string {
	return s.value(model.PropValue)
}

// Unit comes from the "$unit" attribute of the value property.
func (s *Sensor) Unit() string {
	p, ok := s.node.LookupProperty(model.PropValue)
	if !ok {
		return ""
	}
	return p.Unit()
}

func (s *Sensor) State() State {
	st := s.state()
	st.Value = s.Value()
	st.Unit = s.Unit()
	return st
}
