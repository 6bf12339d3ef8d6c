package model

import "time"

// Home Assistant MQTT discovery payloads.

type RegisterDevice struct {
	Name         string   `json:"name"`
	Identifiers  []string `json:"identifiers"`
	Model        string   `json:"model,omitempty"`
	Manufacturer string   `json:"manufacturer"`
}

type RegisterMessage struct {
	Tilda                  string         `json:"~"`
	Name                   string         `json:"name"`
	ID                     string         `json:"unique_id"`
	StateTopic             string         `json:"state_topic"`
	CommandTopic           string         `json:"command_topic,omitempty"`
	AvailabilityTopic      string         `json:"availability_topic,omitempty"`
	PayloadOn              string         `json:"payload_on,omitempty"`
	PayloadOff             string         `json:"payload_off,omitempty"`
	PayloadAvailable       string         `json:"payload_available,omitempty"`
	PayloadNotAvailable    string         `json:"payload_not_available,omitempty"`
	BrightnessStateTopic   string         `json:"brightness_state_topic,omitempty"`
	BrightnessCommandTopic string         `json:"brightness_command_topic,omitempty"`
	BrightnessScale        int            `json:"brightness_scale,omitempty"`
	RGBStateTopic          string         `json:"rgb_state_topic,omitempty"`
	RGBCommandTopic        string         `json:"rgb_command_topic,omitempty"`
	Unit                   string         `json:"unit_of_measurement,omitempty"`
	Device                 RegisterDevice `json:"device"`
}

// EntityInfo is what sinks receive when an entity is bound to a node.
type EntityInfo struct {
	ID       string
	Platform string
	NodeID   string // "<device>/<node>"
	Name     string
	// DeviceID and DeviceName describe the Homie device owning the node.
	DeviceID   string
	DeviceName string
	// Properties maps a property id to its value topic.
	Properties map[string]string
	// CommandTopics maps settable property ids to their "/set" topic.
	CommandTopics map[string]string
	// Formats maps property ids to their "$format", when announced.
	Formats           map[string]string
	AvailabilityTopic string
	Unit              string
}

// Sample is one observed property value.
type Sample struct {
	EntityID   string
	NodeID     string
	PropertyID string
	Value      string
	Unit       string
	Timestamp  time.Time
}
