package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/anicoll/homie-bridge/internal/pkg/model"
)

const manufacturer = "Homie"

// Discovery announces bound entities to Home Assistant through its MQTT discovery
// convention. Switches and lights point Home Assistant straight at the Homie topics;
// sensors get their value republished on "~/state".
type Discovery struct {
	svc    *Service
	prefix string

	mu         sync.Mutex
	configured map[string]string
}

func NewDiscovery(svc *Service, prefix string) *Discovery {
	return &Discovery{
		svc:        svc,
		prefix:     strings.TrimSuffix(prefix, "/"),
		configured: make(map[string]string),
	}
}

func (d *Discovery) RegisterEntity(_ context.Context, info model.EntityInfo) error {
	registerMessage := d.registerMsg(info)
	payload, err := json.Marshal(registerMessage)
	if err != nil {
		return err
	}

	d.mu.Lock()
	unchanged := d.configured[info.ID] == string(payload)
	d.mu.Unlock()
	if unchanged {
		return nil
	}

	if err := d.svc.Publish(registerMessage.Tilda+"/config", payload, 1, true); err != nil {
		return err
	}
	d.mu.Lock()
	d.configured[info.ID] = string(payload)
	d.mu.Unlock()
	return nil
}

// Write republishes sensor values. Other platforms read the Homie topics directly.
func (d *Discovery) Write(_ context.Context, samples []model.Sample) error {
	for _, s := range samples {
		platform, objectID, ok := strings.Cut(s.EntityID, ".")
		if !ok || platform != "sensor" || s.PropertyID != model.PropValue {
			continue
		}
		topic := fmt.Sprintf("%s/%s/%s/state", d.prefix, platform, objectID)
		if err := d.svc.Publish(topic, []byte(s.Value), 0, false); err != nil {
			return err
		}
	}
	return nil
}

func (d *Discovery) registerMsg(info model.EntityInfo) model.RegisterMessage {
	_, objectID, _ := strings.Cut(info.ID, ".")
	msg := model.RegisterMessage{
		Tilda:               fmt.Sprintf("%s/%s/%s", d.prefix, info.Platform, objectID),
		Name:                info.Name,
		ID:                  strings.ReplaceAll(info.ID, ".", "_"),
		AvailabilityTopic:   info.AvailabilityTopic,
		PayloadAvailable:    "true",
		PayloadNotAvailable: "false",
		Unit:                info.Unit,
		Device: model.RegisterDevice{
			Name:         info.DeviceName,
			Identifiers:  []string{"homie_" + info.DeviceID},
			Manufacturer: manufacturer,
		},
	}

	switch info.Platform {
	case "sensor":
		msg.StateTopic = "~/state"
	default:
		msg.StateTopic = info.Properties[model.PropOn]
		msg.CommandTopic = info.CommandTopics[model.PropOn]
		msg.PayloadOn = model.FormatBool(true)
		msg.PayloadOff = model.FormatBool(false)
		msg.Unit = ""
	}
	if info.Platform == "light" {
		msg.BrightnessStateTopic = info.Properties[model.PropBrightness]
		msg.BrightnessCommandTopic = info.CommandTopics[model.PropBrightness]
		msg.BrightnessScale = brightnessScale(info.Formats[model.PropBrightness])
		msg.RGBStateTopic = info.Properties[model.PropRGB]
		msg.RGBCommandTopic = info.CommandTopics[model.PropRGB]
	}
	return msg
}

// brightnessScale reads the upper bound of an integer "$format" such as "0:100".
func brightnessScale(format string) int {
	_, upper, ok := strings.Cut(format, ":")
	if !ok {
		return 0
	}
	v, err := strconv.Atoi(upper)
	if err != nil || v <= 0 {
		return 0
	}
	return v
}
