package resource

import (
	"github.com/OhmegaStar/nbe-blackstar-homeassistant/internal/infrastructure/config"
)

// Device is the identity of the physical controller every entity belongs
// to. It is immutable and shared read-only by all entities.
type Device struct {
	ID           string
	Name         string
	Model        string
	Firmware     string
	Manufacturer string
}

// DeviceFromConfig derives the controller identity from configuration.
func DeviceFromConfig(cfg *config.Config) Device {
	name := cfg.Device.Name
	if name == "" {
		name = config.DefaultDeviceName
	}
	return Device{
		ID:           cfg.DeviceID(),
		Name:         name,
		Model:        cfg.Device.Model,
		Firmware:     cfg.Device.Firmware,
		Manufacturer: cfg.Device.Manufacturer,
	}
}

// deviceModel is the "device" block of a discovery payload.
type deviceModel struct {
	Identifiers     []string `json:"identifiers"`
	Name            string   `json:"name,omitempty"`
	Model           string   `json:"model,omitempty"`
	Manufacturer    string   `json:"manufacturer,omitempty"`
	SoftwareVersion string   `json:"sw_version,omitempty"`
}

func (d Device) model() *deviceModel {
	return &deviceModel{
		Identifiers:     []string{d.ID},
		Name:            d.Name,
		Model:           d.Model,
		Manufacturer:    d.Manufacturer,
		SoftwareVersion: d.Firmware,
	}
}
