package shelly

import (
	"fmt"
	"strings"
)

const Shelly = "Shelly"

// DeviceInfo is the union of the Gen2+ `Shelly.GetDeviceInfo` result and the Gen1 `/shelly`
// document. Every field is optional; pointers tell an absent key from an empty one.
//
// <https://shelly-api-docs.shelly.cloud/gen2/ComponentsAndServices/Shelly#shellygetdeviceinfo>
// <https://shelly-api-docs.shelly.cloud/gen1/#shelly>
type DeviceInfo struct {
	Id         *string `json:"id"`
	Name       *string `json:"name"`
	MAC        *string `json:"mac"`
	Model      *string `json:"model"`
	Type       *string `json:"type"` // Gen1 model
	Generation *int    `json:"gen"`
	Version    *string `json:"ver"`
	Firmware   *string `json:"fw"` // Gen1 firmware
	FirmwareId *string `json:"fw_id"`
	App        *string `json:"app"`
}

// Identity is what a device tells about itself, keyed by its stable identity.
type Identity struct {
	Key        string `json:"identity" yaml:"identity"`
	Id         string `json:"id,omitempty" yaml:"id,omitempty"`
	Name       string `json:"name,omitempty" yaml:"name,omitempty"`
	MAC        string `json:"mac,omitempty" yaml:"mac,omitempty"`
	Model      string `json:"model,omitempty" yaml:"model,omitempty"`
	Firmware   string `json:"firmware,omitempty" yaml:"firmware,omitempty"`
	FirmwareId string `json:"firmware_id,omitempty" yaml:"firmware_id,omitempty"`
	App        string `json:"app,omitempty" yaml:"app,omitempty"`
	Generation int    `json:"generation,omitempty" yaml:"generation,omitempty"`
}

// NoIdentityError is returned when a device answered but carried neither a name, an id
// nor a MAC address.
type NoIdentityError struct {
	Address string
}

func (e *NoIdentityError) Error() string {
	return fmt.Sprintf("device at %s has no name, id or mac", e.Address)
}

func str(s *string) string {
	if s == nil {
		return ""
	}
	return strings.TrimSpace(*s)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// Identity extracts the identity: name, else id, else MAC.
func (info *DeviceInfo) Identity(address string) (Identity, error) {
	id := Identity{
		Id:         str(info.Id),
		Name:       str(info.Name),
		MAC:        strings.ToUpper(str(info.MAC)),
		Model:      firstNonEmpty(str(info.Model), str(info.Type)),
		Firmware:   firstNonEmpty(str(info.Version), str(info.Firmware)),
		FirmwareId: str(info.FirmwareId),
		App:        str(info.App),
	}
	switch {
	case info.Generation != nil:
		id.Generation = *info.Generation
	case info.Type != nil:
		id.Generation = 1
	}

	id.Key = firstNonEmpty(id.Name, id.Id, id.MAC)
	if id.Key == "" {
		return Identity{}, &NoIdentityError{Address: address}
	}
	return id, nil
}
