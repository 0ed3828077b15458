package nitrokeyapi

import (
	"fmt"
	"strings"
)

// Environment variables exported to helper processes, so that a helper
// can resolve the same device the caller operated on without repeating
// the device selection.
const (
	EnvUsbPath      = "NITROKEY_USB_PATH"
	EnvModel        = "NITROKEY_MODEL"
	EnvSerialNumber = "NITROKEY_SERIAL_NUMBER"
	EnvVerbosity    = "NITROKEY_VERBOSITY"
	EnvNoCache      = "NITROKEY_NO_CACHE"
)

// ExtensionEnv returns KEY=VALUE pairs describing the connected device,
// suitable for appending to a helper process environment.
func (d *Device) ExtensionEnv(verbosity int, noCache bool) []string {
	env := []string{
		fmt.Sprintf("%s=%s", EnvUsbPath, d.Path()),
		fmt.Sprintf("%s=%s", EnvModel, strings.ToLower(d.Model().String())),
		fmt.Sprintf("%s=%s", EnvSerialNumber, d.SerialNumber()),
		fmt.Sprintf("%s=%d", EnvVerbosity, verbosity),
	}
	if noCache {
		env = append(env, EnvNoCache+"=1")
	}
	return env
}
