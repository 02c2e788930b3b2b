// Package devices defines the device identity surface consumed by the
// orchestration layer: a closed enumeration of device classes, the
// Device{Type, Ordinal} identifier, and the ownership-bearing DeviceList
// used by replication and barrier operations.
package devices

import (
	"fmt"
	"slices"
	"strings"

	"github.com/gomlx/exceptions"
)

// Type enumerates the closed set of device classes known to the process.
type Type int

const (
	// CPU is the host processor, always available.
	CPU Type = iota

	// GPU is a locally attached accelerator.
	GPU

	// TPU is a locally attached tensor processing unit.
	TPU

	// RemoteTPU is a TPU reached through a remote runtime.
	RemoteTPU
)

// String implements fmt.Stringer.
func (t Type) String() string {
	switch t {
	case CPU:
		return "CPU"
	case GPU:
		return "GPU"
	case TPU:
		return "TPU"
	case RemoteTPU:
		return "REMOTE_TPU"
	}
	return fmt.Sprintf("Type(%d)", int(t))
}

// Device identifies one device: a class and an ordinal within that class.
// Devices are comparable and can be used as map keys.
type Device struct {
	Type    Type
	Ordinal int
}

// New returns the Device with the given class and ordinal.
func New(t Type, ordinal int) Device {
	return Device{Type: t, Ordinal: ordinal}
}

// Default returns the default device: CPU ordinal 0.
func Default() Device {
	return Device{Type: CPU}
}

// String implements fmt.Stringer, e.g. "CPU:0".
func (d Device) String() string {
	return fmt.Sprintf("%s:%d", d.Type, d.Ordinal)
}

// List is an ordered set of devices used for replication and barrier
// operations.
//
// Ownership is exclusive to the caller that constructed it and must be
// explicitly released with Release when no longer needed. Using a released
// List panics.
type List struct {
	devices  []Device
	released bool
}

// NewList creates a List with the given devices, in order. Duplicate devices
// are a hard precondition failure.
func NewList(devs ...Device) *List {
	for ii, dev := range devs {
		if slices.Index(devs[:ii], dev) >= 0 {
			exceptions.Panicf("devices.NewList: device %s appears more than once", dev)
		}
	}
	return &List{devices: slices.Clone(devs)}
}

// Len returns the number of devices in the list.
func (l *List) Len() int {
	l.assertValid()
	return len(l.devices)
}

// Devices returns the devices, in order. The returned slice is owned by the
// List and must not be modified.
func (l *List) Devices() []Device {
	l.assertValid()
	return l.devices
}

// At returns the idx-th device of the list.
func (l *List) At(idx int) Device {
	l.assertValid()
	return l.devices[idx]
}

// Has returns whether the list contains the given device.
func (l *List) Has(dev Device) bool {
	l.assertValid()
	return slices.Index(l.devices, dev) >= 0
}

// Clone returns a new List owned by the caller with the same devices.
func (l *List) Clone() *List {
	l.assertValid()
	return &List{devices: slices.Clone(l.devices)}
}

// Release frees the list. The owner must call it exactly once; any use after
// that panics.
func (l *List) Release() {
	l.assertValid()
	l.devices = nil
	l.released = true
}

// String implements fmt.Stringer.
func (l *List) String() string {
	if l == nil {
		return "DeviceList(nil)"
	}
	if l.released {
		return "DeviceList(released)"
	}
	parts := make([]string, 0, len(l.devices))
	for _, dev := range l.devices {
		parts = append(parts, dev.String())
	}
	return fmt.Sprintf("DeviceList[%s]", strings.Join(parts, ", "))
}

func (l *List) assertValid() {
	if l == nil {
		exceptions.Panicf("devices.List is nil")
	}
	if l.released {
		exceptions.Panicf("devices.List used after Release")
	}
}
