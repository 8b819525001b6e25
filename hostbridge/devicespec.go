package hostbridge

import "github.com/kevmo314/usbipd/usbdevice"

// HostInterfaceSpec describes one interface to bridge from a host device:
// its descriptor fields, its endpoints, and the class-specific descriptor
// bytes already read from the device. Enumerating these from a real host
// USB stack is left to the caller; HostDeviceSpec only carries the result.
type HostInterfaceSpec struct {
	Number      uint8
	Class       uint8
	SubClass    uint8
	Protocol    uint8
	StringIndex uint8
	Endpoints   []usbdevice.Endpoint

	// ClassDescriptor is the interface's class-specific descriptor blob
	// (e.g. an HID or CDC functional descriptor), or nil if it has none.
	ClassDescriptor []byte
}

// HostDeviceSpec is the caller-supplied description of one host device to
// bridge, per the device-construction contract's "bridged through
// hostbridge" input mode. The caller opens Transport and reads the
// device's standard descriptors ahead of time; BuildDevice only wires the
// result into the emulated device model so it can be exported over USB/IP.
type HostDeviceSpec struct {
	BusID string
	Path  string

	BusNum uint32
	DevNum uint32
	Speed  uint32

	VendorID       uint16
	ProductID      uint16
	DeviceClass    uint8
	DeviceSubClass uint8
	DeviceProtocol uint8
	DeviceBCD      uint16
	USBBCD         uint16

	EP0MaxPacketSize  uint16
	NumConfigurations uint8

	Transport  HostTransport
	Interfaces []HostInterfaceSpec
}

// BuildDevice constructs a usbdevice.Device from spec, wiring every
// interface's handler and the device's vendor-request handler to spec's
// HostTransport so URBs dispatched to it are forwarded to the real device.
func BuildDevice(spec HostDeviceSpec) *usbdevice.Device {
	dev := usbdevice.NewDevice(
		spec.BusID, spec.Path, spec.BusNum, spec.DevNum, spec.Speed,
		spec.VendorID, spec.ProductID,
		spec.DeviceClass, spec.DeviceSubClass, spec.DeviceProtocol,
		spec.DeviceBCD, spec.USBBCD,
		spec.EP0MaxPacketSize, spec.NumConfigurations,
	)
	dev.DeviceHandler = &DeviceHandler{Transport: spec.Transport}
	for _, is := range spec.Interfaces {
		handler := &InterfaceHandler{Transport: spec.Transport, ClassDescriptor: is.ClassDescriptor}
		dev.AddInterface(usbdevice.NewInterface(is.Number, is.Class, is.SubClass, is.Protocol, is.StringIndex, is.Endpoints, handler))
	}
	return dev
}
