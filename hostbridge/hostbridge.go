// Package hostbridge adapts usbdevice's handler contract onto a pluggable
// host USB transport, so a real device's interfaces can be claimed and
// forwarded to a USB/IP client without this module depending on any
// specific user-space USB library. Implementations of HostTransport are
// expected to wrap something like libusb/gousb's control/bulk/interrupt
// transfer calls.
package hostbridge

import (
	"fmt"
	"time"

	"github.com/kevmo314/usbipd/usbdevice"
)

// transferTimeout is the fixed per-transfer deadline the bridge imposes on
// every host transfer, matching the one-second budget host-bridged devices
// get in the device-construction contract.
const transferTimeout = 1 * time.Second

// HostTransport is the seam a real USB library implementation plugs into.
// Each method blocks for at most timeout and returns the number of bytes
// actually transferred.
type HostTransport interface {
	ControlTransfer(requestType, request uint8, value, index uint16, data []byte, timeout time.Duration) (int, error)
	BulkTransfer(endpoint uint8, data []byte, timeout time.Duration) (int, error)
	InterruptTransfer(endpoint uint8, data []byte, timeout time.Duration) (int, error)
}

// InterfaceHandler bridges one claimed host interface. It implements
// usbdevice.InterfaceHandler.
type InterfaceHandler struct {
	Transport       HostTransport
	ClassDescriptor []byte
}

// HandleURB forwards to the bridged transport. EP0-addressed calls (class
// requests forwarded by the EP0 engine) use ControlTransfer; all other
// endpoints use Bulk or Interrupt transfer depending on the endpoint's
// transfer type.
func (h *InterfaceHandler) HandleURB(iface *usbdevice.Interface, ep usbdevice.Endpoint, setup usbdevice.SetupPacket, payload []byte) ([]byte, error) {
	if ep.Number() == 0 {
		return h.controlTransfer(setup, payload)
	}
	switch ep.TransferType() {
	case usbdevice.TransferTypeBulk:
		return h.dataTransfer(h.Transport.BulkTransfer, ep, payload)
	case usbdevice.TransferTypeInterrupt:
		return h.dataTransfer(h.Transport.InterruptTransfer, ep, payload)
	default:
		return nil, fmt.Errorf("hostbridge: unsupported transfer type %v on endpoint %#02x", ep.TransferType(), ep.Address)
	}
}

func (h *InterfaceHandler) controlTransfer(setup usbdevice.SetupPacket, payload []byte) ([]byte, error) {
	buf := payload
	if setup.Direction() == usbdevice.DirectionIn {
		buf = make([]byte, setup.Length)
	}
	n, err := h.Transport.ControlTransfer(setup.RequestType, setup.Request, setup.Value, setup.Index, buf, transferTimeout)
	if err != nil {
		return nil, err
	}
	if setup.Direction() == usbdevice.DirectionIn {
		return buf[:n], nil
	}
	return nil, nil
}

func (h *InterfaceHandler) dataTransfer(fn func(uint8, []byte, time.Duration) (int, error), ep usbdevice.Endpoint, payload []byte) ([]byte, error) {
	if ep.Direction() == usbdevice.DirectionOut {
		_, err := fn(ep.Address, payload, transferTimeout)
		return nil, err
	}
	buf := make([]byte, ep.MaxPacketSize)
	n, err := fn(ep.Address, buf, transferTimeout)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

// ClassSpecificDescriptor returns the class descriptor bytes read from the
// bridged host interface at construction time.
func (h *InterfaceHandler) ClassSpecificDescriptor() []byte {
	return h.ClassDescriptor
}

// DeviceHandler bridges vendor-specific EP0 requests to the host transport.
// It implements usbdevice.DeviceHandler.
type DeviceHandler struct {
	Transport HostTransport
}

// HandleURB forwards a vendor control request to the host device handle.
func (h *DeviceHandler) HandleURB(setup usbdevice.SetupPacket, payload []byte) ([]byte, error) {
	buf := payload
	if setup.Direction() == usbdevice.DirectionIn {
		buf = make([]byte, setup.Length)
	}
	n, err := h.Transport.ControlTransfer(setup.RequestType, setup.Request, setup.Value, setup.Index, buf, transferTimeout)
	if err != nil {
		return nil, err
	}
	if setup.Direction() == usbdevice.DirectionIn {
		return buf[:n], nil
	}
	return nil, nil
}
