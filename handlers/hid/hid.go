// Package hid is a reference HID interface handler serving a static report
// descriptor and a fixed-size interrupt IN report, enough to exercise a
// class whose class-specific descriptor references a second, separately
// fetched descriptor type (0x22).
package hid

import (
	"bytes"
	"encoding/binary"
	"sync"

	"github.com/kevmo314/usbipd/usbdevice"
)

const (
	hidDescType      = 0x21
	reportDescType   = 0x22
	reqGetReport     = 0x01
	reqSetReport     = 0x09
	reqGetProtocol   = 0x03
	reqSetProtocol   = 0x0B
)

// Handler implements usbdevice.InterfaceHandler for a simple HID device: it
// answers the standard GET_DESCRIPTOR(Report) request and replays the last
// report written to its interrupt OUT endpoint (if any) on interrupt IN
// polls, defaulting to an all-zero report.
type Handler struct {
	report []byte

	mu       sync.Mutex
	protocol uint8
	lastIn   []byte
}

// New returns a Handler serving reportDescriptor, a standard HID report
// descriptor byte sequence, for interrupt reports of reportSize bytes.
func New(reportDescriptor []byte, reportSize int) *Handler {
	return &Handler{report: reportDescriptor, lastIn: make([]byte, reportSize)}
}

// HandleURB is called with the interface's lock already held.
func (h *Handler) HandleURB(iface *usbdevice.Interface, ep usbdevice.Endpoint, setup usbdevice.SetupPacket, payload []byte) ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if setup.Type() == usbdevice.RequestTypeStandard && setup.Request == 0x06 /* GET_DESCRIPTOR */ && setup.DescriptorType() == reportDescType {
		return usbdevice.TruncateToLength(h.report, setup.Length), nil
	}
	if setup.Type() == usbdevice.RequestTypeClass {
		return h.handleClassRequest(setup, payload)
	}

	switch ep.TransferType() {
	case usbdevice.TransferTypeInterrupt:
		if ep.Direction() == usbdevice.DirectionOut {
			h.lastIn = append([]byte(nil), payload...)
			return nil, nil
		}
		out := make([]byte, len(h.lastIn))
		copy(out, h.lastIn)
		return out, nil
	default:
		return nil, nil
	}
}

func (h *Handler) handleClassRequest(setup usbdevice.SetupPacket, payload []byte) ([]byte, error) {
	switch setup.Request {
	case reqGetReport:
		out := make([]byte, len(h.lastIn))
		copy(out, h.lastIn)
		return out, nil
	case reqSetReport:
		h.lastIn = append([]byte(nil), payload...)
		return nil, nil
	case reqGetProtocol:
		return []byte{h.protocol}, nil
	case reqSetProtocol:
		h.protocol = uint8(setup.Value)
		return nil, nil
	default:
		return nil, nil
	}
}

// ClassSpecificDescriptor emits the 9-byte HID descriptor referencing a
// single report descriptor of len(h.report) bytes.
func (h *Handler) ClassSpecificDescriptor() []byte {
	var b bytes.Buffer
	b.WriteByte(9)
	b.WriteByte(hidDescType)
	_ = binary.Write(&b, binary.LittleEndian, uint16(0x0111)) // bcdHID 1.11
	b.WriteByte(0)                                            // bCountryCode
	b.WriteByte(1)                                             // bNumDescriptors
	b.WriteByte(reportDescType)
	_ = binary.Write(&b, binary.LittleEndian, uint16(len(h.report)))
	return b.Bytes()
}
