// Package cdcacm is a reference CDC-ACM interface handler: a serial-port
// class device with line-coding state and a loopback data endpoint, enough
// to exercise the dispatch pipeline and EP0 class-request forwarding
// end to end.
package cdcacm

import (
	"bytes"
	"encoding/binary"
	"sync"

	"github.com/kevmo314/usbipd/usbdevice"
)

// CDC class-specific request codes, ACM subclass (USB CDC 1.2, table 13).
const (
	ReqSetLineCoding = 0x20
	ReqGetLineCoding = 0x21
	ReqSetControlLineState = 0x22
)

// LineCoding mirrors the 7-byte CDC SetLineCoding/GetLineCoding payload.
type LineCoding struct {
	DTERate   uint32
	CharFormat uint8
	ParityType uint8
	DataBits   uint8
}

func defaultLineCoding() LineCoding {
	return LineCoding{DTERate: 9600, CharFormat: 0, ParityType: 0, DataBits: 8}
}

// Handler implements usbdevice.InterfaceHandler for a CDC-ACM data
// interface. Bulk OUT bytes are buffered and replayed on the following bulk
// IN polls, at most the endpoint's MaxPacketSize bytes per poll, which is enough to drive loopback-style protocol tests without a
// real serial backend.
type Handler struct {
	mu   sync.Mutex
	line LineCoding
	rx   bytes.Buffer
}

// New returns a Handler with the default 9600-8-N-1 line coding.
func New() *Handler {
	return &Handler{line: defaultLineCoding()}
}

// HandleURB is called with the interface's lock already held by the
// caller's Interface wrapper.
func (h *Handler) HandleURB(iface *usbdevice.Interface, ep usbdevice.Endpoint, setup usbdevice.SetupPacket, payload []byte) ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if setup.Type() == usbdevice.RequestTypeClass {
		return h.handleClassRequest(setup, payload)
	}

	switch ep.TransferType() {
	case usbdevice.TransferTypeBulk:
		if ep.Direction() == usbdevice.DirectionOut {
			h.rx.Write(payload)
			return nil, nil
		}
		n := h.rx.Len()
		if limit := int(ep.MaxPacketSize); n > limit {
			n = limit
		}
		out := make([]byte, n)
		_, _ = h.rx.Read(out)
		return out, nil
	default:
		return nil, nil
	}
}

func (h *Handler) handleClassRequest(setup usbdevice.SetupPacket, payload []byte) ([]byte, error) {
	switch setup.Request {
	case ReqSetLineCoding:
		if len(payload) >= 7 {
			h.line = LineCoding{
				DTERate:    binary.LittleEndian.Uint32(payload[0:4]),
				CharFormat: payload[4],
				ParityType: payload[5],
				DataBits:   payload[6],
			}
		}
		return nil, nil
	case ReqGetLineCoding:
		buf := make([]byte, 7)
		binary.LittleEndian.PutUint32(buf[0:4], h.line.DTERate)
		buf[4] = h.line.CharFormat
		buf[5] = h.line.ParityType
		buf[6] = h.line.DataBits
		return buf, nil
	case ReqSetControlLineState:
		return nil, nil
	default:
		return nil, nil
	}
}

// ClassSpecificDescriptor returns the CDC header, call-management,
// ACM-management, and union functional descriptors for a single-interface
// ACM device with no dedicated notification interface.
func (h *Handler) ClassSpecificDescriptor() []byte {
	const (
		csInterface  = 0x24
		cdcHeader    = 0x00
		cdcCallMgmt  = 0x01
		cdcACM       = 0x02
		cdcUnion     = 0x06
	)
	var b bytes.Buffer
	b.Write([]byte{0x05, csInterface, cdcHeader, 0x10, 0x01}) // bcdCDC 1.10
	b.Write([]byte{0x05, csInterface, cdcCallMgmt, 0x00, 0x00})
	b.Write([]byte{0x04, csInterface, cdcACM, 0x02})
	b.Write([]byte{0x05, csInterface, cdcUnion, 0x00, 0x00})
	return b.Bytes()
}
