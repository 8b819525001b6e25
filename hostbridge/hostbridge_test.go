package hostbridge

import (
	"testing"
	"time"

	"github.com/kevmo314/usbipd/usbdevice"
	"github.com/stretchr/testify/require"
)

type fakeTransport struct {
	bulkIn []byte
}

func (f *fakeTransport) ControlTransfer(requestType, request uint8, value, index uint16, data []byte, timeout time.Duration) (int, error) {
	copy(data, []byte{0xAA, 0xBB})
	return 2, nil
}

func (f *fakeTransport) BulkTransfer(endpoint uint8, data []byte, timeout time.Duration) (int, error) {
	if endpoint&0x80 != 0 {
		n := copy(data, f.bulkIn)
		return n, nil
	}
	f.bulkIn = append([]byte(nil), data...)
	return len(data), nil
}

func (f *fakeTransport) InterruptTransfer(endpoint uint8, data []byte, timeout time.Duration) (int, error) {
	return len(data), nil
}

func TestInterfaceHandlerBulkRoundTrip(t *testing.T) {
	h := &InterfaceHandler{Transport: &fakeTransport{}}
	ep := usbdevice.Endpoint{Address: 0x01, Attributes: uint8(usbdevice.TransferTypeBulk), MaxPacketSize: 64}
	_, err := h.HandleURB(nil, ep, usbdevice.SetupPacket{}, []byte{1, 2, 3})
	require.NoError(t, err)

	epIn := usbdevice.Endpoint{Address: 0x81, Attributes: uint8(usbdevice.TransferTypeBulk), MaxPacketSize: 64}
	resp, err := h.HandleURB(nil, epIn, usbdevice.SetupPacket{}, nil)
	require.NoError(t, err)
	require.Equal(t, []byte{1, 2, 3}, resp)
}

func TestInterfaceHandlerControlTransferOnEP0(t *testing.T) {
	h := &InterfaceHandler{Transport: &fakeTransport{}}
	ep := usbdevice.Endpoint{Address: 0x80}
	setup := usbdevice.SetupPacket{RequestType: 0xA1, Request: 0x01, Length: 2}
	resp, err := h.HandleURB(nil, ep, setup, nil)
	require.NoError(t, err)
	require.Equal(t, []byte{0xAA, 0xBB}, resp)
}
