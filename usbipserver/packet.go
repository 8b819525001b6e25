package usbipserver

import "github.com/kevmo314/usbipd/usbip"

// packet is the internal decoded work item the reader pushes and the
// writer consumes: spec's UsbIpPacket.
type packet struct {
	kind usbip.Command

	// seqnum is populated for CommandSubmit and CommandUnlink.
	seqnum uint32

	// busID is populated for CommandReqImport.
	busID string

	// submit and payload are populated for CommandSubmit.
	submit  *usbip.SubmitHeader
	payload []byte

	// unlink is populated for CommandUnlink.
	unlink *usbip.UnlinkHeader
}
