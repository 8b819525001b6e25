// Package usbip implements the USB/IP wire protocol: the management
// commands exchanged before a device is attached (OP_REQ_DEVLIST,
// OP_REQ_IMPORT) and the data-plane URB commands exchanged after
// (USBIP_CMD_SUBMIT, USBIP_CMD_UNLINK) and their responses. All integers on
// the wire are big-endian.
package usbip

// Version is the USB/IP protocol version carried in every management
// header.
const Version uint16 = 0x0111

// Management command codes, the second half of a management header.
const (
	OpReqDevlist uint16 = 0x8005
	OpRepDevlist uint16 = 0x0005
	OpReqImport  uint16 = 0x8003
	OpRepImport  uint16 = 0x0003
)

// URB command codes, the full first 4 bytes of a data-plane packet.
const (
	CmdSubmitCode uint32 = 0x00000001
	CmdUnlinkCode uint32 = 0x00000002
	RetSubmitCode uint32 = 0x00000003
	RetUnlinkCode uint32 = 0x00000004
)

// ErrnoConnReset is the Linux errno value USBIP_RET_UNLINK reports for a
// successfully cancelled SUBMIT.
const ErrnoConnReset int32 = -104

// Command classifies a received packet by its first 4 header bytes.
type Command int

const (
	CommandUnknown Command = iota
	CommandReqDevlist
	CommandReqImport
	CommandSubmit
	CommandUnlink
)

// ClassifyHeader inspects the first 4 bytes of a USB/IP stream to determine
// which command follows. Unrecognized bytes classify as CommandUnknown; the
// caller is expected to log and strand the stream per the connection state
// machine's error policy.
func ClassifyHeader(b [4]byte) Command {
	switch {
	case b == [4]byte{0x01, 0x11, 0x80, 0x05}:
		return CommandReqDevlist
	case b == [4]byte{0x01, 0x11, 0x80, 0x03}:
		return CommandReqImport
	case b == [4]byte{0x00, 0x00, 0x00, 0x01}:
		return CommandSubmit
	case b == [4]byte{0x00, 0x00, 0x00, 0x02}:
		return CommandUnlink
	default:
		return CommandUnknown
	}
}

// MgmtHeader is the 8-byte header common to both management responses:
// protocol version, command code, and a status word.
type MgmtHeader struct {
	Version uint16
	Command uint16
	Status  uint32
}

// DeviceRecord is the fixed 0x138-byte USB/IP device record describing one
// exported device.
type DeviceRecord struct {
	Path               [256]byte
	BusID              [32]byte
	BusNum             uint32
	DevNum             uint32
	Speed              uint32
	VendorID           uint16
	ProductID          uint16
	DeviceBCD          uint16
	DeviceClass        uint8
	DeviceSubClass     uint8
	DeviceProtocol     uint8
	ConfigurationValue uint8
	NumConfigurations  uint8
	NumInterfaces      uint8
}

// InterfaceRecord is the 4-byte interface quad appended to a DeviceRecord
// for every interface on the device.
type InterfaceRecord struct {
	Class    uint8
	SubClass uint8
	Protocol uint8
	Padding  uint8
}

// SubmitHeader is a USBIP_CMD_SUBMIT header with the 4-byte command code
// already consumed by the caller via ClassifyHeader.
type SubmitHeader struct {
	Seqnum               uint32
	DevID                uint32
	Direction            uint32
	Endpoint             uint32
	TransferFlags        uint32
	TransferBufferLength uint32
	StartFrame           uint32
	NumberOfPackets      uint32
	Interval             uint32
	Setup                [8]byte
}

// UnlinkHeader is a USBIP_CMD_UNLINK header with the 4-byte command code
// already consumed by the caller via ClassifyHeader.
type UnlinkHeader struct {
	Seqnum         uint32
	DevID          uint32
	Direction      uint32
	Endpoint       uint32
	SeqNumToUnlink uint32
	Padding        [24]byte
}

// SubmitReply is a full USBIP_RET_SUBMIT packet, including its command
// code.
type SubmitReply struct {
	Command         uint32
	Seqnum          uint32
	DevID           uint32
	Direction       uint32
	Endpoint        uint32
	Status          int32
	ActualLength    uint32
	StartFrame      uint32
	NumberOfPackets uint32
	ErrorCount      uint32
	Setup           [8]byte
}

// UnlinkReply is a full USBIP_RET_UNLINK packet, including its command
// code.
type UnlinkReply struct {
	Command   uint32
	Seqnum    uint32
	DevID     uint32
	Direction uint32
	Endpoint  uint32
	Status    int32
	Padding   [24]byte
}

const (
	// DirOut and DirIn are the values of a SubmitHeader/SubmitReply
	// Direction field, 0=OUT and 1=IN.
	DirOut uint32 = 0
	DirIn  uint32 = 1
)
