package usbdevice

import "fmt"

// HandleEP0 computes the response to a control transfer addressed to
// endpoint 0, per the standard-request table for Standard requests, and
// forwarding Class/Vendor requests to the appropriate handler.
func (d *Device) HandleEP0(setup SetupPacket, payload []byte) ([]byte, error) {
	switch setup.Type() {
	case RequestTypeStandard:
		return d.handleStandardRequest(setup)
	case RequestTypeClass:
		iface := d.InterfaceByNumber(uint8(setup.Index))
		if iface == nil {
			return nil, fmt.Errorf("usbdevice: class request for unknown interface %d", uint8(setup.Index))
		}
		ep := d.ep0Out
		if setup.Direction() == DirectionIn {
			ep = d.ep0In
		}
		return iface.HandleURB(ep, setup, payload)
	case RequestTypeVendor:
		if d.DeviceHandler != nil {
			return d.DeviceHandler.HandleURB(setup, payload)
		}
		return nil, nil
	default:
		return nil, nil
	}
}

func (d *Device) handleStandardRequest(setup SetupPacket) ([]byte, error) {
	switch setup.Request {
	case ReqGetDescriptor:
		return d.getDescriptor(setup), nil
	case ReqSetConfiguration:
		d.SetConfigurationValue(uint8(setup.Value))
		return nil, nil
	case ReqGetConfiguration:
		return []byte{d.ConfigurationValue()}, nil
	case ReqSetInterface:
		// Alternate setting accepted but ignored; only the first alternate
		// of each interface is ever claimed.
		return nil, nil
	case ReqGetStatus:
		return []byte{0, 0}, nil
	case ReqClearFeature, ReqSetFeature:
		return nil, nil
	default:
		return nil, nil
	}
}

func (d *Device) getDescriptor(setup SetupPacket) []byte {
	switch setup.DescriptorType() {
	case DescriptorTypeDevice:
		return TruncateToLength(d.DeviceDescriptor(), setup.Length)
	case DescriptorTypeConfiguration:
		return TruncateToLength(d.ConfigurationDescriptor(), setup.Length)
	case DescriptorTypeString:
		return TruncateToLength(d.StringDescriptorBytes(setup.DescriptorIndex()), setup.Length)
	case DescriptorTypeDeviceQualifier:
		return TruncateToLength(d.DeviceQualifierDescriptor(), setup.Length)
	case DescriptorTypeBOS:
		return TruncateToLength(d.BOSDescriptor(), setup.Length)
	default:
		return nil
	}
}
