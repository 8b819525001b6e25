//go:build linux

package linuxusb

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOpenMissingDevice(t *testing.T) {
	_, err := Open("/dev/bus/usb/999/999")
	require.Error(t, err)
}

func TestControlTransferRequiresRoot(t *testing.T) {
	if os.Getuid() != 0 {
		t.Skip("requires root and a real usbfs device node")
	}
}
