// File: internal/identity/device/device.go
// Description: Generates the random device-identity fields attached to a
// profile payload. Both fields are currently sent with mode "off" - the
// provider accepts them but does not apply them - so they exist as
// available-but-inert identity material.
package device

import (
	"crypto/rand"
	"fmt"
	mrand "math/rand"
)

// namePrefixes are realistic machine-model suffixes for generated device names.
var namePrefixes = []string{
	"MacBook-Pro",
	"MacBook-Air",
	"iMac",
	"Mac-mini",
	"Mac-Studio",
}

// firstNames seed the owner part of a generated device name.
var firstNames = []string{
	"Alex", "Anna", "Chris", "Daniel", "David", "Emma", "James", "Julia",
	"Kevin", "Laura", "Marc", "Maria", "Max", "Nina", "Oliver", "Paul",
	"Sarah", "Simon", "Sophie", "Tom",
}

// RandomMAC returns a random locally-administered unicast MAC address. The
// first octet has the locally-administered bit set and the multicast bit
// cleared, so the address can never collide with a vendor-assigned one.
func RandomMAC() (string, error) {
	buf := make([]byte, 6)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("device: generate mac: %w", err)
	}
	buf[0] = (buf[0] | 0x02) &^ 0x01
	return fmt.Sprintf("%02X:%02X:%02X:%02X:%02X:%02X",
		buf[0], buf[1], buf[2], buf[3], buf[4], buf[5]), nil
}

// RandomDeviceName returns a plausible personal-machine hostname, e.g.
// "Sarahs-MacBook-Pro".
func RandomDeviceName() string {
	name := firstNames[mrand.Intn(len(firstNames))]
	prefix := namePrefixes[mrand.Intn(len(namePrefixes))]
	return fmt.Sprintf("%ss-%s", name, prefix)
}
