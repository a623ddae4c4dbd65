// SPDX-License-Identifier: MIT

// Package lifx builds native LIFX LAN protocol packets. Only the three
// messages the streaming path needs are implemented: SetColor for plain
// bulbs, SetExtendedColorZones for multizone strips and SetTileState64 for
// matrix devices. Discovery and acknowledgements are out of scope; packets
// are fire-and-forget with res_required and ack_required cleared.
package lifx

import (
	"encoding/binary"
	"fmt"

	"github.com/hue2lan/hue2lan/internal/color"
)

// Port is the fixed LIFX LAN UDP port.
const Port = 56700

// Message types used by the streaming path.
const (
	typeSetColor              = 102
	typeSetExtendedColorZones = 510
	typeSetTileState64        = 715
)

const headerLen = 36

// DeviceClass selects the zone dispatch shape.
type DeviceClass int

const (
	ClassSingle DeviceClass = iota
	ClassMultiZone
	ClassMatrix
)

// ParseClass maps a device config string to a class.
func ParseClass(s string) DeviceClass {
	switch s {
	case "multizone", "strip", "beam":
		return ClassMultiZone
	case "matrix", "tile", "candle":
		return ClassMatrix
	default:
		return ClassSingle
	}
}

// header writes the 36-byte LIFX LAN header. target is the 6-byte device
// MAC; zero target broadcasts.
func header(size int, msgType uint16, target [6]byte, seq uint8) []byte {
	buf := make([]byte, headerLen, size)

	// frame
	binary.LittleEndian.PutUint16(buf[0:2], uint16(size))
	// protocol 1024, addressable
	binary.LittleEndian.PutUint16(buf[2:4], 1024|1<<12)
	binary.LittleEndian.PutUint32(buf[4:8], 0x68756532) // stable source id

	// frame address
	copy(buf[8:14], target[:])
	buf[22] = 0x00 // no ack, no response
	buf[23] = seq

	// protocol header
	binary.LittleEndian.PutUint16(buf[32:34], msgType)

	return buf
}

func appendHSBK(buf []byte, c color.HSBK) []byte {
	buf = binary.LittleEndian.AppendUint16(buf, c.Hue)
	buf = binary.LittleEndian.AppendUint16(buf, c.Saturation)
	buf = binary.LittleEndian.AppendUint16(buf, c.Brightness)
	buf = binary.LittleEndian.AppendUint16(buf, color.ClampKelvin(c.Kelvin))
	return buf
}

// SetColor builds a single-color packet for plain bulbs.
func SetColor(target [6]byte, seq uint8, c color.HSBK, duration uint32) []byte {
	const size = headerLen + 13
	buf := header(size, typeSetColor, target, seq)
	buf = append(buf, 0x00) // reserved
	buf = appendHSBK(buf, c)
	buf = binary.LittleEndian.AppendUint32(buf, duration)
	return buf
}

// maxExtendedZones is the per-packet zone limit of SetExtendedColorZones.
const maxExtendedZones = 82

// SetExtendedColorZones builds a multizone packet applying the given zone
// colors starting at zone 0.
func SetExtendedColorZones(target [6]byte, seq uint8, zones []color.HSBK, duration uint32) ([]byte, error) {
	if len(zones) == 0 || len(zones) > maxExtendedZones {
		return nil, fmt.Errorf("lifx: zone count %d outside 1..%d", len(zones), maxExtendedZones)
	}

	size := headerLen + 4 + 1 + 2 + 1 + maxExtendedZones*8
	buf := header(size, typeSetExtendedColorZones, target, seq)
	buf = binary.LittleEndian.AppendUint32(buf, duration)
	buf = append(buf, 0x01)                         // apply immediately
	buf = binary.LittleEndian.AppendUint16(buf, 0)  // zone_index
	buf = append(buf, uint8(len(zones)))            // colors_count
	for _, z := range zones {
		buf = appendHSBK(buf, z)
	}
	// pad the fixed-size color array
	for i := len(zones); i < maxExtendedZones; i++ {
		buf = append(buf, 0, 0, 0, 0, 0, 0, 0, 0)
	}
	return buf, nil
}

// tileColors is the fixed pixel count of SetTileState64.
const tileColors = 64

// SetTileState64 builds a matrix packet painting an 8x8 region of the first
// tile. Fewer than 64 colors paint the leading pixels; the rest stay black.
func SetTileState64(target [6]byte, seq uint8, colors []color.HSBK, duration uint32) ([]byte, error) {
	if len(colors) == 0 || len(colors) > tileColors {
		return nil, fmt.Errorf("lifx: color count %d outside 1..%d", len(colors), tileColors)
	}

	size := headerLen + 10 + tileColors*8
	buf := header(size, typeSetTileState64, target, seq)
	buf = append(buf, 0x00) // tile_index
	buf = append(buf, 0x01) // length: one tile
	buf = append(buf, 0x00) // reserved
	buf = append(buf, 0x00) // x
	buf = append(buf, 0x00) // y
	buf = append(buf, 0x08) // width
	buf = binary.LittleEndian.AppendUint32(buf, duration)
	for _, c := range colors {
		buf = appendHSBK(buf, c)
	}
	for i := len(colors); i < tileColors; i++ {
		buf = append(buf, 0, 0, 0, 0, 0, 0, 0, 0)
	}
	return buf, nil
}

// ParseTarget decodes a "aa:bb:cc:dd:ee:ff" MAC into the 6-byte target.
func ParseTarget(mac string) ([6]byte, error) {
	var t [6]byte
	if mac == "" {
		return t, nil // broadcast target
	}
	n, err := fmt.Sscanf(mac, "%02x:%02x:%02x:%02x:%02x:%02x",
		&t[0], &t[1], &t[2], &t[3], &t[4], &t[5])
	if err != nil || n != 6 {
		return t, fmt.Errorf("lifx: bad mac %q", mac)
	}
	return t, nil
}
