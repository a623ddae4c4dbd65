// SPDX-License-Identifier: MIT

// Package huestream decodes and builds HueStream datagrams: the binary
// streaming protocol Hue entertainment sources speak over DTLS. Two wire
// versions exist; v1 addresses lights by numeric id, v2 by channel index
// under a 36-byte entertainment configuration UUID.
package huestream

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/hue2lan/hue2lan/internal/color"
)

// Magic prefixes every HueStream frame.
var Magic = []byte("HueStream")

// ColorSpace selects the record interpretation (byte 14 of the header).
type ColorSpace uint8

const (
	ColorSpaceRGB ColorSpace = 0x00
	ColorSpaceXY  ColorSpace = 0x01
)

// Wire geometry.
const (
	HeaderV1Len = 16
	HeaderV2Len = 52
	RecordV1Len = 9
	RecordV2Len = 7
	UUIDStart   = 16
	UUIDEnd     = 52

	// DeviceTypeLight addresses a whole light, DeviceTypeGradient one
	// gradient segment (v1 only).
	DeviceTypeLight    = 0x00
	DeviceTypeGradient = 0x01
)

var (
	ErrBadMagic    = errors.New("huestream: frame does not start with HueStream magic")
	ErrTruncated   = errors.New("huestream: truncated frame")
	ErrBadVersion  = errors.New("huestream: unsupported protocol version")
	errShortRecord = errors.New("huestream: truncated record block")
)

// Record is one decoded color record. For v1 frames DeviceType and LightID
// are set; for v2 frames Channel is set. The three color fields carry RGB or
// xy+bri depending on the frame's color space.
type Record struct {
	DeviceType uint8
	LightID    uint16
	Channel    uint8

	C1, C2, C3 uint16
}

// RGB interprets the color fields as big-endian 16-bit RGB, taking the high
// bytes.
func (r Record) RGB() color.RGB {
	return color.RGB{
		R: uint8(r.C1 >> 8),
		G: uint8(r.C2 >> 8),
		B: uint8(r.C3 >> 8),
	}
}

// XYBri interprets the color fields as xy (normalized by 65535) plus
// brightness in the third field's high byte.
func (r Record) XYBri() (x, y float64, bri uint8) {
	x = float64(r.C1) / 65535.0
	y = float64(r.C2) / 65535.0
	bri = uint8(r.C3 >> 8)
	if bri > 254 {
		bri = 254
	}
	return x, y, bri
}

// Off reports whether this record switches the light off: all-zero color
// fields.
func (r Record) Off() bool {
	return r.C1 == 0 && r.C2 == 0 && r.C3 == 0
}

// Brightness derives a brightness from the RGB interpretation: the channel
// average. Used when an RGB record carries color but the client sent no
// explicit brightness.
func (r Record) Brightness() uint8 {
	c := r.RGB()
	return uint8((uint16(c.R) + uint16(c.G) + uint16(c.B)) / 3)
}

// Frame is one decoded HueStream datagram.
type Frame struct {
	Version    uint8
	Sequence   uint8
	ColorSpace ColorSpace
	UUID       string // v2 only, 36 ASCII chars
	Records    []Record
}

// Parse decodes a full HueStream datagram.
func Parse(buf []byte) (Frame, error) {
	if len(buf) < HeaderV1Len {
		return Frame{}, ErrTruncated
	}
	if !bytes.HasPrefix(buf, Magic) {
		return Frame{}, ErrBadMagic
	}

	f := Frame{
		Version:    buf[9],
		Sequence:   buf[11],
		ColorSpace: ColorSpace(buf[14]),
	}

	switch f.Version {
	case 1:
		return parseV1(f, buf[HeaderV1Len:])
	case 2:
		if len(buf) < HeaderV2Len {
			return Frame{}, ErrTruncated
		}
		f.UUID = string(buf[UUIDStart:UUIDEnd])
		return parseV2(f, buf[HeaderV2Len:])
	default:
		return Frame{}, fmt.Errorf("%w: %d", ErrBadVersion, f.Version)
	}
}

func parseV1(f Frame, body []byte) (Frame, error) {
	if len(body)%RecordV1Len != 0 {
		return Frame{}, errShortRecord
	}
	f.Records = make([]Record, 0, len(body)/RecordV1Len)
	for off := 0; off < len(body); off += RecordV1Len {
		rec := body[off : off+RecordV1Len]
		f.Records = append(f.Records, Record{
			DeviceType: rec[0],
			LightID:    binary.BigEndian.Uint16(rec[1:3]),
			C1:         binary.BigEndian.Uint16(rec[3:5]),
			C2:         binary.BigEndian.Uint16(rec[5:7]),
			C3:         binary.BigEndian.Uint16(rec[7:9]),
		})
	}
	return f, nil
}

func parseV2(f Frame, body []byte) (Frame, error) {
	if len(body)%RecordV2Len != 0 {
		return Frame{}, errShortRecord
	}
	f.Records = make([]Record, 0, len(body)/RecordV2Len)
	for off := 0; off < len(body); off += RecordV2Len {
		rec := body[off : off+RecordV2Len]
		f.Records = append(f.Records, Record{
			Channel: rec[0],
			C1:      binary.BigEndian.Uint16(rec[1:3]),
			C2:      binary.BigEndian.Uint16(rec[3:5]),
			C3:      binary.BigEndian.Uint16(rec[5:7]),
		})
	}
	return f, nil
}
