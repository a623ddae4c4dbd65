// SPDX-License-Identifier: MIT

package huestream

import "encoding/binary"

// BuildV1 encodes a v1 HueStream datagram.
func BuildV1(seq uint8, space ColorSpace, records []Record) []byte {
	buf := make([]byte, 0, HeaderV1Len+len(records)*RecordV1Len)
	buf = append(buf, Magic...)
	buf = append(buf, 0x01, 0x00) // version 1.0
	buf = append(buf, seq)
	buf = append(buf, 0x00, 0x00) // reserved
	buf = append(buf, byte(space))
	buf = append(buf, 0x00) // reserved

	for _, r := range records {
		buf = append(buf, r.DeviceType)
		buf = binary.BigEndian.AppendUint16(buf, r.LightID)
		buf = binary.BigEndian.AppendUint16(buf, r.C1)
		buf = binary.BigEndian.AppendUint16(buf, r.C2)
		buf = binary.BigEndian.AppendUint16(buf, r.C3)
	}
	return buf
}

// BuildV2 encodes a v2 HueStream datagram for the given entertainment
// configuration UUID (36 ASCII chars).
func BuildV2(uuid string, seq uint8, space ColorSpace, records []Record) []byte {
	buf := make([]byte, 0, HeaderV2Len+len(records)*RecordV2Len)
	buf = append(buf, Magic...)
	buf = append(buf, 0x02, 0x00) // version 2.0
	buf = append(buf, seq)
	buf = append(buf, 0x00, 0x00) // reserved
	buf = append(buf, byte(space))
	buf = append(buf, 0x00) // reserved

	id := make([]byte, 36)
	copy(id, uuid)
	buf = append(buf, id...)

	for _, r := range records {
		buf = append(buf, r.Channel)
		buf = binary.BigEndian.AppendUint16(buf, r.C1)
		buf = binary.BigEndian.AppendUint16(buf, r.C2)
		buf = binary.BigEndian.AppendUint16(buf, r.C3)
	}
	return buf
}
