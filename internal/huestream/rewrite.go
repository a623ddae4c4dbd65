// SPDX-License-Identifier: MIT

package huestream

import "bytes"

// RewriteUUID returns a copy of frame with the v2 header UUID replaced by
// target. Frames that are not v2, are shorter than the v2 header, or already
// carry the target UUID are returned unchanged (still as a copy, because the
// source buffer is shared with the mirror path).
func RewriteUUID(frame []byte, target string) []byte {
	out := append([]byte(nil), frame...)
	if len(out) < HeaderV2Len || out[9] != 2 || !bytes.HasPrefix(out, Magic) {
		return out
	}
	if string(out[UUIDStart:UUIDEnd]) == target {
		return out
	}
	id := make([]byte, UUIDEnd-UUIDStart)
	copy(id, target)
	copy(out[UUIDStart:UUIDEnd], id)
	return out
}

// RemapChannels rebuilds a v2 frame keeping only the records whose channel
// index appears in mapping, rewriting each kept index to its mapped value.
// Record order follows the order of kept source records. The original
// 52-byte header is preserved as-is; frames that are not v2 are returned
// unchanged as a copy.
func RemapChannels(frame []byte, mapping map[uint8]uint8) []byte {
	if len(frame) < HeaderV2Len || frame[9] != 2 || !bytes.HasPrefix(frame, Magic) {
		return append([]byte(nil), frame...)
	}

	body := frame[HeaderV2Len:]
	out := make([]byte, 0, len(frame))
	out = append(out, frame[:HeaderV2Len]...)

	for off := 0; off+RecordV2Len <= len(body); off += RecordV2Len {
		mapped, keep := mapping[body[off]]
		if !keep {
			continue
		}
		out = append(out, mapped)
		out = append(out, body[off+1:off+RecordV2Len]...)
	}
	return out
}
