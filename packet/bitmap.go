package packet

import "sort"

// NSEC/NSEC3 type bitmaps (RFC 4034 4.1.2): the type space is split
// into 256-type windows; each present window is encoded as
// window-number, octet-count, octets. Empty windows are omitted and
// trailing zero octets within a window are trimmed, so a
// decode-then-encode cycle is byte-identical.

// EncodeTypeBitMap builds the wire bitmap for a set of record types.
func EncodeTypeBitMap(types []QueryType) []byte {
	windows := make(map[uint8][32]byte)
	for _, t := range types {
		w := uint8(uint16(t) >> 8)
		lo := uint8(uint16(t) & 0xFF)
		octets := windows[w]
		octets[lo/8] |= 0x80 >> (lo % 8)
		windows[w] = octets
	}

	order := make([]int, 0, len(windows))
	for w := range windows {
		order = append(order, int(w))
	}
	sort.Ints(order)

	var out []byte
	for _, w := range order {
		octets := windows[uint8(w)]
		length := 0
		for i := 31; i >= 0; i-- {
			if octets[i] != 0 {
				length = i + 1
				break
			}
		}
		if length == 0 {
			continue
		}
		out = append(out, uint8(w), uint8(length))
		out = append(out, octets[:length]...)
	}
	return out
}

// DecodeTypeBitMap expands a wire bitmap into the types it covers.
func DecodeTypeBitMap(bitmap []byte) []QueryType {
	var types []QueryType
	pos := 0
	for pos+2 <= len(bitmap) {
		window := uint16(bitmap[pos])
		length := int(bitmap[pos+1])
		pos += 2
		if length == 0 || length > 32 || pos+length > len(bitmap) {
			break
		}
		for i := 0; i < length; i++ {
			octet := bitmap[pos+i]
			for bit := 0; bit < 8; bit++ {
				if octet&(0x80>>bit) != 0 {
					types = append(types, QueryType(window<<8|uint16(i*8+bit)))
				}
			}
		}
		pos += length
	}
	return types
}

// BitMapContains reports whether a wire bitmap covers the given type.
func BitMapContains(bitmap []byte, t QueryType) bool {
	want := uint8(uint16(t) >> 8)
	lo := uint8(uint16(t) & 0xFF)
	pos := 0
	for pos+2 <= len(bitmap) {
		window := bitmap[pos]
		length := int(bitmap[pos+1])
		pos += 2
		if length == 0 || length > 32 || pos+length > len(bitmap) {
			return false
		}
		if window == want {
			idx := int(lo / 8)
			if idx >= length {
				return false
			}
			return bitmap[pos+idx]&(0x80>>(lo%8)) != 0
		}
		pos += length
	}
	return false
}
