package native

import (
	"bytes"
	"encoding/binary"
)

// Ogg page header types.
const (
	pageContinued = 0x01
	pageBOS       = 0x02
	pageEOS       = 0x04
)

// maxSegments is the segment-table capacity of one Ogg page.
const maxSegments = 255

// oggWriter assembles an Ogg bitstream (RFC 3533) carrying Opus packets with
// the encapsulation from RFC 7845. Packets accumulate into a pending page
// that is flushed when its segment table fills or at explicit page breaks.
type oggWriter struct {
	out    bytes.Buffer
	serial uint32
	seq    uint32

	segments []byte
	payload  bytes.Buffer
	granule  uint64
}

func newOggWriter(serial uint32) *oggWriter {
	return &oggWriter{serial: serial}
}

// writeOpusHead emits the identification header on its own beginning-of-stream
// page. sampleRate records the original input rate; playback is always 48 kHz.
func (w *oggWriter) writeOpusHead(channels int, sampleRate uint32) {
	head := make([]byte, 19)
	copy(head, "OpusHead")
	head[8] = 1 // encapsulation version
	head[9] = byte(channels)
	binary.LittleEndian.PutUint16(head[10:], 0) // pre-skip
	binary.LittleEndian.PutUint32(head[12:], sampleRate)
	binary.LittleEndian.PutUint16(head[16:], 0) // output gain
	head[18] = 0                                // mapping family: mono/stereo
	w.addPacket(head, 0)
	w.flushPage(pageBOS)
}

// writeOpusTags emits the comment header on its own page.
func (w *oggWriter) writeOpusTags(vendor string) {
	var tags bytes.Buffer
	tags.WriteString("OpusTags")
	binary.Write(&tags, binary.LittleEndian, uint32(len(vendor)))
	tags.WriteString(vendor)
	binary.Write(&tags, binary.LittleEndian, uint32(0)) // no user comments
	w.addPacket(tags.Bytes(), 0)
	w.flushPage(0)
}

// appendAudio adds one Opus packet. granule is the cumulative 48 kHz sample
// count through the end of this packet. The final packet must pass eos=true
// to close the stream.
func (w *oggWriter) appendAudio(pkt []byte, granule uint64, eos bool) {
	needed := len(pkt)/maxSegments + 1
	if len(w.segments)+needed > maxSegments {
		w.flushPage(0)
	}
	w.addPacket(pkt, granule)
	if eos {
		w.flushPage(pageEOS)
	}
}

// addPacket lays the packet into the pending page's segment table and payload.
func (w *oggWriter) addPacket(pkt []byte, granule uint64) {
	n := len(pkt)
	for n >= maxSegments {
		w.segments = append(w.segments, maxSegments)
		n -= maxSegments
	}
	w.segments = append(w.segments, byte(n))
	w.payload.Write(pkt)
	w.granule = granule
}

// flushPage writes the pending page to the output stream.
func (w *oggWriter) flushPage(headerType byte) {
	if len(w.segments) == 0 && headerType == 0 {
		return
	}
	page := make([]byte, 27, 27+len(w.segments)+w.payload.Len())
	copy(page, "OggS")
	page[4] = 0 // stream structure version
	page[5] = headerType
	binary.LittleEndian.PutUint64(page[6:], w.granule)
	binary.LittleEndian.PutUint32(page[14:], w.serial)
	binary.LittleEndian.PutUint32(page[18:], w.seq)
	// Bytes 22-25 hold the CRC, computed over the page with the field zeroed.
	page[26] = byte(len(w.segments))
	page = append(page, w.segments...)
	page = append(page, w.payload.Bytes()...)
	binary.LittleEndian.PutUint32(page[22:], oggCRC(page))

	w.out.Write(page)
	w.seq++
	w.segments = w.segments[:0]
	w.payload.Reset()
}

// bytes returns the assembled stream. Call only after the EOS page is flushed.
func (w *oggWriter) bytes() []byte { return w.out.Bytes() }

// Ogg uses CRC-32 with polynomial 0x04c11db7, zero initial value, no final
// inversion and no bit reflection, which rules out hash/crc32.
var oggCRCTable = func() [256]uint32 {
	var t [256]uint32
	for i := range t {
		r := uint32(i) << 24
		for range 8 {
			if r&0x80000000 != 0 {
				r = (r << 1) ^ 0x04c11db7
			} else {
				r <<= 1
			}
		}
		t[i] = r
	}
	return t
}()

func oggCRC(data []byte) uint32 {
	var crc uint32
	for _, b := range data {
		crc = (crc << 8) ^ oggCRCTable[byte(crc>>24)^b]
	}
	return crc
}
