package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// ParseWAV decodes a RIFF/WAVE file holding 16-bit integer PCM.
func ParseWAV(data []byte) (Clip, error) {
	if len(data) < 12 || !bytes.Equal(data[0:4], []byte("RIFF")) || !bytes.Equal(data[8:12], []byte("WAVE")) {
		return Clip{}, fmt.Errorf("%w: missing RIFF/WAVE header", ErrInvalidWAV)
	}

	var (
		channels, bits, format int
		sampleRate             int
		haveFmt                bool
	)
	for off := 12; off+8 <= len(data); {
		id := string(data[off : off+4])
		size := int(binary.LittleEndian.Uint32(data[off+4 : off+8]))
		body := off + 8
		end := body + size
		// Streaming encoders write 0 or 0xFFFFFFFF for an unknown data size.
		if end > len(data) || (id == "data" && size == 0) {
			if id != "data" {
				return Clip{}, fmt.Errorf("%w: chunk %q overruns file", ErrInvalidWAV, id)
			}
			end = len(data)
		}

		switch id {
		case "fmt ":
			if size < 16 {
				return Clip{}, fmt.Errorf("%w: short fmt chunk", ErrInvalidWAV)
			}
			format = int(binary.LittleEndian.Uint16(data[body:]))
			channels = int(binary.LittleEndian.Uint16(data[body+2:]))
			sampleRate = int(binary.LittleEndian.Uint32(data[body+4:]))
			bits = int(binary.LittleEndian.Uint16(data[body+14:]))
			haveFmt = true
		case "data":
			if !haveFmt {
				return Clip{}, fmt.Errorf("%w: data before fmt", ErrInvalidWAV)
			}
			// 1 is PCM, 0xFFFE is WAVE_FORMAT_EXTENSIBLE.
			if (format != 1 && format != 0xFFFE) || bits != 16 {
				return Clip{}, fmt.Errorf("%w: unsupported format %d with %d bits", ErrInvalidWAV, format, bits)
			}
			c := FromBytes(data[body:end], sampleRate, channels)
			return c, c.Validate()
		}

		off = end + end%2 // chunks are word aligned
	}
	return Clip{}, fmt.Errorf("%w: no data chunk", ErrInvalidWAV)
}

// EncodeWAV writes c as a 16-bit PCM WAV file.
func EncodeWAV(c Clip) []byte {
	pcm := c.Bytes()
	var buf bytes.Buffer
	buf.Grow(44 + len(pcm))

	le := binary.LittleEndian
	buf.WriteString("RIFF")
	_ = binary.Write(&buf, le, uint32(36+len(pcm)))
	buf.WriteString("WAVEfmt ")
	_ = binary.Write(&buf, le, uint32(16))
	_ = binary.Write(&buf, le, uint16(1))
	_ = binary.Write(&buf, le, uint16(c.Channels))
	_ = binary.Write(&buf, le, uint32(c.SampleRate))
	_ = binary.Write(&buf, le, uint32(c.SampleRate*c.Channels*2))
	_ = binary.Write(&buf, le, uint16(c.Channels*2))
	_ = binary.Write(&buf, le, uint16(16))
	buf.WriteString("data")
	_ = binary.Write(&buf, le, uint32(len(pcm)))
	buf.Write(pcm)
	return buf.Bytes()
}
