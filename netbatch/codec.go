package netbatch

import (
	"encoding/binary"

	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"
)

// Wire layout: one flag byte, then repeated frames of a 4-byte big-endian
// length followed by the payload. With flagZstd the frame section is
// zstd-compressed as a whole.
const (
	flagRaw  = byte(0)
	flagZstd = byte(1)

	frameHeaderSize = 4
)

var (
	zstdEncoder, _ = zstd.NewWriter(nil)
	zstdDecoder, _ = zstd.NewReader(nil)
)

// Encode packs payloads into one wire message, compressing the frame
// section when it is at least minCompressSize bytes.
func Encode(payloads [][]byte, minCompressSize int) []byte {
	size := 0
	for _, p := range payloads {
		size += frameHeaderSize + len(p)
	}

	body := make([]byte, 0, size)
	var hdr [frameHeaderSize]byte
	for _, p := range payloads {
		binary.BigEndian.PutUint32(hdr[:], uint32(len(p)))
		body = append(body, hdr[:]...)
		body = append(body, p...)
	}

	if len(body) >= minCompressSize {
		compressed := zstdEncoder.EncodeAll(body, make([]byte, 0, len(body)))
		if len(compressed) < len(body) {
			return append([]byte{flagZstd}, compressed...)
		}
	}
	return append([]byte{flagRaw}, body...)
}

// Decode unpacks a wire message back into its payloads.
func Decode(data []byte) ([][]byte, error) {
	if len(data) == 0 {
		return nil, ErrTruncatedFrame
	}

	body := data[1:]
	switch data[0] {
	case flagRaw:
	case flagZstd:
		decompressed, err := zstdDecoder.DecodeAll(body, nil)
		if err != nil {
			return nil, errors.Wrap(err, "zstd decompression")
		}
		body = decompressed
	default:
		return nil, errors.Wrapf(ErrUnknownFlag, "flag 0x%02x", data[0])
	}

	var payloads [][]byte
	for len(body) > 0 {
		if len(body) < frameHeaderSize {
			return nil, ErrTruncatedFrame
		}
		n := int(binary.BigEndian.Uint32(body[:frameHeaderSize]))
		body = body[frameHeaderSize:]
		if len(body) < n {
			return nil, ErrTruncatedFrame
		}
		payloads = append(payloads, body[:n:n])
		body = body[n:]
	}
	return payloads, nil
}
