package object

import (
	"encoding/binary"
	"fmt"
	"math/bits"

	binpkg "github.com/robert-malhotra/go-rtdc/internal/binary"
	"github.com/robert-malhotra/go-rtdc/internal/message"
)

// MinGroupChunkSize is the message area h5py reserves for a new group.
const MinGroupChunkSize = 120

const prefixSize = 4 // type, size, flags

// Encode builds a version 2 object header holding messages. The message
// area is padded with a NIL message to at least minChunk bytes. Messages
// without a write form are dropped.
func Encode(messages []message.Message, minChunk, offsetSize, lengthSize int) ([]byte, error) {
	var area []byte
	for _, msg := range messages {
		body, ok := message.Encode(msg, offsetSize, lengthSize)
		if !ok {
			continue
		}
		if len(body) > 0xFFFF {
			return nil, fmt.Errorf("%s message of %d bytes does not fit an object header", msg.Type(), len(body))
		}
		area = append(area, uint8(msg.Type()))
		area = binary.LittleEndian.AppendUint16(area, uint16(len(body)))
		area = append(area, 0)
		area = append(area, body...)
	}
	if pad := minChunk - len(area); pad > 0 {
		area = appendNIL(area, max(pad, prefixSize))
	}

	width := fieldWidth(uint64(len(area)))
	buf := append([]byte(nil), SignatureV2...)
	buf = append(buf, 2, uint8(bits.TrailingZeros(uint(width))))
	for i := range width {
		buf = append(buf, byte(uint64(len(area))>>(8*i)))
	}
	buf = append(buf, area...)
	return binary.LittleEndian.AppendUint32(buf, binpkg.Lookup3Checksum(buf)), nil
}

// EncodeSize builds a header of exactly size bytes, padding the message
// area with a NIL message when the messages need less room. It reports
// false when no such header exists.
func EncodeSize(messages []message.Message, size uint64, offsetSize, lengthSize int) ([]byte, bool, error) {
	buf, err := Encode(messages, 0, offsetSize, lengthSize)
	if err != nil || uint64(len(buf)) >= size {
		return buf, err == nil && uint64(len(buf)) == size, err
	}
	area := len(buf) - len(SignatureV2) - 2 - 1<<(buf[5]&0x03) - 4
	buf, err = Encode(messages, area+int(size)-len(buf), offsetSize, lengthSize)
	if err != nil {
		return nil, false, err
	}
	return buf, uint64(len(buf)) == size, nil
}

// Write encodes the header and stores it at the writer position.
func Write(w *binpkg.Writer, messages []message.Message, minChunk int) (int64, error) {
	buf, err := Encode(messages, minChunk, w.OffsetSize(), w.LengthSize())
	if err != nil {
		return 0, err
	}
	return int64(len(buf)), w.WriteBytes(buf)
}

func appendNIL(area []byte, n int) []byte {
	area = append(area, uint8(message.TypeNIL))
	area = binary.LittleEndian.AppendUint16(area, uint16(n-prefixSize))
	area = append(area, 0)
	return append(area, make([]byte, n-prefixSize)...)
}

// fieldWidth is the width of the chunk size field: 1, 2, 4 or 8 bytes.
func fieldWidth(size uint64) int {
	switch {
	case size <= 0xFF:
		return 1
	case size <= 0xFFFF:
		return 2
	case size <= 0xFFFFFFFF:
		return 4
	}
	return 8
}

// GroupMessages returns the messages of a group holding links.
func GroupMessages(links ...*message.Link) []message.Message {
	out := []message.Message{message.NewLinkInfo(), message.NewGroupInfo()}
	for _, l := range links {
		out = append(out, l)
	}
	return out
}

// DatasetMessages returns the messages every dataset header starts with.
func DatasetMessages(ds *message.Dataspace, dt *message.Datatype, dl *message.DataLayout) []message.Message {
	return []message.Message{ds, dt, dl}
}
