package object

import (
	"fmt"

	"github.com/robert-malhotra/go-rtdc/internal/binary"
	"github.com/robert-malhotra/go-rtdc/internal/message"
)

/*
Version 1 object header, as found in files with a version 0 or 1
superblock:

	0   1  version (1)
	1   1  reserved
	2   2  number of messages
	4   4  reference count
	8   4  size of the message area
	12  4  padding to 8 bytes

Each message:

	0   2  type
	2   2  size of data
	4   1  flags
	5   3  reserved
	8      data, padded to 8 bytes

Continuation blocks hold bare messages and no checksum is stored.
*/

const v1PrefixSize = 16

func readV1(r *binary.Reader, address uint64) (*Header, error) {
	hr := r.At(int64(address))
	if v, err := hr.ReadUint8(); err != nil {
		return nil, err
	} else if v != 1 {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, v)
	}
	hr.Skip(1)
	count, err := hr.ReadUint16()
	if err != nil {
		return nil, err
	}
	hr.Skip(4) // reference count
	size, err := hr.ReadUint32()
	if err != nil {
		return nil, err
	}

	h := &Header{
		Version:  1,
		Address:  address,
		Size:     v1PrefixSize + uint64(size),
		Messages: make([]message.Message, 0, count),
	}
	start := int64(address) + v1PrefixSize
	if err := h.readV1Messages(r, start, start+int64(size)); err != nil {
		return nil, fmt.Errorf("version 1 header at %d: %w", address, err)
	}
	return h, nil
}

func (h *Header) readV1Messages(file *binary.Reader, pos, end int64) error {
	for pos+8 <= end {
		mr := file.At(pos)
		typ, err := mr.ReadUint16()
		if err != nil {
			return err
		}
		size, err := mr.ReadUint16()
		if err != nil {
			return err
		}
		flags, err := mr.ReadUint8()
		if err != nil {
			return err
		}
		mr.Skip(3)
		data, err := mr.ReadBytes(int(size))
		if err != nil {
			return err
		}
		pos += 8 + (int64(size)+7)&^7
		if pos > end {
			return fmt.Errorf("%w: message of %d bytes overruns the header", ErrInvalidHeader, size)
		}
		if typ == 0 {
			continue
		}
		msg, err := message.Parse(message.Type(typ), data, flags, file)
		if err != nil {
			return err
		}
		if cont, ok := msg.(*message.Continuation); ok {
			h.Continued = true
			if err := h.readV1Messages(file, int64(cont.Offset), int64(cont.Offset+cont.Length)); err != nil {
				return err
			}
			continue
		}
		h.Messages = append(h.Messages, msg)
	}
	return nil
}
