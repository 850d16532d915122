// Package object reads and writes version 2 object headers, the message
// lists behind every group and dataset of an RT-DC container. Version 1
// headers of older files are read only.
//
// Layout of a header as built by [Encode]:
//
//	"OHDR" | version 2 | flags | chunk size (1 << flags&3 bytes)
//	messages: type(1) size(2) flags(1) [creation order(2)] data
//	lookup3 checksum over everything before it
//
// Continuation blocks ("OCHK") are followed when present.
package object

import (
	"errors"
	"fmt"

	"github.com/robert-malhotra/go-rtdc/internal/binary"
	"github.com/robert-malhotra/go-rtdc/internal/message"
)

var SignatureV2 = []byte{'O', 'H', 'D', 'R'}

var (
	ErrInvalidHeader      = errors.New("invalid object header")
	ErrUnsupportedVersion = errors.New("unsupported object header version")
	ErrChecksumMismatch   = errors.New("object header checksum mismatch")
)

const (
	flagTrackOrder = 0x04
	flagPhase      = 0x10
	flagTimes      = 0x20
)

// Header is one parsed object header.
type Header struct {
	Version  uint8
	Address  uint64
	Flags    uint8
	Size     uint64 // first chunk, checksum included
	Messages []message.Message

	// Continued is set when some messages live in continuation blocks.
	Continued bool
}

// Read parses the object header at address. Version 2 headers have their
// checksum verified.
func Read(r *binary.Reader, address uint64) (*Header, error) {
	hr := r.At(int64(address))
	sig, err := hr.ReadBytes(4)
	if err != nil {
		return nil, fmt.Errorf("reading object header: %w", err)
	}
	if string(sig) != string(SignatureV2) {
		if sig[0] == 1 {
			return readV1(r, address)
		}
		return nil, fmt.Errorf("%w: no OHDR signature at address %d", ErrInvalidHeader, address)
	}
	version, err := hr.ReadUint8()
	if err != nil {
		return nil, err
	}
	if version != 2 {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, version)
	}
	flags, err := hr.ReadUint8()
	if err != nil {
		return nil, err
	}
	if flags&flagTimes != 0 {
		hr.Skip(16)
	}
	if flags&flagPhase != 0 {
		hr.Skip(4)
	}
	size, err := hr.ReadUintN(1 << (flags & 0x03))
	if err != nil {
		return nil, err
	}
	end := hr.Pos() + int64(size)

	if err := verify(r, int64(address), end); err != nil {
		return nil, err
	}

	h := &Header{Version: 2, Address: address, Flags: flags, Size: uint64(end + 4 - int64(address))}
	if err := h.readMessages(r, hr, end, flags&flagTrackOrder != 0); err != nil {
		return nil, err
	}
	return h, nil
}

// verify compares the checksum stored at end with one computed over
// [start, end).
func verify(r *binary.Reader, start, end int64) error {
	body, err := r.At(start).ReadBytes(int(end - start))
	if err != nil {
		return err
	}
	stored, err := r.At(end).ReadUint32()
	if err != nil {
		return err
	}
	if stored != binary.Lookup3Checksum(body) {
		return fmt.Errorf("%w at address %d", ErrChecksumMismatch, start)
	}
	return nil
}

// readMessages appends the messages up to end to h, following
// continuation blocks.
func (h *Header) readMessages(file, r *binary.Reader, end int64, trackOrder bool) error {
	// Anything shorter than a message prefix is padding.
	for r.Pos()+4 <= end {
		msg, err := readMessage(r, trackOrder)
		if err != nil {
			return err
		}
		cont, ok := msg.(*message.Continuation)
		if !ok {
			if msg != nil {
				h.Messages = append(h.Messages, msg)
			}
			continue
		}
		h.Continued = true
		cr := file.At(int64(cont.Offset))
		sig, err := cr.ReadBytes(4)
		if err != nil {
			return err
		}
		if string(sig) != "OCHK" {
			return fmt.Errorf("%w: continuation block signature %q", ErrInvalidHeader, sig)
		}
		if err := h.readMessages(file, cr, int64(cont.Offset+cont.Length)-4, trackOrder); err != nil {
			return err
		}
	}
	return nil
}

// readMessage returns nil for NIL padding messages.
func readMessage(r *binary.Reader, trackOrder bool) (message.Message, error) {
	typ, err := r.ReadUint8()
	if err != nil {
		return nil, err
	}
	size, err := r.ReadUint16()
	if err != nil {
		return nil, err
	}
	flags, err := r.ReadUint8()
	if err != nil {
		return nil, err
	}
	if trackOrder {
		r.Skip(2)
	}
	data, err := r.ReadBytes(int(size))
	if err != nil {
		return nil, err
	}
	if typ == 0 {
		return nil, nil
	}
	return message.Parse(message.Type(typ), data, flags, r)
}

// GetMessage returns the first message of the given type, or nil.
func (h *Header) GetMessage(typ message.Type) message.Message {
	for _, msg := range h.Messages {
		if msg.Type() == typ {
			return msg
		}
	}
	return nil
}

// GetMessages returns all messages of the given type in header order.
func (h *Header) GetMessages(typ message.Type) []message.Message {
	var result []message.Message
	for _, msg := range h.Messages {
		if msg.Type() == typ {
			result = append(result, msg)
		}
	}
	return result
}

func (h *Header) Dataspace() *message.Dataspace {
	m, _ := h.GetMessage(message.TypeDataspace).(*message.Dataspace)
	return m
}

func (h *Header) Datatype() *message.Datatype {
	m, _ := h.GetMessage(message.TypeDatatype).(*message.Datatype)
	return m
}

func (h *Header) DataLayout() *message.DataLayout {
	m, _ := h.GetMessage(message.TypeDataLayout).(*message.DataLayout)
	return m
}

func (h *Header) FilterPipeline() *message.FilterPipeline {
	m, _ := h.GetMessage(message.TypeFilterPipeline).(*message.FilterPipeline)
	return m
}
