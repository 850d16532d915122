package filter

import (
	"fmt"

	"github.com/robert-malhotra/go-rtdc/internal/message"
)

// Filter reverses one stage of a chunk pipeline.
type Filter interface {
	ID() uint16
	Decode(stored []byte) ([]byte, error)
}

// Encoder is a Filter with a write form. ClientData is what the pipeline
// message records for it.
type Encoder interface {
	Filter
	Encode(raw []byte) ([]byte, error)
	ClientData() []uint32
}

type known struct {
	name string
	make func(cd []uint32) Filter
}

// catalog lists every filter id this package can name. Entries without a
// constructor are recognized but cannot be applied.
var catalog = map[uint16]known{
	message.FilterDeflate:     {"deflate/gzip", func(cd []uint32) Filter { return NewDeflate(cd) }},
	message.FilterShuffle:     {"shuffle", func(cd []uint32) Filter { return NewShuffle(cd) }},
	message.FilterFletcher32:  {"Fletcher32", func(cd []uint32) Filter { return NewFletcher32(cd) }},
	message.FilterLZ4:         {"LZ4", func(cd []uint32) Filter { return NewLZ4(cd) }},
	message.FilterZstd:        {"Zstandard", func(cd []uint32) Filter { return NewZstd(cd) }},
	message.FilterSZIP:        {name: "SZIP"},
	message.FilterNBit:        {name: "N-bit"},
	message.FilterScaleOffset: {name: "scale-offset"},
	message.FilterLZF:         {name: "LZF"},
}

// Name returns the display name of a filter id.
func Name(id uint16) string {
	if k, ok := catalog[id]; ok {
		return k.name
	}
	return fmt.Sprintf("filter %d", id)
}

// New builds the filter described by info. An optional filter that is not
// available yields (nil, nil) and is skipped.
func New(info message.FilterInfo) (Filter, error) {
	k, ok := catalog[info.ID]
	if ok && k.make != nil {
		return k.make(info.ClientData), nil
	}
	if info.IsOptional() {
		return nil, nil
	}
	if ok {
		return nil, fmt.Errorf("%s filter (id %d) is not available", k.name, info.ID)
	}
	return nil, fmt.Errorf("unknown filter id %d", info.ID)
}

// Info is the pipeline entry for e. Filters outside the reserved range
// carry their name and are marked optional.
func Info(e Encoder) message.FilterInfo {
	info := message.FilterInfo{ID: e.ID(), ClientData: e.ClientData()}
	if info.ID >= 256 {
		info.Name = Name(info.ID)
		info.Flags = 0x01
	}
	return info
}
