package filter

import (
	"fmt"

	"github.com/robert-malhotra/go-rtdc/internal/message"
)

// Pipeline decodes stored chunks.
type Pipeline struct {
	filters []Filter
}

// NewPipeline builds the read pipeline for fp. A nil message gives an
// empty pipeline.
func NewPipeline(fp *message.FilterPipeline) (*Pipeline, error) {
	p := &Pipeline{}
	if fp == nil {
		return p, nil
	}
	for _, info := range fp.Filters {
		f, err := New(info)
		if err != nil {
			return nil, err
		}
		if f != nil {
			p.filters = append(p.filters, f)
		}
	}
	return p, nil
}

// Decode runs the filters last to first. Bit i of mask skips filter i.
func (p *Pipeline) Decode(stored []byte, mask uint32) ([]byte, error) {
	data := stored
	for i := len(p.filters) - 1; i >= 0; i-- {
		if mask&(1<<uint(i)) != 0 {
			continue
		}
		out, err := p.filters[i].Decode(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", Name(p.filters[i].ID()), err)
		}
		data = out
	}
	return data, nil
}

func (p *Pipeline) Empty() bool { return len(p.filters) == 0 }
func (p *Pipeline) Len() int    { return len(p.filters) }

// EncodePipeline encodes raw chunks, first filter first.
type EncodePipeline struct {
	encoders []Encoder
}

func NewEncodePipeline(encoders ...Encoder) *EncodePipeline {
	return &EncodePipeline{encoders: encoders}
}

func (p *EncodePipeline) Encode(raw []byte) ([]byte, error) {
	data := raw
	for _, e := range p.encoders {
		out, err := e.Encode(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", Name(e.ID()), err)
		}
		data = out
	}
	return data, nil
}

// Empty reports whether p is nil or has no encoders.
func (p *EncodePipeline) Empty() bool { return p == nil || len(p.encoders) == 0 }

// Message is the filter pipeline message recording p.
func (p *EncodePipeline) Message() *message.FilterPipeline {
	infos := make([]message.FilterInfo, len(p.encoders))
	for i, e := range p.encoders {
		infos[i] = Info(e)
	}
	return message.NewFilterPipeline(infos...)
}

// EncoderFor rebuilds the write pipeline stored in fp, so chunks appended
// later match the existing ones. A nil or empty message gives nil.
func EncoderFor(fp *message.FilterPipeline) (*EncodePipeline, error) {
	if fp == nil || len(fp.Filters) == 0 {
		return nil, nil
	}
	p := &EncodePipeline{}
	for _, info := range fp.Filters {
		f, err := New(info)
		if err != nil {
			return nil, err
		}
		e, ok := f.(Encoder)
		if !ok {
			return nil, fmt.Errorf("%s cannot encode", Name(info.ID))
		}
		p.encoders = append(p.encoders, e)
	}
	return p, nil
}
