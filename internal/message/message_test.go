package message

import (
	"bytes"
	"errors"
	"reflect"
	"testing"

	"github.com/robert-malhotra/go-rtdc/internal/binary"
)

var reader = binary.NewReader(bytes.NewReader(nil), binary.DefaultConfig())

func encodeParse(t *testing.T, m Encodable) Message {
	t.Helper()
	body, ok := Encode(m, 8, 8)
	if !ok {
		t.Fatalf("%s not encodable", m.Type())
	}
	got, err := Parse(m.Type(), body, 0, reader)
	if err != nil {
		t.Fatalf("parse %s: %v", m.Type(), err)
	}
	return got
}

func TestHardLinkBytes(t *testing.T) {
	body, _ := Encode(NewHardLink("events", 0x100), 8, 8)
	want := append([]byte{1, 0x10, 1, 6}, "events"...)
	want = append(want, 0, 1, 0, 0, 0, 0, 0, 0)
	if !bytes.Equal(body, want) {
		t.Fatalf("link body = % x, want % x", body, want)
	}

	l := encodeParse(t, NewHardLink("events", 0x100)).(*Link)
	if !l.IsHard() || l.Name != "events" || l.ObjectAddress != 0x100 || l.CharSet != CharsetUTF8 {
		t.Fatalf("decoded %+v", l)
	}
}

func TestSoftLinkKeepsTarget(t *testing.T) {
	// flags: type present; name "a"; soft target "/x".
	body := []byte{1, 0x08, byte(LinkSoft), 1, 'a', 2, 0, '/', 'x'}
	m, err := Parse(TypeLink, body, 0, reader)
	if err != nil {
		t.Fatal(err)
	}
	l := m.(*Link)
	if l.IsHard() || string(l.Target) != "/x" {
		t.Fatalf("decoded %+v", l)
	}
	again, _ := Encode(l, 8, 8)
	if !bytes.Equal(again, body) {
		t.Fatalf("re-encoded % x, want % x", again, body)
	}
}

func TestDataspaceMaxDims(t *testing.T) {
	ds := encodeParse(t, NewDataspace([]uint64{7, 3}, []uint64{Unlimited, 3})).(*Dataspace)
	if ds.Rank() != 2 || ds.NumElements() != 21 || ds.MaxDims[0] != Unlimited {
		t.Fatalf("decoded %+v", ds)
	}
	sc := encodeParse(t, NewScalarDataspace()).(*Dataspace)
	if !sc.IsScalar() || sc.NumElements() != 1 {
		t.Fatalf("scalar decoded as %+v", sc)
	}
}

func TestDataspaceVersion1(t *testing.T) {
	body := []byte{1, 1, 0, 0, 0, 0, 0, 0, 4, 0, 0, 0, 0, 0, 0, 0}
	m, err := Parse(TypeDataspace, body, 0, reader)
	if err != nil {
		t.Fatal(err)
	}
	if ds := m.(*Dataspace); !reflect.DeepEqual(ds.Dimensions, []uint64{4}) {
		t.Fatalf("dims = %v", ds.Dimensions)
	}
}

func TestDatatypes(t *testing.T) {
	for _, dt := range []*Datatype{
		NewFixedPointDatatype(2, true, OrderBE),
		NewFloatDatatype(4, OrderLE),
		NewFloatDatatype(8, OrderLE),
		NewStringDatatype(12, PadNullTerm, CharsetUTF8),
		NewVarLenStringDatatype(CharsetUTF8, 8),
	} {
		got := encodeParse(t, dt).(*Datatype)
		if !reflect.DeepEqual(got, dt) {
			t.Errorf("%s: decoded %+v, want %+v", dt.Class, got, dt)
		}
	}
}

func TestChunkedLayoutParams(t *testing.T) {
	dl := NewChunkedLayout([]uint32{1000}, 8, ChunkIndexExtensibleArray)
	dl.ChunkIndexAddr = 4096
	body, _ := Encode(dl, 8, 8)
	// version, class, flags, ndims, width, dims (2 bytes each), index type,
	// five parameters, address.
	if len(body) != 5+2*2+1+5+8 || body[4] != 2 {
		t.Fatalf("layout body = % x", body)
	}

	got := encodeParse(t, dl).(*DataLayout)
	if got.ChunkIndexType != ChunkIndexExtensibleArray || got.ChunkIndexAddr != 4096 ||
		!reflect.DeepEqual(got.ChunkDims, []uint32{1000, 8}) {
		t.Fatalf("decoded %+v", got)
	}
	again, _ := Encode(got, 8, 8)
	if !bytes.Equal(again, body) {
		t.Fatalf("rewrite changed the layout: % x", again)
	}
}

func TestFilterPipelineVersion1(t *testing.T) {
	body := []byte{1, 1, 0, 0, 0, 0, 0, 0}
	// deflate, name "deflate" padded to 8, one client value padded to two.
	body = append(body, 1, 0, 8, 0, 0, 0, 1, 0)
	body = append(body, "deflate\x00"...)
	body = append(body, 4, 0, 0, 0, 0, 0, 0, 0)
	m, err := Parse(TypeFilterPipeline, body, 0, reader)
	if err != nil {
		t.Fatal(err)
	}
	f := m.(*FilterPipeline).Filters
	if len(f) != 1 || f[0].ID != FilterDeflate || f[0].Name != "deflate" || f[0].ClientData[0] != 4 {
		t.Fatalf("filters = %+v", f)
	}

	lz4 := NewFilterPipeline(FilterInfo{ID: FilterShuffle, ClientData: []uint32{8}},
		FilterInfo{ID: FilterLZ4, Flags: 1, Name: "LZ4"})
	if got := encodeParse(t, lz4).(*FilterPipeline); !reflect.DeepEqual(got, lz4) {
		t.Fatalf("decoded %+v", got)
	}
}

func TestAttribute(t *testing.T) {
	a := NewAttribute("sample", NewStringDatatype(6, PadNullTerm, CharsetUTF8), NewScalarDataspace(), []byte("blood\x00"))
	got := encodeParse(t, a).(*Attribute)
	if got.Name != "sample" || string(got.Data) != "blood\x00" || !got.Datatype.IsString() {
		t.Fatalf("decoded %+v", got)
	}
}

func TestParseErrors(t *testing.T) {
	body, _ := Encode(NewDataspace([]uint64{5}, nil), 8, 8)
	if _, err := Parse(TypeDataspace, body[:len(body)-1], 0, reader); !errors.Is(err, errTruncated) {
		t.Fatalf("truncated dataspace: %v", err)
	}
	if _, err := Parse(TypeDatatype, body, flagShared, reader); err == nil {
		t.Fatal("shared message accepted")
	}
	if _, err := Parse(TypeDataLayout, []byte{2, 1}, 0, reader); err == nil {
		t.Fatal("layout version 2 accepted")
	}
	m, err := Parse(TypeFillValue, []byte{3, 9}, 0, reader)
	if err != nil {
		t.Fatal(err)
	}
	if u, ok := m.(*Unknown); !ok || !bytes.Equal(u.Data(), []byte{3, 9}) {
		t.Fatalf("fill value = %#v", m)
	}
}
