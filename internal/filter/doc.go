// Package filter implements the HDF5 chunk filter pipeline.
//
// Filters are applied in pipeline order when a chunk is written and in
// reverse order when it is read back. Each chunk may carry a filter mask;
// bit i set means filter i was skipped for that chunk.
//
// # Filters
//
//   - Deflate (ID 1): zlib streams via github.com/klauspost/compress/zlib.
//   - Shuffle (ID 2): byte transposition to group equal byte positions.
//   - Fletcher32 (ID 3): trailing checksum, verified on read.
//   - LZ4 (ID 32004): block framing of the registered LZ4 plugin.
//   - Zstandard (ID 32015): one zstd frame per chunk.
//
// SZIP, N-bit, scale-offset and LZF are recognized by name only. Datasets
// using them cannot be read unless the filter is marked optional.
//
// # Pipelines
//
//	p, err := filter.NewPipeline(msg)
//	raw, err := p.Decode(stored, mask)
//
//	enc := filter.NewEncodePipeline(filter.NewShuffle(nil), filter.NewZstd(nil))
//	stored, err := enc.Encode(raw)
//	msg := enc.Message()
package filter
