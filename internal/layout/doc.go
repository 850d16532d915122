// Layouts handled here:
//
//   - Contiguous (class 1): one block, used for fixed-size datasets without
//     filters. Row slices that span the trailing dimensions are read as a
//     single byte range. Implemented by [Contiguous].
//   - Chunked (class 2): resizable or filtered datasets. Feature columns
//     grow through an extensible array index; filtered fixed-size datasets,
//     such as individual contours, use a fixed array index. A dataset that
//     is one unfiltered chunk is stored with the implicit index. Implemented
//     by [Chunked] for reading and [ChunkWriter] for writing.
//
// Chunk indices identify chunks by their linear row-major position, so
// [Chunked.ReadSlice] only decodes the chunks a selection overlaps. Reading
// a single image frame from an (N, H, W) stack chunked as (1, H, W) touches
// exactly one chunk.
//
// Version 1 B-tree chunk indices of older files are read through
// [btree.ReadChunks]. Compact storage and version 2 B-tree indices are
// rejected on read.
package layout
