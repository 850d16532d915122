// Package dtype converts between raw element bytes and Go slices.
//
// Supported element types are the ones RT-DC containers hold:
//
//	integer     int8 ... int64, uint8 ... uint64 (bool is written as uint8)
//	float       float32, float64
//	string      fixed-length, padded per the datatype
//	vlen string references into a global heap collection
//
// Numeric data converts between any integer and float destination; a float
// is never read into an integer slice. Writing variable-length strings
// needs heap space and is done by the hdf5 package; [Encode] handles
// everything else.
package dtype
