// Package serialization writes weight files in the SafeTensors format and
// provides the integrity checks shared with the loader.
//
//	Format Structure:
//	  [8 bytes: Header Size (uint64 LE)]
//	  [Header: JSON, tensor name -> {dtype, shape, data_offsets}, plus __metadata__]
//	  [Tensor data: raw little-endian bytes, tensors in alphabetical order]
//
// The writer stores a SHA-256 of the data section under the "sha256" metadata
// key; readers that find it verify the data before use.
package serialization
