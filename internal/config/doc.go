// Package config loads SwiGLU run configurations from HCL files.
//
// A configuration names the block dimensions, the weight source, the input
// rows and the runtime options:
//
//	dims {
//	  input  = 3
//	  inter  = 4
//	  output = 2
//	}
//
//	weights = "tutorial"        # "independent", a path, or gs://bucket/object
//	batch   = 2
//	input   = range(1, dims.input + 1)
//
//	runtime {
//	  threads       = 4
//	  weights_cache = true
//	}
//
// The input expression may reference dims and batch and call range, min and max.
// An input of one row is repeated for every batch row.
package config
