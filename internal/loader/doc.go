// Package loader reads SafeTensors weight files from local disk or Google Cloud Storage.
//
// Example:
//
//	r, err := loader.Open(ctx, "gs://models/swiglu.safetensors")
//	if err != nil {
//	    return err
//	}
//	w1, shape, err := r.Float32("w1")
package loader
