// Package swiglu builds and runs a SwiGLU feed-forward block on the engine.
//
// Architecture:
//
//	gate   = x @ W1^T
//	up     = x @ W3^T
//	hidden = gate * sigmoid(gate) * up
//	y      = hidden @ W2^T
//
// A Block owns every engine object it creates and releases them in reverse
// creation order on Close.
package swiglu
