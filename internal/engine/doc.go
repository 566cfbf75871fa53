// Package engine is a small graph compute engine for float32 feed-forward networks.
//
// The call sequence mirrors a C-style inference library:
//
//	Initialize
//	CreateSubgraph, DefineTensorValue, DefineFullyConnected, DefineUnary, DefineMultiply2
//	CreateWorkspace, CreateWeightsCache (optional), CreateRuntime
//	ReshapeExternalValue, Runtime.Reshape, Runtime.Setup, Runtime.Invoke
//	Runtime.Delete, WeightsCache.Delete, Workspace.Release, Subgraph.Delete, Deinitialize
//
// Every failing call returns an *Error carrying the call name and a Status.
// Objects are reference counted: a subgraph cannot be deleted while a runtime
// created from it is alive, a workspace cannot be released while a runtime uses it,
// and the engine cannot be deinitialized while any object is alive.
package engine
