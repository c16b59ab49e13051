// Package nbexec coordinates asynchronous code execution against long-lived
// interactive kernels.
//
// Clients submit snippets addressed to a kernel and poll for the outcome;
// per kernel, requests run strictly in submission order on a dedicated
// worker. While a request runs, its streamed outputs can be mirrored into a
// shared collaborative notebook cell, with consecutive stream outputs
// coalesced and carriage-return/backspace control characters applied the
// way a terminal would.
//
// # Quick Start
//
// Build an [ExecutionStack] around a kernel manager and expose it over HTTP:
//
//	stack := nbexec.NewStack(manager,
//		nbexec.WithCollaboration(collab),
//		nbexec.WithEmitter(emitter),
//	)
//	defer stack.Dispose(context.Background())
//
//	http.ListenAndServe(":8888", nbexec.NewHandler(stack, manager))
//
// # Core Interfaces
//
// The root package defines the contracts the stack consumes:
//
//   - [KernelManager] — kernel lookup and client construction
//   - [KernelClient] — interactive execution over shell/iopub/stdin channels
//   - [Collaboration] — shared-document lookup and transactional cell mutation
//   - [EventEmitter] — cell execution lifecycle events
//
// # Included Implementations
//
// Transports: kernel/subproc (local Python subprocess, for development).
// Documents: collab/memdoc (in-memory collaboration service).
// Event sinks: store/sqlite, store/postgres (journals), observer (OTEL).
//
// See the cmd/nbexecd directory for a complete server binary.
package nbexec
