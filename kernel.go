package nbexec

import "context"

// OutputHook receives iopub messages emitted while a snippet executes.
type OutputHook func(msg Message)

// StdinHook receives the input_request message when the executing
// snippet reads from stdin.
type StdinHook func(msg Message)

// KernelClient is a connected message client for one kernel, speaking
// request/reply on the shell channel, streamed outputs on iopub and
// prompted input on stdin.
type KernelClient interface {
	// ExecuteInteractive runs code on the kernel, invoking outputHook
	// for every iopub message and stdinHook (when non-nil) for input
	// requests, and returns the shell reply once execution settles.
	ExecuteInteractive(ctx context.Context, code string, outputHook OutputHook, stdinHook StdinHook) (Reply, error)

	// Input sends a raw stdin reply to the kernel.
	Input(value string) error

	// StdinMsgReady reports whether a message is already waiting on the
	// stdin channel.
	StdinMsgReady(ctx context.Context) (bool, error)

	// ShellMsgReady reports whether a message is already waiting on the
	// shell channel.
	ShellMsgReady(ctx context.Context) (bool, error)

	// AllowStdin reports whether the client may forward input requests.
	AllowStdin() bool

	// SetSession tags the client session, making subsequent iopub
	// traffic attributable to one request.
	SetSession(id string)

	// StopChannels tears the channel sockets down. Idempotent.
	StopChannels()
}

// ChannelStarter is implemented by gateway-style clients whose channel
// sockets attach lazily. The worker starts channels before the first
// execution when they are not yet running.
type ChannelStarter interface {
	ChannelsRunning() bool
	StartChannels(ctx context.Context) error
}

// KernelManager resolves kernel ids to connected clients. Kernel
// process lifecycle is owned elsewhere; the stack only consumes
// already-running kernels.
type KernelManager interface {
	// Has reports whether the kernel is known to the server.
	Has(kernelID string) bool

	// Client returns a new message client for the kernel.
	// It returns *ErrKernelNotFound for unknown kernels.
	Client(kernelID string) (KernelClient, error)
}
