// Package shutdown coordinates orderly process exit.
//
// Handler runs cleanup hooks on SIGINT/SIGTERM. Registry tracks stores that
// are still open so they can be reported and closed before the process
// exits:
//
//	reg := shutdown.DefaultRegistry
//	defer reg.Drain(context.Background())
package shutdown
