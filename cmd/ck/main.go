// Command ck is the context keeper CLI: a long-lived memory store for
// coding agents, served over line-delimited JSON-RPC on stdio or a unix
// socket, with direct storage access when no daemon is running.
package main

func main() {
	Execute()
}
