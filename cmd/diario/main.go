// Command diario runs the journal API and its dead man's switch.
//
// Usage:
//
//	diario serve
//	diario notify
//	diario check-in
//	diario status
package main

import "github.com/uveral/diario/internal/cli"

func main() {
	cli.Execute()
}
