// Command lai is the terminal companion for the lai desktop assistant. It
// talks to the running application over the loopback control plane,
// captures commands for diagnosis and keeps the execution audit log.
package main

import "github.com/ppiankov/lai/internal/cli"

func main() {
	cli.Execute()
}
