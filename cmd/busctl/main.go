// Command busctl is the operator CLI for the message bus: queue
// provisioning, the consumer loop, and the DLQ tools.
package main

import "github.com/jrepp/prism-msgbus/cmd/busctl/cmd"

func main() {
	cmd.Execute()
}
