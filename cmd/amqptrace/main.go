// Command amqptrace runs the RabbitMQ event tracer, the order worker, or
// publishes sample orders.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
