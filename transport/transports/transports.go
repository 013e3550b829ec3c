// Package transports imports all built-in transports for auto-registration.
// Import this package to have all transports registered with the default registry.
package transports

import (
	_ "github.com/drblury/amqptrace/transport/channel"
	_ "github.com/drblury/amqptrace/transport/rabbitmq"
)
