package ports

import "github.com/fledge-iot/fledge-north-opcua/internal/domain"

// WriteFunc forwards a control write to the hosting service. arg is empty for
// broadcast writes. It reports whether the write was accepted.
type WriteFunc func(name, value string, dest domain.Destination, arg string) bool
