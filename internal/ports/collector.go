package ports

import "github.com/fledge-iot/fledge-north-opcua/internal/domain"

// Collector produces readings from an upstream source.
type Collector interface {
	Start(out chan<- *domain.Reading) error
	Stop() error
}
