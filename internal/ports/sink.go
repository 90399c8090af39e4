package ports

import "github.com/fledge-iot/fledge-north-opcua/internal/domain"

type Sink interface {
	WriteBatch(readings []*domain.Reading) error
	Name() string
}
