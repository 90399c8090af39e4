package ports

import "github.com/fledge-iot/fledge-north-opcua/internal/domain"

// Transformer rewrites readings before they are projected. Returning a nil
// reading drops it.
type Transformer interface {
	Transform(*domain.Reading) (*domain.Reading, error)
}
