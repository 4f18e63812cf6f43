package core

import "github.com/dkeye/AvatarCall/internal/domain"

// Sink is a rendering target for a single media handle.
// Attach with the handle already shown must be a no-op.
type Sink interface {
	Attach(domain.MediaHandle)
	Detach()
}
