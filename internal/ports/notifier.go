package ports

import (
	"io"

	"github.com/mikey/phish-filter/internal/core"
)

// Notifier is a core.Notifier that owns a connection
type Notifier interface {
	core.Notifier
	io.Closer
}
