//go:build !(linux && cgo)

package hook

import (
	"context"

	"github.com/snaptrail/snaptrail/pkg/window"
)

// Source is unavailable without cgo on Linux.
type Source struct{}

// NewSource returns a source whose Listen always fails.
func NewSource() *Source {
	return &Source{}
}

// Listen returns window.ErrUnsupported.
func (s *Source) Listen(ctx context.Context) (<-chan window.InputEvent, error) {
	return nil, window.ErrUnsupported
}
