// Package noop provides a renderer stub for builds without Chrome.
package noop

import (
	"context"
	"errors"
)

// Renderer implements generate.Renderer but always returns an error to
// indicate that PDF rendering is not available in the current build. The
// pipeline records the PDF as a missing artifact and carries on.
type Renderer struct{}

// New creates a new Noop renderer.
func New() *Renderer {
	return &Renderer{}
}

// RenderPDF returns an error since this is a stub implementation.
func (*Renderer) RenderPDF(_ context.Context, _ []byte) ([]byte, error) {
	return nil, errors.New("pdf renderer not configured")
}
