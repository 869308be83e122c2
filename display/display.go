// Package display describes the window a driver presents to
package display

import (
	"sync/atomic"

	"golang.org/x/exp/slog"
)

// Resizable is implemented by anything that must react to a change in drawable size
type Resizable interface {
	Resize(width, height int) error
}

// Display is a presentable surface
type Display interface {
	// Drawable is the native window handle swapchains are created for
	Drawable() uintptr
	Width() int
	Height() int
	// SetResizeTarget registers the object notified when the drawable changes size. Only one
	// target is held; a nil target removes it.
	SetResizeTarget(target Resizable)
}

var nextDrawable atomic.Uintptr

// Headless is a Display with no window behind it. Its size only changes when Resize is called.
type Headless struct {
	logger   *slog.Logger
	drawable uintptr
	width    int
	height   int
	target   Resizable
}

var _ Display = &Headless{}

func NewHeadless(logger *slog.Logger, width, height int) *Headless {
	return &Headless{
		logger:   logger,
		drawable: nextDrawable.Add(1),
		width:    width,
		height:   height,
	}
}

func (h *Headless) Drawable() uintptr                { return h.drawable }
func (h *Headless) Width() int                       { return h.width }
func (h *Headless) Height() int                      { return h.height }
func (h *Headless) SetResizeTarget(target Resizable) { h.target = target }

// Resize changes the drawable size and notifies the resize target. Resizing to the current size
// does nothing.
func (h *Headless) Resize(width, height int) error {
	if width == h.width && height == h.height {
		return nil
	}

	h.logger.Debug("Headless::Resize", "width", width, "height", height)
	h.width = width
	h.height = height

	if h.target == nil {
		return nil
	}
	return h.target.Resize(width, height)
}
