package vision

import "errors"

var (
	// ErrOutOfBounds is returned when a rectangle is not inside the image.
	ErrOutOfBounds = errors.New("vision: rectangle out of bounds")

	// ErrTemplateTooLarge is returned when the template does not fit in the frame.
	ErrTemplateTooLarge = errors.New("vision: template larger than frame")

	// ErrEmptyImage is returned for nil or zero-sized images.
	ErrEmptyImage = errors.New("vision: empty image")
)
