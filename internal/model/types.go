package model

import (
	"context"
	"errors"
	"image"
)

// ErrModelUnavailable wraps every failure to bring the model to Ready.
var ErrModelUnavailable = errors.New("model unavailable")

type State int

const (
	Unloaded State = iota
	Loading
	Ready
)

func (s State) String() string {
	switch s {
	case Unloaded:
		return "unloaded"
	case Loading:
		return "loading"
	case Ready:
		return "ready"
	default:
		return "unknown"
	}
}

// Model is a loaded reconstruction backend. A nil mask means the whole
// frame is foreground.
type Model interface {
	Predict(ctx context.Context, img image.Image, mask *image.Gray, seed int64) (Output, error)
}

// Output is a reconstructed scene that can be written as a PLY file.
type Output interface {
	SavePLY(path string) error
}

type Loader interface {
	Load(ctx context.Context) (Model, error)
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(ctx context.Context) (Model, error)

func (f LoaderFunc) Load(ctx context.Context) (Model, error) {
	return f(ctx)
}
