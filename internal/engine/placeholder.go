package engine

import (
	"context"
	"hash/fnv"
	"image"
	"image/color"
	"math/rand/v2"
	"time"

	"github.com/cuongbtq/imagegen-api/internal/domain"
	"golang.org/x/image/draw"
)

// placeholderGrid is the side of the seeded colour field that is scaled to the target size
const placeholderGrid = 8

// PlaceholderEngine renders a deterministic colour field instead of running a model.
// The same prompt, size and seed always produce the same pixels.
type PlaceholderEngine struct {
	delay time.Duration
}

// NewPlaceholderEngine creates a PlaceholderEngine that sleeps delay per image
func NewPlaceholderEngine(delay time.Duration) *PlaceholderEngine {
	return &PlaceholderEngine{delay: delay}
}

func (e *PlaceholderEngine) Info() Info {
	return Info{Loaded: true, Device: "cpu", DType: "float32", Model: "placeholder"}
}

func (e *PlaceholderEngine) Generate(ctx context.Context, params domain.ResolvedParams, seed int64) (image.Image, error) {
	if e.delay > 0 {
		select {
		case <-time.After(e.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	h := fnv.New64a()
	h.Write([]byte(params.FinalPrompt))
	rng := rand.New(rand.NewPCG(uint64(seed), h.Sum64()))

	field := image.NewRGBA(image.Rect(0, 0, placeholderGrid, placeholderGrid))
	for y := 0; y < placeholderGrid; y++ {
		for x := 0; x < placeholderGrid; x++ {
			field.SetRGBA(x, y, color.RGBA{
				R: uint8(rng.IntN(256)),
				G: uint8(rng.IntN(256)),
				B: uint8(rng.IntN(256)),
				A: 0xff,
			})
		}
	}

	out := image.NewRGBA(image.Rect(0, 0, params.Width, params.Height))
	draw.BiLinear.Scale(out, out.Bounds(), field, field.Bounds(), draw.Src, nil)
	return out, nil
}
