// Package engine defines the contract of the image generation model and its adapters.
package engine

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"image"

	"github.com/cuongbtq/imagegen-api/internal/domain"
)

// RandomSeedSentinel asks for a fresh random seed per job
const RandomSeedSentinel int64 = -1

// ErrNotLoaded is returned when the engine has no model available
var ErrNotLoaded = errors.New("engine: model not loaded")

// Info describes the backing model for the health probe
type Info struct {
	Loaded bool
	Device string
	DType  string
	Model  string
}

// Engine generates one image from resolved parameters and a seed.
// Callers must not invoke Generate concurrently beyond the configured slot count.
type Engine interface {
	Generate(ctx context.Context, params domain.ResolvedParams, seed int64) (image.Image, error)
	Info() Info
}

// SeedSource returns the seed to use for the next job
type SeedSource func() int64

// FixedSeed returns a SeedSource that always yields seed, or a random one for RandomSeedSentinel
func FixedSeed(seed int64) SeedSource {
	if seed == RandomSeedSentinel {
		return RandomSeed
	}
	return func() int64 { return seed }
}

// RandomSeed draws a non-negative seed from crypto/rand
func RandomSeed() int64 {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 42
	}
	return int64(binary.LittleEndian.Uint64(buf[:]) & (1<<63 - 1))
}
