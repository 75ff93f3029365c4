package requestid

import (
	"fmt"
	"io"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid"
)

const (
	GeneratorUUID = "uuid"
	GeneratorULID = "ulid"
)

// Generator should be implemented by types that can generate request ids.
type Generator interface {
	// Generate returns a new id using the implementation specific format or an error in case of failure.
	Generate() (string, error)
	// MustGenerate behaves like Generate but panics on failure instead of returning an error.
	MustGenerate() string
}

// NewGenerator returns the generator registered under name.
func NewGenerator(name string) (Generator, error) {
	switch name {
	case "", GeneratorUUID:
		return NewUUIDGenerator(), nil
	case GeneratorULID:
		return NewULIDGenerator(), nil
	default:
		return nil, fmt.Errorf("unknown request id generator: %q", name)
	}
}

type uuidGenerator struct{}

func NewUUIDGenerator() Generator {
	return uuidGenerator{}
}

func (uuidGenerator) Generate() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

func (g uuidGenerator) MustGenerate() string {
	id, err := g.Generate()
	if err != nil {
		panic(err)
	}
	return id
}

type ulidGenerator struct {
	sync.Mutex
	r io.Reader
}

func NewULIDGenerator() Generator {
	return NewULIDGeneratorWithEntropy(rand.New(rand.NewSource(time.Now().UTC().UnixNano())))
}

func NewULIDGeneratorWithEntropy(r io.Reader) Generator {
	return &ulidGenerator{r: r}
}

func (g *ulidGenerator) Generate() (string, error) {
	g.Lock()
	id, err := ulid.New(ulid.Now(), g.r)
	g.Unlock()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

func (g *ulidGenerator) MustGenerate() string {
	id, err := g.Generate()
	if err != nil {
		panic(err)
	}
	return id
}
