package model

import (
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

// Transform is an ordered, id-tagged batch of operations. The id is a ULID:
// lexically sortable by creation time, so transforms collected from several
// sources can be merged into one display order without a shared sequence
// counter.
type Transform struct {
	ID         string
	Operations []Operation
}

var ulidEntropy = ulid.Monotonic(rand.Reader, 0)

func NewTransform(ops ...Operation) Transform {
	return Transform{ID: NewTransformID(), Operations: ops}
}

// NewTransformID mints a fresh ULID. Exposed so sources that receive
// operations from elsewhere (e.g. a JSON:API response) can stamp an id
// without round-tripping through NewTransform.
func NewTransformID() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), ulidEntropy).String()
}

// WithID returns a copy of the transform stamped with id, used when a
// source must preserve the submitter's id instead of minting its own.
func (t Transform) WithID(id string) Transform {
	t.ID = id
	return t
}
