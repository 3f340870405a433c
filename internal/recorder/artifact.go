package recorder

import (
	"bytes"
	"time"

	"github.com/google/uuid"
)

// Artifact is one finished recording. The caller owns Data.
type Artifact struct {
	ID        uuid.UUID `json:"id"`
	MimeType  string    `json:"mime_type"`
	Data      []byte    `json:"-"`
	Chunks    int       `json:"chunks"`
	CreatedAt time.Time `json:"created_at"`
}

// Size returns the payload length in bytes
func (a *Artifact) Size() int {
	return len(a.Data)
}

func newArtifact(chunks [][]byte, mimeType string) *Artifact {
	return &Artifact{
		ID:        uuid.New(),
		MimeType:  mimeType,
		Data:      bytes.Join(chunks, nil),
		Chunks:    len(chunks),
		CreatedAt: time.Now(),
	}
}
