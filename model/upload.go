package model

import (
	"time"
)

// UploadKind identifies which half of a document pair an upload is.
const (
	KindContract = "contract"
	KindData     = "data"
)

// Upload represents an ingested file. Records are immutable after creation;
// only deletion is allowed, and only by the owner or a privileged user.
type Upload struct {
	ID             string    `json:"id"`
	CorrelationKey string    `json:"correlation_key"`
	Kind           string    `json:"kind"` // contract, data
	Filename       string    `json:"filename"`
	ByteSize       int64     `json:"byte_size"`
	MimeType       string    `json:"mime_type"`
	ObjectName     string    `json:"-"` // blob store reference
	OwnerID        string    `json:"owner_id"`
	CreatedAt      time.Time `json:"created_at"`
}

// UploadPair groups the contract and data uploads sharing one correlation key.
type UploadPair struct {
	CorrelationKey string
	Contract       *Upload
	Data           *Upload
}

// Complete reports whether both halves of the pair are present.
func (p *UploadPair) Complete() bool {
	return p != nil && p.Contract != nil && p.Data != nil
}
