package entity

import "time"

// DocumentAsset is a receipt or invoice attached to a claim.
type DocumentAsset struct {
	ID           string `json:"id"`
	ClaimID      string `json:"claim_id"`
	Handle       string `json:"handle"`
	URL          string `json:"url,omitempty"`
	OriginalName string `json:"original_name"`
	DisplayName  string `json:"display_name"`
	MimeType     string `json:"mime_type"`
	Size         int64  `json:"size"`
	// Digest is nil for assets uploaded before content hashing existed.
	Digest     *string   `json:"digest,omitempty"`
	UploadedBy string    `json:"uploaded_by"`
	UploadedAt time.Time `json:"uploaded_at"`
}

// HasDigest reports whether the asset can take part in duplicate detection.
func (d *DocumentAsset) HasDigest() bool {
	return d.Digest != nil && *d.Digest != ""
}

// Clone returns a copy that does not share the digest pointer.
func (d DocumentAsset) Clone() DocumentAsset {
	if d.Digest != nil {
		v := *d.Digest
		d.Digest = &v
	}
	return d
}

// Upload is a candidate file before it becomes a DocumentAsset.
type Upload struct {
	FileName string
	MimeType string
	Content  []byte
}

// Size returns the content length in bytes.
func (u Upload) Size() int64 {
	return int64(len(u.Content))
}
