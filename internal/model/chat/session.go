package chat

import "time"

// Session identifies one browser's portal workspace.
type Session struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
}

// Citation is a retrieved source link shown under an answer.
type Citation struct {
	ID   int    `json:"id"`
	Link string `json:"link"`
}

// AttachmentInfo describes the pending attachment without its bytes.
type AttachmentInfo struct {
	Name        string `json:"name"`
	ContentType string `json:"contentType,omitempty"`
	Size        int64  `json:"size"`
}
