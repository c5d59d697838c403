package chat

import (
	"errors"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/zhouzirui/knowledge-portal/backend/internal/model/chat"
	"github.com/zhouzirui/knowledge-portal/backend/internal/service/knowledge"
)

var ErrRequestInFlight = errors.New("a request is already in progress")

// Attachment is the single file a workspace may hold before it is sent.
type Attachment struct {
	Name        string
	ContentType string
	Size        int64
	Data        []byte
}

// Info strips the payload.
func (a Attachment) Info() chat.AttachmentInfo {
	return chat.AttachmentInfo{Name: a.Name, ContentType: a.ContentType, Size: a.Size}
}

// Workspace is the application state of one browser session. The
// orchestrator and document manager receive it by reference.
type Workspace struct {
	chat.Session

	Conversation *Conversation
	Knowledge    *knowledge.Selection

	slot *semaphore.Weighted

	mu         sync.RWMutex
	loading    bool
	errMsg     string
	attachment *Attachment
	citations  []chat.Citation
}

// Snapshot is the JSON view a client renders from.
type Snapshot struct {
	SessionID           string                      `json:"sessionId"`
	Messages            []chat.Message              `json:"messages"`
	Loading             bool                        `json:"loading"`
	Error               string                      `json:"error,omitempty"`
	Attachment          *chat.AttachmentInfo        `json:"attachment,omitempty"`
	Knowledge           knowledge.SelectionSnapshot `json:"knowledge"`
	Citations           []chat.Citation             `json:"citations"`
	RefreshVectorStores bool                        `json:"refreshVectorStores"`
}

func newWorkspace(session chat.Session, sel *knowledge.Selection) *Workspace {
	return &Workspace{
		Session:      session,
		Conversation: NewConversation(),
		Knowledge:    sel,
		slot:         semaphore.NewWeighted(1),
		citations:    []chat.Citation{},
	}
}

// TryBegin admits one request at a time and raises the loading flag.
func (w *Workspace) TryBegin() error {
	if !w.slot.TryAcquire(1) {
		return ErrRequestInFlight
	}
	w.mu.Lock()
	w.loading = true
	w.mu.Unlock()
	return nil
}

// End clears the loading flag and frees the request slot.
func (w *Workspace) End() {
	w.mu.Lock()
	w.loading = false
	w.mu.Unlock()
	w.slot.Release(1)
}

// Reset clears the conversation. It holds the request slot for the duration,
// so it fails with ErrRequestInFlight instead of wiping a pending answer.
func (w *Workspace) Reset() error {
	if err := w.TryBegin(); err != nil {
		return err
	}
	defer w.End()
	w.Conversation.Reset()
	return nil
}

// Loading reports whether a request is in flight.
func (w *Workspace) Loading() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.loading
}

// SetError fills the banner slot.
func (w *Workspace) SetError(msg string) {
	w.mu.Lock()
	w.errMsg = msg
	w.mu.Unlock()
}

// ClearError dismisses the banner.
func (w *Workspace) ClearError() {
	w.SetError("")
}

// ErrorMessage returns the banner message.
func (w *Workspace) ErrorMessage() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.errMsg
}

// Attach replaces the pending attachment.
func (w *Workspace) Attach(a Attachment) {
	w.mu.Lock()
	w.attachment = &a
	w.mu.Unlock()
}

// Detach drops the pending attachment.
func (w *Workspace) Detach() {
	w.mu.Lock()
	w.attachment = nil
	w.mu.Unlock()
}

// Attachment returns the pending attachment, if any.
func (w *Workspace) Attachment() (Attachment, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.attachment == nil {
		return Attachment{}, false
	}
	return *w.attachment, true
}

// SetCitations replaces the citation list with links numbered from zero.
func (w *Workspace) SetCitations(links []string) {
	citations := make([]chat.Citation, 0, len(links))
	for i, link := range links {
		citations = append(citations, chat.Citation{ID: i, Link: link})
	}
	w.mu.Lock()
	w.citations = citations
	w.mu.Unlock()
}

// Citations returns the current citation list.
func (w *Workspace) Citations() []chat.Citation {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return append([]chat.Citation(nil), w.citations...)
}

// Snapshot copies everything a client needs to render the workspace.
func (w *Workspace) Snapshot() Snapshot {
	snap := Snapshot{
		SessionID:           w.ID,
		Messages:            w.Conversation.Messages(),
		Knowledge:           w.Knowledge.Snapshot(),
		RefreshVectorStores: w.Knowledge.RefreshPending(),
	}

	w.mu.RLock()
	snap.Loading = w.loading
	snap.Error = w.errMsg
	if w.attachment != nil {
		info := w.attachment.Info()
		snap.Attachment = &info
	}
	snap.Citations = append([]chat.Citation{}, w.citations...)
	w.mu.RUnlock()

	return snap
}
