package knowledge

import (
	"sync/atomic"

	"github.com/symptom-expert-server/internal/domain"
)

// Holder publishes the current knowledge-base snapshot. Readers always see a
// complete snapshot; a swap never affects a diagnosis already in flight.
type Holder struct {
	current atomic.Pointer[domain.KnowledgeBase]
}

// NewHolder creates a holder serving kb.
func NewHolder(kb *domain.KnowledgeBase) *Holder {
	h := &Holder{}
	h.current.Store(kb)
	return h
}

// Current implements domain.KnowledgeBaseProvider.
func (h *Holder) Current() *domain.KnowledgeBase {
	return h.current.Load()
}

// Swap installs kb and returns the previous snapshot.
func (h *Holder) Swap(kb *domain.KnowledgeBase) *domain.KnowledgeBase {
	return h.current.Swap(kb)
}
