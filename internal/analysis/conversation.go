package analysis

import (
	"sync"

	"github.com/google/uuid"

	"github.com/jackzampolin/novella/internal/providers"
)

// ConversationID is an opaque handle to a running chat history held by the
// Client. The zero value means stateless.
type ConversationID string

type conversation struct {
	mode    Mode
	history []providers.Message // alternating user/assistant turns
}

type conversations struct {
	mu    sync.Mutex
	byID  map[ConversationID]*conversation
	turns int
}

func newConversations(turns int) *conversations {
	return &conversations{byID: make(map[ConversationID]*conversation), turns: turns}
}

func (cs *conversations) start(mode Mode) ConversationID {
	id := ConversationID(uuid.New().String())
	cs.mu.Lock()
	cs.byID[id] = &conversation{mode: mode}
	cs.mu.Unlock()
	return id
}

func (cs *conversations) end(id ConversationID) {
	cs.mu.Lock()
	delete(cs.byID, id)
	cs.mu.Unlock()
}

// history returns a copy of the turns recorded so far. Unknown ids yield
// nil; a handle lost across a restart degrades to a stateless request.
func (cs *conversations) history(id ConversationID) []providers.Message {
	if id == "" {
		return nil
	}
	cs.mu.Lock()
	defer cs.mu.Unlock()
	c, ok := cs.byID[id]
	if !ok {
		return nil
	}
	out := make([]providers.Message, len(c.history))
	copy(out, c.history)
	return out
}

// append records one exchange, keeping at most turns exchanges.
func (cs *conversations) append(id ConversationID, user, assistant string) {
	if id == "" {
		return
	}
	cs.mu.Lock()
	defer cs.mu.Unlock()
	c, ok := cs.byID[id]
	if !ok {
		return
	}
	c.history = append(c.history,
		providers.Message{Role: providers.RoleUser, Content: user},
		providers.Message{Role: providers.RoleAssistant, Content: assistant},
	)
	if limit := cs.turns * 2; limit >= 0 && len(c.history) > limit {
		c.history = append([]providers.Message(nil), c.history[len(c.history)-limit:]...)
	}
}

func (cs *conversations) len() int {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return len(cs.byID)
}
