package timeline

import (
	"errors"
	"sort"
	"sync"

	"github.com/dij0s/eXPOSE/internal/store"
	"github.com/dij0s/eXPOSE/internal/types"
	"github.com/rs/zerolog"
)

// SlotWidth is the horizontal space given to one message, in layout units
const SlotWidth = 320

// ErrNotAttachment is returned when selecting a message that carries no image
var ErrNotAttachment = errors.New("message is not an attachment")

// Entry is one message placed on the shared time axis
type Entry struct {
	types.ChatMessage
	Index    int    `json:"index"`    // position in the globally sorted order
	Position int    `json:"position"` // Index × SlotWidth
	IsImage  bool   `json:"isImage"`
	Clock    string `json:"clock"` // HH:MM:SS UTC
}

// Row is the lane of a single sender. Entries keep their global position, so
// lanes show gaps where other agents spoke.
type Row struct {
	Agent   string  `json:"agent"`
	Entries []Entry `json:"entries"`
}

// View is the reconstructed timeline
type View struct {
	Agents   []string `json:"agents"`
	Sorted   []Entry  `json:"sorted"`
	Rows     []Row    `json:"rows"`
	Width    int      `json:"width"`
	Selected string   `json:"selected,omitempty"`
}

// Agents returns distinct senders in order of first appearance
func Agents(messages []types.ChatMessage) []string {
	seen := make(map[string]struct{})
	agents := make([]string, 0)
	for _, m := range messages {
		if m.From == "" {
			continue
		}
		if _, ok := seen[m.From]; ok {
			continue
		}
		seen[m.From] = struct{}{}
		agents = append(agents, m.From)
	}
	return agents
}

// Build lays out messages: stable sort by timestamp, one slot per message,
// one row per sender. minWidth is the viewport floor for the total width.
func Build(messages []types.ChatMessage, minWidth int) View {
	sorted := make([]types.ChatMessage, len(messages))
	copy(sorted, messages)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Timestamp < sorted[j].Timestamp })

	view := View{Agents: Agents(messages)}

	view.Sorted = make([]Entry, len(sorted))
	for i, m := range sorted {
		view.Sorted[i] = Entry{
			ChatMessage: m,
			Index:       i,
			Position:    i * SlotWidth,
			IsImage:     IsImage(m.Body),
			Clock:       m.Time().UTC().Format("15:04:05"),
		}
	}

	view.Rows = make([]Row, len(view.Agents))
	lane := make(map[string]int, len(view.Agents))
	for i, agent := range view.Agents {
		view.Rows[i] = Row{Agent: agent, Entries: []Entry{}}
		lane[agent] = i
	}
	for _, e := range view.Sorted {
		if i, ok := lane[e.From]; ok {
			view.Rows[i].Entries = append(view.Rows[i].Entries, e)
		}
	}

	maxPosition := 0
	if n := len(view.Sorted); n > 0 {
		maxPosition = view.Sorted[n-1].Position + SlotWidth
	}
	view.Width = max(minWidth, maxPosition+SlotWidth)

	return view
}

// Find returns the entry with the given message id
func (v View) Find(id string) (Entry, bool) {
	for _, e := range v.Sorted {
		if e.ID == id {
			return e, true
		}
	}
	return Entry{}, false
}

// Reconstructor keeps a View in sync with the store's message log and owns
// the attachment selection
type Reconstructor struct {
	store    *store.Store
	minWidth int
	logger   zerolog.Logger

	mu        sync.RWMutex
	view      View
	selection Selection

	unsubscribe func()
}

// NewReconstructor builds the initial view and subscribes to message changes
func NewReconstructor(s *store.Store, minWidth int, logger zerolog.Logger) *Reconstructor {
	r := &Reconstructor{
		store:    s,
		minWidth: minWidth,
		logger:   logger.With().Str("component", "timeline").Logger(),
	}
	r.rebuild()
	r.unsubscribe = s.Subscribe(func(slice store.Slice) {
		if slice == store.SliceMessages {
			r.rebuild()
		}
	})
	return r
}

func (r *Reconstructor) rebuild() {
	view := Build(r.store.Messages(), r.minWidth)

	r.mu.Lock()
	r.view = view
	r.mu.Unlock()

	r.logger.Debug().
		Int("messages", len(view.Sorted)).
		Int("agents", len(view.Agents)).
		Msg("timeline rebuilt")
}

// View returns the latest view with the current selection applied
func (r *Reconstructor) View() View {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v := r.view
	v.Selected, _ = r.selection.Selected()
	return v
}

// Select clicks the attachment placeholder of messageID
func (r *Reconstructor) Select(messageID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.view.Find(messageID)
	if !ok || !e.IsImage {
		return ErrNotAttachment
	}
	r.selection.Click(messageID)
	return nil
}

// ClickOutside clears the selection
func (r *Reconstructor) ClickOutside() {
	r.mu.Lock()
	r.selection.ClickOutside()
	r.mu.Unlock()
}

// Close stops following the store
func (r *Reconstructor) Close() {
	if r.unsubscribe != nil {
		r.unsubscribe()
	}
}
