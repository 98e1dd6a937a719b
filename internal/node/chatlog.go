package node

// ChatEntry is one stored message. Seq is unique and increasing per node.
type ChatEntry struct {
	Seq       uint64 `json:"seq"`
	From      string `json:"from"`
	To        string `json:"to"`
	Text      string `json:"text"`
	Timestamp uint32 `json:"ts"`
}

// ChatLog is a fixed-capacity message log that evicts its oldest entry when
// full and drops a message identical to one of the last window entries.
type ChatLog struct {
	capacity int
	window   int
	entries  []ChatEntry
	nextSeq  uint64
}

// NewChatLog returns an empty log.
func NewChatLog(capacity, window int) *ChatLog {
	return &ChatLog{capacity: capacity, window: window, nextSeq: 1}
}

// Add stores a message and reports whether it was kept. A duplicate returns
// the entry already stored.
func (l *ChatLog) Add(from, to, text string, ts uint32) (ChatEntry, bool) {
	if prev, ok := l.recent(from, to, text); ok {
		return prev, false
	}
	e := ChatEntry{Seq: l.nextSeq, From: from, To: to, Text: text, Timestamp: ts}
	l.nextSeq++
	if len(l.entries) >= l.capacity {
		copy(l.entries, l.entries[1:])
		l.entries = l.entries[:len(l.entries)-1]
	}
	l.entries = append(l.entries, e)
	return e, true
}

func (l *ChatLog) recent(from, to, text string) (ChatEntry, bool) {
	start := max(len(l.entries)-l.window, 0)
	for i := len(l.entries) - 1; i >= start; i-- {
		if e := l.entries[i]; e.From == from && e.To == to && e.Text == text {
			return e, true
		}
	}
	return ChatEntry{}, false
}

// Each calls fn for every entry, oldest first.
func (l *ChatLog) Each(fn func(ChatEntry)) {
	for _, e := range l.entries {
		fn(e)
	}
}

// All returns a copy of the log, oldest first.
func (l *ChatLog) All() []ChatEntry {
	return append([]ChatEntry(nil), l.entries...)
}

// Len returns the number of stored entries.
func (l *ChatLog) Len() int { return len(l.entries) }
