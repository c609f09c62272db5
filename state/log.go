package state

import (
	"log/slog"
	"sort"
	"time"

	"pointsledger/core/events"
)

type storedLogEntry struct {
	Type   string
	Keys   []string
	Values []string
	At     uint64
}

// AppendLog appends the notification to the persisted append-only log that
// off-chain consumers read for reconciliation.
func (m *Manager) AppendLog(evt *events.Event) error {
	if evt == nil {
		return nil
	}
	var entries []storedLogEntry
	if _, err := m.getDecoded(logKey, &entries); err != nil {
		return err
	}
	entry := storedLogEntry{Type: evt.Type, At: clampUint64(time.Now().UTC().Unix())}
	keys := make([]string, 0, len(evt.Attributes))
	for key := range evt.Attributes {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		entry.Keys = append(entry.Keys, key)
		entry.Values = append(entry.Values, evt.Attributes[key])
	}
	return m.putEncoded(logKey, append(entries, entry))
}

// LogEntries returns up to limit notifications, oldest first. A non-positive
// limit returns the whole log.
func (m *Manager) LogEntries(limit int) ([]*events.Event, error) {
	var entries []storedLogEntry
	if _, err := m.getDecoded(logKey, &entries); err != nil {
		return nil, err
	}
	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	out := make([]*events.Event, 0, len(entries))
	for _, entry := range entries {
		evt := &events.Event{Type: entry.Type, Attributes: make(map[string]string, len(entry.Keys))}
		for i, key := range entry.Keys {
			if i < len(entry.Values) {
				evt.Attributes[key] = entry.Values[i]
			}
		}
		out = append(out, evt)
	}
	return out, nil
}

// LogEmitter persists emitted events through the manager's append-only log.
type LogEmitter struct {
	manager *Manager
	logger  *slog.Logger
}

// NewLogEmitter wires an emitter that appends every event to the manager's
// log, reporting persistence failures through the supplied logger.
func NewLogEmitter(manager *Manager, logger *slog.Logger) *LogEmitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogEmitter{manager: manager, logger: logger}
}

// Emit implements events.Emitter.
func (l *LogEmitter) Emit(evt *events.Event) {
	if l == nil || l.manager == nil || evt == nil {
		return
	}
	if err := l.manager.AppendLog(evt); err != nil {
		l.logger.Error("append notification log", "type", evt.Type, "error", err)
	}
}
