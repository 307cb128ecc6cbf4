package schema

import (
	"sync"
)

// KeyMap is a bidirectional (type, keyName, remoteValue) <-> localId
// mapping, populated lazily as records carrying `keys` are seen.
type KeyMap struct {
	mu      sync.RWMutex
	forward map[string]string // "type/keyName/remoteValue" -> localId
	reverse map[string]string // "type/keyName/localId" -> remoteValue
}

func NewKeyMap() *KeyMap {
	return &KeyMap{
		forward: make(map[string]string),
		reverse: make(map[string]string),
	}
}

func fKey(modelType, keyName, remoteValue string) string {
	return modelType + "\x00" + keyName + "\x00" + remoteValue
}

func rKey(modelType, keyName, localID string) string {
	return modelType + "\x00" + keyName + "\x00" + localID
}

// PushRecord registers every (keyName -> remoteValue) pair on keys against
// localID, overwriting any prior mapping for that (type, keyName).
func (k *KeyMap) PushRecord(modelType, localID string, keys map[string]string) {
	if len(keys) == 0 {
		return
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	for keyName, remoteValue := range keys {
		if remoteValue == "" {
			continue
		}
		k.forward[fKey(modelType, keyName, remoteValue)] = localID
		k.reverse[rKey(modelType, keyName, localID)] = remoteValue
	}
}

func (k *KeyMap) IDFromKey(modelType, keyName, remoteValue string) (string, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	id, ok := k.forward[fKey(modelType, keyName, remoteValue)]
	return id, ok
}

func (k *KeyMap) KeyFromID(modelType, keyName, localID string) (string, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	value, ok := k.reverse[rKey(modelType, keyName, localID)]
	return value, ok
}

// Snapshot returns every (type, keyName, remoteValue, localID) tuple, used
// by durable KeyMap backends to persist the full map.
type KeyMapEntry struct {
	ModelType   string
	KeyName     string
	RemoteValue string
	LocalID     string
}

func (k *KeyMap) Snapshot() []KeyMapEntry {
	k.mu.RLock()
	defer k.mu.RUnlock()
	out := make([]KeyMapEntry, 0, len(k.reverse))
	for key, remoteValue := range k.reverse {
		modelType, keyName, localID := splitRKey(key)
		out = append(out, KeyMapEntry{ModelType: modelType, KeyName: keyName, RemoteValue: remoteValue, LocalID: localID})
	}
	return out
}

func splitRKey(key string) (modelType, keyName, localID string) {
	parts := splitNUL(key)
	if len(parts) != 3 {
		return "", "", ""
	}
	return parts[0], parts[1], parts[2]
}

func splitNUL(s string) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\x00' {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	out = append(out, s[start:])
	return out
}

// Restore loads entries produced by Snapshot, e.g. after reading a durable
// backend on startup.
func (k *KeyMap) Restore(entries []KeyMapEntry) {
	k.mu.Lock()
	defer k.mu.Unlock()
	for _, e := range entries {
		k.forward[fKey(e.ModelType, e.KeyName, e.RemoteValue)] = e.LocalID
		k.reverse[rKey(e.ModelType, e.KeyName, e.LocalID)] = e.RemoteValue
	}
}
