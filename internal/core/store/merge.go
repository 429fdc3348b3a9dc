package store

// Fields is a shallow field map as delivered by the server.
type Fields = map[string]any

// MergeFields returns a new map holding base overlaid with patch. Neither
// argument is modified, so previously returned snapshots stay immutable.
func MergeFields(base, patch Fields) Fields {
	out := make(Fields, len(base)+len(patch))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range patch {
		out[k] = v
	}
	return out
}

// MergeInto shallow-merges patch into the entry under key.
func MergeInto[K comparable](s *Store[K, Fields], key K, patch Fields) {
	s.Update(key, func(old Fields, _ bool) Fields {
		return MergeFields(old, patch)
	})
}
