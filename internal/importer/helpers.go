package importer

import "sort"

// sortedKeys returns the keys of m in ascending order so that messages and
// errors built from maps come out deterministically.
func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
