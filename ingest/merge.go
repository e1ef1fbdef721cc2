package ingest

import (
	"sort"
	"strconv"
	"strings"

	"github.com/spanforge/spanforge/types"
)

// fieldPolicy selects the merge rule for one field.
type fieldPolicy int

const (
	// policyScalar: last writer wins by stamp; null never erases.
	policyScalar fieldPolicy = iota
	// policyIdentity: the earliest-stamped writer wins, forever.
	policyIdentity
	// policyMetadata: recursive deep merge with per-leaf stamps.
	policyMetadata
	// policyTags: sorted set union.
	policyTags
	// policyIO: free-form payloads, last non-null writer wins whole.
	policyIO
)

// identityFields are immutable once set, per entity kind.
var identityFields = map[types.EntityKind]map[string]bool{
	types.KindObservation: {"traceId": true, "parentObservationId": true, "type": true},
	types.KindScore:       {"traceId": true, "observationId": true},
}

func policyFor(kind types.EntityKind, field string) fieldPolicy {
	if identityFields[kind][field] {
		return policyIdentity
	}
	switch field {
	case "metadata":
		return policyMetadata
	case "tags":
		return policyTags
	case "input", "output", "usage", "modelParameters":
		return policyIO
	default:
		return policyScalar
	}
}

// mergeFields folds the incoming event fields into the existing state.
// The merge is commutative and associative over events: which value
// survives depends only on stamps, never on arrival order. Both maps
// are mutated and returned; pass copies if the originals must survive.
func mergeFields(
	kind types.EntityKind,
	fields map[string]any, stamps map[string]types.FieldStamp,
	incoming map[string]any, stamp types.FieldStamp,
) (map[string]any, map[string]types.FieldStamp) {
	if fields == nil {
		fields = make(map[string]any, len(incoming))
	}
	if stamps == nil {
		stamps = make(map[string]types.FieldStamp, len(incoming))
	}

	for key, value := range incoming {
		if value == nil {
			continue
		}
		existing, seen := stamps[key]

		switch policyFor(kind, key) {
		case policyIdentity:
			// the earliest writer owns the field; a replayed or
			// later-stamped different value is ignored
			if !seen || stamp.Before(existing) {
				fields[key] = value
				stamps[key] = stamp
			}

		case policyMetadata:
			if scrubbed := scrubMetadata(value); scrubbed != nil {
				fields[key] = mergeMetadata(fields[key], scrubbed, stamps, key, stamp)
			}

		case policyTags:
			fields[key] = unionTags(fields[key], value)
			if !seen || existing.Before(stamp) {
				stamps[key] = stamp
			}

		default: // policyScalar, policyIO
			if !seen || existing.Before(stamp) {
				fields[key] = value
				stamps[key] = stamp
			}
		}
	}

	return fields, stamps
}

// mergeMetadata deep-merges src into dst. Objects union recursively and
// arrays merge element-wise; each leaf carries its own stamp under a
// path key ("metadata/a/b") and conflicting leaves resolve to the
// newest stamp. A write that replaces a subtree with a different shape
// (object where a scalar stood, scalar where an array stood) leaves a
// replacement stamp at the container path: everything under the path
// that is older than the replacement is erased, whether it is already
// present or still in flight, so every arrival order converges on the
// same state. src must already be scrubbed by scrubMetadata.
func mergeMetadata(dst, src any, stamps map[string]types.FieldStamp, path string, srcStamp types.FieldStamp) any {
	if src == nil {
		return dst
	}

	// writes older than the newest replacement below this path are dead
	// on arrival
	if marker, ok := stamps[path]; ok && srcStamp.Before(marker) {
		return dst
	}

	if dst == nil {
		recordLeafStamps(src, stamps, path, srcStamp)
		return src
	}

	if dstMap, ok := dst.(map[string]any); ok {
		if srcMap, ok := src.(map[string]any); ok {
			for key, srcVal := range srcMap {
				childPath := path + "/" + key
				dstMap[key] = mergeMetadata(dstMap[key], srcVal, stamps, childPath, srcStamp)
			}
			return dstMap
		}
	}

	if dstArr, ok := dst.([]any); ok {
		if srcArr, ok := src.([]any); ok {
			n := len(dstArr)
			if len(srcArr) > n {
				n = len(srcArr)
			}
			out := make([]any, n)
			for i := range out {
				childPath := path + "/" + strconv.Itoa(i)
				switch {
				case i >= len(dstArr):
					out[i] = mergeMetadata(nil, srcArr[i], stamps, childPath, srcStamp)
				case i >= len(srcArr):
					out[i] = dstArr[i]
				default:
					out[i] = mergeMetadata(dstArr[i], srcArr[i], stamps, childPath, srcStamp)
				}
			}
			return out
		}
	}

	// leaf conflict, or a subtree replaced by a different shape: the
	// newest stamp under the path decides, and the loser's older
	// entries are erased either way
	newest, seen := maxStampUnder(stamps, path)
	if !seen || newest.Before(srcStamp) {
		clearStampsUnder(stamps, path)
		if seen && isContainer(src) {
			stamps[path] = newest
		}
		recordLeafStamps(src, stamps, path, srcStamp)
		return src
	}
	if isContainer(dst) {
		if marker, ok := stamps[path]; !ok || marker.Before(srcStamp) {
			stamps[path] = srcStamp
		}
		if pruned, ok := pruneOlder(dst, stamps, path, srcStamp); ok {
			return pruned
		}
	}
	return dst
}

// scrubMetadata strips null leaves and empty containers from incoming
// metadata, so null and absent are indistinguishable to the merge.
// Arrays keep interior nulls as positional gaps but shed trailing
// ones. Returns nil when nothing substantive remains.
func scrubMetadata(v any) any {
	switch val := v.(type) {
	case map[string]any:
		for key, elem := range val {
			if scrubbed := scrubMetadata(elem); scrubbed != nil {
				val[key] = scrubbed
			} else {
				delete(val, key)
			}
		}
		if len(val) == 0 {
			return nil
		}
		return val
	case []any:
		last := -1
		for i, elem := range val {
			val[i] = scrubMetadata(elem)
			if val[i] != nil {
				last = i
			}
		}
		if last < 0 {
			return nil
		}
		return val[:last+1]
	default:
		return v
	}
}

// pruneOlder erases leaves under path stamped before cutoff: map keys
// are deleted, array elements become positional gaps with the tail
// trimmed, and containers emptied by the erasure vanish along with
// their stamps. The second return is false when nothing survived.
func pruneOlder(v any, stamps map[string]types.FieldStamp, path string, cutoff types.FieldStamp) (any, bool) {
	switch val := v.(type) {
	case map[string]any:
		for key, elem := range val {
			kept, ok := pruneOlder(elem, stamps, path+"/"+key, cutoff)
			if ok {
				val[key] = kept
			} else {
				delete(val, key)
			}
		}
		if len(val) == 0 {
			clearStampsUnder(stamps, path)
			return nil, false
		}
		return val, true
	case []any:
		last := -1
		for i, elem := range val {
			kept, ok := pruneOlder(elem, stamps, path+"/"+strconv.Itoa(i), cutoff)
			if !ok {
				val[i] = nil
				continue
			}
			val[i] = kept
			if kept != nil {
				last = i
			}
		}
		if last < 0 {
			clearStampsUnder(stamps, path)
			return nil, false
		}
		return val[:last+1], true
	default:
		if stamp, ok := stamps[path]; ok && stamp.Before(cutoff) {
			delete(stamps, path)
			return nil, false
		}
		return v, true
	}
}

func isContainer(v any) bool {
	switch v.(type) {
	case map[string]any, []any:
		return true
	}
	return false
}

// recordLeafStamps stamps every non-null scalar leaf of v under its path.
func recordLeafStamps(v any, stamps map[string]types.FieldStamp, path string, stamp types.FieldStamp) {
	switch val := v.(type) {
	case map[string]any:
		for key, elem := range val {
			recordLeafStamps(elem, stamps, path+"/"+key, stamp)
		}
	case []any:
		for i, elem := range val {
			recordLeafStamps(elem, stamps, path+"/"+strconv.Itoa(i), stamp)
		}
	case nil:
		// positional gaps carry no stamp
	default:
		stamps[path] = stamp
	}
}

// maxStampUnder returns the newest stamp at path or below it.
func maxStampUnder(stamps map[string]types.FieldStamp, path string) (types.FieldStamp, bool) {
	var max types.FieldStamp
	found := false
	prefix := path + "/"
	for key, stamp := range stamps {
		if key != path && !strings.HasPrefix(key, prefix) {
			continue
		}
		if !found || max.Before(stamp) {
			max = stamp
		}
		found = true
	}
	return max, found
}

func clearStampsUnder(stamps map[string]types.FieldStamp, path string) {
	prefix := path + "/"
	for key := range stamps {
		if key == path || strings.HasPrefix(key, prefix) {
			delete(stamps, key)
		}
	}
}

// unionTags unions two tag arrays into a sorted, deduplicated list.
// Sorting keeps the merged state identical across event permutations.
func unionTags(existing, incoming any) []any {
	set := make(map[string]bool)
	collect := func(v any) {
		arr, ok := v.([]any)
		if !ok {
			return
		}
		for _, elem := range arr {
			if s, ok := elem.(string); ok {
				set[s] = true
			}
		}
	}
	collect(existing)
	collect(incoming)

	tags := make([]string, 0, len(set))
	for tag := range set {
		tags = append(tags, tag)
	}
	sort.Strings(tags)

	out := make([]any, len(tags))
	for i, tag := range tags {
		out[i] = tag
	}
	return out
}
