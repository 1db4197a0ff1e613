package models

// MergeByID reconciles a local and a remote collection of the same family.
//
// For ids present on both sides the record with the newer modification time
// wins. Equal timestamps, including both missing, resolve to the remote copy.
// Records present on one side only are kept. Remote records come first in
// their original order, followed by local-only records in theirs.
//
// Merging the result again with the same remote collection yields the same result.
func MergeByID[T Record](local, remote []T) []T {
	localByID := make(map[RecordID]T, len(local))
	for _, l := range local {
		localByID[l.RecordID()] = l
	}

	merged := make([]T, 0, len(local)+len(remote))
	seen := make(map[RecordID]bool, len(remote))

	for _, r := range remote {
		seen[r.RecordID()] = true
		if l, ok := localByID[r.RecordID()]; ok && l.ModifiedAt() > r.ModifiedAt() {
			merged = append(merged, l)
			continue
		}
		merged = append(merged, r)
	}

	for _, l := range local {
		if !seen[l.RecordID()] {
			merged = append(merged, l)
		}
	}
	return merged
}
