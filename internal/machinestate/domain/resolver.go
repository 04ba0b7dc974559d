package domain

// GroupKey extracts the grouping dimension a stream is resolved over.
type GroupKey func(StatusRecord) int64

// ByTool groups the stream per tool.
func ByTool(r StatusRecord) int64 { return int64(r.ToolID) }

// ByMachine groups the stream per machine.
func ByMachine(r StatusRecord) int64 { return int64(r.MachineID) }

// ResolveLatest picks, per group, the record with the greatest RecordedAt.
// Equal timestamps are broken by slice position: the later element wins, so
// feeding records in insertion order gives last-write-wins. The function is
// pure; callers apply any status or type predicate AFTER resolution, never by
// pre-filtering the stream.
func ResolveLatest(records []StatusRecord, key GroupKey) map[int64]StatusRecord {
	resolved := make(map[int64]StatusRecord, len(records))
	for _, record := range records {
		k := key(record)
		prev, ok := resolved[k]
		if !ok || !record.RecordedAt.Before(prev.RecordedAt) {
			resolved[k] = record
		}
	}
	return resolved
}
