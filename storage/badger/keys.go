package badger

import (
	"encoding/binary"
	"time"
)

// Key prefixes for different data types
const (
	checkpointPrefix  = "chkpt:"
	leasePrefix       = "lease:"
	runPrefix         = "run:"
	runDatePrefix     = "rund:"
	credentialsPrefix = "cred:"
	collectionPrefix  = "idxcol:"
	indexRecordPrefix = "idx:"
)

// Names are joined with a NUL so that a name cannot be a prefix of another
// name's keys.
const keySep = "\x00"

// makeCheckpointKey generates a key for a definition version checkpoint.
// Format: prefix:definition\x00version
func makeCheckpointKey(definition, version string) []byte {
	return []byte(checkpointPrefix + definition + keySep + version)
}

// makePartialCheckpointKey generates the prefix of all checkpoints of a definition.
func makePartialCheckpointKey(definition string) []byte {
	return []byte(checkpointPrefix + definition + keySep)
}

func makeLeaseKey(definition string) []byte {
	return []byte(leasePrefix + definition)
}

func makeRunKey(id string) []byte {
	return []byte(runPrefix + id)
}

// makeRunDateKey generates a composite key for the per-definition run index.
// Format: prefix:definition\x00timestamp:id
func makeRunDateKey(definition string, createdAt time.Time, id string) []byte {
	prefix := makePartialRunDateKey(definition)
	buf := make([]byte, len(prefix)+8+len(id))
	offset := copy(buf, prefix)
	// Write in BigEndian order so lexicographic sort works correctly
	binary.BigEndian.PutUint64(buf[offset:], uint64(createdAt.UnixMicro()))
	offset += 8
	copy(buf[offset:], id)
	return buf
}

// makePartialRunDateKey generates the prefix of a definition's run index.
func makePartialRunDateKey(definition string) []byte {
	return []byte(runDatePrefix + definition + keySep)
}

// runIDFromDateKey extracts the run ID from a run index key.
func runIDFromDateKey(definition string, key []byte) string {
	return string(key[len(makePartialRunDateKey(definition))+8:])
}

func makeCredentialsKey(definition string) []byte {
	return []byte(credentialsPrefix + definition)
}

func makeCollectionKey(collection string) []byte {
	return []byte(collectionPrefix + collection)
}

// makeIndexRecordKey generates a key for an index record.
// Format: prefix:collection\x00id
func makeIndexRecordKey(collection, id string) []byte {
	return []byte(indexRecordPrefix + collection + keySep + id)
}

func makePartialIndexRecordKey(collection string) []byte {
	return []byte(indexRecordPrefix + collection + keySep)
}
