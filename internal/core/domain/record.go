package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Reserved metadata keys written by the orchestrator on every record.
const (
	MetaNamespace = "namespace"
	MetaTimestamp = "timestamp"
	MetaMemoryID  = "memory_id"

	// MetaSignificance is read by the default fusion policy to flag
	// critical findings. Callers set it; the orchestrator never does.
	MetaSignificance = "significance"
)

// RecordIDPrefix prefixes every generated record ID.
const RecordIDPrefix = "MEM_"

// Metadata is the caller-visible key/value map attached to a record.
// Values are JSON-compatible scalars or arrays.
type Metadata map[string]any

// Clone returns a shallow copy of the metadata.
func (m Metadata) Clone() Metadata {
	if m == nil {
		return Metadata{}
	}
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// String returns the value of key as a string, or "" if absent.
func (m Metadata) String(key string) string {
	v, ok := m[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return FormatValue(v)
}

// OutcomeStatus is the result of one backend operation for one record.
type OutcomeStatus string

const (
	// OutcomeSuccess means the backend acknowledged the record.
	OutcomeSuccess OutcomeStatus = "success"

	// OutcomeFailure means the backend errored or missed the deadline.
	OutcomeFailure OutcomeStatus = "failure"
)

// BackendOutcome records how a single backend handled a record.
type BackendOutcome struct {
	// Backend is the registered backend name.
	Backend string `json:"backend"`

	// Priority is copied from the descriptor so outcomes sort stably.
	Priority int `json:"priority"`

	// Status is success or failure.
	Status OutcomeStatus `json:"status"`

	// NativeID is the backend's own identifier for the record, if any.
	NativeID string `json:"native_id,omitempty"`

	// Error holds the failure message when Status is failure.
	Error string `json:"error,omitempty"`
}

// Succeeded reports whether the outcome is a success.
func (o BackendOutcome) Succeeded() bool {
	return o.Status == OutcomeSuccess
}

// Record is a logical memory stored across backends.
// ID and Content are immutable once assigned; a replacement is a new
// Record value under the same ID with a later Timestamp.
type Record struct {
	// ID is the opaque identifier derived from content, namespace and creation time.
	ID string `json:"id"`

	// Content is the opaque payload.
	Content string `json:"content"`

	// Namespace groups records (for example an investigation case).
	Namespace string `json:"namespace"`

	// Metadata holds caller keys plus the reserved keys above.
	Metadata Metadata `json:"metadata,omitempty"`

	// IntegrityHash is the deterministic hash of Content and Namespace.
	IntegrityHash string `json:"integrity_hash"`

	// Timestamp is the record's own version time, used for last-writer-wins.
	Timestamp time.Time `json:"timestamp"`

	// Anchored is true once the integrity hash was published to the anchor.
	Anchored bool `json:"anchored,omitempty"`

	// AnchorRef is the anchor's receipt for the hash, if anchored.
	AnchorRef string `json:"anchor_ref,omitempty"`

	// Outcomes holds one entry per backend that has handled the record,
	// ordered by backend priority then name.
	Outcomes []BackendOutcome `json:"outcomes,omitempty"`
}

// Clone returns a deep enough copy for safe mutation of metadata and outcomes.
func (r Record) Clone() Record {
	out := r
	out.Metadata = r.Metadata.Clone()
	out.Outcomes = append([]BackendOutcome(nil), r.Outcomes...)
	return out
}

// Supersedes reports whether r wins last-writer-wins against other:
// a later Timestamp, or an equal Timestamp with a greater IntegrityHash.
func (r Record) Supersedes(other Record) bool {
	if r.Timestamp.Equal(other.Timestamp) {
		return r.IntegrityHash > other.IntegrityHash
	}
	return r.Timestamp.After(other.Timestamp)
}

// WithoutOutcomes returns a copy for handing to a backend. Outcomes are
// orchestrator bookkeeping and are not persisted by backends.
func (r Record) WithoutOutcomes() Record {
	out := r.Clone()
	out.Outcomes = nil
	return out
}

// Durable reports whether at least one backend accepted the record.
func (r Record) Durable() bool {
	for _, o := range r.Outcomes {
		if o.Succeeded() {
			return true
		}
	}
	return false
}

// FullyReplicated reports whether every one of total backends accepted the record.
func (r Record) FullyReplicated(total int) bool {
	return total > 0 && len(r.AcceptedBackends()) >= total
}

// AcceptedBackends returns the names of backends with a success outcome.
func (r Record) AcceptedBackends() []string {
	var names []string
	for _, o := range r.Outcomes {
		if o.Succeeded() {
			names = append(names, o.Backend)
		}
	}
	return names
}

// Outcome returns the outcome recorded for backend, if any.
func (r Record) Outcome(backend string) (BackendOutcome, bool) {
	for _, o := range r.Outcomes {
		if o.Backend == backend {
			return o, true
		}
	}
	return BackendOutcome{}, false
}

// MergeOutcomes combines two outcome sets. For a backend present in both,
// a success wins over a failure; otherwise incoming replaces existing.
// The result is sorted by priority then backend name.
func MergeOutcomes(existing, incoming []BackendOutcome) []BackendOutcome {
	byName := make(map[string]BackendOutcome, len(existing)+len(incoming))
	for _, o := range existing {
		byName[o.Backend] = o
	}
	for _, o := range incoming {
		if prev, ok := byName[o.Backend]; ok && prev.Succeeded() && !o.Succeeded() {
			continue
		}
		byName[o.Backend] = o
	}
	out := make([]BackendOutcome, 0, len(byName))
	for _, o := range byName {
		out = append(out, o)
	}
	SortOutcomes(out)
	return out
}

// SortOutcomes orders outcomes by priority, then backend name.
func SortOutcomes(outcomes []BackendOutcome) {
	sort.Slice(outcomes, func(i, j int) bool {
		if outcomes[i].Priority != outcomes[j].Priority {
			return outcomes[i].Priority < outcomes[j].Priority
		}
		return outcomes[i].Backend < outcomes[j].Backend
	})
}

// NewRecordID derives a record ID from content, namespace and creation time:
// "MEM_" followed by the first 16 upper-case hex digits of
// SHA-256(content || namespace || unix-nanos).
func NewRecordID(content, namespace string, created time.Time) string {
	h := sha256.New()
	h.Write([]byte(content))
	h.Write([]byte(namespace))
	h.Write([]byte(strconv.FormatInt(created.UnixNano(), 10)))
	return RecordIDPrefix + strings.ToUpper(hex.EncodeToString(h.Sum(nil))[:16])
}

// StoreResult is returned to callers of store.
type StoreResult struct {
	// ID is the record identifier.
	ID string `json:"id"`

	// IntegrityHash is the record's integrity hash.
	IntegrityHash string `json:"integrity_hash"`

	// BackendsAccepted counts successful backend writes.
	BackendsAccepted int `json:"backends_accepted"`

	// BackendsTotal counts backends the write was dispatched to.
	BackendsTotal int `json:"backends_total"`

	// Outcomes is the full per-backend outcome vector.
	Outcomes []BackendOutcome `json:"outcomes"`

	// Anchored reports whether the integrity anchor had succeeded when the
	// result was built. Store publishes anchors in the background, so a
	// fresh write reports false and the indexed record is marked later.
	Anchored bool `json:"anchored"`

	// AnchorRef is the anchor receipt, if any.
	AnchorRef string `json:"anchor_ref,omitempty"`
}

// FullyReplicated reports whether every backend accepted the write.
func (r StoreResult) FullyReplicated() bool {
	return r.BackendsTotal > 0 && r.BackendsAccepted == r.BackendsTotal
}
