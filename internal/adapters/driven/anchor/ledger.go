// Package anchor publishes record integrity hashes to an HTTP ledger.
//
// The ledger is any service that accepts a JSON entry and answers with a
// reference to the appended entry (a transaction ID or sequence number).
package anchor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/custodia-labs/memweave/internal/core/domain"
	"github.com/custodia-labs/memweave/internal/core/ports/driven"
)

// Ensure Ledger implements the interface.
var _ driven.Anchorer = (*Ledger)(nil)

// RequestIDHeader carries a unique ID per publish so the ledger can
// deduplicate retries.
const RequestIDHeader = "X-Request-ID"

// DefaultTimeout bounds a publish when the config leaves it unset.
const DefaultTimeout = 5 * time.Second

// Ledger implements driven.Anchorer over HTTP.
type Ledger struct {
	client   *http.Client
	endpoint string
	token    string
}

type entry struct {
	RecordID  string    `json:"record_id"`
	Namespace string    `json:"namespace,omitempty"`
	Hash      string    `json:"hash"`
	Algorithm string    `json:"algorithm"`
	Timestamp time.Time `json:"timestamp"`
}

type receipt struct {
	Ref           string `json:"ref"`
	TransactionID string `json:"transaction_id"`
	Error         string `json:"error,omitempty"`
}

// NewLedger creates an anchorer that posts to endpoint.
func NewLedger(endpoint, token string, timeout time.Duration) *Ledger {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Ledger{
		client:   &http.Client{Timeout: timeout},
		endpoint: endpoint,
		token:    token,
	}
}

// FromConfig builds a ledger from the anchor settings.
// Returns nil when anchoring is disabled.
func FromConfig(cfg domain.AnchorConfig) driven.Anchorer {
	if !cfg.Enabled() {
		return nil
	}
	return NewLedger(cfg.Endpoint, cfg.Token, cfg.Timeout)
}

// Anchor posts the record's hash and returns the ledger reference.
func (l *Ledger) Anchor(ctx context.Context, record domain.Record) (driven.AnchorReceipt, error) {
	if record.IntegrityHash == "" {
		return driven.AnchorReceipt{}, fmt.Errorf("%w: record %s has no integrity hash", domain.ErrInvalidInput, record.ID)
	}

	body, err := json.Marshal(entry{
		RecordID:  record.ID,
		Namespace: record.Namespace,
		Hash:      record.IntegrityHash,
		Algorithm: "sha512",
		Timestamp: record.Timestamp.UTC(),
	})
	if err != nil {
		return driven.AnchorReceipt{}, fmt.Errorf("marshal entry: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.endpoint, bytes.NewReader(body))
	if err != nil {
		return driven.AnchorReceipt{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(RequestIDHeader, uuid.NewString())
	if l.token != "" {
		req.Header.Set("Authorization", "Bearer "+l.token)
	}

	resp, err := l.client.Do(req)
	if err != nil {
		return driven.AnchorReceipt{}, fmt.Errorf("%w: %v", domain.ErrAnchorFailure, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return driven.AnchorReceipt{}, fmt.Errorf("%w: ledger status %d: %s", domain.ErrAnchorFailure, resp.StatusCode, bytes.TrimSpace(msg))
	}

	var r receipt
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return driven.AnchorReceipt{}, fmt.Errorf("%w: decode receipt: %v", domain.ErrAnchorFailure, err)
	}
	if r.Error != "" {
		return driven.AnchorReceipt{}, fmt.Errorf("%w: %s", domain.ErrAnchorFailure, r.Error)
	}

	ref := r.Ref
	if ref == "" {
		ref = r.TransactionID
	}
	if ref == "" {
		return driven.AnchorReceipt{}, fmt.Errorf("%w: ledger returned no reference", domain.ErrAnchorFailure)
	}
	return driven.AnchorReceipt{Ref: ref}, nil
}
