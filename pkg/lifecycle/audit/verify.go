package audit

import (
	"context"
	"fmt"

	"mercator-hq/lethe/pkg/lifecycle"
)

// ChainError reports the first entry at which the chain does not verify.
type ChainError struct {
	Seq    int64
	Reason string
}

// Error implements the error interface.
func (e *ChainError) Error() string {
	return fmt.Sprintf("audit chain broken at seq %d: %s", e.Seq, e.Reason)
}

// VerifyReport summarises a successful verification.
type VerifyReport struct {
	Entries  int64  `json:"entries"`
	HeadSeq  int64  `json:"head_seq"`
	HeadHash string `json:"head_hash"`
}

// Verify recomputes every hash from the genesis entry and checks the links.
// It returns a *ChainError at the first broken link.
func (l *Log) Verify(ctx context.Context) (*VerifyReport, error) {
	report := &VerifyReport{}
	var prev *lifecycle.AuditEntry

	err := l.scan(ctx, lifecycle.AuditQuery{}, func(e *lifecycle.AuditEntry) error {
		wantSeq, wantPrev := int64(1), ""
		if prev != nil {
			wantSeq, wantPrev = prev.Seq+1, prev.Hash
		}
		if e.Seq != wantSeq {
			return &ChainError{Seq: e.Seq, Reason: fmt.Sprintf("expected seq %d", wantSeq)}
		}
		if e.PrevHash != wantPrev {
			return &ChainError{Seq: e.Seq, Reason: "previous hash mismatch"}
		}
		hash, err := e.ComputeHash()
		if err != nil {
			return err
		}
		if hash != e.Hash {
			return &ChainError{Seq: e.Seq, Reason: "content hash mismatch"}
		}

		prev = e
		report.Entries++
		return nil
	})
	if err != nil {
		return nil, err
	}

	if prev != nil {
		report.HeadSeq = prev.Seq
		report.HeadHash = prev.Hash
	}
	return report, nil
}
