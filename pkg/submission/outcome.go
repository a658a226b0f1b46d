package submission

import (
	"errors"

	"github.com/trepa-protocol/resolution-prover/pkg/ledger"
	"github.com/trepa-protocol/resolution-prover/pkg/metrics"
)

// Outcome is the classified result of one submission attempt.
type Outcome int

const (
	// OutcomeConfirmed means the ledger confirmed the transaction
	OutcomeConfirmed Outcome = iota
	// OutcomeAlreadyApplied means the effect is already on the ledger
	OutcomeAlreadyApplied
	// OutcomeBlockhashExpired means the transaction can no longer land and
	// must be re-signed against a fresh blockhash
	OutcomeBlockhashExpired
	// OutcomeRetryable covers every other failure
	OutcomeRetryable
)

func (o Outcome) String() string {
	switch o {
	case OutcomeConfirmed:
		return metrics.OutcomeConfirmed
	case OutcomeAlreadyApplied:
		return metrics.OutcomeAlreadyApplied
	case OutcomeBlockhashExpired:
		return metrics.OutcomeBlockhashExpired
	default:
		return metrics.OutcomeRetryable
	}
}

// Done reports whether the transaction leaves the pending set.
func (o Outcome) Done() bool {
	return o == OutcomeConfirmed || o == OutcomeAlreadyApplied
}

// Classify maps a submission error onto an Outcome. alreadyAppliedCodes are
// the custom program errors of the first instruction that mean the
// instruction's effect was applied by an earlier submission.
func Classify(err error, alreadyAppliedCodes []uint32) Outcome {
	if err == nil {
		return OutcomeConfirmed
	}
	if errors.Is(err, ledger.ErrBlockhashExpired) {
		return OutcomeBlockhashExpired
	}

	txErr, ok := ledger.AsTransactionError(err)
	if !ok {
		return OutcomeRetryable
	}
	switch txErr.Kind {
	case ledger.KindAlreadyProcessed:
		return OutcomeAlreadyApplied
	case ledger.KindBlockhashNotFound:
		return OutcomeBlockhashExpired
	}
	if txErr.IsCustom(0, alreadyAppliedCodes...) {
		return OutcomeAlreadyApplied
	}
	return OutcomeRetryable
}
