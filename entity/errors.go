package entity

// ErrorKind classifies transfer failures. Step-resumable kinds leave the
// record in its prior step, the rest move it into the failed step.
type ErrorKind string

const (
	// ErrorInvalidParameters marks rejected caller input, never retried.
	ErrorInvalidParameters ErrorKind = "invalid_parameters"
	// ErrorTransactionRejected marks a submission the wallet or node refused.
	ErrorTransactionRejected ErrorKind = "transaction_rejected"
	// ErrorTransactionReverted marks an on-chain revert of a submitted transaction.
	ErrorTransactionReverted ErrorKind = "transaction_reverted"
	// ErrorMessageExtractionFailed is fatal post-burn, the burn hash is
	// preserved for manual recovery.
	ErrorMessageExtractionFailed ErrorKind = "message_extraction_failed"
	// ErrorAttestationTimeout means the attestation service never completed
	// within the polling budget. Resumable by re-entering polling.
	ErrorAttestationTimeout ErrorKind = "attestation_timeout"
	// ErrorAttestationServiceUnavailable means the attestation service failed
	// at the transport level for too many consecutive polls.
	ErrorAttestationServiceUnavailable ErrorKind = "attestation_service_unavailable"
	// ErrorDestinationSubmissionFailed marks a failed mint submission while
	// the attestation is already in hand.
	ErrorDestinationSubmissionFailed ErrorKind = "destination_submission_failed"
	// ErrorDuplicateMessage marks a single-flight conflict, another transfer
	// already owns the same message hash.
	ErrorDuplicateMessage ErrorKind = "duplicate_message"
)

// IsAttestationError reports whether a failed transfer may re-enter the
// attestation polling step without redoing the burn.
func (k ErrorKind) IsAttestationError() bool {
	return k == ErrorAttestationTimeout || k == ErrorAttestationServiceUnavailable
}
