package worker

// BackfillPayload nudges the embedding worker after an upsert changed a
// document's retrievable text. The worker runs a bounded batch regardless of
// which document triggered it; the id is carried for log correlation only.
type BackfillPayload struct {
	DocumentID    string `json:"document_id"`
	CorrelationID string `json:"correlation_id,omitempty"`
}
