package config

const (
	// TopicEmbedBackfill is the NSQ topic that nudges the embedding backfill
	// worker after an upsert changed a document's retrievable text.
	TopicEmbedBackfill = "embed.backfill"
)
