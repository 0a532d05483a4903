package pipeline

import (
	"context"

	"github.com/dvloznov/settlement-ledger/internal/domain"
)

// MailSource lists and fetches notification emails.
type MailSource interface {
	// ListPage returns message stubs (only ExternalID set) matching query and
	// the token of the next page, empty on the last page.
	ListPage(ctx context.Context, query, pageToken string) ([]domain.RawMessage, string, error)
	// Fetch loads the full message.
	Fetch(ctx context.Context, externalID string) (domain.RawMessage, error)
}

// RawArchive keeps a copy of every fetched message for audit and replay.
type RawArchive interface {
	// ArchiveRawMessage stores msg and returns its URI.
	ArchiveRawMessage(ctx context.Context, msg domain.RawMessage) (string, error)
}

// Classifier is consulted for messages the pattern extractor leaves unknown.
type Classifier interface {
	Classify(ctx context.Context, subject, body string) (domain.Draft, error)
}
