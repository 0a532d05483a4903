// Package gmail reads payment notification emails from a Gmail mailbox.
package gmail

import (
	"context"
	"fmt"
	"time"

	"github.com/dvloznov/settlement-ledger/internal/domain"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"golang.org/x/time/rate"
	gmailapi "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

const (
	// pageSize is the number of message stubs requested per listing call.
	pageSize = 100

	userID = "me"
)

// Credentials identify the OAuth client and the long-lived refresh token of
// the mailbox owner.
type Credentials struct {
	ClientID     string
	ClientSecret string
	RefreshToken string
	RedirectURI  string
}

// Source lists and fetches messages through the Gmail API. Every API call
// waits on a shared rate limiter.
type Source struct {
	svc     *gmailapi.Service
	limiter *rate.Limiter
}

// NewSource creates a Source authenticated with a refresh-token source.
func NewSource(ctx context.Context, creds Credentials, requestsPerSecond float64, burst int) (*Source, error) {
	cfg := &oauth2.Config{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		RedirectURL:  creds.RedirectURI,
		Endpoint:     google.Endpoint,
		Scopes:       []string{gmailapi.GmailReadonlyScope},
	}
	ts := cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: creds.RefreshToken})

	svc, err := gmailapi.NewService(ctx, option.WithTokenSource(ts))
	if err != nil {
		return nil, fmt.Errorf("NewSource: create gmail service: %w", err)
	}
	return NewSourceWithService(svc, requestsPerSecond, burst), nil
}

// NewSourceWithService wraps an existing service, e.g. one pointed at a test
// server.
func NewSourceWithService(svc *gmailapi.Service, requestsPerSecond float64, burst int) *Source {
	if requestsPerSecond <= 0 {
		requestsPerSecond = 5
	}
	if burst <= 0 {
		burst = 1
	}
	return &Source{
		svc:     svc,
		limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), burst),
	}
}

// ListPage returns up to pageSize message stubs matching query and the token
// of the next page.
func (s *Source) ListPage(ctx context.Context, query, pageToken string) ([]domain.RawMessage, string, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, "", fmt.Errorf("ListPage: %w", err)
	}

	call := s.svc.Users.Messages.List(userID).Q(query).MaxResults(pageSize).Context(ctx)
	if pageToken != "" {
		call = call.PageToken(pageToken)
	}
	resp, err := call.Do()
	if err != nil {
		return nil, "", fmt.Errorf("ListPage: list messages: %w", err)
	}

	stubs := make([]domain.RawMessage, 0, len(resp.Messages))
	for _, m := range resp.Messages {
		stubs = append(stubs, domain.RawMessage{ExternalID: m.Id})
	}
	return stubs, resp.NextPageToken, nil
}

// Fetch loads the full message and flattens its body to text.
func (s *Source) Fetch(ctx context.Context, externalID string) (domain.RawMessage, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return domain.RawMessage{}, fmt.Errorf("Fetch: %w", err)
	}

	msg, err := s.svc.Users.Messages.Get(userID, externalID).Format("full").Context(ctx).Do()
	if err != nil {
		return domain.RawMessage{}, fmt.Errorf("Fetch: get message %s: %w", externalID, err)
	}
	return toRawMessage(msg), nil
}

func toRawMessage(msg *gmailapi.Message) domain.RawMessage {
	raw := domain.RawMessage{ExternalID: msg.Id}

	var dateHeader string
	if msg.Payload != nil {
		raw.Subject = decodeHeader(header(msg.Payload.Headers, "Subject"))
		dateHeader = header(msg.Payload.Headers, "Date")
		raw.BodyText = composeBody(msg.Payload)
	}
	raw.ReceivedAt = receivedAt(dateHeader, msg.InternalDate)
	return raw
}

// receivedAt prefers the Date header and falls back to Gmail's internal
// timestamp in milliseconds.
func receivedAt(dateHeader string, internalDate int64) time.Time {
	if t, ok := parseDate(dateHeader); ok {
		return t.UTC()
	}
	return time.UnixMilli(internalDate).UTC()
}
