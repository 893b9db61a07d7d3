// Package gmail implements core.MailSource over the Gmail REST API.
package gmail

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	json "github.com/goccy/go-json"
	"github.com/mikey/phish-filter/internal/core"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	gmailapi "google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const (
	userID      = "me"
	inboxLabel  = "INBOX"
	maxPageSize = 500
)

// Options configures the API client and its circuit breaker
type Options struct {
	Timeout                    time.Duration
	Endpoint                   string
	BreakerMaxRequests         uint32
	BreakerInterval            time.Duration
	BreakerTimeout             time.Duration
	BreakerConsecutiveFailures uint32

	// BaseClient is the transport the bearer token is layered on; nil means http.DefaultClient
	BaseClient *http.Client
}

// Source opens Gmail API sessions from bearer tokens
type Source struct {
	logger *zap.Logger
	opts   Options
	cb     *gobreaker.CircuitBreaker
}

// NewSource creates a new Gmail mail source. The circuit breaker is shared by
// every session so a failing API trips once for all runs.
func NewSource(logger *zap.Logger, opts Options) *Source {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.BreakerMaxRequests == 0 {
		opts.BreakerMaxRequests = 3
	}
	if opts.BreakerInterval <= 0 {
		opts.BreakerInterval = 60 * time.Second
	}
	if opts.BreakerTimeout <= 0 {
		opts.BreakerTimeout = 30 * time.Second
	}
	if opts.BreakerConsecutiveFailures == 0 {
		opts.BreakerConsecutiveFailures = 5
	}

	settings := gobreaker.Settings{
		Name:        "gmail-api",
		MaxRequests: opts.BreakerMaxRequests,
		Interval:    opts.BreakerInterval,
		Timeout:     opts.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= opts.BreakerConsecutiveFailures
		},
		// client errors say nothing about API health
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			var apiErr *googleapi.Error
			if errors.As(err, &apiErr) {
				return apiErr.Code >= 400 && apiErr.Code < 500 && apiErr.Code != http.StatusTooManyRequests
			}
			return false
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	}

	return &Source{
		logger: logger,
		opts:   opts,
		cb:     gobreaker.NewCircuitBreaker(settings),
	}
}

// Source returns core.SourceGmail
func (s *Source) Source() core.Source {
	return core.SourceGmail
}

// Open builds an API client for the token and verifies it against the profile endpoint
func (s *Source) Open(ctx context.Context, creds core.Credentials) (core.Session, error) {
	if creds.Token == "" {
		return nil, &core.AuthError{Source: core.SourceGmail, Err: errors.New("missing access token")}
	}

	baseCtx := context.Background()
	if s.opts.BaseClient != nil {
		baseCtx = context.WithValue(baseCtx, oauth2.HTTPClient, s.opts.BaseClient)
	}
	httpClient := oauth2.NewClient(baseCtx, oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: creds.Token,
		TokenType:   "Bearer",
	}))
	httpClient.Timeout = s.opts.Timeout

	clientOpts := []option.ClientOption{option.WithHTTPClient(httpClient)}
	if s.opts.Endpoint != "" {
		clientOpts = append(clientOpts, option.WithEndpoint(s.opts.Endpoint))
	}
	svc, err := gmailapi.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, &core.ConnectionError{Source: core.SourceGmail, Err: fmt.Errorf("failed to create gmail client: %w", err)}
	}

	sess := &session{svc: svc, cb: s.cb}

	var profile *gmailapi.Profile
	err = sess.execute(func() error {
		var err error
		profile, err = svc.Users.GetProfile(userID).Context(ctx).Do()
		return err
	})
	if err != nil {
		if isAuthFailure(err) {
			return nil, &core.AuthError{Source: core.SourceGmail, Err: err}
		}
		return nil, &core.ConnectionError{Source: core.SourceGmail, Err: fmt.Errorf("failed to verify token: %w", err)}
	}

	s.logger.Debug("Gmail session opened",
		zap.String("email", profile.EmailAddress),
		zap.Int64("messages_total", profile.MessagesTotal))
	return sess, nil
}

func isAuthFailure(err error) bool {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code == http.StatusUnauthorized || apiErr.Code == http.StatusForbidden
	}
	var retrieveErr *oauth2.RetrieveError
	return errors.As(err, &retrieveErr)
}

type session struct {
	svc *gmailapi.Service
	cb  *gobreaker.CircuitBreaker
}

func (s *session) execute(fn func() error) error {
	_, err := s.cb.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	return err
}

// List pages through INBOX until limit ids are collected, newest first
func (s *session) List(ctx context.Context, limit int) ([]string, error) {
	var (
		ids       []string
		pageToken string
	)
	for {
		call := s.svc.Users.Messages.List(userID).LabelIds(inboxLabel).Context(ctx)
		if limit > 0 {
			call = call.MaxResults(int64(min(limit-len(ids), maxPageSize)))
		}
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}

		var resp *gmailapi.ListMessagesResponse
		err := s.execute(func() error {
			var err error
			resp, err = call.Do()
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("failed to list messages: %w", err)
		}

		for _, m := range resp.Messages {
			ids = append(ids, m.Id)
			if limit > 0 && len(ids) >= limit {
				return ids, nil
			}
		}
		if resp.NextPageToken == "" {
			return ids, nil
		}
		pageToken = resp.NextPageToken
	}
}

// Fetch returns the users.messages resource in full format as JSON
func (s *session) Fetch(ctx context.Context, handle string) (*core.RawMessage, error) {
	var msg *gmailapi.Message
	err := s.execute(func() error {
		var err error
		msg, err = s.svc.Users.Messages.Get(userID, handle).Format("full").Context(ctx).Do()
		return err
	})
	if err != nil {
		return nil, &core.FetchError{Handle: handle, Err: err}
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return nil, &core.FetchError{Handle: handle, Err: fmt.Errorf("failed to encode message: %w", err)}
	}
	return &core.RawMessage{Source: core.SourceGmail, Handle: handle, Data: data}, nil
}

// Close is a no-op; the API is stateless
func (s *session) Close(ctx context.Context) error {
	return nil
}
