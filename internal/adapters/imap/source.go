// Package imap implements core.MailSource over IMAP4 with implicit TLS.
package imap

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"slices"
	"strconv"
	"strings"
	"time"

	goimap "github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/mikey/phish-filter/internal/core"
	"go.uber.org/zap"
)

const mailbox = "INBOX"

// Options configures server resolution and timeouts
type Options struct {
	Port         int
	DefaultHost  string
	DialTimeout  time.Duration
	FetchTimeout time.Duration
	Servers      map[string]string
}

type dialFunc func(ctx context.Context, addr string) (net.Conn, error)

// Source opens IMAP sessions against the server implied by the username
type Source struct {
	logger *zap.Logger
	opts   Options
	dial   dialFunc
}

// NewSource creates a new IMAP mail source
func NewSource(logger *zap.Logger, opts Options) *Source {
	if opts.Port <= 0 {
		opts.Port = 993
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 30 * time.Second
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = 30 * time.Second
	}
	return &Source{
		logger: logger,
		opts:   opts,
		dial:   dialTLS,
	}
}

func dialTLS(ctx context.Context, addr string) (net.Conn, error) {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, err
	}
	d := &tls.Dialer{Config: &tls.Config{ServerName: host, MinVersion: tls.VersionTLS12}}
	return d.DialContext(ctx, "tcp", addr)
}

// Source returns core.SourceIMAP
func (s *Source) Source() core.Source {
	return core.SourceIMAP
}

// Open connects, logs in and selects INBOX read-only
func (s *Source) Open(ctx context.Context, creds core.Credentials) (core.Session, error) {
	host := creds.Host
	if host == "" {
		host = ResolveServer(creds.Username, s.opts.Servers, s.opts.DefaultHost)
	}
	port := creds.Port
	if port <= 0 {
		port = s.opts.Port
	}
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	logger := s.logger.With(zap.String("server", addr), zap.String("username", creds.Username))

	dialCtx, cancel := context.WithTimeout(ctx, s.opts.DialTimeout)
	defer cancel()
	conn, err := s.dial(dialCtx, addr)
	if err != nil {
		return nil, &core.ConnectionError{
			Source: core.SourceIMAP,
			Err:    fmt.Errorf("failed to connect to %s: %w", addr, err),
		}
	}
	client := imapclient.New(conn, &imapclient.Options{})

	err = await(ctx, client, func() error {
		return client.Login(creds.Username, creds.Password).Wait()
	})
	if err != nil {
		_ = client.Close()
		var imapErr *goimap.Error
		if errors.As(err, &imapErr) {
			logger.Warn("IMAP login rejected", zap.String("response", imapErr.Text))
			return nil, &core.AuthError{Source: core.SourceIMAP, Err: err}
		}
		return nil, &core.ConnectionError{Source: core.SourceIMAP, Err: fmt.Errorf("failed to log in: %w", err)}
	}

	var selected *goimap.SelectData
	err = await(ctx, client, func() error {
		var err error
		selected, err = client.Select(mailbox, &goimap.SelectOptions{ReadOnly: true}).Wait()
		return err
	})
	if err != nil {
		_ = client.Close()
		return nil, &core.ConnectionError{Source: core.SourceIMAP, Err: fmt.Errorf("failed to select %s: %w", mailbox, err)}
	}

	logger.Debug("IMAP session opened",
		zap.Uint32("uid_validity", selected.UIDValidity),
		zap.Uint32("messages", selected.NumMessages))

	return &session{
		client:       client,
		uidValidity:  selected.UIDValidity,
		fetchTimeout: s.opts.FetchTimeout,
	}, nil
}

type session struct {
	client       *imapclient.Client
	uidValidity  uint32
	fetchTimeout time.Duration
}

// List returns the newest limit UIDs in ascending order
func (s *session) List(ctx context.Context, limit int) ([]string, error) {
	var uids []goimap.UID
	err := await(ctx, s.client, func() error {
		data, err := s.client.UIDSearch(&goimap.SearchCriteria{}, nil).Wait()
		if err != nil {
			return err
		}
		uids = data.AllUIDs()
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search %s: %w", mailbox, err)
	}

	slices.Sort(uids)
	if limit > 0 && len(uids) > limit {
		uids = uids[len(uids)-limit:]
	}

	handles := make([]string, 0, len(uids))
	for _, uid := range uids {
		handles = append(handles, formatHandle(s.uidValidity, uid))
	}
	return handles, nil
}

// Fetch retrieves BODY.PEEK[] so the message stays unread
func (s *session) Fetch(ctx context.Context, handle string) (*core.RawMessage, error) {
	validity, uid, err := parseHandle(handle)
	if err != nil {
		return nil, &core.FetchError{Handle: handle, Err: err}
	}
	if validity != s.uidValidity {
		return nil, &core.FetchError{
			Handle: handle,
			Err:    fmt.Errorf("uidvalidity changed from %d to %d", validity, s.uidValidity),
		}
	}

	fetchCtx, cancel := context.WithTimeout(ctx, s.fetchTimeout)
	defer cancel()

	section := &goimap.FetchItemBodySection{Peek: true}
	var body []byte
	err = await(fetchCtx, s.client, func() error {
		cmd := s.client.Fetch(goimap.UIDSetNum(uid), &goimap.FetchOptions{
			UID:         true,
			BodySection: []*goimap.FetchItemBodySection{section},
		})
		defer cmd.Close()

		msg := cmd.Next()
		if msg == nil {
			if err := cmd.Close(); err != nil {
				return err
			}
			return fmt.Errorf("message UID %d not found", uid)
		}
		buf, err := msg.Collect()
		if err != nil {
			return err
		}
		body = buf.FindBodySection(section)
		return cmd.Close()
	})
	if err != nil {
		return nil, &core.FetchError{Handle: handle, Err: err}
	}
	if body == nil {
		return nil, &core.FetchError{Handle: handle, Err: errors.New("server returned no body section")}
	}

	return &core.RawMessage{Source: core.SourceIMAP, Handle: handle, Data: body}, nil
}

// Close logs out and drops the connection
func (s *session) Close(ctx context.Context) error {
	logoutErr := await(ctx, s.client, func() error {
		return s.client.Logout().Wait()
	})
	closeErr := s.client.Close()
	if logoutErr != nil {
		return fmt.Errorf("failed to log out: %w", logoutErr)
	}
	if closeErr != nil && !errors.Is(closeErr, net.ErrClosed) {
		return fmt.Errorf("failed to close connection: %w", closeErr)
	}
	return nil
}

// await runs a blocking IMAP command and tears the connection down when ctx
// ends first, which unblocks the command.
func await(ctx context.Context, client *imapclient.Client, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	done := make(chan error, 1)
	go func() { done <- fn() }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		_ = client.Close()
		<-done
		return ctx.Err()
	}
}

func formatHandle(validity uint32, uid goimap.UID) string {
	return strconv.FormatUint(uint64(validity), 10) + ":" + strconv.FormatUint(uint64(uid), 10)
}

func parseHandle(handle string) (uint32, goimap.UID, error) {
	v, u, ok := strings.Cut(handle, ":")
	if !ok {
		return 0, 0, fmt.Errorf("malformed handle %q", handle)
	}
	validity, err := strconv.ParseUint(v, 10, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("malformed uidvalidity in handle %q: %w", handle, err)
	}
	uid, err := strconv.ParseUint(u, 10, 32)
	if err != nil || uid == 0 {
		return 0, 0, fmt.Errorf("malformed uid in handle %q", handle)
	}
	return uint32(validity), goimap.UID(uid), nil
}
