package imap

import (
	"context"
	"fmt"
	"net"
	"testing"

	goimap "github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-imap/v2/imapserver"
	"github.com/emersion/go-imap/v2/imapserver/imapmemserver"
	"github.com/mikey/phish-filter/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	testUser     = "alice@example.com"
	testPassword = "s3cret"
)

// startServer runs an in-memory IMAP server seeded with n messages
func startServer(t *testing.T, n int) (string, int) {
	t.Helper()

	memServer := imapmemserver.New()
	user := imapmemserver.NewUser(testUser, testPassword)
	require.NoError(t, user.Create("INBOX", nil))
	memServer.AddUser(user)

	server := imapserver.New(&imapserver.Options{
		NewSession: func(conn *imapserver.Conn) (imapserver.Session, *imapserver.GreetingData, error) {
			return memServer.NewSession(), nil, nil
		},
		Caps: goimap.CapSet{
			goimap.CapIMAP4rev1: {},
			goimap.CapIMAP4rev2: {},
		},
		InsecureAuth: true,
	})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = server.Serve(ln) }()
	t.Cleanup(func() { _ = server.Close() })

	addr := ln.Addr().(*net.TCPAddr)
	seed(t, addr.String(), n)
	return "127.0.0.1", addr.Port
}

func seed(t *testing.T, addr string, n int) {
	t.Helper()

	c, err := imapclient.DialInsecure(addr, nil)
	require.NoError(t, err)
	defer c.Close()
	require.NoError(t, c.Login(testUser, testPassword).Wait())

	for i := 1; i <= n; i++ {
		raw := []byte(fmt.Sprintf("Message-ID: <m%d@example.com>\r\nSubject: Message %d\r\n\r\nbody %d\r\n", i, i, i))
		cmd := c.Append("INBOX", int64(len(raw)), nil)
		_, err := cmd.Write(raw)
		require.NoError(t, err)
		require.NoError(t, cmd.Close())
		_, err = cmd.Wait()
		require.NoError(t, err)
	}
	require.NoError(t, c.Logout().Wait())
}

func newPlainSource() *Source {
	src := NewSource(zap.NewNop(), Options{})
	src.dial = func(ctx context.Context, addr string) (net.Conn, error) {
		var d net.Dialer
		return d.DialContext(ctx, "tcp", addr)
	}
	return src
}

func TestSource_ListAndFetch(t *testing.T) {
	host, port := startServer(t, 3)
	src := newPlainSource()
	ctx := context.Background()

	sess, err := src.Open(ctx, core.Credentials{Username: testUser, Password: testPassword, Host: host, Port: port})
	require.NoError(t, err)
	defer func() { assert.NoError(t, sess.Close(ctx)) }()

	all, err := sess.List(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	handles, err := sess.List(ctx, 2)
	require.NoError(t, err)
	require.Len(t, handles, 2)
	assert.Equal(t, all[1:], handles, "limit keeps the newest UIDs in ascending order")

	raw, err := sess.Fetch(ctx, handles[1])
	require.NoError(t, err)
	assert.Equal(t, core.SourceIMAP, raw.Source)
	assert.Equal(t, handles[1], raw.Handle)
	assert.Contains(t, string(raw.Data), "Subject: Message 3")
}

func TestSource_FetchRejectsStaleHandle(t *testing.T) {
	host, port := startServer(t, 1)
	ctx := context.Background()

	sess, err := newPlainSource().Open(ctx, core.Credentials{Username: testUser, Password: testPassword, Host: host, Port: port})
	require.NoError(t, err)
	defer sess.Close(ctx)

	handles, err := sess.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, handles, 1)

	validity, uid, err := parseHandle(handles[0])
	require.NoError(t, err)

	_, err = sess.Fetch(ctx, formatHandle(validity+1, uid))
	var fetchErr *core.FetchError
	assert.ErrorAs(t, err, &fetchErr)

	_, err = sess.Fetch(ctx, "garbage")
	assert.ErrorAs(t, err, &fetchErr)
}

func TestSource_BadPasswordIsAuthError(t *testing.T) {
	host, port := startServer(t, 0)

	_, err := newPlainSource().Open(context.Background(), core.Credentials{
		Username: testUser,
		Password: "wrong",
		Host:     host,
		Port:     port,
	})
	require.Error(t, err)
	assert.True(t, core.IsAuthError(err))
}

func TestSource_UnreachableServerIsConnectionError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	_, err = newPlainSource().Open(context.Background(), core.Credentials{
		Username: testUser,
		Password: testPassword,
		Host:     "127.0.0.1",
		Port:     port,
	})
	require.Error(t, err)
	assert.True(t, core.IsConnectionError(err))
	assert.False(t, core.IsAuthError(err))
}

func TestParseHandle(t *testing.T) {
	validity, uid, err := parseHandle("1700000000:42")
	require.NoError(t, err)
	assert.Equal(t, uint32(1700000000), validity)
	assert.Equal(t, goimap.UID(42), uid)
	assert.Equal(t, "1700000000:42", formatHandle(validity, uid))

	for _, bad := range []string{"", "42", "x:1", "1:y", "1:0", "1:99999999999"} {
		_, _, err := parseHandle(bad)
		assert.Error(t, err, bad)
	}
}

func TestResolveServer(t *testing.T) {
	overrides := map[string]string{"corp.test": "imap.corp.test"}

	tests := []struct {
		address     string
		defaultHost string
		want        string
	}{
		{"someone@gmail.com", "", "imap.gmail.com"},
		{"Someone@Outlook.com", "", "imap-mail.outlook.com"},
		{"x@hotmail.com", "", "imap-mail.outlook.com"},
		{"x@yahoo.com", "", "imap.mail.yahoo.com"},
		{"x@privateemail.com", "", "mail.privateemail.com"},
		{"x@corp.test", "", "imap.corp.test"},
		{"x@unknown.test", "", FallbackHost},
		{"x@unknown.test", "imap.example.net", "imap.example.net"},
	}

	for _, tt := range tests {
		t.Run(tt.address, func(t *testing.T) {
			assert.Equal(t, tt.want, ResolveServer(tt.address, overrides, tt.defaultHost))
		})
	}
}
