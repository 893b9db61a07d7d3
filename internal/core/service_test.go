package core_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mikey/phish-filter/internal/adapters/store"
	"github.com/mikey/phish-filter/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeSession struct {
	mu        sync.Mutex
	handles   []string
	listErr   error
	fetchErrs map[string]error
	onFetch   func(handle string)
	fetched   []string
	closed    int
}

func (s *fakeSession) List(ctx context.Context, limit int) ([]string, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	if limit > 0 && len(s.handles) > limit {
		return s.handles[len(s.handles)-limit:], nil
	}
	return s.handles, nil
}

func (s *fakeSession) Fetch(ctx context.Context, handle string) (*core.RawMessage, error) {
	s.mu.Lock()
	s.fetched = append(s.fetched, handle)
	s.mu.Unlock()
	if s.onFetch != nil {
		s.onFetch(handle)
	}
	if err := s.fetchErrs[handle]; err != nil {
		return nil, err
	}
	return &core.RawMessage{Handle: handle, Data: []byte(handle)}, nil
}

func (s *fakeSession) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
	return nil
}

type fakeSource struct {
	source  core.Source
	session *fakeSession
	openErr error
	opened  int
}

func (f *fakeSource) Source() core.Source { return f.source }

func (f *fakeSource) Open(ctx context.Context, creds core.Credentials) (core.Session, error) {
	if f.openErr != nil {
		return nil, f.openErr
	}
	f.opened++
	return f.session, nil
}

// fakeNormalizer looks messages up by handle
type fakeNormalizer struct {
	messages map[string]core.Message
	errs     map[string]error
}

func (n *fakeNormalizer) Normalize(raw *core.RawMessage) (*core.Message, error) {
	if err := n.errs[raw.Handle]; err != nil {
		return nil, &core.ParseError{Handle: raw.Handle, Err: err}
	}
	m, ok := n.messages[raw.Handle]
	if !ok {
		return nil, &core.ParseError{Handle: raw.Handle, Err: errors.New("unknown handle")}
	}
	m.Source = raw.Source
	return &m, nil
}

type classifierFunc func(ctx context.Context, subject, body string) (bool, error)

func (f classifierFunc) Classify(ctx context.Context, subject, body string) (bool, error) {
	return f(ctx, subject, body)
}

func phishyWhen(word string) classifierFunc {
	return func(ctx context.Context, subject, body string) (bool, error) {
		return strings.Contains(strings.ToLower(subject+" "+body), word), nil
	}
}

type recordingNotifier struct {
	mu  sync.Mutex
	ids []string
}

func (n *recordingNotifier) NotifyPhishing(ctx context.Context, msg *core.Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.ids = append(n.ids, msg.ID)
	return nil
}

type trustedDomain string

func (d trustedDomain) IsWhitelisted(from string) bool {
	return strings.HasSuffix(from, "@"+string(d))
}

// flakyStore fails selected writes on top of the memory store
type flakyStore struct {
	*store.MemoryStore
	failUpsert    map[string]bool
	failWatermark bool
}

func (s *flakyStore) UpsertMessage(ctx context.Context, msg *core.Message) (bool, error) {
	if s.failUpsert[msg.ID] {
		return false, errors.New("disk full")
	}
	return s.MemoryStore.UpsertMessage(ctx, msg)
}

func (s *flakyStore) AdvanceWatermark(ctx context.Context, source core.Source, ts time.Time) (*core.Watermark, error) {
	if s.failWatermark {
		return nil, errors.New("read-only database")
	}
	return s.MemoryStore.AdvanceWatermark(ctx, source, ts)
}

func day(d int) time.Time {
	return time.Date(2024, 3, d, 12, 0, 0, 0, time.UTC)
}

type fixture struct {
	source     *fakeSource
	session    *fakeSession
	normalizer *fakeNormalizer
	store      *flakyStore
	notifier   *recordingNotifier
}

// newFixture builds n messages with handles "1".."n", ids "id-1".."id-n" and
// timestamps on consecutive days of March 2024.
func newFixture(n int) *fixture {
	f := &fixture{
		session:    &fakeSession{fetchErrs: map[string]error{}},
		normalizer: &fakeNormalizer{messages: map[string]core.Message{}, errs: map[string]error{}},
		store:      &flakyStore{MemoryStore: store.NewMemoryStore(zap.NewNop()), failUpsert: map[string]bool{}},
		notifier:   &recordingNotifier{},
	}
	f.source = &fakeSource{source: core.SourceIMAP, session: f.session}
	for i := 1; i <= n; i++ {
		h := fmt.Sprint(i)
		f.session.handles = append(f.session.handles, h)
		f.normalizer.messages[h] = core.Message{
			ID:                "id-" + h,
			Sender:            "someone@example.com",
			Subject:           "Message " + h,
			Body:              "hello",
			Timestamp:         day(i),
			TimestampReliable: true,
		}
	}
	return f
}

func (f *fixture) service(c core.Classifier, trusted core.SenderPolicy) *core.IngestionService {
	if c == nil {
		c = phishyWhen("verify")
	}
	return core.NewIngestionService(
		[]core.MailSource{f.source},
		f.normalizer,
		c,
		f.store,
		f.notifier,
		trusted,
		zap.NewNop(),
		core.IngestOptions{MessageTimeout: time.Second, CloseTimeout: time.Second},
	)
}

func imapRun(limit int) core.RunRequest {
	return core.RunRequest{Source: core.SourceIMAP, Limit: limit}
}

func TestRun_FirstRunProcessesAllAndSetsWatermark(t *testing.T) {
	f := newFixture(3)
	report, err := f.service(nil, nil).Run(context.Background(), imapRun(10))
	require.NoError(t, err)

	assert.Equal(t, 3, report.Listed)
	assert.Equal(t, 3, report.Processed)
	assert.Len(t, report.Messages, 3)
	assert.Nil(t, report.PreviousWatermark)
	require.NotNil(t, report.Watermark)
	assert.Equal(t, day(3), report.Watermark.LastProcessedAt)
	assert.NotEmpty(t, report.RunID)
	assert.Equal(t, 1, f.session.closed)

	for _, m := range report.Messages {
		require.NotNil(t, m.IsPhishing)
		assert.False(t, *m.IsPhishing)
		assert.Equal(t, core.SourceIMAP, m.Source)
		assert.False(t, m.ReceivedAt.IsZero())
	}
}

func TestRun_SecondRunIsIdempotent(t *testing.T) {
	f := newFixture(3)
	svc := f.service(nil, nil)

	_, err := svc.Run(context.Background(), imapRun(10))
	require.NoError(t, err)

	report, err := svc.Run(context.Background(), imapRun(10))
	require.NoError(t, err)
	assert.Equal(t, 0, report.Processed)
	assert.Equal(t, 3, report.Skipped)
	assert.Empty(t, report.Messages)
	for _, o := range report.Outcomes {
		assert.Equal(t, core.ReasonAlreadySeen, o.Reason)
	}
	assert.Equal(t, day(3), report.Watermark.LastProcessedAt)

	stored, err := f.store.ListMessages(context.Background(), core.MessageFilter{})
	require.NoError(t, err)
	assert.Len(t, stored, 3)
}

func TestRun_ParseFailureIsSkippedAndWatermarkUsesSurvivors(t *testing.T) {
	f := newFixture(5)
	f.normalizer.errs["3"] = errors.New("truncated MIME")
	// make the survivors' max land on message 4
	m5 := f.normalizer.messages["5"]
	m5.Timestamp = day(1)
	f.normalizer.messages["5"] = m5

	report, err := f.service(nil, nil).Run(context.Background(), imapRun(5))
	require.NoError(t, err)

	assert.Equal(t, 4, report.Processed)
	assert.Equal(t, 1, report.Failed)
	assert.Len(t, report.Messages, 4)
	assert.Equal(t, day(4), report.Watermark.LastProcessedAt)

	failed := report.Outcomes[2]
	assert.Equal(t, core.OutcomeFailed, failed.Status)
	assert.Equal(t, core.StateNormalizing, failed.Stage)
	assert.Equal(t, "3", failed.Handle)
}

func TestRun_ExistingWatermarkFiltersOldAndUnreliable(t *testing.T) {
	f := newFixture(0)
	f.session.handles = []string{"old", "new", "unreliable"}
	f.normalizer.messages["old"] = core.Message{ID: "old", Timestamp: day(1).Add(-time.Hour), TimestampReliable: true}
	f.normalizer.messages["new"] = core.Message{ID: "new", Timestamp: day(2), TimestampReliable: true}
	f.normalizer.messages["unreliable"] = core.Message{ID: "unreliable", Timestamp: day(9), TimestampReliable: false}

	_, err := f.store.AdvanceWatermark(context.Background(), core.SourceIMAP, day(1))
	require.NoError(t, err)

	report, err := f.service(nil, nil).Run(context.Background(), imapRun(10))
	require.NoError(t, err)

	assert.Equal(t, 1, report.Processed)
	assert.Equal(t, "new", report.Messages[0].ID)
	assert.Equal(t, 2, report.Skipped)
	assert.Equal(t, core.ReasonNotNewer, report.Outcomes[0].Reason)
	assert.Equal(t, core.ReasonNotNewer, report.Outcomes[2].Reason)
	assert.Equal(t, day(1), report.PreviousWatermark.LastProcessedAt)
	assert.Equal(t, day(2), report.Watermark.LastProcessedAt)
}

func TestRun_UnreliableTimestampDoesNotMoveWatermark(t *testing.T) {
	f := newFixture(1)
	m := f.normalizer.messages["1"]
	m.TimestampReliable = false
	f.normalizer.messages["1"] = m

	report, err := f.service(nil, nil).Run(context.Background(), imapRun(10))
	require.NoError(t, err)

	assert.Equal(t, 1, report.Processed)
	assert.Nil(t, report.Watermark)
	wm, err := f.store.GetWatermark(context.Background(), core.SourceIMAP)
	require.NoError(t, err)
	assert.Nil(t, wm)
}

func TestRun_AuthFailureIsFatal(t *testing.T) {
	f := newFixture(2)
	f.source.openErr = &core.AuthError{Source: core.SourceIMAP, Err: errors.New("LOGIN failed")}

	report, err := f.service(nil, nil).Run(context.Background(), imapRun(10))
	require.Error(t, err)
	assert.True(t, core.IsConnectionError(err))
	assert.True(t, core.IsAuthError(err))
	require.NotNil(t, report)
	assert.Equal(t, 0, report.Processed)
	assert.Equal(t, 0, f.source.opened)
	assert.Equal(t, 0, f.session.closed)
	assert.Empty(t, f.session.fetched)
}

func TestRun_ListFailureClosesSession(t *testing.T) {
	f := newFixture(2)
	f.session.listErr = errors.New("connection reset")

	_, err := f.service(nil, nil).Run(context.Background(), imapRun(10))
	require.Error(t, err)
	assert.True(t, core.IsConnectionError(err))
	assert.False(t, core.IsAuthError(err))
	assert.Equal(t, 1, f.session.closed)
}

func TestRun_UnknownSource(t *testing.T) {
	f := newFixture(1)
	_, err := f.service(nil, nil).Run(context.Background(), core.RunRequest{Source: core.SourceGmail})
	assert.Error(t, err)
	assert.Equal(t, 0, f.source.opened)
}

func TestRun_PerMessageFailuresAreSoft(t *testing.T) {
	f := newFixture(4)
	f.session.fetchErrs["1"] = errors.New("BODY[] unavailable")
	f.store.failUpsert["id-3"] = true

	classifier := classifierFunc(func(ctx context.Context, subject, body string) (bool, error) {
		if subject == "Message 2" {
			return false, &core.ModelUnavailableError{Err: errors.New("backend down")}
		}
		return false, nil
	})

	report, err := f.service(classifier, nil).Run(context.Background(), imapRun(10))
	require.NoError(t, err)

	assert.Equal(t, 1, report.Processed)
	assert.Equal(t, 3, report.Failed)
	assert.Equal(t, "id-4", report.Messages[0].ID)
	assert.Equal(t, core.StateFetching, report.Outcomes[0].Stage)
	assert.Equal(t, core.StateClassifying, report.Outcomes[1].Stage)
	assert.Equal(t, core.StatePersisting, report.Outcomes[2].Stage)
	assert.Equal(t, day(4), report.Watermark.LastProcessedAt)

	seen, err := f.store.IsSeen(context.Background(), core.SourceIMAP, "id-3")
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestRun_WatermarkFailureIsReported(t *testing.T) {
	f := newFixture(2)
	f.store.failWatermark = true

	report, err := f.service(nil, nil).Run(context.Background(), imapRun(10))
	require.NoError(t, err)

	assert.Equal(t, 2, report.Processed)
	var persistErr *core.PersistenceError
	require.ErrorAs(t, report.WatermarkError, &persistErr)
	assert.Equal(t, "last_processed_time_imap", persistErr.Key)
	assert.Nil(t, report.Watermark)
}

func TestRun_CancellationStopsAtNextStage(t *testing.T) {
	f := newFixture(4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.session.onFetch = func(handle string) {
		if handle == "2" {
			cancel()
		}
	}

	report, err := f.service(nil, nil).Run(ctx, imapRun(10))
	require.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, report)

	assert.True(t, report.Cancelled)
	assert.Equal(t, 1, report.Processed)
	assert.Equal(t, []string{"1", "2"}, f.session.fetched)
	assert.Equal(t, core.ReasonCancelled, report.Outcomes[1].Reason)
	assert.Equal(t, 1, f.session.closed)

	// work persisted before cancellation still advances the watermark
	wm, err := f.store.GetWatermark(context.Background(), core.SourceIMAP)
	require.NoError(t, err)
	require.NotNil(t, wm)
	assert.Equal(t, day(1), wm.LastProcessedAt)
}

func TestRun_TrustedSenderBypassesClassifier(t *testing.T) {
	f := newFixture(2)
	m := f.normalizer.messages["1"]
	m.Sender = "it@corp.test"
	m.Subject = "please verify your password"
	f.normalizer.messages["1"] = m

	calls := 0
	classifier := classifierFunc(func(ctx context.Context, subject, body string) (bool, error) {
		calls++
		return true, nil
	})

	report, err := f.service(classifier, trustedDomain("corp.test")).Run(context.Background(), imapRun(10))
	require.NoError(t, err)

	assert.Equal(t, 1, calls)
	require.Len(t, report.Messages, 2)
	assert.False(t, *report.Messages[0].IsPhishing)
	assert.True(t, *report.Messages[1].IsPhishing)
}

func TestRun_PhishingMessagesAreNotified(t *testing.T) {
	f := newFixture(3)
	m := f.normalizer.messages["2"]
	m.Body = "Please verify your account at http://evil.test"
	f.normalizer.messages["2"] = m

	report, err := f.service(nil, nil).Run(context.Background(), imapRun(10))
	require.NoError(t, err)

	assert.Equal(t, 3, report.Processed)
	assert.Equal(t, []string{"id-2"}, f.notifier.ids)
}

func TestRun_LimitTakesMostRecentHandles(t *testing.T) {
	f := newFixture(5)
	report, err := f.service(nil, nil).Run(context.Background(), imapRun(2))
	require.NoError(t, err)

	assert.Equal(t, 2, report.Listed)
	assert.Equal(t, []string{"4", "5"}, f.session.fetched)
}
