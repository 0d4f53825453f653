package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSender struct {
	name string
	err  error
	sent []string
}

func (s *stubSender) Send(_ context.Context, title, _ string) error {
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, title)
	return nil
}

func (s *stubSender) Name() string { return s.name }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNotifyFiltersUnlistedEvents(t *testing.T) {
	tg := &stubSender{name: "telegram"}
	n := NewNotifier([]Sender{tg}, []string{EventDailySummary}, discardLogger())

	require.NoError(t, n.Notify(context.Background(), EventOpportunityDetected, "opp", "body"))
	require.NoError(t, n.Notify(context.Background(), EventDailySummary, "summary", "body"))

	assert.Equal(t, []string{"summary"}, tg.sent)
}

func TestNotifyEmptyAllowlistPassesEverything(t *testing.T) {
	tg := &stubSender{name: "telegram"}
	n := NewNotifier([]Sender{tg}, nil, discardLogger())

	require.NoError(t, n.Notify(context.Background(), EventAttemptHedged, "hedged", "body"))
	assert.Equal(t, []string{"hedged"}, tg.sent)
}

func TestNotifyEscalationBypassesFilter(t *testing.T) {
	tg := &stubSender{name: "telegram"}
	n := NewNotifier([]Sender{tg}, []string{EventDailySummary}, discardLogger())

	require.NoError(t, n.Notify(context.Background(), EventAttemptFailedExposed, "exposed", "body"))
	assert.Equal(t, []string{"exposed"}, tg.sent)
}

func TestDispatchContinuesPastFailedSender(t *testing.T) {
	bad := &stubSender{name: "discord", err: errors.New("webhook gone")}
	good := &stubSender{name: "telegram"}
	n := NewNotifier([]Sender{bad, good}, nil, discardLogger())

	err := n.Notify(context.Background(), EventAttemptHedged, "hedged", "body")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "discord")
	assert.Equal(t, []string{"hedged"}, good.sent)
}

func TestNotifyNoSendersIsNoop(t *testing.T) {
	n := NewNotifier(nil, nil, discardLogger())
	assert.NoError(t, n.Notify(context.Background(), EventAttemptHedged, "hedged", "body"))
}
