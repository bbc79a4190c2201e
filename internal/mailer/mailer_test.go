package mailer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRecorder(t *testing.T) {
	var r Recorder
	_, ok := r.Last(KindRecovery)
	require.False(t, ok)

	ctx := context.Background()
	require.NoError(t, r.Send(ctx, Message{Kind: KindConfirmation, To: "a@b.com", Link: "l1"}))
	require.NoError(t, r.Send(ctx, Message{Kind: KindRecovery, To: "a@b.com", Link: "l2"}))
	require.NoError(t, r.Send(ctx, Message{Kind: KindConfirmation, To: "a@b.com", Link: "l3"}))

	m, ok := r.Last(KindConfirmation)
	require.True(t, ok)
	require.Equal(t, "l3", m.Link)
	require.Len(t, r.Sent(), 3)
}

func TestLogMailer(t *testing.T) {
	require.NoError(t, LogMailer{}.Send(context.Background(), Message{Kind: KindRecovery, To: "a@b.com", Link: "x"}))
}
