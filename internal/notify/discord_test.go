package notify

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cardbounty/internal/events"
)

type fakeSender struct {
	sent []string
	err  error
}

func (f *fakeSender) ChannelMessageSend(channelID, content string, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.sent = append(f.sent, channelID+": "+content)
	return &discordgo.Message{Content: content}, nil
}

func TestDiscordAnnouncesTrades(t *testing.T) {
	fake := &fakeSender{}
	d := &Discord{session: fake, channelID: "trades", log: slog.Default()}

	require.NoError(t, d.Handle(context.Background(), events.Event{Kind: events.OfferAccepted, BountyID: 7, OfferID: 9, CardID: "a1-055"}))
	require.NoError(t, d.Handle(context.Background(), events.Event{Kind: events.OfferRejected, BountyID: 7}))

	require.Len(t, fake.sent, 1)
	assert.Equal(t, "trades: Bounty #7 for a1-055 matched: offer #9 accepted.", fake.sent[0])
}

func TestDiscordSendFailure(t *testing.T) {
	d := &Discord{session: &fakeSender{err: errors.New("rate limited")}, channelID: "trades", log: slog.Default()}
	err := d.Handle(context.Background(), events.Event{Kind: events.SettlementCompleted, BountyID: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "settlement.completed")
}

func TestAsyncDoesNotWaitForSlowSink(t *testing.T) {
	release := make(chan struct{})
	var (
		mu  sync.Mutex
		got []events.Kind
	)
	slow := events.SinkFunc(func(ctx context.Context, ev events.Event) error {
		_, hasDeadline := ctx.Deadline()
		assert.True(t, hasDeadline)
		<-release
		mu.Lock()
		got = append(got, ev.Kind)
		mu.Unlock()
		return nil
	})
	a := NewAsync(slow, 4, time.Second, nil)

	start := time.Now()
	require.NoError(t, a.Handle(context.Background(), events.Event{Kind: events.OfferAccepted}))
	require.NoError(t, a.Handle(context.Background(), events.Event{Kind: events.SettlementCompleted}))
	assert.Less(t, time.Since(start), 500*time.Millisecond)

	close(release)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, a.Close(ctx))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []events.Kind{events.OfferAccepted, events.SettlementCompleted}, got)
	require.ErrorIs(t, a.Handle(context.Background(), events.Event{Kind: events.BountyCreated}), ErrClosed)
}

func TestAsyncDropsWhenFull(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	blocked := events.SinkFunc(func(ctx context.Context, ev events.Event) error {
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
		return nil
	})
	a := NewAsync(blocked, 1, time.Second, nil)

	require.NoError(t, a.Handle(context.Background(), events.Event{Kind: events.OfferAccepted}))
	<-started
	require.NoError(t, a.Handle(context.Background(), events.Event{Kind: events.OfferAccepted}))
	err := a.Handle(context.Background(), events.Event{Kind: events.SettlementCompleted})
	require.ErrorIs(t, err, ErrQueueFull)

	close(release)
	require.NoError(t, a.Close(context.Background()))
}

func TestAsyncSendTimesOut(t *testing.T) {
	result := make(chan error, 1)
	hung := events.SinkFunc(func(ctx context.Context, ev events.Event) error {
		<-ctx.Done()
		result <- ctx.Err()
		return ctx.Err()
	})
	a := NewAsync(hung, 1, 20*time.Millisecond, nil)
	require.NoError(t, a.Handle(context.Background(), events.Event{Kind: events.OfferAccepted}))

	select {
	case err := <-result:
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	case <-time.After(2 * time.Second):
		t.Fatal("send was not cancelled")
	}
	require.NoError(t, a.Close(context.Background()))
}
