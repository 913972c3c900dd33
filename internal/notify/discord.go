// Package notify posts trade announcements to a Discord channel.
package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bwmarrin/discordgo"

	"cardbounty/internal/events"
)

type sender interface {
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

type Discord struct {
	session   sender
	channelID string
	log       *slog.Logger
}

func NewDiscord(botToken, channelID string, logger *slog.Logger) (*Discord, error) {
	if logger == nil {
		logger = slog.Default()
	}
	session, err := discordgo.New("Bot " + botToken)
	if err != nil {
		return nil, fmt.Errorf("discord session: %w", err)
	}
	return &Discord{session: session, channelID: channelID, log: logger}, nil
}

// Handle announces the events players care about and ignores the rest.
func (d *Discord) Handle(ctx context.Context, ev events.Event) error {
	msg, ok := message(ev)
	if !ok {
		return nil
	}
	if _, err := d.session.ChannelMessageSend(d.channelID, msg, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("discord send %s: %w", ev.Kind, err)
	}
	d.log.Debug("discord notified", "kind", ev.Kind, "bounty_id", ev.BountyID)
	return nil
}

func message(ev events.Event) (string, bool) {
	switch ev.Kind {
	case events.BountyCreated:
		return fmt.Sprintf("New bounty #%d is looking for card %s.", ev.BountyID, ev.CardID), true
	case events.OfferAccepted:
		return fmt.Sprintf("Bounty #%d for %s matched: offer #%d accepted.", ev.BountyID, ev.CardID, ev.OfferID), true
	case events.SettlementCompleted:
		return fmt.Sprintf("Trade for bounty #%d (%s) completed.", ev.BountyID, ev.CardID), true
	case events.SettlementCancelled:
		return fmt.Sprintf("Trade for bounty #%d (%s) fell through; the bounty is open again.", ev.BountyID, ev.CardID), true
	default:
		return "", false
	}
}
