package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"golang.org/x/term"

	"cardbounty/internal/bounty"
	"cardbounty/internal/collection"
	"cardbounty/internal/stats"
)

var (
	stdinReader = bufio.NewReader(os.Stdin)
	accent      = color.New(color.FgCyan, color.Bold)
	success     = color.New(color.FgGreen, color.Bold)
	warn        = color.New(color.FgYellow, color.Bold)
	danger      = color.New(color.FgRed, color.Bold)
	neutral     = color.New(color.FgHiWhite)
)

func printSuccess(msg string) {
	success.Println(msg)
}

func printWarn(msg string) {
	warn.Println(msg)
}

func printError(msg string) {
	danger.Fprintln(os.Stderr, msg)
}

func printInfo(msg string) {
	neutral.Println(msg)
}

func promptRequired(label string) (string, error) {
	for {
		fmt.Printf("%s: ", label)
		text, err := stdinReader.ReadString('\n')
		if err != nil {
			return "", err
		}
		text = strings.TrimSpace(text)
		if text != "" {
			return text, nil
		}
		printWarn(label + " is required.")
	}
}

// promptPassword reads without echo when stdin is a terminal.
func promptPassword(label string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return promptRequired(label)
	}
	for {
		fmt.Printf("%s: ", label)
		raw, err := term.ReadPassword(fd)
		fmt.Println()
		if err != nil {
			return "", err
		}
		if text := strings.TrimSpace(string(raw)); text != "" {
			return text, nil
		}
		printWarn(label + " is required.")
	}
}

func colorStatus(s string) string {
	switch s {
	case string(bounty.BountyActive), string(bounty.OfferPending):
		return warn.Sprint(s)
	case string(bounty.BountyCompleted), string(bounty.OfferAccepted), string(bounty.SettlementComplete):
		return success.Sprint(s)
	case string(bounty.BountyCancelled), string(bounty.BountyExpired), string(bounty.OfferRejected):
		return danger.Sprint(s)
	default:
		return neutral.Sprint(s)
	}
}

func reward(b bounty.Bounty) string {
	parts := make([]string, 0, 2)
	if b.OfferedAmountCents != nil {
		c := *b.OfferedAmountCents
		parts = append(parts, fmt.Sprintf("$%d.%02d", c/100, c%100))
	}
	if b.OfferedItem != "" {
		parts = append(parts, b.OfferedItem)
	}
	if len(parts) == 0 {
		return "-"
	}
	return strings.Join(parts, " + ")
}

func renderBounties(rows []bounty.BountyView) {
	if len(rows) == 0 {
		printInfo("No bounties.")
		return
	}
	fmt.Printf("%-6s %-9s %-18s %-12s %-18s %6s  %s\n", "ID", "CARD", "NAME", "PACK", "REWARD", "OFFERS", "STATUS")
	for _, b := range rows {
		fmt.Printf("%-6d %-9s %-18s %-12s %-18s %6d  %s\n",
			b.ID,
			b.CardID,
			truncate(b.CardName, 18),
			truncate(b.Pack, 12),
			truncate(reward(b.Bounty), 18),
			b.OfferCount,
			colorStatus(string(b.Status)),
		)
	}
}

func renderBountyPage(p bounty.BountyPage) {
	accent.Printf("\n== BOUNTIES (page %d of %d, %d total) ==\n", p.Page, max(p.TotalPages, 1), p.TotalCount)
	renderBounties(p.Bounties)
	fmt.Println()
}

func renderBountyDetail(d bounty.BountyDetail) {
	accent.Printf("\n== BOUNTY #%d ==\n", d.ID)
	fmt.Printf("Card:      %s %s (%s)\n", d.CardID, d.CardName, d.Pack)
	fmt.Printf("Status:    %s\n", colorStatus(string(d.Status)))
	fmt.Printf("Reward:    %s\n", reward(d.Bounty))
	if d.Description != "" {
		fmt.Printf("Wants:     %s\n", d.Description)
	}
	fmt.Printf("Posted:    %s\n", d.CreatedAt.Local().Format("2006-01-02 15:04"))
	if len(d.Offers) == 0 {
		printInfo("\nNo offers yet.")
		return
	}
	fmt.Printf("\n%-6s %-14s %-9s %-10s %s\n", "OFFER", "FROM", "CARD", "STATUS", "MESSAGE")
	for _, o := range d.Offers {
		fmt.Printf("%-6d %-14s %-9s %-10s %s\n",
			o.ID,
			truncate(o.OffererID, 14),
			o.CardID,
			colorStatus(string(o.Status)),
			truncate(o.Message, 40),
		)
	}
	fmt.Println()
}

func renderOffers(rows []bounty.OfferView) {
	accent.Println("\n== MY OFFERS ==")
	if len(rows) == 0 {
		printInfo("No offers.")
		return
	}
	fmt.Printf("%-6s %-7s %-9s %-9s %-10s %s\n", "OFFER", "BOUNTY", "WANTED", "OFFERED", "STATUS", "SETTLEMENT")
	for _, o := range rows {
		fmt.Printf("%-6d %-7d %-9s %-9s %-10s %s\n",
			o.ID, o.BountyID, o.BountyCardID, o.CardID,
			colorStatus(string(o.Status)),
			colorStatus(string(o.SettlementState)),
		)
	}
	fmt.Println()
}

func renderTrades(rows []bounty.Trade, me string) {
	accent.Println("\n== PENDING TRADES ==")
	if len(rows) == 0 {
		printInfo("Nothing waiting on hand-off.")
		return
	}
	for _, t := range rows {
		role, other := "give", t.RequesterID
		if t.RequesterID == me {
			role, other = "receive", t.OffererID
		}
		fmt.Printf("offer #%d (bounty #%d): you %s %s for %s with %s",
			t.OfferID, t.BountyID, role, t.OfferedCardID, t.RequestedCardID, truncate(other, 14))
		if t.OffererContact != "" {
			fmt.Printf("  contact %s", t.OffererContact)
		}
		fmt.Println()
	}
	fmt.Println()
}

func renderStats(s stats.Summary) {
	accent.Println("\n== STATS ==")
	fmt.Printf("Unique cards:       %d of %d (%.2f%%)\n", s.UniqueCards, s.CatalogSize, s.CompletionPercent)
	fmt.Printf("Total cards:        %d\n", s.TotalCards)
	fmt.Printf("Completed sets:     %d\n", s.CompletedSets)
	fmt.Printf("Bounties posted:    %d\n", s.BountiesPosted)
	fmt.Printf("Bounties completed: %d\n", s.BountiesCompleted)
	fmt.Printf("Trades completed:   %d\n", s.TradesCompleted)
	fmt.Printf("Rank:               %d\n\n", s.Rank)
}

func renderLeaderboard(rows []stats.LeaderboardEntry, title string) {
	accent.Printf("\n== %s ==\n", strings.ToUpper(title))
	if len(rows) == 0 {
		printInfo("No leaderboard rows yet.")
		return
	}
	fmt.Printf("%-6s %-24s %8s %8s %10s\n", "RANK", "COLLECTOR", "UNIQUE", "TOTAL", "COMPLETE")
	for _, r := range rows {
		fmt.Printf("%-6d %-24s %8d %8d %9.2f%%\n",
			r.Rank, truncate(r.UserID, 24), r.UniqueCards, r.TotalCards, r.CompletionPercent)
	}
	fmt.Println()
}

func renderCollection(rows []collection.Entry) {
	accent.Println("\n== COLLECTION ==")
	if len(rows) == 0 {
		printInfo("No cards yet.")
		return
	}
	fmt.Printf("%-9s %-20s %-12s %-8s %4s  %s\n", "CARD", "NAME", "PACK", "RARITY", "QTY", "TRADE")
	for _, e := range rows {
		trade := ""
		if e.ForTrade {
			trade = success.Sprint("yes")
		}
		fmt.Printf("%-9s %-20s %-12s %-8s %4d  %s\n",
			e.ID, truncate(e.Name, 20), truncate(e.Pack, 12), e.Rarity, e.Quantity, trade)
	}
	fmt.Println()
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if n <= 0 || len(s) <= n {
		return s
	}
	if n <= 3 {
		return s[:n]
	}
	return s[:n-3] + "..."
}
