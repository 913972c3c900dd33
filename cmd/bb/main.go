package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	cl "cardbounty/internal/cli"
	"cardbounty/internal/collection"
	"cardbounty/internal/config"
	"cardbounty/internal/syncq"
)

func main() {
	_ = config.LoadDotEnv()
	cfg := config.LoadCLIFromEnv()
	apiBase := cfg.APIBaseURL

	root := &cobra.Command{
		Use:          "bb",
		Short:        "Card bounty board client",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&apiBase, "api", apiBase, "API base URL")

	root.AddCommand(
		newLoginCmd(&apiBase),
		newLogoutCmd(),
		newContactCmd(),
		newSyncCmd(&apiBase),
		newBountiesCmd(&apiBase),
		newOffersCmd(&apiBase),
		newTradesCmd(&apiBase),
		newStatsCmd(&apiBase),
		newLeaderboardCmd(&apiBase),
		newCollectionCmd(&apiBase),
	)

	if err := root.Execute(); err != nil {
		printError(fmt.Sprintf("error: %v", err))
		os.Exit(1)
	}
}

func newClient(apiBase *string) *cl.Client {
	return cl.NewClient(strings.TrimRight(strings.TrimSpace(*apiBase), "/"))
}

func withTimeout(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), 30*time.Second)
}

func parseID(raw, what string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s id %q", what, raw)
	}
	return id, nil
}

func newLoginCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Sign in and save the session locally",
		RunE: func(cmd *cobra.Command, args []string) error {
			email, err := promptRequired("Email")
			if err != nil {
				return err
			}
			password, err := promptPassword("Password")
			if err != nil {
				return err
			}
			ctx, cancel := withTimeout(cmd)
			defer cancel()
			session, err := newClient(apiBase).Login(ctx, email, password)
			if err != nil {
				return err
			}
			if err := cl.SaveSession(cl.NewSession(session, cl.PreviousSession(), time.Now())); err != nil {
				return err
			}
			printSuccess("Logged in as " + session.User.Email)
			return nil
		},
	}
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the local session",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cl.ClearSession(); err != nil {
				return err
			}
			printSuccess("Logged out.")
			return nil
		},
	}
}

func newContactCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "contact [friend-code]",
		Short: "Show or set the friend code attached to your offers",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				s, err := cl.LoadSession()
				if err != nil {
					return err
				}
				if s.ContactCode == "" {
					printInfo("No friend code set.")
					return nil
				}
				printInfo("Friend code: " + s.ContactCode)
				return nil
			}
			if err := cl.RememberContact(args[0]); err != nil {
				return err
			}
			printSuccess("Friend code saved.")
			return nil
		},
	}
}

func newSyncCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Resend bounties and offers queued while offline",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := cl.LoadSession()
			if err != nil {
				return err
			}
			queue, err := syncq.Load()
			if err != nil {
				return err
			}
			if len(queue) == 0 {
				printInfo("Outbox is empty.")
				return nil
			}
			client := newClient(apiBase)
			ctx, cancel := context.WithTimeout(cmd.Context(), 60*time.Second)
			defer cancel()

			remaining := make([]syncq.Command, 0, len(queue))
			sent := 0
			for _, q := range queue {
				err := client.Replay(ctx, s.AccessToken, q.Method, q.Path, q.Body, q.IdempotencyKey)
				var apiErr *cl.APIError
				switch {
				case err == nil:
					sent++
				case errors.As(err, &apiErr) && apiErr.Status == http.StatusConflict:
					// An earlier attempt already landed.
					sent++
				case errors.As(err, &apiErr):
					printError(fmt.Sprintf("Dropped %s %s: %v", q.Method, q.Path, err))
				default:
					remaining = append(remaining, q)
					printWarn(fmt.Sprintf("Still offline for %s %s: %v", q.Method, q.Path, err))
				}
			}
			if err := syncq.Save(remaining); err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Sync complete: sent=%d remaining=%d", sent, len(remaining)))
			return nil
		},
	}
}

// queueOnNetworkError parks a create request that never got an answer from
// the API. Answers from the API are returned as errors unchanged.
func queueOnNetworkError(err error, method, path string, body any, idem string) error {
	var apiErr *cl.APIError
	if errors.As(err, &apiErr) || errors.Is(err, context.Canceled) {
		return err
	}
	raw, mErr := json.Marshal(body)
	if mErr != nil {
		return err
	}
	if qErr := syncq.Push(syncq.Command{Method: method, Path: path, Body: raw, IdempotencyKey: idem}); qErr != nil {
		return fmt.Errorf("%w (queueing failed: %v)", err, qErr)
	}
	printWarn("API unreachable, request queued. Run `bb sync` once you are back online.")
	return nil
}

func newBountiesCmd(apiBase *string) *cobra.Command {
	cmd := &cobra.Command{Use: "bounties", Short: "Browse and manage card bounties"}

	var q cl.BountyQuery
	list := &cobra.Command{
		Use:   "list",
		Short: "List bounties",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := withTimeout(cmd)
			defer cancel()
			page, err := newClient(apiBase).ListBounties(ctx, q)
			if err != nil {
				return err
			}
			renderBountyPage(page)
			return nil
		},
	}
	list.Flags().StringVar(&q.CardName, "card", "", "filter by card name")
	list.Flags().StringVar(&q.Pack, "pack", "", "filter by pack")
	list.Flags().StringVar(&q.Status, "status", "", "active, completed, cancelled or expired")
	list.Flags().IntVar(&q.Page, "page", 1, "page number")
	list.Flags().IntVar(&q.PageSize, "page-size", 0, "rows per page")

	show := &cobra.Command{
		Use:   "show <bounty-id>",
		Short: "Show a bounty with its offers",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "bounty")
			if err != nil {
				return err
			}
			ctx, cancel := withTimeout(cmd)
			defer cancel()
			d, err := newClient(apiBase).BountyDetail(ctx, id)
			if err != nil {
				return err
			}
			renderBountyDetail(d)
			return nil
		},
	}

	var (
		nb     cl.NewBounty
		amount float64
	)
	create := &cobra.Command{
		Use:   "create <card-id>",
		Short: "Post a bounty for a card",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := cl.LoadSession()
			if err != nil {
				return err
			}
			nb.CardID = args[0]
			if cmd.Flags().Changed("amount") {
				cents := int64(amount*100 + 0.5)
				nb.OfferedAmountCents = &cents
			}
			ctx, cancel := withTimeout(cmd)
			defer cancel()
			idem := uuid.NewString()
			id, err := newClient(apiBase).CreateBounty(ctx, s.AccessToken, nb, idem)
			if err != nil {
				return queueOnNetworkError(err, http.MethodPost, "/v1/bounties", nb, idem)
			}
			printSuccess(fmt.Sprintf("Bounty #%d posted for %s.", id, nb.CardID))
			return nil
		},
	}
	create.Flags().StringVar(&nb.Description, "description", "", "what you are after")
	create.Flags().Float64Var(&amount, "amount", 0, "cash offered")
	create.Flags().StringVar(&nb.OfferedItem, "item", "", "item offered in exchange")

	cmd.AddCommand(list, show, create,
		bountyActionCmd(apiBase, "cancel", "Cancel one of your bounties", func(ctx context.Context, c *cl.Client, tok string, id int64) error {
			return c.CancelBounty(ctx, tok, id)
		}),
		bountyActionCmd(apiBase, "delete", "Delete one of your bounties", func(ctx context.Context, c *cl.Client, tok string, id int64) error {
			return c.DeleteBounty(ctx, tok, id)
		}),
		&cobra.Command{
			Use:   "mine",
			Short: "List the bounties you posted",
			RunE: func(cmd *cobra.Command, args []string) error {
				s, err := cl.LoadSession()
				if err != nil {
					return err
				}
				ctx, cancel := withTimeout(cmd)
				defer cancel()
				rows, err := newClient(apiBase).MyBounties(ctx, s.AccessToken)
				if err != nil {
					return err
				}
				renderBounties(rows)
				return nil
			},
		},
	)
	return cmd
}

type actionFunc func(ctx context.Context, c *cl.Client, accessToken string, id int64) error

func bountyActionCmd(apiBase *string, use, short string, fn actionFunc) *cobra.Command {
	return idActionCmd(apiBase, use, "bounty", short, fn)
}

func idActionCmd(apiBase *string, use, what, short string, fn actionFunc) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <" + what + "-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], what)
			if err != nil {
				return err
			}
			s, err := cl.LoadSession()
			if err != nil {
				return err
			}
			ctx, cancel := withTimeout(cmd)
			defer cancel()
			if err := fn(ctx, newClient(apiBase), s.AccessToken, id); err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("%s #%d: %s done.", what, id, use))
			return nil
		},
	}
}

func newOffersCmd(apiBase *string) *cobra.Command {
	cmd := &cobra.Command{Use: "offers", Short: "Make and answer offers"}

	var no cl.NewOffer
	create := &cobra.Command{
		Use:   "create <bounty-id> <card-id>",
		Short: "Offer one of your cards against a bounty",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			bountyID, err := parseID(args[0], "bounty")
			if err != nil {
				return err
			}
			s, err := cl.LoadSession()
			if err != nil {
				return err
			}
			no.CardID = args[1]
			no.ContactCode = s.Contact(no.ContactCode)
			if no.ContactCode == "" {
				printWarn("No friend code attached; set one with `bb contact <code>`.")
			}
			ctx, cancel := withTimeout(cmd)
			defer cancel()
			idem := uuid.NewString()
			id, err := newClient(apiBase).CreateOffer(ctx, s.AccessToken, bountyID, no, idem)
			if err != nil {
				return queueOnNetworkError(err, http.MethodPost, fmt.Sprintf("/v1/bounties/%d/offers", bountyID), no, idem)
			}
			printSuccess(fmt.Sprintf("Offer #%d sent on bounty #%d.", id, bountyID))
			return nil
		},
	}
	create.Flags().StringVar(&no.Message, "message", "", "note for the requester")
	create.Flags().StringVar(&no.ContactCode, "contact", "", "friend code to reach you (defaults to `bb contact`)")

	offerAction := func(action, short string) *cobra.Command {
		return idActionCmd(apiBase, action, "offer", short, func(ctx context.Context, c *cl.Client, tok string, id int64) error {
			return c.OfferAction(ctx, tok, id, action)
		})
	}

	cmd.AddCommand(create,
		offerAction("accept", "Accept an offer on your bounty"),
		offerAction("reject", "Reject an offer on your bounty"),
		offerAction("withdraw", "Withdraw an offer you made"),
		&cobra.Command{
			Use:   "mine",
			Short: "List the offers you made",
			RunE: func(cmd *cobra.Command, args []string) error {
				s, err := cl.LoadSession()
				if err != nil {
					return err
				}
				ctx, cancel := withTimeout(cmd)
				defer cancel()
				rows, err := newClient(apiBase).MyOffers(ctx, s.AccessToken)
				if err != nil {
					return err
				}
				renderOffers(rows)
				return nil
			},
		},
	)
	return cmd
}

func newTradesCmd(apiBase *string) *cobra.Command {
	cmd := &cobra.Command{Use: "trades", Short: "Settle accepted offers"}
	tradeAction := func(action, short string) *cobra.Command {
		return idActionCmd(apiBase, action, "offer", short, func(ctx context.Context, c *cl.Client, tok string, id int64) error {
			return c.TradeAction(ctx, tok, id, action)
		})
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List trades waiting on hand-off",
			RunE: func(cmd *cobra.Command, args []string) error {
				s, err := cl.LoadSession()
				if err != nil {
					return err
				}
				ctx, cancel := withTimeout(cmd)
				defer cancel()
				rows, err := newClient(apiBase).Trades(ctx, s.AccessToken)
				if err != nil {
					return err
				}
				renderTrades(rows, s.UserID)
				return nil
			},
		},
		tradeAction("complete", "Mark a trade as handed off"),
		tradeAction("cancel", "Call off a trade and reopen the bounty"),
	)
	return cmd
}

func newStatsCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show your collection stats",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := cl.LoadSession()
			if err != nil {
				return err
			}
			ctx, cancel := withTimeout(cmd)
			defer cancel()
			sum, err := newClient(apiBase).Stats(ctx, s.AccessToken)
			if err != nil {
				return err
			}
			renderStats(sum)
			return nil
		},
	}
}

func newLeaderboardCmd(apiBase *string) *cobra.Command {
	var (
		pack  string
		limit int
	)
	cmd := &cobra.Command{
		Use:   "leaderboard",
		Short: "Show collectors ranked by distinct cards",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := withTimeout(cmd)
			defer cancel()
			rows, err := newClient(apiBase).Leaderboard(ctx, pack, limit)
			if err != nil {
				return err
			}
			title := "leaderboard"
			if pack != "" {
				title = pack + " leaderboard"
			}
			renderLeaderboard(rows, title)
			return nil
		},
	}
	cmd.Flags().StringVar(&pack, "pack", "", "rank within one pack")
	cmd.Flags().IntVar(&limit, "limit", 0, "rows to show")
	return cmd
}

func newCollectionCmd(apiBase *string) *cobra.Command {
	cmd := &cobra.Command{Use: "collection", Short: "Track the cards you own"}

	var f collection.Filter
	list := &cobra.Command{
		Use:   "list",
		Short: "List your cards",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := cl.LoadSession()
			if err != nil {
				return err
			}
			ctx, cancel := withTimeout(cmd)
			defer cancel()
			rows, err := newClient(apiBase).Collection(ctx, s.AccessToken, f)
			if err != nil {
				return err
			}
			renderCollection(rows)
			return nil
		},
	}
	list.Flags().StringVar(&f.Pack, "pack", "", "filter by pack")
	list.Flags().StringVar(&f.Rarity, "rarity", "", "filter by rarity")

	var (
		qty      int
		forTrade bool
	)
	add := &cobra.Command{
		Use:   "add <card-id>",
		Short: "Add copies of a card",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := cl.LoadSession()
			if err != nil {
				return err
			}
			ctx, cancel := withTimeout(cmd)
			defer cancel()
			e, err := newClient(apiBase).AddCard(ctx, s.AccessToken, args[0], qty, forTrade)
			if err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("%s (%s) x%d", e.Name, e.ID, e.Quantity))
			return nil
		},
	}
	add.Flags().IntVar(&qty, "qty", 1, "copies to add")
	add.Flags().BoolVar(&forTrade, "trade", false, "mark as available for trade")

	set := &cobra.Command{
		Use:   "set <card-id> <quantity>",
		Short: "Set how many copies you hold; 0 removes the card",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid quantity %q", args[1])
			}
			s, err := cl.LoadSession()
			if err != nil {
				return err
			}
			ctx, cancel := withTimeout(cmd)
			defer cancel()
			if err := newClient(apiBase).SetQuantity(ctx, s.AccessToken, args[0], n); err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("%s set to %d.", args[0], n))
			return nil
		},
	}

	remove := &cobra.Command{
		Use:   "remove <card-id>",
		Short: "Remove a card from your collection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := cl.LoadSession()
			if err != nil {
				return err
			}
			ctx, cancel := withTimeout(cmd)
			defer cancel()
			if err := newClient(apiBase).RemoveCard(ctx, s.AccessToken, args[0]); err != nil {
				return err
			}
			printSuccess(args[0] + " removed.")
			return nil
		},
	}

	trade := &cobra.Command{
		Use:   "trade <card-id>",
		Short: "Toggle whether a card is up for trade",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := cl.LoadSession()
			if err != nil {
				return err
			}
			ctx, cancel := withTimeout(cmd)
			defer cancel()
			e, err := newClient(apiBase).ToggleTrade(ctx, s.AccessToken, args[0])
			if err != nil {
				return err
			}
			if e.ForTrade {
				printSuccess(e.ID + " is up for trade.")
			} else {
				printInfo(e.ID + " is no longer up for trade.")
			}
			return nil
		},
	}

	cmd.AddCommand(list, add, set, remove, trade)
	return cmd
}
