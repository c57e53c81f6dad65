package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/alanyoungcy/stxbot/internal/domain"
	"github.com/alanyoungcy/stxbot/internal/platform/stx"
)

// ErrArchiveDisabled is returned by the report commands when S3 is off.
var ErrArchiveDisabled = errors.New("app: s3 archive is not enabled")

// Markets logs in, refreshes the catalog and writes one line per market.
// A non-empty shortTitle prints only that market in detail.
func (a *App) Markets(ctx context.Context, w io.Writer, shortTitle string, onlyEligible bool) error {
	deps, err := a.wire(ctx)
	if err != nil {
		return err
	}
	if err := deps.Auth.Authenticate(ctx); err != nil {
		return err
	}
	if _, err := deps.Catalog.Refresh(ctx); err != nil {
		return err
	}

	if shortTitle != "" {
		m, ok := deps.Catalog.ByShortTitle(shortTitle)
		if !ok {
			return fmt.Errorf("app: market %q: %w", shortTitle, domain.ErrNotFound)
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(m)
	}

	markets := deps.Catalog.Markets()
	sort.Slice(markets, func(i, j int) bool { return markets[i].ShortTitle < markets[j].ShortTitle })

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SHORT TITLE\tID\tSTATUS\tPROBABILITY\tBEST BID")
	for _, m := range markets {
		if onlyEligible && !m.Eligible() {
			continue
		}
		bid := "-"
		if p, ok := m.MaxBidPrice(); ok {
			bid = fmt.Sprint(p)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%.4f\t%s\n", m.ShortTitle, m.ID, m.Status, m.Probability, bid)
	}
	return tw.Flush()
}

// Profile logs in and writes the account profile.
func (a *App) Profile(ctx context.Context, w io.Writer) error {
	deps, err := a.wire(ctx)
	if err != nil {
		return err
	}
	if err := deps.Auth.Authenticate(ctx); err != nil {
		return err
	}
	profile, err := deps.Client.UserProfile(ctx)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(profile)
}

// OrderHistory logs in and writes a page of the account's orders.
func (a *App) OrderHistory(ctx context.Context, w io.Writer, limit, offset int) error {
	deps, err := a.wire(ctx)
	if err != nil {
		return err
	}
	if err := deps.Auth.Authenticate(ctx); err != nil {
		return err
	}
	history, err := deps.Client.MyOrderHistory(ctx, limit, offset)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "%d order(s)\n", history.TotalCount)
	fmt.Fprintln(tw, "ID\tMARKET\tTYPE\tACTION\tPRICE\tQTY\tSTATUS\tCREATED")
	for _, o := range history.Orders {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\t%s\t%s\n",
			o.ID, o.MarketID, o.Type, o.Action, o.Price, o.Quantity, o.Status,
			o.CreatedAt.Format("2006-01-02 15:04:05"))
	}
	return tw.Flush()
}

// PlaceOrder logs in, sends one order and writes the exchange's record of
// it. Unlike the bot, it can place MARKET and SELL orders.
func (a *App) PlaceOrder(ctx context.Context, w io.Writer, order domain.UserOrder) error {
	if err := order.Validate(); err != nil {
		return err
	}
	deps, err := a.wire(ctx)
	if err != nil {
		return err
	}
	if err := deps.Auth.Authenticate(ctx); err != nil {
		return err
	}
	placed, err := deps.Client.ConfirmOrder(ctx, order)
	if err != nil {
		return err
	}
	a.logger.InfoContext(ctx, "order placed",
		slog.String("order_id", placed.ID),
		slog.String("market_id", placed.MarketID),
		slog.String("type", string(placed.Type)),
	)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(placed)
}

// CancelOrder logs in and cancels one order by ID.
func (a *App) CancelOrder(ctx context.Context, w io.Writer, orderID string) error {
	if orderID == "" {
		return fmt.Errorf("%w: order id is required", domain.ErrInvalidOrder)
	}
	deps, err := a.wire(ctx)
	if err != nil {
		return err
	}
	if err := deps.Auth.Authenticate(ctx); err != nil {
		return err
	}
	if err := deps.Client.CancelOrder(ctx, orderID); err != nil {
		return err
	}
	fmt.Fprintf(w, "order %s cancelled\n", orderID)
	return nil
}

// Watch logs in, joins the named channel and writes each payload as one
// JSON line until the stream ends or ctx is done.
func (a *App) Watch(ctx context.Context, w io.Writer, channel string) error {
	ch, err := stx.ParseChannel(channel)
	if err != nil {
		return err
	}

	deps, err := a.wire(ctx)
	if err != nil {
		return err
	}
	if err := deps.Auth.Authenticate(ctx); err != nil {
		return err
	}
	deps.Channels.SetUserID(deps.Auth.UserID())

	events, err := deps.Channels.Subscribe(ctx, ch)
	if err != nil {
		return err
	}

	for ev := range events {
		switch ev.Kind {
		case domain.EventOpen:
			a.logger.InfoContext(ctx, "channel joined", slog.String("channel", ch.String()))
		case domain.EventMessage:
			if ev.Raw == nil {
				continue
			}
			fmt.Fprintf(w, "%s %s\n", ev.Raw.Event, strings.TrimSpace(string(ev.Raw.Payload)))
		case domain.EventClose:
			a.logger.InfoContext(ctx, "channel closed", slog.String("reason", ev.Reason))
			return nil
		case domain.EventError:
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("app: watch %s: %w", ch, ev.Err)
		}
	}
	return nil
}

// Reports lists archived run reports under the configured prefix. The App
// should be built with WireOptions.SkipExchange.
func (a *App) Reports(ctx context.Context, w io.Writer) error {
	deps, err := a.wire(ctx)
	if err != nil {
		return err
	}
	if deps.BlobReader == nil {
		return ErrArchiveDisabled
	}

	infos, err := deps.BlobReader.List(ctx, strings.Trim(a.cfg.S3.Prefix, "/")+"/")
	if err != nil {
		return err
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].LastModified.After(infos[j].LastModified) })

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PATH\tSIZE\tMODIFIED")
	for _, info := range infos {
		fmt.Fprintf(tw, "%s\t%d\t%s\n", info.Path, info.Size, info.LastModified.Format("2006-01-02 15:04:05"))
	}
	return tw.Flush()
}

// Report copies one archived run report to w.
func (a *App) Report(ctx context.Context, w io.Writer, path string) error {
	deps, err := a.wire(ctx)
	if err != nil {
		return err
	}
	if deps.BlobReader == nil {
		return ErrArchiveDisabled
	}

	body, err := deps.BlobReader.Get(ctx, path)
	if err != nil {
		return err
	}
	defer body.Close()

	var summary domain.RunSummary
	if err := json.NewDecoder(body).Decode(&summary); err != nil {
		return fmt.Errorf("app: decode report %s: %w", path, err)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(summary)
}
