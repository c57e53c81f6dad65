package main

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/alanyoungcy/stxbot/internal/app"
	"github.com/alanyoungcy/stxbot/internal/config"
	"github.com/alanyoungcy/stxbot/internal/domain"
	"github.com/alanyoungcy/stxbot/internal/platform/stx"
	"github.com/alanyoungcy/stxbot/internal/vault"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one trading cycle until the market stream ends",
	RunE:  runBot,
}

var marketsCmd = &cobra.Command{
	Use:   "markets [short-title]",
	Short: "List the market catalog, or show one market by short title",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runMarkets,
}

var channelCmd = &cobra.Command{
	Use:   "channel",
	Short: "Join a streaming channel and print its messages",
	RunE:  runChannel,
}

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Show the account profile",
	RunE:  runProfile,
}

var ordersCmd = &cobra.Command{
	Use:   "orders",
	Short: "Show the account's order history",
	RunE:  runOrders,
}

var orderCmd = &cobra.Command{
	Use:   "order",
	Short: "Place or cancel a single order by hand",
}

var orderCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Place one MARKET or LIMIT order",
	Example: `  stxbot order create --market m1 --type LIMIT --action BUY --quantity 2 --price 3300
  stxbot order create --market m1 --type MARKET --action SELL --quantity 1`,
	Args: cobra.NoArgs,
	RunE: runOrderCreate,
}

var orderCancelCmd = &cobra.Command{
	Use:   "cancel <order-id>",
	Short: "Cancel an order by ID",
	Args:  cobra.ExactArgs(1),
	RunE:  runOrderCancel,
}

var reportsCmd = &cobra.Command{
	Use:   "reports [path]",
	Short: "List archived run reports, or print one",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runReports,
}

var encryptPasswordCmd = &cobra.Command{
	Use:   "encrypt-password <output-file>",
	Short: "Encrypt the account password read from stdin into a file",
	Long: `encrypt-password reads the account password from the first line of stdin
and writes it encrypted with --key (or STXBOT_STX_PASSWORD_KEY). Point
stx.encrypted_password_path at the output file.`,
	Args: cobra.ExactArgs(1),
	RunE: runEncryptPassword,
}

// Flags
var (
	marketsEligible bool
	channelName     string
	ordersLimit     int
	ordersOffset    int
	encryptKey      string

	orderMarket   string
	orderType     string
	orderAction   string
	orderQuantity int64
	orderPrice    int64
)

func init() {
	marketsCmd.Flags().BoolVar(&marketsEligible, "eligible", false, "only list markets the bot could trade")

	names := make([]string, 0, len(stx.Channels()))
	for _, ch := range stx.Channels() {
		names = append(names, ch.String())
	}
	channelCmd.Flags().StringVar(&channelName, "name", stx.ChannelMarketInfo.String(),
		"channel to join: "+strings.Join(names, ", "))

	ordersCmd.Flags().IntVar(&ordersLimit, "limit", 20, "page size")
	ordersCmd.Flags().IntVar(&ordersOffset, "offset", 0, "page offset")

	f := orderCreateCmd.Flags()
	f.StringVar(&orderMarket, "market", "", "market id")
	f.StringVar(&orderType, "type", string(domain.OrderTypeLimit), "order type: MARKET or LIMIT")
	f.StringVar(&orderAction, "action", string(domain.OrderActionBuy), "order action: BUY or SELL")
	f.Int64Var(&orderQuantity, "quantity", 1, "number of contracts")
	f.Int64Var(&orderPrice, "price", 0, "limit price in cents (ignored for MARKET)")
	_ = orderCreateCmd.MarkFlagRequired("market")
	orderCmd.AddCommand(orderCreateCmd, orderCancelCmd)

	encryptPasswordCmd.Flags().StringVar(&encryptKey, "key", "", "encryption key (default $STXBOT_STX_PASSWORD_KEY)")
}

func runBot(cmd *cobra.Command, args []string) error {
	a, cfg, logger, err := newApp(app.WireOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	redacted := config.RedactedConfig(cfg)
	logger.Info("stxbot starting",
		slog.String("config", configPath),
		slog.String("email", redacted.STX.Email),
		slog.Bool("postgres", cfg.Postgres.Enabled),
		slog.Bool("redis", cfg.Redis.Enabled),
		slog.Bool("s3", cfg.S3.Enabled),
	)

	ctx, stop := signalContext(cmd.Context())
	defer stop()

	if err := a.Run(ctx); err != nil {
		logger.Error("bot exited with error", slog.String("error", err.Error()))
		return err
	}
	logger.Info("stxbot stopped")
	return nil
}

func runMarkets(cmd *cobra.Command, args []string) error {
	a, _, _, err := newApp(app.WireOptions{SkipStores: true})
	if err != nil {
		return err
	}
	defer a.Close()

	shortTitle := ""
	if len(args) == 1 {
		shortTitle = args[0]
	}
	return a.Markets(cmd.Context(), cmd.OutOrStdout(), shortTitle, marketsEligible)
}

func runChannel(cmd *cobra.Command, args []string) error {
	if _, err := stx.ParseChannel(channelName); err != nil {
		return err
	}

	a, _, _, err := newApp(app.WireOptions{SkipStores: true})
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signalContext(cmd.Context())
	defer stop()
	return a.Watch(ctx, cmd.OutOrStdout(), channelName)
}

func runProfile(cmd *cobra.Command, args []string) error {
	a, _, _, err := newApp(app.WireOptions{SkipStores: true})
	if err != nil {
		return err
	}
	defer a.Close()
	return a.Profile(cmd.Context(), cmd.OutOrStdout())
}

func runOrders(cmd *cobra.Command, args []string) error {
	a, _, _, err := newApp(app.WireOptions{SkipStores: true})
	if err != nil {
		return err
	}
	defer a.Close()
	return a.OrderHistory(cmd.Context(), cmd.OutOrStdout(), ordersLimit, ordersOffset)
}

func runOrderCreate(cmd *cobra.Command, args []string) error {
	typ, err := domain.ParseOrderType(orderType)
	if err != nil {
		return err
	}
	action, err := domain.ParseOrderAction(orderAction)
	if err != nil {
		return err
	}
	order := domain.UserOrder{
		MarketID: orderMarket,
		Type:     typ,
		Action:   action,
		Quantity: orderQuantity,
		Price:    orderPrice,
	}
	if err := order.Validate(); err != nil {
		return err
	}

	a, _, _, err := newApp(app.WireOptions{SkipStores: true})
	if err != nil {
		return err
	}
	defer a.Close()
	return a.PlaceOrder(cmd.Context(), cmd.OutOrStdout(), order)
}

func runOrderCancel(cmd *cobra.Command, args []string) error {
	a, _, _, err := newApp(app.WireOptions{SkipStores: true})
	if err != nil {
		return err
	}
	defer a.Close()
	return a.CancelOrder(cmd.Context(), cmd.OutOrStdout(), args[0])
}

func runReports(cmd *cobra.Command, args []string) error {
	a, _, _, err := newApp(app.WireOptions{SkipExchange: true})
	if err != nil {
		return err
	}
	defer a.Close()

	if len(args) == 1 {
		return a.Report(cmd.Context(), cmd.OutOrStdout(), args[0])
	}
	return a.Reports(cmd.Context(), cmd.OutOrStdout())
}

func runEncryptPassword(cmd *cobra.Command, args []string) error {
	key := encryptKey
	if key == "" {
		key = os.Getenv("STXBOT_STX_PASSWORD_KEY")
	}
	if key == "" {
		return fmt.Errorf("encrypt-password: --key or STXBOT_STX_PASSWORD_KEY is required")
	}

	fmt.Fprint(cmd.ErrOrStderr(), "password: ")
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	password := strings.TrimRight(line, "\r\n")
	if password == "" {
		if err != nil {
			return fmt.Errorf("encrypt-password: read password: %w", err)
		}
		return fmt.Errorf("encrypt-password: empty password")
	}

	if err := vault.EncryptToFile(args[0], password, key); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "encrypted password written to %s\n", args[0])
	return nil
}
