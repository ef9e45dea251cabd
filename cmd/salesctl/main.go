package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"flowershop/backend/internal/client"
	"flowershop/backend/internal/config"
	"flowershop/backend/internal/domain"
	"flowershop/backend/internal/logging"
)

const usage = `usage: salesctl <command> [flags]

commands:
  report    print the sales report for a period
  watch     keep today's report loaded, rolling over at midnight
  orders    list orders with stats
  advance   move an order to in-progress, completed or cancelled
  checkout  ring up a cart and submit it as an order or walk-in sale
  export    write a report, sales list or order list as csv or xlsx

every command accepts -user and -password (or STORE_USERNAME / STORE_PASSWORD)`

var errUsage = errors.New("invalid usage")

func main() {
	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintln(os.Stderr, "read .env:", err)
		os.Exit(1)
	}
	cfg := config.Load()
	logger, err := logging.New(cfg.LogLevel, "console")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store := client.NewClient(cfg, logger)
	a := newApp(cfg, store, logger, os.Stdin, os.Stdout)
	if err := a.run(ctx, os.Args[1:]); err != nil {
		if errors.Is(err, errUsage) {
			fmt.Fprintln(os.Stderr, err)
			fmt.Fprintln(os.Stderr, usage)
			os.Exit(2)
		}
		fmt.Fprintln(os.Stderr, "error:", err)
		if domain.IsRetryable(err) {
			fmt.Fprintln(os.Stderr, "the store did not answer; run the command again to retry")
		}
		os.Exit(1)
	}
}

type app struct {
	cfg    config.Config
	store  *client.Client
	logger *zap.Logger
	in     *bufio.Reader
	out    io.Writer
	now    func() time.Time
}

func newApp(cfg config.Config, store *client.Client, logger *zap.Logger, in io.Reader, out io.Writer) *app {
	if logger == nil {
		logger = zap.NewNop()
	}
	loc := cfg.Location()
	return &app{
		cfg:    cfg,
		store:  store,
		logger: logger,
		in:     bufio.NewReader(in),
		out:    out,
		now:    func() time.Time { return time.Now().In(loc) },
	}
}

func (a *app) run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("%w: missing command", errUsage)
	}
	cmd, rest := args[0], args[1:]
	switch cmd {
	case "report":
		return a.report(ctx, rest)
	case "watch":
		return a.watch(ctx, rest)
	case "orders":
		return a.orders(ctx, rest)
	case "advance":
		return a.advance(ctx, rest)
	case "checkout":
		return a.checkout(ctx, rest)
	case "export":
		return a.export(ctx, rest)
	case "help", "-h", "--help":
		fmt.Fprintln(a.out, usage)
		return nil
	}
	return fmt.Errorf("%w: unknown command %q", errUsage, cmd)
}

type credentials struct {
	user     *string
	password *string
}

func (a *app) flagSet(name string) (*flag.FlagSet, credentials) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(a.out)
	creds := credentials{
		user:     fs.String("user", a.cfg.StoreUsername, "store username"),
		password: fs.String("password", a.cfg.StorePassword, "store password"),
	}
	return fs, creds
}

func (a *app) parse(ctx context.Context, fs *flag.FlagSet, creds credentials, args []string) error {
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	user := strings.TrimSpace(*creds.user)
	if user == "" {
		return nil
	}
	resp, err := a.store.Login(ctx, user, *creds.password)
	if err != nil {
		return fmt.Errorf("login as %s: %w", user, err)
	}
	a.logger.Debug("logged in", zap.String("user", user), zap.String("role", resp.Role))
	return nil
}

func (a *app) parseDate(raw string) (time.Time, error) {
	now := a.now()
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "today" {
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location()), nil
	}
	date, err := time.ParseInLocation("2006-01-02", raw, now.Location())
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: date must be YYYY-MM-DD", errUsage)
	}
	return date, nil
}

func (a *app) confirm(prompt string) bool {
	fmt.Fprintf(a.out, "%s [y/N]: ", prompt)
	answer, err := a.in.ReadString('\n')
	if err != nil && answer == "" {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true
	}
	return false
}
