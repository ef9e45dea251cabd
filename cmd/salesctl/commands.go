package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"flowershop/backend/internal/cart"
	"flowershop/backend/internal/checkout"
	"flowershop/backend/internal/domain"
	"flowershop/backend/internal/export"
	"flowershop/backend/internal/lifecycle"
	"flowershop/backend/internal/report"
	"flowershop/backend/internal/stats"
	"flowershop/backend/internal/table"
)

func (a *app) report(ctx context.Context, args []string) error {
	fs, creds := a.flagSet("report")
	period := fs.String("period", "daily", "daily, weekly or monthly")
	rawDate := fs.String("date", "today", "report date (YYYY-MM-DD)")
	if err := a.parse(ctx, fs, creds, args); err != nil {
		return err
	}
	p, ok := domain.ParseReportPeriod(*period)
	if !ok {
		return fmt.Errorf("%w: unknown period %q", errUsage, *period)
	}
	date, err := a.parseDate(*rawDate)
	if err != nil {
		return err
	}

	loader := report.NewLoader(a.store, nil, a.now)
	state, _, err := loader.Load(ctx, p, date)
	if err != nil {
		return err
	}
	printReport(a.out, state.Result)
	return nil
}

func (a *app) watch(ctx context.Context, args []string) error {
	fs, creds := a.flagSet("watch")
	interval := fs.Duration("rollover-check", report.DefaultRolloverInterval, "how often to check for a new calendar day")
	refresh := fs.Duration("refresh", 30*time.Second, "how often to reload the report")
	if err := a.parse(ctx, fs, creds, args); err != nil {
		return err
	}
	if *refresh <= 0 {
		return fmt.Errorf("%w: -refresh must be positive", errUsage)
	}

	loader := report.NewLoader(a.store, nil, a.now)
	unsubscribe := loader.Subscribe(func(state report.State) {
		if state.Err != nil {
			fmt.Fprintf(a.out, "[%s] report unavailable, showing last result: %v\n", a.now().Format("15:04:05"), state.Err)
			return
		}
		fmt.Fprintf(a.out, "[%s] daily report %s\n", a.now().Format("15:04:05"), state.Result.Date)
		printSummary(a.out, state.Result)
	})
	defer unsubscribe()

	today, _ := a.parseDate("today")
	if _, _, err := loader.Load(ctx, domain.PeriodDaily, today); err != nil {
		a.logger.Warn("initial report load failed", zap.Error(err))
	}

	watcher := report.NewWatcher(loader, *interval, a.now, a.logger)
	done := make(chan error, 1)
	go func() { done <- watcher.Run(ctx) }()

	ticker := time.NewTicker(*refresh)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			<-done
			return nil
		case <-ticker.C:
			if _, _, err := loader.Reload(ctx); err != nil {
				a.logger.Warn("report reload failed", zap.Error(err))
			}
		}
	}
}

func (a *app) orders(ctx context.Context, args []string) error {
	fs, creds := a.flagSet("orders")
	status := fs.String("status", "", "filter by status")
	search := fs.String("search", "", "filter by code, customer or staff")
	sortKey := fs.String("sort", "created", "created, code, customer, status or total")
	desc := fs.Bool("desc", false, "sort descending")
	page := fs.Int("page", 1, "page number")
	pageSize := fs.Int("page-size", table.DefaultPageSize, "rows per page")
	if err := a.parse(ctx, fs, creds, args); err != nil {
		return err
	}

	filter := domain.OrderFilter{Search: strings.TrimSpace(*search)}
	if *status != "" {
		s, ok := domain.ParseOrderStatus(*status)
		if !ok {
			return fmt.Errorf("%w: unknown status %q", errUsage, *status)
		}
		filter.Status = s
	}

	manager := lifecycle.NewManager(a.store)
	if err := manager.Load(ctx, filter); err != nil {
		return err
	}
	counters := stats.New(a.store, a.cfg.StatsRefreshDelay(), a.logger)
	defer counters.Stop()
	if _, err := counters.Refresh(ctx); err != nil {
		return err
	}

	orders := manager.Orders()
	view := orderTable(orders, *sortKey, *desc, *pageSize, *page).View()
	printOrders(a.out, view)
	printStats(a.out, counters.Snapshot(), stats.CompletedToday(orders, a.now()))
	return nil
}

func (a *app) advance(ctx context.Context, args []string) error {
	fs, creds := a.flagSet("advance")
	yes := fs.Bool("yes", false, "cancel without asking")
	if err := a.parse(ctx, fs, creds, args); err != nil {
		return err
	}
	if fs.NArg() != 2 {
		return fmt.Errorf("%w: advance [-yes] <order-id> start|complete|cancel", errUsage)
	}
	id, action := fs.Arg(0), strings.ToLower(fs.Arg(1))

	manager := lifecycle.NewManager(a.store, lifecycle.WithConfirmer(func(_ context.Context, order domain.Order) bool {
		if *yes {
			return true
		}
		return a.confirm(fmt.Sprintf("Cancel order %s for %s?", order.OrderCode, order.CustomerName))
	}))
	if err := manager.Load(ctx, domain.OrderFilter{}); err != nil {
		return err
	}

	counters := stats.New(a.store, a.cfg.StatsRefreshDelay(), a.logger)
	defer counters.Stop()
	if _, err := counters.Refresh(ctx); err != nil {
		return err
	}
	unsubscribe := manager.Subscribe(counters.Observe)
	defer unsubscribe()

	var (
		t   domain.Transition
		err error
	)
	switch action {
	case "start":
		t, err = manager.Start(ctx, id)
	case "complete":
		t, err = manager.Complete(ctx, id)
	case "cancel":
		t, err = manager.Cancel(ctx, id)
	default:
		return fmt.Errorf("%w: unknown action %q", errUsage, action)
	}
	if errors.Is(err, lifecycle.ErrNotConfirmed) {
		fmt.Fprintln(a.out, "cancelled nothing")
		return nil
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(a.out, "order %s: %s -> %s\n", t.OrderID, t.From, t.To)
	if t.To == domain.StatusCompleted {
		sale, err := a.store.SaleForOrder(ctx, t.OrderID)
		if err != nil {
			a.logger.Warn("sale lookup failed", zap.String("order_id", t.OrderID), zap.Error(err))
		} else {
			fmt.Fprintf(a.out, "sale %s recorded %s %s for %s\n", sale.SaleCode, sale.SaleDate, sale.SaleTime, moneyText(sale.GrandTotal))
		}
	}
	orders := manager.Orders()
	printStats(a.out, counters.Snapshot(), stats.CompletedToday(orders, a.now()))
	return nil
}

func (a *app) checkout(ctx context.Context, args []string) error {
	fs, creds := a.flagSet("checkout")
	customer := fs.String("customer", "", "customer name")
	staff := fs.String("staff", "", "staff name")
	payment := fs.String("payment", string(domain.PaymentCash), "cash, card or gcash")
	cash := fs.String("cash", "", "cash received")
	notes := fs.String("notes", "", "order notes")
	walkIn := fs.Bool("walk-in", false, "record a direct sale instead of an order")
	if err := a.parse(ctx, fs, creds, args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return fmt.Errorf("%w: checkout [flags] <product-id|code>[=qty]...", errUsage)
	}

	products, err := a.store.ListProducts(ctx, "")
	if err != nil {
		return err
	}
	catalog := make(map[string]domain.Product, len(products)*2)
	for _, p := range products {
		catalog[p.ID] = p
		catalog[strings.ToUpper(p.ProductCode)] = p
	}

	var order []domain.Product
	wanted := make(map[string]int)
	for _, arg := range fs.Args() {
		ref, qty, err := parseCartArg(arg)
		if err != nil {
			return err
		}
		p, ok := catalog[ref]
		if !ok {
			p, ok = catalog[strings.ToUpper(ref)]
		}
		if !ok {
			return domain.NotFoundError{Resource: "product", ID: ref}
		}
		if _, seen := wanted[p.ID]; !seen {
			order = append(order, p)
		}
		wanted[p.ID] += qty
	}

	c := cart.New(cart.StockClamp)
	for _, p := range order {
		c.Add(p)
		c.SetQuantity(p.ID, wanted[p.ID])
	}
	for _, line := range c.Lines() {
		if line.Product.TracksStock() && line.Quantity < wanted[line.Product.ID] {
			fmt.Fprintf(a.out, "%s limited to %d in stock\n", line.Product.Name, line.Quantity)
		}
	}

	details := checkout.Details{
		CustomerName:  *customer,
		StaffName:     *staff,
		PaymentMethod: domain.PaymentMethod(strings.ToLower(strings.TrimSpace(*payment))),
		CashReceived:  *cash,
		Notes:         *notes,
	}
	var creator checkout.OrderCreator = a.store
	if *walkIn {
		if strings.TrimSpace(details.CustomerName) == "" {
			details.CustomerName = domain.WalkInCustomer
		}
		creator = saleRecorder{store: a.store}
	}

	receipt, req, err := checkout.Submit(ctx, c, creator, details)
	if err != nil {
		return err
	}
	printReceipt(a.out, receipt, req)
	return nil
}

func (a *app) export(ctx context.Context, args []string) error {
	fs, creds := a.flagSet("export")
	kind := fs.String("kind", "report", "report, sales or orders")
	rawFormat := fs.String("format", "csv", "csv or xlsx")
	period := fs.String("period", "daily", "report period")
	rawDate := fs.String("date", "today", "report date (YYYY-MM-DD)")
	from := fs.String("from", "", "first sale date (YYYY-MM-DD)")
	to := fs.String("to", "", "last sale date (YYYY-MM-DD)")
	server := fs.Bool("server", false, "download the server-rendered report file")
	output := fs.String("o", "", "output file (default stdout)")
	if err := a.parse(ctx, fs, creds, args); err != nil {
		return err
	}
	format, ok := export.ParseFormat(*rawFormat)
	if !ok {
		return fmt.Errorf("%w: unknown format %q", errUsage, *rawFormat)
	}

	var w io.Writer = a.out
	if *output != "" {
		f, err := os.Create(*output)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}

	switch *kind {
	case "report":
		p, ok := domain.ParseReportPeriod(*period)
		if !ok {
			return fmt.Errorf("%w: unknown period %q", errUsage, *period)
		}
		date, err := a.parseDate(*rawDate)
		if err != nil {
			return err
		}
		if *server {
			body, err := a.store.ExportReport(ctx, p, date, string(format))
			if err != nil {
				return err
			}
			_, err = w.Write(body)
			return err
		}
		payload, err := a.store.GetReport(ctx, p, date)
		if err != nil {
			return err
		}
		result := report.NewAggregator().Aggregate(p, date, payload)
		return export.Write(w, format, export.ReportMatrix(result))
	case "sales":
		var start, end time.Time
		var err error
		if *from != "" {
			if start, err = a.parseDate(*from); err != nil {
				return err
			}
		}
		if *to != "" {
			if end, err = a.parseDate(*to); err != nil {
				return err
			}
		}
		sales, _, err := a.store.ListSales(ctx, start, end)
		if err != nil {
			return err
		}
		return export.Write(w, format, export.SalesMatrix(sales))
	case "orders":
		orders, err := a.store.ListOrders(ctx, domain.OrderFilter{})
		if err != nil {
			return err
		}
		return export.Write(w, format, export.OrdersMatrix(orders))
	}
	return fmt.Errorf("%w: unknown export kind %q", errUsage, *kind)
}

// saleRecorder sends a checkout to the walk-in sales endpoint.
type saleRecorder struct {
	store interface {
		CreateSale(ctx context.Context, req domain.OrderRequest) (domain.SaleRecord, error)
	}
}

func (r saleRecorder) CreateOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderReceipt, error) {
	sale, err := r.store.CreateSale(ctx, req)
	if err != nil {
		return domain.OrderReceipt{}, err
	}
	return domain.OrderReceipt{ID: sale.ID, OrderCode: sale.SaleCode}, nil
}

func parseCartArg(arg string) (string, int, error) {
	ref, rawQty, hasQty := strings.Cut(arg, "=")
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", 0, fmt.Errorf("%w: empty product in %q", errUsage, arg)
	}
	if !hasQty {
		return ref, 1, nil
	}
	qty, err := strconv.Atoi(strings.TrimSpace(rawQty))
	if err != nil || qty < 1 {
		return "", 0, fmt.Errorf("%w: quantity in %q must be a positive number", errUsage, arg)
	}
	return ref, qty, nil
}

