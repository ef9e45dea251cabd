package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/shopspring/decimal"

	"flowershop/backend/internal/domain"
	"flowershop/backend/internal/money"
	"flowershop/backend/internal/report"
	"flowershop/backend/internal/table"
)

func moneyText(d decimal.Decimal) string {
	return money.Format(money.Round2(d))
}

func printSummary(w io.Writer, r report.Result) {
	fmt.Fprintf(w, "revenue %s  orders %d  items %d  average %s\n",
		moneyText(r.TotalRevenue), r.TotalOrders, r.ItemsSold, moneyText(r.AverageOrderValue))
}

func printReport(w io.Writer, r report.Result) {
	fmt.Fprintf(w, "%s report for %s\n", r.Period, r.Date)
	printSummary(w, r)

	fmt.Fprintln(w, "\ntrend")
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, b := range r.TrendSeries {
		label := fmt.Sprintf("%02d:00", b.Hour)
		if b.Date != "" {
			label = b.Date
		}
		fmt.Fprintf(tw, "  %s\t%d\t%s\t%s\n", label, b.TransactionCount, moneyText(b.Revenue), bar(b.TransactionCount))
	}
	_ = tw.Flush()

	fmt.Fprintf(w, "\ntop products (%s)\n", r.TopProductsSource)
	if len(r.TopProducts) == 0 {
		fmt.Fprintln(w, "  no sales in this period")
		return
	}
	tw = tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for i, p := range r.TopProducts {
		name := p.Name
		if name == "" {
			name = p.ProductID
		}
		fmt.Fprintf(tw, "  %d.\t%s\t%d\t%s\n", i+1, name, p.TotalQuantity, moneyText(p.TotalRevenue))
	}
	_ = tw.Flush()
}

func bar(n int) string {
	if n > 40 {
		n = 40
	}
	return strings.Repeat("#", n)
}

func printOrders(w io.Writer, view table.View[domain.Order]) {
	if view.Empty {
		fmt.Fprintln(w, "no orders")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCODE\tCUSTOMER\tSTAFF\tSTATUS\tTOTAL\tCREATED")
	for _, o := range view.Rows {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			o.ID, o.OrderCode, o.CustomerName, o.StaffName, o.Status, moneyText(o.GrandTotal), o.CreatedAt.Format("2006-01-02 15:04"))
	}
	_ = tw.Flush()
	fmt.Fprintf(w, "page %d of %d (%d orders), page total %s\n", view.Page, view.PageCount, view.TotalRows, moneyText(view.PageTotal))
}

func printStats(w io.Writer, s domain.StatsSnapshot, completedToday int) {
	fmt.Fprintf(w, "total %d  pending %d  in-progress %d  completed %d  cancelled %d  completed today %d\n",
		s.Total, s.Pending, s.InProgress, s.Completed, s.Cancelled, completedToday)
}

func printReceipt(w io.Writer, receipt domain.OrderReceipt, req domain.OrderRequest) {
	fmt.Fprintf(w, "%s  %s\n", receipt.OrderCode, req.CustomerName)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, item := range req.Items {
		fmt.Fprintf(tw, "  %s\tx%d\t%s\n", item.Name, item.Quantity, moneyText(item.LineTotal()))
	}
	fmt.Fprintf(tw, "  subtotal\t\t%s\n", moneyText(req.TotalAmount))
	fmt.Fprintf(tw, "  tax\t\t%s\n", moneyText(req.TaxAmount))
	fmt.Fprintf(tw, "  total\t\t%s\n", moneyText(req.GrandTotal))
	fmt.Fprintf(tw, "  %s\t\t%s\n", req.PaymentMethod, moneyText(req.CashReceived))
	fmt.Fprintf(tw, "  change\t\t%s\n", moneyText(req.ChangeAmount))
	_ = tw.Flush()
}

func orderTable(orders []domain.Order, sortKey string, desc bool, pageSize int, page int) *table.Table[domain.Order] {
	t := table.New(orders, pageSize, func(o domain.Order) decimal.Decimal { return o.GrandTotal }).
		AddKey("created", func(a, b domain.Order) int { return a.CreatedAt.Compare(b.CreatedAt) }).
		AddKey("code", func(a, b domain.Order) int { return strings.Compare(a.OrderCode, b.OrderCode) }).
		AddKey("customer", func(a, b domain.Order) int {
			return strings.Compare(strings.ToLower(a.CustomerName), strings.ToLower(b.CustomerName))
		}).
		AddKey("status", func(a, b domain.Order) int { return strings.Compare(string(a.Status), string(b.Status)) }).
		AddKey("total", func(a, b domain.Order) int { return a.GrandTotal.Cmp(b.GrandTotal) })
	t.SortBy(sortKey)
	if desc {
		t.SortBy(sortKey)
	}
	t.SetPage(page)
	return t
}
