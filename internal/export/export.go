package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/xuri/excelize/v2"

	"flowershop/backend/internal/domain"
	"flowershop/backend/internal/report"
)

const sheetName = "Sheet1"

// Matrix is a stable row/column rendering of a list, shared by every export format.
type Matrix struct {
	Title  string
	Header []string
	Rows   [][]string
}

func SalesMatrix(sales []domain.SaleRecord) Matrix {
	m := Matrix{
		Title:  "Sales",
		Header: []string{"Sale Code", "Date", "Time", "Customer", "Staff", "Items", "Payment", "Subtotal", "Tax", "Total", "Order"},
	}
	for _, sale := range sales {
		orderRef := "direct"
		if sale.OrderID != nil {
			orderRef = *sale.OrderID
		}
		m.Rows = append(m.Rows, []string{
			sale.SaleCode,
			sale.SaleDate,
			sale.SaleTime,
			sale.CustomerName,
			sale.StaffName,
			strconv.Itoa(sale.ItemsCount),
			string(sale.PaymentMethod),
			sale.TotalAmount.StringFixed(2),
			sale.TaxAmount.StringFixed(2),
			sale.GrandTotal.StringFixed(2),
			orderRef,
		})
	}
	return m
}

func OrdersMatrix(orders []domain.Order) Matrix {
	m := Matrix{
		Title:  "Orders",
		Header: []string{"Order Code", "Created", "Customer", "Staff", "Status", "Payment", "Subtotal", "Tax", "Total"},
	}
	for _, order := range orders {
		m.Rows = append(m.Rows, []string{
			order.OrderCode,
			order.CreatedAt.Format("2006-01-02 15:04"),
			order.CustomerName,
			order.StaffName,
			string(order.Status),
			string(order.PaymentMethod),
			order.TotalAmount.StringFixed(2),
			order.TaxAmount.StringFixed(2),
			order.GrandTotal.StringFixed(2),
		})
	}
	return m
}

// ReportMatrix lays a report out as section,key,value rows.
func ReportMatrix(result report.Result) Matrix {
	m := Matrix{
		Title:  fmt.Sprintf("%s report %s", result.Period, result.Date),
		Header: []string{"section", "key", "value"},
	}
	add := func(section, key, value string) {
		m.Rows = append(m.Rows, []string{section, key, value})
	}
	add("summary", "period", string(result.Period))
	add("summary", "date", result.Date)
	add("summary", "total_revenue", result.TotalRevenue.StringFixed(2))
	add("summary", "total_orders", strconv.Itoa(result.TotalOrders))
	add("summary", "items_sold", strconv.Itoa(result.ItemsSold))
	add("summary", "average_order_value", result.AverageOrderValue.StringFixed(2))
	for i, rank := range result.TopProducts {
		label := rank.Name
		if label == "" {
			label = rank.ProductID
		}
		add("top_product", fmt.Sprintf("%d_%s", i+1, label), fmt.Sprintf("%d units / %s", rank.TotalQuantity, rank.TotalRevenue.StringFixed(2)))
	}
	for _, bucket := range result.TrendSeries {
		key := fmt.Sprintf("%02d:00", bucket.Hour)
		if bucket.Date != "" {
			key = bucket.Date
		}
		add("trend", key, fmt.Sprintf("%d / %s", bucket.TransactionCount, bucket.Revenue.StringFixed(2)))
	}
	return m
}

func WriteCSV(w io.Writer, m Matrix) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(m.Header); err != nil {
		return err
	}
	if err := writer.WriteAll(m.Rows); err != nil {
		return err
	}
	return writer.Error()
}

func WriteXLSX(w io.Writer, m Matrix) error {
	f, err := buildWorkbook(m)
	if err != nil {
		return err
	}
	defer func() {
		_ = f.Close()
	}()
	return f.Write(w)
}

func buildWorkbook(m Matrix) (*excelize.File, error) {
	f := excelize.NewFile()
	for col, heading := range m.Header {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return nil, err
		}
		if err := f.SetCellValue(sheetName, cell, heading); err != nil {
			return nil, err
		}
	}
	for rowIdx, row := range m.Rows {
		for col, value := range row {
			cell, err := excelize.CoordinatesToCellName(col+1, rowIdx+2)
			if err != nil {
				return nil, err
			}
			if err := f.SetCellValue(sheetName, cell, value); err != nil {
				return nil, err
			}
		}
	}
	return f, nil
}

type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

func ParseFormat(raw string) (Format, bool) {
	switch raw {
	case "csv":
		return FormatCSV, true
	case "xlsx", "excel":
		return FormatXLSX, true
	}
	return "", false
}

func (f Format) ContentType() string {
	if f == FormatXLSX {
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	return "text/csv; charset=utf-8"
}

func Write(w io.Writer, format Format, m Matrix) error {
	if format == FormatXLSX {
		return WriteXLSX(w, m)
	}
	return WriteCSV(w, m)
}
