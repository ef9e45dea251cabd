package report

import (
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"flowershop/backend/internal/domain"
)

const TopProductsLimit = 6

const (
	SourceServer  = "server"
	SourceDerived = "derived"
)

var (
	revenueSummaryKeys = []string{"total_sales", "totalSales", "total_revenue", "totalRevenue"}
	ordersSummaryKeys  = []string{"transaction_count", "transactionCount", "total_orders", "totalOrders"}
	itemsSummaryKeys   = []string{"total_items", "totalItems", "items_sold", "itemsSold"}
	averageSummaryKeys = []string{"average_order_value", "averageOrderValue", "avg_order_value"}
	recordRevenueKeys  = []string{"grand_total", "total_amount", "total", "amount"}
)

type TrendBucket struct {
	Hour             int             `json:"hour"`
	Date             string          `json:"date,omitempty"`
	Revenue          decimal.Decimal `json:"revenue"`
	TransactionCount int             `json:"transactionCount"`
}

// Result is the derived report for one period. It is never persisted.
type Result struct {
	Period            domain.ReportPeriod  `json:"period"`
	Date              string               `json:"date"`
	TotalRevenue      decimal.Decimal      `json:"totalRevenue"`
	TotalOrders       int                  `json:"totalOrders"`
	ItemsSold         int                  `json:"itemsSold"`
	AverageOrderValue decimal.Decimal      `json:"averageOrderValue"`
	TopProducts       []domain.ProductRank `json:"topProducts"`
	TopProductsSource string               `json:"topProductsSource"`
	TrendSeries       []TrendBucket        `json:"trendSeries"`
}

// Empty is the zeroed result shown before the first load and after a day rollover.
func Empty(period domain.ReportPeriod, date time.Time) Result {
	return Result{
		Period:            period,
		Date:              date.Format("2006-01-02"),
		TotalRevenue:      decimal.Zero,
		AverageOrderValue: decimal.Zero,
		TopProducts:       []domain.ProductRank{},
		TopProductsSource: SourceDerived,
		TrendSeries:       emptyTrend(period),
	}
}

type Aggregator struct {
	Extractors []Extractor
}

func NewAggregator() *Aggregator {
	return &Aggregator{Extractors: DefaultExtractors()}
}

// Aggregate reduces a raw payload. Hour and date buckets use date's location.
func (a *Aggregator) Aggregate(period domain.ReportPeriod, date time.Time, payload Payload) Result {
	extractors := a.Extractors
	if len(extractors) == 0 {
		extractors = DefaultExtractors()
	}

	itemsByRecord := make([][]Item, len(payload.RawData))
	for i, rec := range payload.RawData {
		itemsByRecord[i], _ = ExtractItems(rec, extractors)
	}

	result := Result{
		Period: period,
		Date:   date.Format("2006-01-02"),
	}
	a.summarize(&result, payload, itemsByRecord)

	if payload.TopProducts != nil {
		result.TopProducts = serverRanking(payload.TopProducts)
		result.TopProductsSource = SourceServer
	} else {
		result.TopProducts = TopProducts(itemsByRecord, TopProductsLimit)
		result.TopProductsSource = SourceDerived
	}

	switch period {
	case domain.PeriodDaily:
		result.TrendSeries = HourlyTrend(payload.RawData, date.Location())
	default:
		if payload.TrendBuckets != nil {
			result.TrendSeries = passThroughTrend(payload.TrendBuckets)
		} else {
			result.TrendSeries = DailyTrend(payload.RawData, date.Location())
		}
	}
	return result
}

func (a *Aggregator) summarize(result *Result, payload Payload, itemsByRecord [][]Item) {
	summary := payload.Summary

	if v, ok := lookup(summary, revenueSummaryKeys...); ok {
		result.TotalRevenue = decimalOr(v, decimal.Zero)
	} else {
		total := decimal.Zero
		for _, rec := range payload.RawData {
			total = total.Add(recordRevenue(rec))
		}
		result.TotalRevenue = total
	}

	if v, ok := lookup(summary, ordersSummaryKeys...); ok {
		result.TotalOrders, _ = toInt(v)
	} else {
		result.TotalOrders = len(payload.RawData)
	}

	if v, ok := lookup(summary, itemsSummaryKeys...); ok {
		result.ItemsSold, _ = toInt(v)
	} else {
		for _, items := range itemsByRecord {
			for _, item := range items {
				result.ItemsSold += item.Quantity
			}
		}
	}

	result.AverageOrderValue = decimal.Zero
	if result.TotalOrders > 0 {
		result.AverageOrderValue = result.TotalRevenue.DivRound(decimal.NewFromInt(int64(result.TotalOrders)), 2)
	}
	if v, ok := lookup(summary, averageSummaryKeys...); ok {
		result.AverageOrderValue = decimalOr(v, decimal.Zero)
	}
}

// TopProducts merges items across records by product key and ranks them by revenue.
func TopProducts(itemsByRecord [][]Item, limit int) []domain.ProductRank {
	byKey := make(map[string]*domain.ProductRank)
	for _, items := range itemsByRecord {
		for _, item := range items {
			key := item.Key()
			if key == "" {
				continue
			}
			rank, ok := byKey[key]
			if !ok {
				rank = &domain.ProductRank{
					ProductID:    item.ProductID,
					Name:         item.Name,
					TotalRevenue: decimal.Zero,
				}
				byKey[key] = rank
			}
			if rank.Name == "" {
				rank.Name = item.Name
			}
			rank.TotalQuantity += item.Quantity
			rank.TotalRevenue = rank.TotalRevenue.Add(item.Revenue())
		}
	}

	keys := make([]string, 0, len(byKey))
	for key := range byKey {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	sort.SliceStable(keys, func(i, j int) bool {
		return byKey[keys[i]].TotalRevenue.GreaterThan(byKey[keys[j]].TotalRevenue)
	})

	if limit > 0 && len(keys) > limit {
		keys = keys[:limit]
	}
	ranking := make([]domain.ProductRank, 0, len(keys))
	for _, key := range keys {
		ranking = append(ranking, *byKey[key])
	}
	return ranking
}

func serverRanking(records []Record) []domain.ProductRank {
	ranking := make([]domain.ProductRank, 0, len(records))
	for _, rec := range records {
		rank := domain.ProductRank{TotalRevenue: decimal.Zero}
		if v, ok := lookup(rec, "product_id", "productId", "id"); ok {
			rank.ProductID = toString(v)
		}
		if v, ok := lookup(rec, "name", "product_name", "productName"); ok {
			rank.Name = toString(v)
		}
		if v, ok := lookup(rec, "total_quantity", "totalQuantity", "quantity"); ok {
			rank.TotalQuantity, _ = toInt(v)
		}
		if v, ok := lookup(rec, "total_revenue", "totalRevenue", "revenue"); ok {
			rank.TotalRevenue = decimalOr(v, decimal.Zero)
		}
		ranking = append(ranking, rank)
	}
	return ranking
}

// HourlyTrend fills 24 buckets, one per hour of day, zero where nothing was sold.
func HourlyTrend(records []Record, loc *time.Location) []TrendBucket {
	buckets := emptyTrend(domain.PeriodDaily)
	for _, rec := range records {
		hour, ok := recordHour(rec, loc)
		if !ok {
			continue
		}
		buckets[hour].Revenue = buckets[hour].Revenue.Add(recordRevenue(rec))
		buckets[hour].TransactionCount++
	}
	return buckets
}

// DailyTrend buckets records by calendar date in ascending date order.
func DailyTrend(records []Record, loc *time.Location) []TrendBucket {
	byDate := make(map[string]*TrendBucket)
	for _, rec := range records {
		date, ok := recordDate(rec, loc)
		if !ok {
			continue
		}
		bucket, ok := byDate[date]
		if !ok {
			bucket = &TrendBucket{Date: date, Revenue: decimal.Zero}
			byDate[date] = bucket
		}
		bucket.Revenue = bucket.Revenue.Add(recordRevenue(rec))
		bucket.TransactionCount++
	}
	dates := make([]string, 0, len(byDate))
	for date := range byDate {
		dates = append(dates, date)
	}
	sort.Strings(dates)
	trend := make([]TrendBucket, 0, len(dates))
	for _, date := range dates {
		trend = append(trend, *byDate[date])
	}
	return trend
}

func passThroughTrend(records []Record) []TrendBucket {
	trend := make([]TrendBucket, 0, len(records))
	for _, rec := range records {
		bucket := TrendBucket{Revenue: decimal.Zero}
		if v, ok := lookup(rec, "date", "day", "sale_date"); ok {
			bucket.Date = toString(v)
		}
		if v, ok := lookup(rec, "revenue", "total", "total_sales"); ok {
			bucket.Revenue = decimalOr(v, decimal.Zero)
		}
		if v, ok := lookup(rec, "transactionCount", "transaction_count", "count"); ok {
			bucket.TransactionCount, _ = toInt(v)
		}
		trend = append(trend, bucket)
	}
	return trend
}

func emptyTrend(period domain.ReportPeriod) []TrendBucket {
	if period != domain.PeriodDaily {
		return []TrendBucket{}
	}
	buckets := make([]TrendBucket, 24)
	for hour := range buckets {
		buckets[hour] = TrendBucket{Hour: hour, Revenue: decimal.Zero}
	}
	return buckets
}

func recordRevenue(rec Record) decimal.Decimal {
	if v, ok := lookup(rec, recordRevenueKeys...); ok {
		return decimalOr(v, decimal.Zero)
	}
	return decimal.Zero
}

func recordHour(rec Record, loc *time.Location) (int, bool) {
	if v, ok := lookup(rec, "sale_time", "time"); ok {
		raw := toString(v)
		for _, layout := range []string{"15:04:05", "15:04", "3:04 PM", "03:04 PM"} {
			if t, err := time.Parse(layout, raw); err == nil {
				return t.Hour(), true
			}
		}
	}
	if t, ok := recordTimestamp(rec, loc); ok {
		return t.Hour(), true
	}
	return 0, false
}

func recordDate(rec Record, loc *time.Location) (string, bool) {
	if v, ok := lookup(rec, "sale_date", "date"); ok {
		raw := toString(v)
		if t, err := time.Parse("2006-01-02", raw); err == nil {
			return t.Format("2006-01-02"), true
		}
	}
	if t, ok := recordTimestamp(rec, loc); ok {
		return t.Format("2006-01-02"), true
	}
	return "", false
}

func recordTimestamp(rec Record, loc *time.Location) (time.Time, bool) {
	if loc == nil {
		loc = time.Local
	}
	v, ok := lookup(rec, "created_at", "completed_at", "sale_date", "createdAt")
	if !ok {
		return time.Time{}, false
	}
	raw := strings.TrimSpace(toString(v))
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05", "2006-01-02T15:04:05"} {
		if t, err := time.ParseInLocation(layout, raw, loc); err == nil {
			return t.In(loc), true
		}
	}
	return time.Time{}, false
}
