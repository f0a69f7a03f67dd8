package detection

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/nimeshabuddhika/parcel-recovery/pkg/models"
)

const dateLayout = "2006-01-02"

// Columns every order CSV must carry. Other known columns are optional.
var requiredColumns = []string{"order_id", "carrier", "service", "status", "shipping_cost", "product_value", "delay_days"}

// RowError reports a CSV row that could not be turned into an order.
type RowError struct {
	Line int
	Err  error
}

func (e RowError) Error() string { return fmt.Sprintf("line %d: %v", e.Line, e.Err) }

// ReadOrdersCSV parses a header-driven order export. Rows that fail to parse are returned as
// RowErrors and never stop the read; a missing required column is fatal.
func ReadOrdersCSV(r io.Reader) ([]models.Order, []RowError, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, nil, fmt.Errorf("detection: read header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))] = i
	}
	for _, c := range requiredColumns {
		if _, ok := cols[c]; !ok {
			return nil, nil, fmt.Errorf("detection: missing column %q", c)
		}
	}

	var orders []models.Order
	var rowErrs []RowError
	line := 1
	for {
		rec, err := cr.Read()
		line++
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			rowErrs = append(rowErrs, RowError{Line: line, Err: err})
			continue
		}
		o, err := parseOrder(rec, cols)
		if err != nil {
			rowErrs = append(rowErrs, RowError{Line: line, Err: err})
			continue
		}
		orders = append(orders, o)
	}
	return orders, rowErrs, nil
}

func parseOrder(rec []string, cols map[string]int) (models.Order, error) {
	get := func(name string) string {
		i, ok := cols[name]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	o := models.Order{
		OrderID:        get("order_id"),
		Carrier:        get("carrier"),
		Service:        get("service"),
		Status:         get("status"),
		TrackingNumber: get("tracking_number"),
		ClientEmail:    get("client_email"),
		ClientName:     get("client_name"),
		RecipientName:  get("recipient_name"),
		PODImageRef:    get("pod_image_ref"),
	}

	var err error
	if o.ShippingCost, err = parseFloat(get("shipping_cost")); err != nil {
		return o, fmt.Errorf("shipping_cost: %w", err)
	}
	if o.ProductValue, err = parseFloat(get("product_value")); err != nil {
		return o, fmt.Errorf("product_value: %w", err)
	}
	delay, err := parseFloat(get("delay_days"))
	if err != nil {
		return o, fmt.Errorf("delay_days: %w", err)
	}
	o.DelayDays = int(delay)

	if o.HasPOD, err = parseBool(get("has_pod")); err != nil {
		return o, fmt.Errorf("has_pod: %w", err)
	}
	if o.PODValid, err = parseBool(get("pod_valid")); err != nil {
		return o, fmt.Errorf("pod_valid: %w", err)
	}
	if v := get("pod_gps_match"); v != "" && !strings.EqualFold(v, "none") && !strings.EqualFold(v, "nan") {
		match, err := strconv.ParseBool(v)
		if err != nil {
			return o, fmt.Errorf("pod_gps_match: %w", err)
		}
		o.PODGPSMatch = &match
	}

	if v := get("order_date"); v != "" {
		if o.OrderDate, err = time.Parse(dateLayout, v); err != nil {
			return o, fmt.Errorf("order_date: %w", err)
		}
	}
	if o.ExpectedDeliveryDate, err = parseOptionalDate(get("promised_date")); err != nil {
		return o, fmt.Errorf("promised_date: %w", err)
	}
	if o.DeliveryDate, err = parseOptionalDate(get("actual_date")); err != nil {
		return o, fmt.Errorf("actual_date: %w", err)
	}
	return o, nil
}

func parseFloat(v string) (float64, error) {
	if v == "" {
		return 0, nil
	}
	return strconv.ParseFloat(v, 64)
}

func parseBool(v string) (bool, error) {
	if v == "" {
		return false, nil
	}
	return strconv.ParseBool(v)
}

func parseOptionalDate(v string) (*time.Time, error) {
	if v == "" || strings.EqualFold(v, "none") {
		return nil, nil
	}
	t, err := time.Parse(dateLayout, v)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

var resultHeader = []string{
	"order_id", "carrier", "order_date", "has_dispute", "num_disputes",
	"total_recoverable", "total_expected_recovery", "dispute_type", "rules",
}

// WriteResultsCSV writes one row per processed order.
func WriteResultsCSV(w io.Writer, results []Dispute) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(resultHeader); err != nil {
		return err
	}
	for _, d := range results {
		ids := make([]string, 0, len(d.Matches))
		for _, m := range d.Matches {
			ids = append(ids, string(m.RuleID))
		}
		date := ""
		if !d.OrderDate.IsZero() {
			date = d.OrderDate.Format(dateLayout)
		}
		row := []string{
			d.OrderID,
			d.Carrier,
			date,
			strconv.FormatBool(d.HasDispute),
			strconv.Itoa(d.NumDisputes()),
			strconv.FormatFloat(d.TotalRecoverable, 'f', 2, 64),
			strconv.FormatFloat(d.TotalExpectedRecovery, 'f', 2, 64),
			d.DisputeType(),
			strings.Join(ids, "|"),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
