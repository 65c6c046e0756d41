// Package feed loads the settlement transaction feed for the example
// application, either by parsing a CSV export or by generating synthetic
// transactions for demo runs.
package feed

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	model "github.com/tigerroll/swell/pkg/batch/core/domain/model"
)

// ParseTransactionsCSV parses a settlement feed in CSV form. The first row
// must be a header containing at least the record_id and transaction_type
// columns; every other column becomes a record field keyed by its
// lower-cased header name.
func ParseTransactionsCSV(data []byte) ([]*model.SourceRecord, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("transaction feed is empty")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read transaction feed header: %w", err)
	}

	idCol, typeCol := -1, -1
	for i := range header {
		header[i] = strings.ToLower(strings.TrimSpace(header[i]))
		switch header[i] {
		case "record_id":
			idCol = i
		case "transaction_type":
			typeCol = i
		}
	}
	if idCol < 0 || typeCol < 0 {
		return nil, fmt.Errorf("transaction feed header must contain record_id and transaction_type columns, got %v", header)
	}

	var records []*model.SourceRecord
	for line := 2; ; line++ {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read transaction feed line %d: %w", line, err)
		}

		record := &model.SourceRecord{
			RecordID:        strings.TrimSpace(row[idCol]),
			TransactionType: strings.ToUpper(strings.TrimSpace(row[typeCol])),
			Fields:          make(map[string]string, len(header)-2),
		}
		if record.RecordID == "" {
			return nil, fmt.Errorf("transaction feed line %d has an empty record_id", line)
		}
		for i, name := range header {
			if i == idCol || i == typeCol {
				continue
			}
			record.Fields[name] = strings.TrimSpace(row[i])
		}
		records = append(records, record)
	}
	return records, nil
}

// GenerateTransactions produces n synthetic settlement transactions cycling
// through the WIRE, ACH and CHECK types, for demo runs without a CSV feed.
// Record IDs are deterministic so a repeated run submits an identical feed.
func GenerateTransactions(n int, valueDate string) []*model.SourceRecord {
	types := []string{"WIRE", "ACH", "CHECK"}
	records := make([]*model.SourceRecord, 0, n)
	for i := 0; i < n; i++ {
		txType := types[i%len(types)]
		currency := "USD"
		if i%5 == 0 {
			// Left empty so the rulebook's default value applies.
			currency = ""
		}
		records = append(records, &model.SourceRecord{
			RecordID:        fmt.Sprintf("%s-%06d", strings.ToLower(txType), i+1),
			TransactionType: txType,
			Fields: map[string]string{
				"amount":           fmt.Sprintf("%d.%02d", 100+i*7, i%100),
				"currency":         currency,
				"debtor_account":   fmt.Sprintf("DE%020d", 1000+i),
				"creditor_account": fmt.Sprintf("GB%020d", 2000+i),
				"value_date":       valueDate,
				"reference":        fmt.Sprintf("SYN-%s-%06d", txType, i+1),
			},
		})
	}
	return records
}
