package database

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/dnldd/candlebot/exchange"
	"github.com/dnldd/candlebot/shared"
	"github.com/gocarina/gocsv"
)

// ReportFileName returns the report file name of a bot run.
func ReportFileName(bot string, run string) string {
	return fmt.Sprintf("%s-%s.csv", bot, run)
}

// SummaryFileName returns the summary report file name of a bot run.
func SummaryFileName(bot string, run string) string {
	return fmt.Sprintf("summary-%s-%s.csv", bot, run)
}

// WriteTransactionsCSV writes the provided transactions to a csv file at the provided
// path, creating its directory when missing.
func WriteTransactionsCSV(path string, txs []shared.Transaction) error {
	return writeCSV(path, &txs)
}

// WriteSummaryCSV writes the provided run summary as a single row csv file at the
// provided path, creating its directory when missing.
func WriteSummaryCSV(path string, summary exchange.Summary) error {
	rows := []exchange.Summary{summary}
	return writeCSV(path, &rows)
}

// writeCSV marshals the provided slice pointer to a csv file.
func writeCSV(path string, rows any) error {
	err := os.MkdirAll(filepath.Dir(path), 0o755)
	if err != nil {
		return fmt.Errorf("creating report directory: %w", err)
	}

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating report file: %w", err)
	}
	defer file.Close()

	err = gocsv.MarshalFile(rows, file)
	if err != nil {
		return fmt.Errorf("writing %s: %w", filepath.Base(path), err)
	}

	return nil
}
