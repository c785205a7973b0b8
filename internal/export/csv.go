// Package export writes analysis data in formats other tools can read.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/dyike/cortexctl/internal/models"
)

var priceHeaders = []string{"Symbol", "Date", "Open", "High", "Low", "Close", "Volume"}

// WritePriceCSV writes one row per price point, oldest first as received.
func WritePriceCSV(w io.Writer, symbol string, points []models.PricePoint) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(priceHeaders); err != nil {
		return fmt.Errorf("failed to write headers: %w", err)
	}
	for _, p := range points {
		row := []string{
			symbol,
			p.Date,
			p.Open.StringFixed(4),
			p.High.StringFixed(4),
			p.Low.StringFixed(4),
			p.Close.StringFixed(4),
			strconv.FormatInt(p.Volume, 10),
		}
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write row: %w", err)
		}
	}
	writer.Flush()
	return writer.Error()
}

// PriceCSVFile writes the price series of res to path, creating parent
// directories as needed.
func PriceCSVFile(path string, res *models.AnalysisResult) error {
	if res == nil || len(res.PriceData) == 0 {
		return fmt.Errorf("no price data to export")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %w", err)
	}
	if err := WritePriceCSV(f, res.Ticker, res.PriceData); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// DefaultPriceCSVName is TICKER_DATE_prices.csv.
func DefaultPriceCSVName(res *models.AnalysisResult) string {
	return fmt.Sprintf("%s_%s_prices.csv", res.Ticker, res.AnalysisDate)
}
