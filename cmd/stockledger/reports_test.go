package main

import (
	"context"
	"flag"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/subcommands"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/stockledger/internal/projection/domain"
	"github.com/smallbiznis/stockledger/internal/report"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func valuationView() view {
	v := &domain.Valuation{
		Currency: "USD",
		Rows: []domain.ValuationRow{
			{SKU: "A1", LocationID: "WH1", CostingMethod: "FIFO", Quantity: decimal.NewFromInt(30), UnitCost: decimal.NewFromInt(15), Value: decimal.NewFromInt(450)},
		},
		Total: decimal.NewFromInt(450),
	}
	return view{
		data:     v,
		markdown: func() (string, error) { return report.ValuationMarkdown(v) },
		pdf:      func() ([]byte, error) { return report.ValuationPDF(v) },
	}
}

func TestParseDate(t *testing.T) {
	at, err := parseDate("")
	require.NoError(t, err)
	assert.Nil(t, at)

	at, err = parseDate("2024-02-01")
	require.NoError(t, err)
	require.NotNil(t, at)
	assert.Equal(t, "2024-02-01T00:00:00Z", at.Format("2006-01-02T15:04:05Z07:00"))

	_, err = parseDate("01/02/2024")
	assert.Error(t, err)
}

func TestWriteFormats(t *testing.T) {
	dir := t.TempDir()

	md := filepath.Join(dir, "valuation.md")
	require.NoError(t, write(valuationView(), formatMarkdown, md))
	body, err := os.ReadFile(md)
	require.NoError(t, err)
	assert.Contains(t, string(body), "| A1 | WH1 | FIFO | 30 | 15 | $450.00 |")

	js := filepath.Join(dir, "valuation.json")
	require.NoError(t, write(valuationView(), formatJSON, js))
	body, err = os.ReadFile(js)
	require.NoError(t, err)
	assert.Contains(t, string(body), `"sku": "A1"`)

	pdf := filepath.Join(dir, "valuation.pdf")
	require.NoError(t, write(valuationView(), formatPDF, pdf))
	body, err = os.ReadFile(pdf)
	require.NoError(t, err)
	assert.Equal(t, "%PDF", string(body[:4]))

	assert.Error(t, write(valuationView(), formatPDF, ""))
	assert.Error(t, write(valuationView(), "xml", ""))
}

func TestReportRequiresOutput(t *testing.T) {
	cmd := &reportCmd{}
	fs := flag.NewFlagSet("report", flag.ContinueOnError)
	cmd.SetFlags(fs)
	require.NoError(t, fs.Parse([]string{"-kind", "aging"}))

	assert.Equal(t, subcommands.ExitUsageError, cmd.Execute(context.Background(), fs))
}

func TestViewCommandRejectsBadDate(t *testing.T) {
	cmd := newViewCmd(kindAging, "aging", true)
	fs := flag.NewFlagSet(kindAging, flag.ContinueOnError)
	cmd.SetFlags(fs)
	require.NoError(t, fs.Parse([]string{"-as-of", "yesterday"}))

	assert.Equal(t, subcommands.ExitUsageError, cmd.Execute(context.Background(), fs))
}
