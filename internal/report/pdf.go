package report

import (
	"strconv"

	"github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/col"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/core"
	"github.com/johnfercher/maroto/v2/pkg/props"
	"github.com/smallbiznis/stockledger/internal/projection/domain"
)

// column widths are on maroto's 12 unit grid.
type column struct {
	title string
	size  int
	right bool
}

type table struct {
	title  string
	cols   []column
	rows   [][]string
	footer []string
}

func TrialBalancePDF(tb *domain.TrialBalance) ([]byte, error) {
	t := table{
		cols: []column{
			{title: "Account", size: 2},
			{title: "Name", size: 4},
			{title: "Type", size: 2},
			{title: "Debit", size: 2, right: true},
			{title: "Credit", size: 2, right: true},
		},
		footer: []string{"Total", "", "", Money(tb.TotalDebit, tb.Currency), Money(tb.TotalCredit, tb.Currency)},
	}
	for _, r := range tb.Rows {
		t.rows = append(t.rows, []string{
			r.AccountCode, r.AccountName, r.AccountType,
			Amount(r.Debit, tb.Currency), Amount(r.Credit, tb.Currency),
		})
	}

	subtitle := "Currency " + tb.Currency
	if tb.AsOf != nil {
		subtitle += ", before " + Date(*tb.AsOf)
	}
	if !tb.Balanced() {
		subtitle += ", OUT OF BALANCE"
	}
	return renderPDF("Trial balance", subtitle, t)
}

func ValuationPDF(v *domain.Valuation) ([]byte, error) {
	t := table{
		cols: []column{
			{title: "SKU", size: 3},
			{title: "Location", size: 2},
			{title: "Method", size: 2},
			{title: "Qty", size: 1, right: true},
			{title: "Unit cost", size: 2, right: true},
			{title: "Value", size: 2, right: true},
		},
		footer: []string{"Total", "", "", "", "", Money(v.Total, v.Currency)},
	}
	for _, r := range v.Rows {
		t.rows = append(t.rows, []string{
			r.SKU, r.LocationID, string(r.CostingMethod),
			Quantity(r.Quantity), r.UnitCost.String(), Money(r.Value, v.Currency),
		})
	}
	return renderPDF("Inventory valuation", "Currency "+v.Currency, t)
}

func AgingPDF(a *domain.AgingReport) ([]byte, error) {
	rows := table{
		cols: []column{
			{title: "SKU", size: 2},
			{title: "Location", size: 2},
			{title: "Oldest", size: 2},
			{title: "Days", size: 1, right: true},
			{title: "Bucket", size: 2},
			{title: "Value", size: 2, right: true},
			{title: "Reserve", size: 1, right: true},
		},
	}
	for _, r := range a.Rows {
		oldest := ""
		if r.OldestLayerAt != nil {
			oldest = Date(*r.OldestLayerAt)
		}
		rows.rows = append(rows.rows, []string{
			r.SKU, r.LocationID, oldest, strconv.Itoa(r.AgeDays), r.Bucket,
			Money(r.Value, a.Currency), Amount(r.Reserve, a.Currency),
		})
	}

	buckets := table{
		title: "By bucket",
		cols: []column{
			{title: "Bucket", size: 6},
			{title: "Value", size: 3, right: true},
			{title: "Reserve", size: 3, right: true},
		},
		footer: []string{"Total", Money(a.Total, a.Currency), Money(a.TotalReserve, a.Currency)},
	}
	for _, b := range a.Buckets {
		buckets.rows = append(buckets.rows, []string{b.Label, Money(b.Value, a.Currency), Money(b.Reserve, a.Currency)})
	}
	return renderPDF("Inventory aging", "As of "+Date(a.AsOf)+", currency "+a.Currency, rows, buckets)
}

func ABCPDF(r *domain.ABCReport) ([]byte, error) {
	t := table{
		cols: []column{
			{title: "SKU", size: 4},
			{title: "Value", size: 3, right: true},
			{title: "Share", size: 2, right: true},
			{title: "Cumulative", size: 2, right: true},
			{title: "Class", size: 1},
		},
		footer: []string{"Total", Money(r.Total, r.Currency), "", "", ""},
	}
	for _, row := range r.Rows {
		t.rows = append(t.rows, []string{
			row.SKU, Money(row.Value, r.Currency), Percent(row.Share), Percent(row.CumulativeShare), string(row.Class),
		})
	}
	return renderPDF("ABC classification", "Currency "+r.Currency, t)
}

func TurnoverPDF(r *domain.TurnoverReport) ([]byte, error) {
	t := table{
		cols: []column{
			{title: "SKU", size: 2},
			{title: "COGS", size: 2, right: true},
			{title: "Opening", size: 2, right: true},
			{title: "Closing", size: 2, right: true},
			{title: "Average", size: 2, right: true},
			{title: "Turns", size: 1, right: true},
			{title: "Days", size: 1, right: true},
		},
	}
	line := func(row domain.TurnoverRow) []string {
		return []string{
			row.SKU, Money(row.COGS, r.Currency), Money(row.OpeningValue, r.Currency),
			Money(row.ClosingValue, r.Currency), Money(row.AverageInventory, r.Currency),
			row.Turnover.String(), row.DaysOnHand.String(),
		}
	}
	for _, row := range r.Rows {
		t.rows = append(t.rows, line(row))
	}
	t.footer = line(r.Total)
	t.footer[0] = "Total"
	return renderPDF("Inventory turnover", Date(r.From)+" to "+Date(r.To)+", currency "+r.Currency, t)
}

func ExposurePDF(r *domain.ExposureReport) ([]byte, error) {
	tables := make([]table, 0, len(r.Currencies))
	for _, c := range r.Currencies {
		t := table{
			title: c.Currency + " at " + c.Rate.String() + " " + r.Functional,
			cols: []column{
				{title: "Account", size: 2},
				{title: "Name", size: 2},
				{title: "Native", size: 2, right: true},
				{title: "Booked", size: 2, right: true},
				{title: "Revalued", size: 2, right: true},
				{title: "Unrealized", size: 2, right: true},
			},
			footer: []string{
				"Total", "", Money(c.Native, c.Currency), Money(c.BookedFunctional, r.Functional),
				Money(c.RevaluedFunctional, r.Functional), Money(c.UnrealizedGainLoss, r.Functional),
			},
		}
		for _, a := range c.Accounts {
			t.rows = append(t.rows, []string{
				a.AccountCode, a.AccountName, Money(a.Native, a.Currency), Money(a.BookedFunctional, r.Functional),
				Money(a.RevaluedFunctional, r.Functional), Money(a.UnrealizedGainLoss, r.Functional),
			})
		}
		tables = append(tables, t)
	}
	return renderPDF("FX exposure", "As of "+Date(r.AsOf)+", functional "+r.Functional, tables...)
}

func renderPDF(title, subtitle string, tables ...table) ([]byte, error) {
	cfg := config.NewBuilder().
		WithPageNumber(props.PageNumber{
			Pattern: "Page {current} of {total}",
			Place:   props.RightBottom,
		}).
		Build()

	m := maroto.New(cfg)

	m.AddRow(14,
		text.NewCol(12, title, props.Text{
			Size:  18,
			Style: fontstyle.Bold,
			Align: align.Left,
		}),
	)
	m.AddRow(10,
		text.NewCol(12, subtitle, props.Text{Size: 9}),
	)

	for _, t := range tables {
		if t.title != "" {
			m.AddRow(12,
				text.NewCol(12, t.title, props.Text{Size: 12, Style: fontstyle.Bold, Top: 4}),
			)
		}

		header := make([]string, len(t.cols))
		for i, c := range t.cols {
			header[i] = c.title
		}
		m.AddRow(8, cells(t.cols, header, fontstyle.Bold)...)

		for _, r := range t.rows {
			m.AddRow(7, cells(t.cols, r, fontstyle.Normal)...)
		}
		if t.footer != nil {
			m.AddRow(8, cells(t.cols, t.footer, fontstyle.Bold)...)
		}
	}

	doc, err := m.Generate()
	if err != nil {
		return nil, err
	}
	return doc.GetBytes(), nil
}

func cells(cols []column, values []string, style fontstyle.Type) []core.Col {
	out := make([]core.Col, len(cols))
	for i, c := range cols {
		if i >= len(values) || values[i] == "" {
			out[i] = col.New(c.size)
			continue
		}
		p := props.Text{Size: 9, Style: style}
		if c.right {
			p.Align = align.Right
		}
		out[i] = text.NewCol(c.size, values[i], p)
	}
	return out
}
