package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/subcommands"
	"github.com/smallbiznis/stockledger/internal/report"
)

const (
	kindTrialBalance = "trial-balance"
	kindValuation    = "valuation"
	kindAging        = "aging"
	kindABC          = "abc"
	kindTurnover     = "turnover"
	kindExposure     = "exposure"
)

var reportKinds = []string{kindTrialBalance, kindValuation, kindAging, kindABC, kindTurnover, kindExposure}

// view is a built report in every shape the CLI can print.
type view struct {
	data     any
	markdown func() (string, error)
	pdf      func() ([]byte, error)
}

func build(ctx context.Context, s services, kind string, asOf *time.Time) (view, error) {
	var at time.Time
	if asOf != nil {
		at = *asOf
	}

	switch kind {
	case kindTrialBalance:
		tb, err := s.Projection.TrialBalance(ctx, asOf)
		if err != nil {
			return view{}, err
		}
		if asOf == nil {
			drift, err := s.Projection.BalanceDrift(ctx)
			if err != nil {
				return view{}, err
			}
			for _, d := range drift {
				fmt.Fprintf(os.Stderr, "warning: account %s stored %s, lines sum to %s\n", d.AccountCode, d.Stored, d.Computed)
			}
		}
		return view{
			data:     tb,
			markdown: func() (string, error) { return report.TrialBalanceMarkdown(tb) },
			pdf:      func() ([]byte, error) { return report.TrialBalancePDF(tb) },
		}, nil
	case kindValuation:
		v, err := s.Projection.InventoryValuation(ctx)
		if err != nil {
			return view{}, err
		}
		return view{
			data:     v,
			markdown: func() (string, error) { return report.ValuationMarkdown(v) },
			pdf:      func() ([]byte, error) { return report.ValuationPDF(v) },
		}, nil
	case kindAging:
		a, err := s.Projection.Aging(ctx, at)
		if err != nil {
			return view{}, err
		}
		return view{
			data:     a,
			markdown: func() (string, error) { return report.AgingMarkdown(a) },
			pdf:      func() ([]byte, error) { return report.AgingPDF(a) },
		}, nil
	case kindABC:
		r, err := s.Projection.ABCClassification(ctx)
		if err != nil {
			return view{}, err
		}
		return view{
			data:     r,
			markdown: func() (string, error) { return report.ABCMarkdown(r) },
			pdf:      func() ([]byte, error) { return report.ABCPDF(r) },
		}, nil
	case kindTurnover:
		r, err := s.Projection.Turnover(ctx, at)
		if err != nil {
			return view{}, err
		}
		return view{
			data:     r,
			markdown: func() (string, error) { return report.TurnoverMarkdown(r) },
			pdf:      func() ([]byte, error) { return report.TurnoverPDF(r) },
		}, nil
	case kindExposure:
		r, err := s.Projection.FXExposure(ctx, at)
		if err != nil {
			return view{}, err
		}
		return view{
			data:     r,
			markdown: func() (string, error) { return report.ExposureMarkdown(r) },
			pdf:      func() ([]byte, error) { return report.ExposurePDF(r) },
		}, nil
	default:
		return view{}, fmt.Errorf("unknown report %q, want one of %s", kind, strings.Join(reportKinds, ", "))
	}
}

const (
	formatTerm     = "term"
	formatMarkdown = "md"
	formatJSON     = "json"
	formatPDF      = "pdf"
)

func write(v view, format, out string) error {
	var body []byte
	switch format {
	case formatTerm, formatMarkdown:
		md, err := v.markdown()
		if err != nil {
			return err
		}
		if format == formatTerm && out == "" {
			term, err := report.NewTerminal(0)
			if err != nil {
				return err
			}
			if md, err = term.Render(md); err != nil {
				return err
			}
		}
		body = []byte(md)
	case formatPDF:
		if out == "" {
			return fmt.Errorf("pdf output needs -o")
		}
		pdf, err := v.pdf()
		if err != nil {
			return err
		}
		body = pdf
	case formatJSON:
		if out == "" {
			return printJSON(v.data)
		}
		f, err := os.Create(out)
		if err != nil {
			return err
		}
		defer f.Close()
		return encodeJSON(f, v.data)
	default:
		return fmt.Errorf("unknown format %q", format)
	}

	if out == "" {
		_, err := os.Stdout.Write(body)
		return err
	}
	return os.WriteFile(out, body, 0o644)
}

// viewCmd prints one projection report.
type viewCmd struct {
	name     string
	synopsis string
	dated    bool

	asOf   string
	format string
	out    string
}

func newViewCmd(name, synopsis string, dated bool) *viewCmd {
	return &viewCmd{name: name, synopsis: synopsis, dated: dated}
}

func (c *viewCmd) Name() string     { return c.name }
func (c *viewCmd) Synopsis() string { return c.synopsis }
func (c *viewCmd) Usage() string {
	if c.dated {
		return fmt.Sprintf("stockledger %s [-as-of YYYY-MM-DD] [-format term|md|json|pdf] [-o file]\n\n  %s.\n", c.name, c.synopsis)
	}
	return fmt.Sprintf("stockledger %s [-format term|md|json|pdf] [-o file]\n\n  %s.\n", c.name, c.synopsis)
}

func (c *viewCmd) SetFlags(f *flag.FlagSet) {
	if c.dated {
		f.StringVar(&c.asOf, "as-of", "", "report date (defaults to now)")
	}
	f.StringVar(&c.format, "format", formatTerm, "output format: term, md, json or pdf")
	f.StringVar(&c.out, "o", "", "write to this file instead of stdout")
}

func (c *viewCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	asOf, err := parseDate(c.asOf)
	if err != nil {
		return usage("%s: %v", c.name, err)
	}
	return exit(run(ctx, func(ctx context.Context, s services) error {
		v, err := build(ctx, s, c.name, asOf)
		if err != nil {
			return err
		}
		return write(v, c.format, c.out)
	}))
}

// reportCmd renders any report to PDF.
type reportCmd struct {
	kind string
	asOf string
	out  string
}

func (*reportCmd) Name() string     { return "report" }
func (*reportCmd) Synopsis() string { return "render a report as PDF" }
func (*reportCmd) Usage() string {
	return `stockledger report -kind <kind> -o <file.pdf> [-as-of YYYY-MM-DD]

  Kinds: ` + strings.Join(reportKinds, ", ") + `.
`
}

func (c *reportCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.kind, "kind", kindTrialBalance, "report kind")
	f.StringVar(&c.asOf, "as-of", "", "report date for dated reports")
	f.StringVar(&c.out, "o", "", "PDF file to write")
}

func (c *reportCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if c.out == "" {
		return usage("report: -o is required")
	}
	asOf, err := parseDate(c.asOf)
	if err != nil {
		return usage("report: %v", err)
	}
	return exit(run(ctx, func(ctx context.Context, s services) error {
		v, err := build(ctx, s, c.kind, asOf)
		if err != nil {
			return err
		}
		if err := write(v, formatPDF, c.out); err != nil {
			return err
		}
		fmt.Printf("wrote %s\n", c.out)
		return nil
	}))
}
