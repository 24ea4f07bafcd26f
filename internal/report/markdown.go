package report

import (
	"embed"
	"strings"
	"text/template"
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/stockledger/internal/projection/domain"
)

//go:embed templates/*.md
var templateFiles embed.FS

var templates = template.Must(template.New("report").Funcs(template.FuncMap{
	"money":   Money,
	"amount":  Amount,
	"qty":     Quantity,
	"pct":     Percent,
	"date":    Date,
	"decimal": func(d decimal.Decimal) string { return d.String() },
	"datep": func(t *time.Time) string {
		if t == nil {
			return ""
		}
		return Date(*t)
	},
}).ParseFS(templateFiles, "templates/*.md"))

func render(name string, data any) (string, error) {
	var b strings.Builder
	if err := templates.ExecuteTemplate(&b, name, data); err != nil {
		return "", err
	}
	return b.String(), nil
}

func TrialBalanceMarkdown(tb *domain.TrialBalance) (string, error) {
	return render("trial_balance.md", tb)
}

func ValuationMarkdown(v *domain.Valuation) (string, error) {
	return render("valuation.md", v)
}

func AgingMarkdown(a *domain.AgingReport) (string, error) {
	return render("aging.md", a)
}

func ABCMarkdown(r *domain.ABCReport) (string, error) {
	return render("abc.md", r)
}

func TurnoverMarkdown(r *domain.TurnoverReport) (string, error) {
	return render("turnover.md", r)
}

func ExposureMarkdown(r *domain.ExposureReport) (string, error) {
	return render("exposure.md", r)
}
