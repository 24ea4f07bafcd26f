package service

import (
	"context"
	"sort"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	accountdomain "github.com/smallbiznis/stockledger/internal/account/domain"
	"github.com/smallbiznis/stockledger/internal/clock"
	"github.com/smallbiznis/stockledger/internal/config"
	currencydomain "github.com/smallbiznis/stockledger/internal/currency/domain"
	inventorydomain "github.com/smallbiznis/stockledger/internal/inventory/domain"
	ledgerdomain "github.com/smallbiznis/stockledger/internal/ledger/domain"
	"github.com/smallbiznis/stockledger/internal/observability/tracing"
	"github.com/smallbiznis/stockledger/internal/projection/domain"
	"github.com/smallbiznis/stockledger/pkg/db"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	Clock       clock.Clock
	Reader      domain.Reader
	LedgerRepo  ledgerdomain.Repository
	CurrencySvc currencydomain.Service
	Config      *config.ProjectionConfigHolder
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	clock       clock.Clock
	reader      domain.Reader
	ledgerRepo  ledgerdomain.Repository
	currencySvc currencydomain.Service
	config      *config.ProjectionConfigHolder
}

func NewService(p Params) domain.Service {
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("projection.service"),
		clock:       p.Clock,
		reader:      p.Reader,
		ledgerRepo:  p.LedgerRepo,
		currencySvc: p.CurrencySvc,
		config:      p.Config,
	}
}

type stockKey struct {
	product  snowflake.ID
	location string
}

// snapshot is the inventory state every inventory projection starts from.
type snapshot struct {
	functional *currencydomain.Currency
	products   map[snowflake.ID]*inventorydomain.Product
	layers     map[stockKey][]*inventorydomain.CostLayer
	rows       []domain.ValuationRow
}

func (s *Service) snapshot(ctx context.Context) (*snapshot, error) {
	functional, err := s.currencySvc.Functional(ctx)
	if err != nil {
		return nil, err
	}
	products, err := s.reader.Products(ctx)
	if err != nil {
		return nil, err
	}
	stocks, err := s.reader.Stocks(ctx)
	if err != nil {
		return nil, err
	}
	layers, err := s.reader.OpenLayers(ctx)
	if err != nil {
		return nil, err
	}

	snap := &snapshot{
		functional: functional,
		products:   make(map[snowflake.ID]*inventorydomain.Product, len(products)),
		layers:     map[stockKey][]*inventorydomain.CostLayer{},
	}
	for _, p := range products {
		snap.products[p.ID] = p
	}
	for _, l := range layers {
		key := stockKey{product: l.ProductID, location: l.LocationID}
		snap.layers[key] = append(snap.layers[key], l)
	}

	precision := functional.Precision
	for _, st := range stocks {
		product, ok := snap.products[st.ProductID]
		if !ok {
			continue
		}
		row := domain.ValuationRow{
			ProductID:     product.ID,
			SKU:           product.SKU,
			CostingMethod: product.CostingMethod,
			LocationID:    st.LocationID,
			Quantity:      st.QuantityOnHand,
			UnitCost:      st.UnitCost,
			Value:         st.QuantityOnHand.Mul(st.UnitCost).RoundBank(precision),
		}
		if open := snap.layers[stockKey{product: product.ID, location: st.LocationID}]; product.CostingMethod.UsesLayers() && len(open) > 0 {
			qty, value := decimal.Zero, decimal.Zero
			for _, l := range open {
				qty = qty.Add(l.QuantityRemaining)
				value = value.Add(l.RemainingValue())
			}
			row.Quantity = qty
			row.Value = value.RoundBank(precision)
			if qty.IsPositive() {
				row.UnitCost = value.DivRound(qty, 8)
			}
		}
		snap.rows = append(snap.rows, row)
	}
	sort.SliceStable(snap.rows, func(i, j int) bool {
		if snap.rows[i].SKU != snap.rows[j].SKU {
			return snap.rows[i].SKU < snap.rows[j].SKU
		}
		return snap.rows[i].LocationID < snap.rows[j].LocationID
	})
	return snap, nil
}

// InventoryValuation values layered products at the remaining quantity of
// their open layers and the others at the stock position.
func (s *Service) InventoryValuation(ctx context.Context) (*domain.Valuation, error) {
	ctx, span := tracing.Start(ctx, "projection.InventoryValuation")
	defer span.End()

	snap, err := s.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	out := &domain.Valuation{Currency: snap.functional.Code, Rows: snap.rows, Total: decimal.Zero}
	for _, r := range snap.rows {
		out.Total = out.Total.Add(r.Value)
	}
	return out, nil
}

func (s *Service) Aging(ctx context.Context, asOf time.Time) (*domain.AgingReport, error) {
	asOf = s.asOf(asOf)
	ctx, span := tracing.Start(ctx, "projection.Aging", attribute.String("as_of", asOf.Format(time.RFC3339)))
	defer span.End()

	snap, err := s.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	cfg := s.config.Get()
	precision := snap.functional.Precision

	out := &domain.AgingReport{
		AsOf:         asOf.UTC(),
		Currency:     snap.functional.Code,
		Total:        decimal.Zero,
		TotalReserve: decimal.Zero,
	}
	totals := make(map[string]*domain.AgingBucketTotal, len(cfg.AgingBuckets))
	for _, b := range cfg.AgingBuckets {
		out.Buckets = append(out.Buckets, domain.AgingBucketTotal{Label: b.Label, Value: decimal.Zero, Reserve: decimal.Zero})
	}
	for i := range out.Buckets {
		totals[out.Buckets[i].Label] = &out.Buckets[i]
	}

	for _, r := range snap.rows {
		row := domain.AgingRow{ValuationRow: r}
		layers := snap.layers[stockKey{product: r.ProductID, location: r.LocationID}]
		if oldest := oldestHeld(layers, r.Quantity, r.CostingMethod.UsesLayers()); oldest != nil {
			at := *oldest
			row.OldestLayerAt = &at
			row.AgeDays = domain.AgeDays(at, asOf)
		}
		bucket := domain.BucketFor(cfg.AgingBuckets, row.AgeDays)
		row.Bucket = bucket.Label
		row.ObsolescenceRate = decimal.NewFromFloat(bucket.ObsolescenceRate)
		row.Reserve = r.Value.Mul(row.ObsolescenceRate).RoundBank(precision)

		out.Rows = append(out.Rows, row)
		out.Total = out.Total.Add(r.Value)
		out.TotalReserve = out.TotalReserve.Add(row.Reserve)
		if t, ok := totals[bucket.Label]; ok {
			t.Value = t.Value.Add(r.Value)
			t.Reserve = t.Reserve.Add(row.Reserve)
		}
	}
	return out, nil
}

// oldestHeld finds the receipt date of the oldest unit still held. Layered
// methods read it off the open layers; averaged and standard stock is
// assumed to be the most recent receipts covering the quantity on hand.
func oldestHeld(layers []*inventorydomain.CostLayer, onHand decimal.Decimal, layered bool) *time.Time {
	if len(layers) == 0 {
		return nil
	}
	if layered {
		oldest := layers[0].ReceivedAt
		for _, l := range layers[1:] {
			if l.ReceivedAt.Before(oldest) {
				oldest = l.ReceivedAt
			}
		}
		return &oldest
	}

	newestFirst := append([]*inventorydomain.CostLayer(nil), layers...)
	sort.SliceStable(newestFirst, func(i, j int) bool {
		return newestFirst[i].ReceivedAt.After(newestFirst[j].ReceivedAt)
	})
	covered := decimal.Zero
	oldest := newestFirst[0].ReceivedAt
	for _, l := range newestFirst {
		oldest = l.ReceivedAt
		covered = covered.Add(l.QuantityRemaining)
		if covered.GreaterThanOrEqual(onHand) {
			break
		}
	}
	return &oldest
}

func (s *Service) ABCClassification(ctx context.Context) (*domain.ABCReport, error) {
	ctx, span := tracing.Start(ctx, "projection.ABCClassification")
	defer span.End()

	snap, err := s.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	bySKU := map[string]decimal.Decimal{}
	for _, r := range snap.rows {
		bySKU[r.SKU] = bySKU[r.SKU].Add(r.Value)
	}
	rows := make([]domain.ABCRow, 0, len(bySKU))
	for sku, value := range bySKU {
		rows = append(rows, domain.ABCRow{SKU: sku, Value: value})
	}
	total := domain.Classify(rows, s.config.Get().ABC)
	return &domain.ABCReport{Currency: snap.functional.Code, Rows: rows, Total: total}, nil
}

// Turnover annualizes cost of goods sold over the configured window against
// the average of opening and closing inventory value. Only decreases booked
// to the product's COGS account count as sold.
func (s *Service) Turnover(ctx context.Context, asOf time.Time) (*domain.TurnoverReport, error) {
	asOf = s.asOf(asOf)
	ctx, span := tracing.Start(ctx, "projection.Turnover", attribute.String("as_of", asOf.Format(time.RFC3339)))
	defer span.End()

	functional, err := s.currencySvc.Functional(ctx)
	if err != nil {
		return nil, err
	}
	products, err := s.reader.Products(ctx)
	if err != nil {
		return nil, err
	}
	movements, err := s.reader.PostedMovements(ctx, asOf)
	if err != nil {
		return nil, err
	}

	window := s.config.Get().TurnoverWindowDays
	to := asOf.UTC()
	from := to.AddDate(0, 0, -window)
	out := &domain.TurnoverReport{From: from, To: to, WindowDays: window, Currency: functional.Code}

	byProduct := make(map[snowflake.ID]*domain.TurnoverRow, len(products))
	for _, p := range products {
		byProduct[p.ID] = &domain.TurnoverRow{SKU: p.SKU, COGS: decimal.Zero, OpeningValue: decimal.Zero, ClosingValue: decimal.Zero}
	}
	cogsAccount := make(map[snowflake.ID]string, len(products))
	for _, p := range products {
		cogsAccount[p.ID] = p.COGSAccountCode
	}

	for _, m := range movements {
		row, ok := byProduct[m.ProductID]
		if !ok {
			continue
		}
		row.ClosingValue = row.ClosingValue.Add(m.SignedCost())
		if m.TransactionDate.Before(from) {
			row.OpeningValue = row.OpeningValue.Add(m.SignedCost())
			continue
		}
		if m.Direction == inventorydomain.DirectionDecrease && (m.OffsetAccountCode == "" || m.OffsetAccountCode == cogsAccount[m.ProductID]) {
			row.COGS = row.COGS.Add(m.TotalCost)
		}
	}

	total := domain.TurnoverRow{SKU: "TOTAL", COGS: decimal.Zero, OpeningValue: decimal.Zero, ClosingValue: decimal.Zero}
	for _, p := range products {
		row := byProduct[p.ID]
		if row.COGS.IsZero() && row.OpeningValue.IsZero() && row.ClosingValue.IsZero() {
			continue
		}
		domain.Annualize(row, window, functional.Precision)
		out.Rows = append(out.Rows, *row)
		total.COGS = total.COGS.Add(row.COGS)
		total.OpeningValue = total.OpeningValue.Add(row.OpeningValue)
		total.ClosingValue = total.ClosingValue.Add(row.ClosingValue)
	}
	domain.Annualize(&total, window, functional.Precision)
	out.Total = total
	return out, nil
}

// FXExposure revalues every non-functional account at the latest rate at or
// before asOf. A missing rate fails the whole report.
func (s *Service) FXExposure(ctx context.Context, asOf time.Time) (*domain.ExposureReport, error) {
	asOf = s.asOf(asOf)
	ctx, span := tracing.Start(ctx, "projection.FXExposure", attribute.String("as_of", asOf.Format(time.RFC3339)))
	defer span.End()

	functional, err := s.currencySvc.Functional(ctx)
	if err != nil {
		return nil, err
	}
	accounts, err := s.reader.Accounts(ctx)
	if err != nil {
		return nil, err
	}

	out := &domain.ExposureReport{AsOf: asOf.UTC(), Functional: functional.Code}
	groups := map[string]*domain.CurrencyExposure{}
	var order []string
	for _, a := range accounts {
		if a.CurrencyCode == functional.Code || (a.BalanceNative.IsZero() && a.BalanceFunctional.IsZero()) {
			continue
		}
		group, ok := groups[a.CurrencyCode]
		if !ok {
			rate, err := s.currencySvc.Rate(ctx, a.CurrencyCode, functional.Code, asOf)
			if err != nil {
				return nil, err
			}
			group = &domain.CurrencyExposure{
				Currency:           a.CurrencyCode,
				Rate:               rate,
				Native:             decimal.Zero,
				BookedFunctional:   decimal.Zero,
				RevaluedFunctional: decimal.Zero,
				UnrealizedGainLoss: decimal.Zero,
			}
			groups[a.CurrencyCode] = group
			order = append(order, a.CurrencyCode)
		}

		native := a.DebitPositive(a.BalanceNative)
		booked := a.DebitPositive(a.BalanceFunctional)
		revalued := native.Mul(group.Rate).RoundBank(functional.Precision)
		row := domain.ExposureRow{
			AccountCode:        a.Code,
			AccountName:        a.Name,
			Currency:           a.CurrencyCode,
			Native:             native,
			BookedFunctional:   booked,
			Rate:               group.Rate,
			RevaluedFunctional: revalued,
			UnrealizedGainLoss: revalued.Sub(booked),
		}
		group.Accounts = append(group.Accounts, row)
		group.Native = group.Native.Add(native)
		group.BookedFunctional = group.BookedFunctional.Add(booked)
		group.RevaluedFunctional = group.RevaluedFunctional.Add(revalued)
		group.UnrealizedGainLoss = group.UnrealizedGainLoss.Add(row.UnrealizedGainLoss)
	}
	sort.Strings(order)
	for _, code := range order {
		out.Currencies = append(out.Currencies, *groups[code])
	}
	return out, nil
}

func (s *Service) TrialBalance(ctx context.Context, asOf *time.Time) (*domain.TrialBalance, error) {
	ctx, span := tracing.Start(ctx, "projection.TrialBalance")
	defer span.End()

	functional, err := s.currencySvc.Functional(ctx)
	if err != nil {
		return nil, err
	}
	accounts, err := s.reader.Accounts(ctx)
	if err != nil {
		return nil, err
	}

	// debit-positive functional balance per account
	balances := make(map[string]decimal.Decimal, len(accounts))
	if asOf == nil {
		for _, a := range accounts {
			balances[a.Code] = a.DebitPositive(a.BalanceFunctional)
		}
	} else {
		lines, err := s.ledgerRepo.PostedLines(ctx, db.Conn(ctx, s.db), nil, nil, asOf)
		if err != nil {
			return nil, err
		}
		for _, l := range lines {
			balances[l.AccountCode] = balances[l.AccountCode].Add(l.DebitFunctional).Sub(l.CreditFunctional)
		}
	}

	out := &domain.TrialBalance{Currency: functional.Code, TotalDebit: decimal.Zero, TotalCredit: decimal.Zero}
	if asOf != nil {
		at := asOf.UTC()
		out.AsOf = &at
	}
	for _, a := range accounts {
		balance := balances[a.Code]
		if balance.IsZero() {
			continue
		}
		row := domain.TrialBalanceRow{
			AccountCode: a.Code,
			AccountName: a.Name,
			AccountType: string(a.Type),
			Debit:       decimal.Zero,
			Credit:      decimal.Zero,
		}
		if balance.IsPositive() {
			row.Debit = balance
		} else {
			row.Credit = balance.Neg()
		}
		out.Rows = append(out.Rows, row)
		out.TotalDebit = out.TotalDebit.Add(row.Debit)
		out.TotalCredit = out.TotalCredit.Add(row.Credit)
	}
	if !out.Balanced() {
		s.log.Error("trial balance does not balance",
			zap.String("total_debit", out.TotalDebit.String()),
			zap.String("total_credit", out.TotalCredit.String()),
		)
	}
	return out, nil
}

// BalanceDrift recomputes every functional balance from posted lines and
// reports the accounts whose stored balance disagrees.
func (s *Service) BalanceDrift(ctx context.Context) ([]domain.DriftRow, error) {
	ctx, span := tracing.Start(ctx, "projection.BalanceDrift")
	defer span.End()

	accounts, err := s.reader.Accounts(ctx)
	if err != nil {
		return nil, err
	}
	lines, err := s.ledgerRepo.PostedLines(ctx, db.Conn(ctx, s.db), nil, nil, nil)
	if err != nil {
		return nil, err
	}
	sums := map[string]ledgerdomain.Totals{}
	for _, l := range lines {
		t := sums[l.AccountCode]
		t.DebitFunctional = t.DebitFunctional.Add(l.DebitFunctional)
		t.CreditFunctional = t.CreditFunctional.Add(l.CreditFunctional)
		sums[l.AccountCode] = t
	}

	var drift []domain.DriftRow
	for _, a := range accounts {
		computed := computedBalance(a, sums[a.Code])
		if !computed.Equal(a.BalanceFunctional) {
			drift = append(drift, domain.DriftRow{AccountCode: a.Code, Stored: a.BalanceFunctional, Computed: computed})
		}
	}
	return drift, nil
}

// asOf defaults a zero report date to now.
func (s *Service) asOf(at time.Time) time.Time {
	if at.IsZero() {
		return s.clock.Now()
	}
	return at.UTC()
}

func computedBalance(a *accountdomain.Account, t ledgerdomain.Totals) decimal.Decimal {
	return a.Signed(t.DebitFunctional, t.CreditFunctional)
}
