package service

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/stockledger/internal/apperror"
	auditdomain "github.com/smallbiznis/stockledger/internal/audit/domain"
	currencydomain "github.com/smallbiznis/stockledger/internal/currency/domain"
	inventorydomain "github.com/smallbiznis/stockledger/internal/inventory/domain"
	ledgerdomain "github.com/smallbiznis/stockledger/internal/ledger/domain"
	"github.com/smallbiznis/stockledger/internal/lock"
	"github.com/smallbiznis/stockledger/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/stockledger/internal/observability/metrics"
	"github.com/smallbiznis/stockledger/internal/observability/tracing"
	"github.com/smallbiznis/stockledger/internal/validation"
	"github.com/smallbiznis/stockledger/pkg/db"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// draft is a transaction with everything needed to post it.
type draft struct {
	txn      *inventorydomain.Transaction
	txnType  *inventorydomain.TransactionType
	lines    []inventorydomain.TransactionLine
	products map[snowflake.ID]*inventorydomain.Product
}

// outcome carries what is reported once the posting transaction commits.
type outcome struct {
	result   inventorydomain.PostResult
	consumed map[inventorydomain.CostingMethod]int
}

func (s *Service) Post(ctx context.Context, id snowflake.ID) (result inventorydomain.PostResult, err error) {
	started := time.Now()
	var out outcome
	typeCode := ""
	ctx, span := tracing.Start(ctx, "inventory.Post", attribute.String("inventory.id", id.String()))
	defer func() {
		s.observe(ctx, typeCode, out, started, err)
		endSpan(span, err)
	}()

	d, err := s.load(ctx, db.Conn(ctx, s.db), id)
	if err != nil {
		return result, err
	}
	typeCode = d.txnType.Code

	ctx, release, err := s.locker.Acquire(ctx, lockKeys(d)...)
	if err != nil {
		return result, err
	}
	defer release()

	err = db.Transact(ctx, s.db, func(ctx context.Context, tx *gorm.DB) error {
		current, err := s.findTransaction(ctx, tx, id)
		if err != nil {
			return err
		}
		d.txn = current
		out, err = s.post(ctx, tx, d)
		return err
	})
	return out.result, err
}

func (s *Service) PostInventoryTransaction(ctx context.Context, req inventorydomain.TransactionRequest, lines []inventorydomain.LineRequest) (result inventorydomain.PostResult, err error) {
	started := time.Now()
	var out outcome
	typeCode := strings.ToUpper(strings.TrimSpace(req.TypeCode))
	ctx, span := tracing.Start(ctx, "inventory.PostInventoryTransaction", attribute.String("inventory.ref", req.ReferenceNumber))
	defer func() {
		s.observe(ctx, typeCode, out, started, err)
		endSpan(span, err)
	}()

	d, err := s.prepare(ctx, req, lines)
	if err != nil {
		return result, err
	}

	ctx, release, err := s.locker.Acquire(ctx, lockKeys(d)...)
	if err != nil {
		return result, err
	}
	defer release()

	err = db.Transact(ctx, s.db, func(ctx context.Context, tx *gorm.DB) error {
		if err := s.insertDraft(ctx, tx, d); err != nil {
			return err
		}
		out, err = s.post(ctx, tx, d)
		return err
	})
	return out.result, err
}

// post validates lot and serial data for every line, runs the cost engine,
// and posts the resulting journal entry, all inside tx. Any failure leaves
// layers, stock and the ledger untouched.
func (s *Service) post(ctx context.Context, tx *gorm.DB, d *draft) (outcome, error) {
	txn := d.txn
	if !txn.Status.CanTransition(inventorydomain.TransactionStatusPosted) {
		return outcome{}, apperror.ErrAlreadyPosted.With("inventory transaction %s is already posted", txn.ReferenceNumber)
	}
	if err := s.checkTracking(ctx, tx, d); err != nil {
		return outcome{}, err
	}

	functional, err := s.currencySvc.Functional(ctx)
	if err != nil {
		return outcome{}, err
	}
	txnCurrency, err := s.currencySvc.Get(ctx, txn.CurrencyCode)
	if err != nil {
		return outcome{}, err
	}
	rate := decimal.NewFromInt(1)
	if txnCurrency.Code != functional.Code {
		rate, err = s.currencySvc.Rate(ctx, txnCurrency.Code, functional.Code, txn.TransactionDate)
		if err != nil {
			return outcome{}, err
		}
	}

	engine := s.engine(tx, functional)
	postings := newJournal()
	consumed := map[inventorydomain.CostingMethod]int{}
	total := decimal.Zero
	increase := d.txnType.Direction == inventorydomain.DirectionIncrease

	for i := range d.lines {
		line := &d.lines[i]
		product := d.products[line.ProductID]

		var mv Movement
		if increase {
			mv, err = engine.PostReceipt(ctx, product, line.LocationID, line.Quantity, line.UnitCost.Mul(rate), line.LotNumber, txn.TransactionDate, txn.ReferenceNumber)
			if err != nil {
				return outcome{}, err
			}
			var foreign *foreignAmount
			if txnCurrency.Code != functional.Code {
				foreign = &foreignAmount{
					amount: line.Quantity.Mul(line.UnitCost).RoundBank(txnCurrency.Precision),
					code:   txnCurrency.Code,
					rate:   rate,
				}
			}
			postings.debit(product.InventoryAccountCode, mv.InventoryValue, nil)
			postings.credit(d.txnType.OffsetAccountCode, mv.OffsetValue, foreign)
			if mv.Variance.IsPositive() {
				postings.debit(*product.VarianceAccountCode, mv.Variance, nil)
			} else if mv.Variance.IsNegative() {
				postings.credit(*product.VarianceAccountCode, mv.Variance.Neg(), nil)
			}
		} else {
			mv, err = engine.PostIssue(ctx, product, line.LocationID, line.Quantity.Abs(), line.LotNumber)
			if err != nil {
				return outcome{}, err
			}
			postings.debit(issueOffset(d.txnType, product), mv.OffsetValue, nil)
			postings.credit(product.InventoryAccountCode, mv.InventoryValue, nil)
		}
		if mv.LayersConsumed > 0 {
			consumed[product.CostingMethod] += mv.LayersConsumed
		}

		line.UnitCost = mv.UnitCost
		line.TotalCost = mv.InventoryValue
		if err := s.repo.UpdateLineCost(ctx, tx, line); err != nil {
			return outcome{}, err
		}
		if err := s.moveSerials(ctx, tx, product, line, increase, txn.ReferenceNumber); err != nil {
			return outcome{}, err
		}
		total = total.Add(mv.InventoryValue)

		if err := s.auditSvc.AuditLog(ctx, auditdomain.ActionMovementPosted, auditdomain.TargetProduct, product.SKU, map[string]any{
			"reference_number": txn.ReferenceNumber,
			"line_number":      line.LineNumber,
			"location_id":      line.LocationID,
			"costing_method":   string(product.CostingMethod),
			"quantity":         line.Quantity.String(),
			"unit_cost":        mv.UnitCost.String(),
			"total_cost":       mv.InventoryValue.String(),
			"layers_consumed":  mv.LayersConsumed,
		}); err != nil {
			return outcome{}, err
		}
	}

	var entryRef *string
	if lines := postings.lines(); len(lines) >= 2 {
		ref := journalRef(txn.ReferenceNumber)
		_, err := s.ledgerSvc.PostJournalEntry(ctx, ledgerdomain.EntryRequest{
			Ref:             ref,
			TransactionTime: txn.TransactionDate,
			CurrencyCode:    functional.Code,
			ExchangeRate:    decimal.NewFromInt(1),
			Note:            txn.Note,
			SourceType:      ledgerdomain.SourceTypeInventory,
			SourceRef:       txn.ReferenceNumber,
		}, lines)
		if err != nil {
			return outcome{}, err
		}
		entryRef = &ref
	}

	now := s.clock.Now()
	from := txn.Status
	txn.Status = inventorydomain.TransactionStatusPosted
	txn.PostedAt = &now
	txn.JournalEntryRef = entryRef
	txn.UpdatedAt = now
	updated, err := s.repo.UpdateStatus(ctx, tx, txn, from)
	if err != nil {
		return outcome{}, err
	}
	if !updated {
		return outcome{}, apperror.ErrAlreadyPosted.With("inventory transaction %s is already posted", txn.ReferenceNumber)
	}

	meta := map[string]any{
		"type_code":  d.txnType.Code,
		"currency":   txn.CurrencyCode,
		"lines":      len(d.lines),
		"total_cost": total.String(),
	}
	if entryRef != nil {
		meta["journal_entry_ref"] = *entryRef
	}
	if err := s.auditSvc.AuditLog(ctx, auditdomain.ActionTransactionPosted, auditdomain.TargetInventoryTransaction, txn.ReferenceNumber, meta); err != nil {
		return outcome{}, err
	}

	logger.WithEntity(logger.WithContext(ctx, s.log), "inventory_transaction", txn.ReferenceNumber).Info("inventory transaction posted",
		zap.String("type_code", d.txnType.Code),
		zap.String("total_cost", total.String()),
	)

	result := inventorydomain.PostResult{
		ID:              txn.ID,
		ReferenceNumber: txn.ReferenceNumber,
		PostedTime:      now,
		TotalCost:       total,
	}
	if entryRef != nil {
		result.JournalEntryRef = *entryRef
	}
	return outcome{result: result, consumed: consumed}, nil
}

// checkTracking enforces lot and serial rules before anything is mutated.
func (s *Service) checkTracking(ctx context.Context, tx *gorm.DB, d *draft) error {
	increase := d.txnType.Direction == inventorydomain.DirectionIncrease
	seen := map[snowflake.ID]map[string]struct{}{}

	for i, line := range d.lines {
		product := d.products[line.ProductID]
		prefix := linePrefix(i)

		if product.LotTracked && (line.LotNumber == nil || *line.LotNumber == "") {
			return withField(apperror.ErrMissingLotReference.With("%s is lot tracked but line %d has no lot", product.SKU, line.LineNumber), prefix+".lot_number")
		}
		if !product.Serialized {
			continue
		}

		qty := line.Quantity.Abs()
		if !qty.Equal(qty.Truncate(0)) || !qty.Equal(decimal.NewFromInt(int64(len(line.SerialNumbers)))) {
			return withField(apperror.ErrSerialCountMismatch.With("%s line %d moves %s units with %d serial numbers", product.SKU, line.LineNumber, qty, len(line.SerialNumbers)), prefix+".serial_numbers")
		}

		if seen[product.ID] == nil {
			seen[product.ID] = map[string]struct{}{}
		}
		for _, serial := range line.SerialNumbers {
			if _, dup := seen[product.ID][serial]; dup {
				return withField(inventorydomain.ErrDuplicateSerial.With("serial %s appears twice for %s", serial, product.SKU), prefix+".serial_numbers")
			}
			seen[product.ID][serial] = struct{}{}
		}

		rows, err := s.repo.FindSerials(ctx, tx, product.ID, line.SerialNumbers)
		if err != nil {
			return err
		}
		known := make(map[string]inventorydomain.Serial, len(rows))
		for _, row := range rows {
			known[row.SerialNumber] = row
		}
		for _, serial := range line.SerialNumbers {
			row, ok := known[serial]
			if increase && ok && row.OnHand {
				return withField(inventorydomain.ErrDuplicateSerial.With("serial %s of %s is already on hand at %s", serial, product.SKU, row.LocationID), prefix+".serial_numbers")
			}
			if !increase && (!ok || !row.OnHand || row.LocationID != line.LocationID) {
				return withField(inventorydomain.ErrSerialNotOnHand.With("serial %s of %s is not on hand at %s", serial, product.SKU, line.LocationID), prefix+".serial_numbers")
			}
		}
	}
	return nil
}

func (s *Service) moveSerials(ctx context.Context, tx *gorm.DB, product *inventorydomain.Product, line *inventorydomain.TransactionLine, increase bool, ref string) error {
	if !product.Serialized || len(line.SerialNumbers) == 0 {
		return nil
	}
	rows, err := s.repo.FindSerials(ctx, tx, product.ID, line.SerialNumbers)
	if err != nil {
		return err
	}
	known := make(map[string]inventorydomain.Serial, len(rows))
	for _, row := range rows {
		known[row.SerialNumber] = row
	}

	now := s.clock.Now()
	for _, serial := range line.SerialNumbers {
		row, ok := known[serial]
		if !ok {
			row = inventorydomain.Serial{ID: s.genID.Generate(), ProductID: product.ID, SerialNumber: serial}
		}
		row.LocationID = line.LocationID
		row.UpdatedAt = now
		if increase {
			row.OnHand = true
			row.ReceivedRef = ref
			row.IssuedRef = nil
		} else {
			issued := ref
			row.OnHand = false
			row.IssuedRef = &issued
		}
		if err := s.repo.SaveSerial(ctx, tx, &row); err != nil {
			return err
		}
	}
	return nil
}

// prepare validates a request and resolves its type, currency and products.
func (s *Service) prepare(ctx context.Context, req inventorydomain.TransactionRequest, lines []inventorydomain.LineRequest) (*draft, error) {
	req.ReferenceNumber = strings.TrimSpace(req.ReferenceNumber)
	req.TypeCode = strings.ToUpper(strings.TrimSpace(req.TypeCode))
	req.CurrencyCode = strings.ToUpper(strings.TrimSpace(req.CurrencyCode))
	req.Note = strings.TrimSpace(req.Note)
	if err := validation.Struct(req); err != nil {
		return nil, err
	}
	if len(lines) == 0 {
		return nil, apperror.Validation("lines", "required", "an inventory transaction needs at least one line")
	}
	for i, line := range lines {
		if err := validation.StructAt(linePrefix(i), line); err != nil {
			return nil, err
		}
	}

	conn := db.Conn(ctx, s.db)
	txnType, err := s.repo.FindType(ctx, conn, req.TypeCode)
	if err != nil {
		return nil, err
	}
	if txnType == nil {
		return nil, inventorydomain.ErrTypeNotFound.With("transaction type %s does not exist", req.TypeCode)
	}

	var currency *currencydomain.Currency
	if req.CurrencyCode == "" {
		currency, err = s.currencySvc.Functional(ctx)
	} else {
		currency, err = s.currencySvc.Get(ctx, req.CurrencyCode)
	}
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	txn := &inventorydomain.Transaction{
		ID:              s.genID.Generate(),
		ReferenceNumber: req.ReferenceNumber,
		TypeCode:        txnType.Code,
		TransactionDate: req.TransactionDate.UTC(),
		CurrencyCode:    currency.Code,
		Status:          inventorydomain.TransactionStatusDraft,
		Note:            req.Note,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	d := &draft{txn: txn, txnType: txnType, products: map[snowflake.ID]*inventorydomain.Product{}}

	bySKU := map[string]*inventorydomain.Product{}
	for i, req := range lines {
		prefix := linePrefix(i)
		sku := strings.TrimSpace(req.SKU)
		product, ok := bySKU[sku]
		if !ok {
			product, err = s.repo.FindProductBySKU(ctx, conn, sku)
			if err != nil {
				return nil, err
			}
			if product == nil {
				return nil, withField(inventorydomain.ErrProductNotFound.With("product %s does not exist", sku), prefix+".sku")
			}
			bySKU[sku] = product
			d.products[product.ID] = product
		}

		if (txnType.Direction == inventorydomain.DirectionIncrease) != req.Quantity.IsPositive() {
			return nil, withField(inventorydomain.ErrQuantitySign.With("%s transactions move quantity %s, got %s", txnType.Code, txnType.Direction, req.Quantity), prefix+".quantity")
		}

		row := inventorydomain.TransactionLine{
			ID:            s.genID.Generate(),
			TransactionID: txn.ID,
			LineNumber:    i + 1,
			ProductID:     product.ID,
			LocationID:    strings.TrimSpace(req.LocationID),
			Quantity:      req.Quantity,
			UnitCost:      decimal.Zero,
			TotalCost:     decimal.Zero,
			CreatedAt:     now,
		}
		if txnType.Direction == inventorydomain.DirectionIncrease {
			row.UnitCost = req.UnitCost
		}
		if lot := strings.TrimSpace(req.LotNumber); lot != "" {
			row.LotNumber = &lot
		}
		for _, serial := range req.SerialNumbers {
			row.SerialNumbers = append(row.SerialNumbers, strings.TrimSpace(serial))
		}
		d.lines = append(d.lines, row)
	}
	return d, nil
}

func (s *Service) insertDraft(ctx context.Context, tx *gorm.DB, d *draft) error {
	existing, err := s.repo.FindTransactionByRef(ctx, tx, d.txn.ReferenceNumber)
	if err != nil {
		return err
	}
	if existing != nil {
		return inventorydomain.ErrDuplicateReference.With("reference number %s already used", d.txn.ReferenceNumber)
	}
	if err := s.repo.InsertTransaction(ctx, tx, d.txn); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return inventorydomain.ErrDuplicateReference.With("reference number %s already used", d.txn.ReferenceNumber)
		}
		return err
	}
	return s.repo.InsertLines(ctx, tx, d.lines)
}

// load reads a stored transaction back into a draft.
func (s *Service) load(ctx context.Context, conn *gorm.DB, id snowflake.ID) (*draft, error) {
	txn, err := s.findTransaction(ctx, conn, id)
	if err != nil {
		return nil, err
	}
	txnType, err := s.repo.FindType(ctx, conn, txn.TypeCode)
	if err != nil {
		return nil, err
	}
	if txnType == nil {
		return nil, inventorydomain.ErrTypeNotFound.With("transaction type %s does not exist", txn.TypeCode)
	}
	lines, err := s.repo.ListLines(ctx, conn, id)
	if err != nil {
		return nil, err
	}
	d := &draft{txn: txn, txnType: txnType, lines: lines, products: map[snowflake.ID]*inventorydomain.Product{}}
	for _, line := range lines {
		if _, ok := d.products[line.ProductID]; ok {
			continue
		}
		product, err := s.repo.FindProduct(ctx, conn, line.ProductID)
		if err != nil {
			return nil, err
		}
		if product == nil {
			return nil, inventorydomain.ErrProductNotFound.With("product %s does not exist", line.ProductID)
		}
		d.products[product.ID] = product
	}
	return d, nil
}

func (s *Service) observe(ctx context.Context, typeCode string, out outcome, started time.Time, err error) {
	s.postingMetrics.ObservePosting(obsmetrics.OperationInventoryPost, time.Since(started), err)
	if err != nil {
		s.obsMetrics.RecordPostingRejected(ctx, obsmetrics.OperationInventoryPost, err)
		return
	}
	s.obsMetrics.RecordInventoryPosted(ctx, typeCode)
	if out.result.JournalEntryRef != "" {
		s.obsMetrics.RecordJournalPosted(ctx, string(ledgerdomain.SourceTypeInventory))
	}
	for method, n := range out.consumed {
		s.obsMetrics.RecordCostLayersConsumed(ctx, string(method), n)
		s.postingMetrics.AddLayersConsumed(string(method), n)
	}
}

// lockKeys covers the transaction, its journal entry, every touched stock
// position and every account the journal entry can reach.
func lockKeys(d *draft) []string {
	keys := []string{
		lock.InventoryTxnKey(d.txn.ReferenceNumber),
		lock.EntryKey(journalRef(d.txn.ReferenceNumber)),
	}
	if d.txnType.OffsetAccountCode != "" {
		keys = append(keys, lock.AccountKey(d.txnType.OffsetAccountCode))
	}
	for _, line := range d.lines {
		keys = append(keys, lock.StockKey(line.ProductID.Int64(), line.LocationID))
	}
	for _, product := range d.products {
		keys = append(keys, lock.AccountKey(product.InventoryAccountCode), lock.AccountKey(product.COGSAccountCode))
		if product.VarianceAccountCode != nil {
			keys = append(keys, lock.AccountKey(*product.VarianceAccountCode))
		}
	}
	return keys
}

func issueOffset(t *inventorydomain.TransactionType, product *inventorydomain.Product) string {
	if t.OffsetAccountCode != "" {
		return t.OffsetAccountCode
	}
	return product.COGSAccountCode
}

func journalRef(reference string) string { return "INV-" + reference }

func linePrefix(i int) string { return "lines[" + strconv.Itoa(i) + "]" }

func withField(err *apperror.Error, field string) *apperror.Error {
	err.Field = field
	return err
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
