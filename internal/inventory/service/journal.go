package service

import (
	"github.com/shopspring/decimal"
	ledgerdomain "github.com/smallbiznis/stockledger/internal/ledger/domain"
)

type foreignAmount struct {
	amount decimal.Decimal
	code   string
	rate   decimal.Decimal
}

type journalKey struct {
	account string
	debit   bool
}

type journalLine struct {
	amount  decimal.Decimal
	foreign *foreignAmount
}

// journal merges movement amounts into one line per account and side, in
// the order accounts are first touched.
type journal struct {
	order   []journalKey
	entries map[journalKey]*journalLine
}

func newJournal() *journal {
	return &journal{entries: map[journalKey]*journalLine{}}
}

func (j *journal) debit(account string, amount decimal.Decimal, foreign *foreignAmount) {
	j.add(journalKey{account: account, debit: true}, amount, foreign)
}

func (j *journal) credit(account string, amount decimal.Decimal, foreign *foreignAmount) {
	j.add(journalKey{account: account}, amount, foreign)
}

func (j *journal) add(key journalKey, amount decimal.Decimal, foreign *foreignAmount) {
	if amount.IsZero() {
		return
	}
	line, ok := j.entries[key]
	if !ok {
		line = &journalLine{amount: decimal.Zero}
		j.entries[key] = line
		j.order = append(j.order, key)
	}
	line.amount = line.amount.Add(amount)
	if foreign == nil {
		return
	}
	if line.foreign == nil {
		copied := *foreign
		line.foreign = &copied
		return
	}
	line.foreign.amount = line.foreign.amount.Add(foreign.amount)
}

func (j *journal) lines() []ledgerdomain.LineRequest {
	out := make([]ledgerdomain.LineRequest, 0, len(j.order))
	for _, key := range j.order {
		line := j.entries[key]
		req := ledgerdomain.LineRequest{
			AccountCode: key.account,
			Debit:       decimal.Zero,
			Credit:      decimal.Zero,
		}
		if key.debit {
			req.Debit = line.amount
		} else {
			req.Credit = line.amount
		}
		if line.foreign != nil {
			amount, rate := line.foreign.amount, line.foreign.rate
			req.ForeignAmount = &amount
			req.ForeignCurrencyCode = line.foreign.code
			req.ForeignRate = &rate
		}
		out = append(out, req)
	}
	return out
}
