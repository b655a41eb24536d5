package payment

import (
	"github.com/shopspring/decimal"
)

// Ledger is the settlement state of one order.
type Ledger struct {
	Total            decimal.Decimal
	TotalPaid        decimal.Decimal
	RemainingBalance decimal.Decimal
	IsFullyPaid      bool
}

// NewLedger derives the ledger from the order total and its payment history.
func NewLedger(total decimal.Decimal, payments []Payment, refunds []Refund) Ledger {
	paid := decimal.Zero
	for i := range payments {
		paid = paid.Add(Net(&payments[i], refunds))
	}
	remaining := total.Sub(paid)
	return Ledger{
		Total:            total,
		TotalPaid:        paid,
		RemainingBalance: remaining,
		IsFullyPaid:      !remaining.IsPositive(),
	}
}

// Net returns what is still collected on p after its settled refunds.
func Net(p *Payment, refunds []Refund) decimal.Decimal {
	net := p.Amount
	for i := range refunds {
		if refunds[i].PaymentID == p.ID && refunds[i].Settled() {
			net = net.Sub(refunds[i].Amount)
		}
	}
	return net
}

// NextSeq returns the sequence number for the next payment of an order.
func NextSeq(payments []Payment) int {
	seq := 0
	for i := range payments {
		if payments[i].Seq > seq {
			seq = payments[i].Seq
		}
	}
	return seq + 1
}
