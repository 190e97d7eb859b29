package record

// Per-crank eligibility predicates. A record is eligible only when every
// required predicate holds at once; anything else waits for a later cycle.

// MatchEligible: the matching crank may submit a match transaction for this
// order. The MPC stamps the correlation token when it pairs two orders; an
// unfilled, verified, open order carrying a token is ready to match.
func (o *Order) MatchEligible() bool {
	return o.Status == StatusOpen &&
		o.Verified &&
		!o.Filled &&
		!o.Token.IsZero()
}

// SettleEligible: the settlement crank may run the transfer saga. The match
// transaction sets Filled; settlement then moves the two legs of value.
func (o *Order) SettleEligible() bool {
	return o.Status == StatusOpen &&
		o.Verified &&
		o.Filled &&
		!o.Token.IsZero()
}

// LiquidationEligible: the liquidation crank may include this position in a
// batch check.
func (p *Position) LiquidationEligible() bool {
	return p.Verified &&
		!p.LiquidationFlagged &&
		p.Status == StatusOpen
}

// FundingEligible: the funding crank may trigger the funding computation.
// A competing pending operation (margin change or close) wins; funding
// retries on a later cycle once it clears.
func (p *Position) FundingEligible() bool {
	return p.Status == StatusOpen &&
		p.FundingRequested &&
		!p.MarginChangePending &&
		!p.ClosePending
}

// CanPair reports whether two orders form a settleable/matchable pair:
// same market, equal non-zero correlation tokens, opposite sides. The
// all-zero token means "not yet matched" and never pairs.
func CanPair(a, b *Order) bool {
	if a.Token.IsZero() || a.Token != b.Token {
		return false
	}
	if a.Market != b.Market {
		return false
	}
	return a.Side == b.Side.Opposite()
}

// PairOrders groups eligible orders into pairs by correlation token. A
// token shared by anything other than exactly two orders that satisfy
// CanPair produces no pair.
func PairOrders(orders []*Order, eligible func(*Order) bool) [][2]*Order {
	byToken := make(map[MatchToken][]*Order)
	for _, o := range orders {
		if !eligible(o) || o.Token.IsZero() {
			continue
		}
		byToken[o.Token] = append(byToken[o.Token], o)
	}

	var pairs [][2]*Order
	for _, group := range byToken {
		if len(group) != 2 {
			continue
		}
		a, b := group[0], group[1]
		if !CanPair(a, b) {
			continue
		}
		// Long side first, so downstream keys are deterministic.
		if a.Side != SideLong {
			a, b = b, a
		}
		pairs = append(pairs, [2]*Order{a, b})
	}
	return pairs
}
