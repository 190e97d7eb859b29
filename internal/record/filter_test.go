package record

import "testing"

func eligibleOrder(side Side, token MatchToken, filled bool) *Order {
	return &Order{
		Address:  testAddr(byte(side) + 1),
		Version:  1,
		Market:   testAddr(0x99),
		Side:     side,
		Status:   StatusOpen,
		Verified: true,
		Filled:   filled,
		Token:    token,
	}
}

func TestMatchEligible(t *testing.T) {
	base := eligibleOrder(SideLong, testToken(1), false)
	if !base.MatchEligible() {
		t.Fatal("baseline order should be match eligible")
	}

	cases := []struct {
		name   string
		mutate func(*Order)
	}{
		{"closed", func(o *Order) { o.Status = StatusClosed }},
		{"liquidated", func(o *Order) { o.Status = StatusLiquidated }},
		{"unverified", func(o *Order) { o.Verified = false }},
		{"already filled", func(o *Order) { o.Filled = true }},
		{"no token", func(o *Order) { o.Token = MatchToken{} }},
	}
	for _, tc := range cases {
		o := *base
		tc.mutate(&o)
		if o.MatchEligible() {
			t.Errorf("%s: order should not be match eligible", tc.name)
		}
	}
}

func TestSettleEligible(t *testing.T) {
	base := eligibleOrder(SideLong, testToken(1), true)
	if !base.SettleEligible() {
		t.Fatal("baseline order should be settle eligible")
	}

	unfilled := *base
	unfilled.Filled = false
	if unfilled.SettleEligible() {
		t.Error("unfilled order should not be settle eligible")
	}

	closed := *base
	closed.Status = StatusClosed
	if closed.SettleEligible() {
		t.Error("closed order should not be settle eligible")
	}
}

func TestLiquidationEligible(t *testing.T) {
	base := &Position{Status: StatusOpen, Verified: true}
	if !base.LiquidationEligible() {
		t.Fatal("baseline position should be liquidation eligible")
	}

	flagged := *base
	flagged.LiquidationFlagged = true
	if flagged.LiquidationEligible() {
		t.Error("already flagged position should be skipped")
	}

	unverified := *base
	unverified.Verified = false
	if unverified.LiquidationEligible() {
		t.Error("unverified position should be skipped")
	}

	closed := *base
	closed.Status = StatusLiquidated
	if closed.LiquidationEligible() {
		t.Error("liquidated position should be skipped")
	}
}

func TestFundingEligible(t *testing.T) {
	base := &Position{Status: StatusOpen, Verified: true, FundingRequested: true}
	if !base.FundingEligible() {
		t.Fatal("baseline position should be funding eligible")
	}

	cases := []struct {
		name   string
		mutate func(*Position)
	}{
		{"no request", func(p *Position) { p.FundingRequested = false }},
		{"margin change pending", func(p *Position) { p.MarginChangePending = true }},
		{"close pending", func(p *Position) { p.ClosePending = true }},
		{"not open", func(p *Position) { p.Status = StatusClosed }},
	}
	for _, tc := range cases {
		p := *base
		tc.mutate(&p)
		if p.FundingEligible() {
			t.Errorf("%s: position should not be funding eligible", tc.name)
		}
	}
}

func TestCanPair(t *testing.T) {
	long := eligibleOrder(SideLong, testToken(1), false)
	short := eligibleOrder(SideShort, testToken(1), false)

	if !CanPair(long, short) {
		t.Fatal("opposite sides with equal tokens should pair")
	}

	otherToken := *short
	otherToken.Token = testToken(2)
	if CanPair(long, &otherToken) {
		t.Error("different tokens should not pair")
	}

	sameSide := *long
	sameSide.Address = testAddr(0x42)
	if CanPair(long, &sameSide) {
		t.Error("same sides should not pair")
	}

	otherMarket := *short
	otherMarket.Market = testAddr(0x43)
	if CanPair(long, &otherMarket) {
		t.Error("different markets should not pair")
	}

	zeroA := eligibleOrder(SideLong, MatchToken{}, false)
	zeroB := eligibleOrder(SideShort, MatchToken{}, false)
	if CanPair(zeroA, zeroB) {
		t.Error("zero tokens should never pair")
	}
}

func TestPairOrders(t *testing.T) {
	long := eligibleOrder(SideLong, testToken(1), false)
	short := eligibleOrder(SideShort, testToken(1), false)

	pairs := PairOrders([]*Order{short, long}, (*Order).MatchEligible)
	if len(pairs) != 1 {
		t.Fatalf("got %d pairs, want 1", len(pairs))
	}
	if pairs[0][0].Side != SideLong || pairs[0][1].Side != SideShort {
		t.Error("pair is not ordered long first")
	}
}

func TestPairOrdersIgnoresIncompleteGroups(t *testing.T) {
	lone := eligibleOrder(SideLong, testToken(1), false)
	if pairs := PairOrders([]*Order{lone}, (*Order).MatchEligible); len(pairs) != 0 {
		t.Errorf("lone order produced %d pairs", len(pairs))
	}

	// Three orders sharing a token is ambiguous; no pair is emitted.
	a := eligibleOrder(SideLong, testToken(3), false)
	b := eligibleOrder(SideShort, testToken(3), false)
	c := eligibleOrder(SideShort, testToken(3), false)
	c.Address = testAddr(0x77)
	if pairs := PairOrders([]*Order{a, b, c}, (*Order).MatchEligible); len(pairs) != 0 {
		t.Errorf("three-way token group produced %d pairs", len(pairs))
	}
}

func TestPairOrdersFiltersIneligible(t *testing.T) {
	long := eligibleOrder(SideLong, testToken(1), false)
	short := eligibleOrder(SideShort, testToken(1), false)
	short.Verified = false

	if pairs := PairOrders([]*Order{long, short}, (*Order).MatchEligible); len(pairs) != 0 {
		t.Errorf("pair with unverified leg produced %d pairs", len(pairs))
	}
}
