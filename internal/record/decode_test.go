package record

import (
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"PerpCrank/internal/chain"
)

func testAddr(b byte) chain.Address {
	var a chain.Address
	for i := range a {
		a[i] = b
	}
	return a
}

func testToken(b byte) MatchToken {
	var t MatchToken
	for i := range t {
		t[i] = b
	}
	return t
}

func testBlob(b byte) Blob64 {
	var blob Blob64
	for i := range blob {
		blob[i] = b
	}
	return blob
}

func TestDecodeOrderRoundTrip(t *testing.T) {
	for _, version := range []uint8{1, 2} {
		want := &Order{
			Address:  testAddr(0xAA),
			Version:  version,
			Owner:    testAddr(0x01),
			Market:   testAddr(0x02),
			Side:     SideShort,
			Status:   StatusOpen,
			Verified: true,
			Filled:   true,
			EncPrice: testBlob(0x10),
			EncSize:  testBlob(0x20),
			Token:    testToken(0x30),
		}
		if version == 2 {
			nonce := testToken(0x40)
			copy(want.Nonce[:], nonce[:])
			want.ExpiresAt = 1_700_000_000
		}

		data, err := EncodeOrder(want)
		if err != nil {
			t.Fatalf("v%d: encode: %v", version, err)
		}

		got, err := DecodeOrder(want.Address, data)
		if err != nil {
			t.Fatalf("v%d: decode: %v", version, err)
		}
		if *got != *want {
			t.Errorf("v%d: round trip mismatch:\n got %+v\nwant %+v", version, got, want)
		}
	}
}

func TestDecodeOrderVersionSizes(t *testing.T) {
	o := &Order{Version: 1, Side: SideLong, Status: StatusOpen}
	v1, err := EncodeOrder(o)
	if err != nil {
		t.Fatal(err)
	}
	if len(v1) != OrderV1Size {
		t.Errorf("v1 buffer is %d bytes, want %d", len(v1), OrderV1Size)
	}

	o.Version = 2
	v2, err := EncodeOrder(o)
	if err != nil {
		t.Fatal(err)
	}
	if len(v2) != OrderV2Size {
		t.Errorf("v2 buffer is %d bytes, want %d", len(v2), OrderV2Size)
	}

	d1, err := DecodeOrder(testAddr(1), v1)
	if err != nil {
		t.Fatal(err)
	}
	if d1.Version != 1 {
		t.Errorf("v1 buffer decoded as version %d", d1.Version)
	}

	d2, err := DecodeOrder(testAddr(1), v2)
	if err != nil {
		t.Fatal(err)
	}
	if d2.Version != 2 {
		t.Errorf("v2 buffer decoded as version %d", d2.Version)
	}
}

func TestDecodeOrderRejectsUnknownSize(t *testing.T) {
	for _, size := range []int{0, 1, OrderV1Size - 1, OrderV1Size + 1, OrderV2Size + 7} {
		_, err := DecodeOrder(testAddr(1), make([]byte, size))
		if !errors.Is(err, ErrUnknownSize) {
			t.Errorf("size %d: got %v, want ErrUnknownSize", size, err)
		}
	}
}

func TestDecodeOrderRejectsBadEnums(t *testing.T) {
	o := &Order{Version: 1, Side: SideLong, Status: StatusOpen}
	data, err := EncodeOrder(o)
	if err != nil {
		t.Fatal(err)
	}

	bad := make([]byte, len(data))
	copy(bad, data)
	bad[orderLayouts[OrderV1Size].side] = 7
	if _, err := DecodeOrder(testAddr(1), bad); err == nil {
		t.Error("unknown side byte accepted")
	}

	copy(bad, data)
	bad[orderLayouts[OrderV1Size].status] = 200
	if _, err := DecodeOrder(testAddr(1), bad); err == nil {
		t.Error("unknown status byte accepted")
	}
}

func TestDecodePositionRoundTrip(t *testing.T) {
	for _, version := range []uint8{1, 2} {
		want := &Position{
			Address:             testAddr(0xBB),
			Version:             version,
			Owner:               testAddr(0x03),
			Market:              testAddr(0x04),
			Side:                SideLong,
			Status:              StatusOpen,
			Verified:            true,
			FundingRequested:    true,
			MarginChangePending: false,
			ClosePending:        false,
			EncMargin:           testBlob(0x50),
			EncSize:             testBlob(0x60),
			LastFundingID:       42,
		}
		if version == 2 {
			want.EncFunding = testBlob(0x70)
			want.BatchToken = testToken(0x80)
		}

		data, err := EncodePosition(want)
		if err != nil {
			t.Fatalf("v%d: encode: %v", version, err)
		}

		got, err := DecodePosition(want.Address, data)
		if err != nil {
			t.Fatalf("v%d: decode: %v", version, err)
		}
		if *got != *want {
			t.Errorf("v%d: round trip mismatch:\n got %+v\nwant %+v", version, got, want)
		}
	}
}

func TestDecodeBatchCheckRoundTrip(t *testing.T) {
	want := &BatchCheck{
		Address: testAddr(0xCC),
		Market:  testAddr(0x05),
		Status:  StatusClosed,
		Correct: true,
		Members: []chain.Address{testAddr(1), testAddr(2), testAddr(3)},
	}

	data, err := EncodeBatchCheck(want)
	if err != nil {
		t.Fatal(err)
	}
	if len(data) != BatchCheckSize {
		t.Fatalf("batch-check buffer is %d bytes, want %d", len(data), BatchCheckSize)
	}

	got, err := DecodeBatchCheck(want.Address, data)
	if err != nil {
		t.Fatal(err)
	}
	if got.Market != want.Market || got.Status != want.Status || got.Correct != want.Correct {
		t.Errorf("header mismatch: got %+v", got)
	}
	if len(got.Members) != 3 {
		t.Fatalf("got %d members, want 3", len(got.Members))
	}
	for i := range want.Members {
		if got.Members[i] != want.Members[i] {
			t.Errorf("member %d mismatch", i)
		}
	}
	if !got.HasMember(testAddr(2)) {
		t.Error("HasMember(member) = false")
	}
	if got.HasMember(testAddr(9)) {
		t.Error("HasMember(stranger) = true")
	}
}

func TestDecodeBatchCheckRejectsOverlongCount(t *testing.T) {
	data, err := EncodeBatchCheck(&BatchCheck{Status: StatusPendingCheck})
	if err != nil {
		t.Fatal(err)
	}
	data[batchCheckV1.count] = BatchCheckMaxMembers + 1
	if _, err := DecodeBatchCheck(testAddr(1), data); err == nil {
		t.Error("overlong member count accepted")
	}
}

func TestDecodeSettlementIntentRoundTrip(t *testing.T) {
	want := &SettlementIntent{
		Address:     testAddr(0xDD),
		Token:       testToken(0x11),
		BaseAsset:   testAddr(0x06),
		QuoteAsset:  testAddr(0x07),
		BaseAmount:  1_000_000,
		QuoteAmount: 42_000_000_000,
		State:       IntentLeg1Recorded,
	}

	data := EncodeSettlementIntent(want)
	if len(data) != SettlementIntentSize {
		t.Fatalf("intent buffer is %d bytes, want %d", len(data), SettlementIntentSize)
	}

	got, err := DecodeSettlementIntent(want.Address, data)
	if err != nil {
		t.Fatal(err)
	}
	if *got != *want {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", got, want)
	}
}

func TestDecodeSettlementIntentRejectsBadState(t *testing.T) {
	data := EncodeSettlementIntent(&SettlementIntent{})
	data[intentState] = 99
	if _, err := DecodeSettlementIntent(testAddr(1), data); err == nil {
		t.Error("unknown intent state accepted")
	}
}

func TestDecodeOrdersSkipsMalformed(t *testing.T) {
	good := &Order{Version: 1, Side: SideLong, Status: StatusOpen, Token: testToken(1)}
	goodData, err := EncodeOrder(good)
	if err != nil {
		t.Fatal(err)
	}

	badEnum := make([]byte, len(goodData))
	copy(badEnum, goodData)
	badEnum[orderLayouts[OrderV1Size].side] = 9

	accounts := []chain.KeyedAccount{
		{Address: testAddr(1), Data: goodData},
		{Address: testAddr(2), Data: make([]byte, 17)}, // unknown size
		{Address: testAddr(3), Data: badEnum},
		{Address: testAddr(4), Data: goodData},
	}

	decoded := DecodeOrders(accounts, zerolog.Nop())
	if len(decoded) != 2 {
		t.Fatalf("decoded %d orders, want 2", len(decoded))
	}
	if decoded[0].Address != testAddr(1) || decoded[1].Address != testAddr(4) {
		t.Error("wrong accounts survived the scan")
	}
}
