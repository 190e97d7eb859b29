package record

// Each record version has a fixed, distinct byte length; the length alone
// selects the offset table. Versions are decoded independently, there is no
// inheritance between the tables; a field that happens to share an offset
// across versions is a coincidence the decoder does not rely on.

const (
	OrderV1Size = 228
	OrderV2Size = 268

	PositionV1Size = 207
	PositionV2Size = 303

	BatchCheckSize = 355

	// BatchCheckMaxMembers is the fixed member-slot count in a batch-check
	// account, and therefore the hard batch ceiling for liquidation checks.
	BatchCheckMaxMembers = 10
)

type orderLayout struct {
	size    int
	version uint8

	owner    int
	market   int
	side     int
	status   int
	verified int
	filled   int
	encPrice int
	encSize  int
	token    int

	// -1 when the version does not carry the field
	nonce     int
	expiresAt int
}

var orderLayouts = map[int]orderLayout{
	OrderV1Size: {
		size:    OrderV1Size,
		version: 1,

		owner:    0,
		market:   32,
		side:     64,
		status:   65,
		verified: 66,
		filled:   67,
		encPrice: 68,
		encSize:  132,
		token:    196,

		nonce:     -1,
		expiresAt: -1,
	},
	OrderV2Size: {
		size:    OrderV2Size,
		version: 2,

		owner:    0,
		market:   32,
		token:    64,
		side:     96,
		status:   97,
		verified: 98,
		filled:   99,
		encPrice: 100,
		encSize:  164,

		nonce:     228,
		expiresAt: 260,
	},
}

type positionLayout struct {
	size    int
	version uint8

	owner         int
	market        int
	side          int
	status        int
	verified      int
	liqFlag       int
	fundingReq    int
	marginPending int
	closePending  int
	encMargin     int
	encSize       int
	lastFundingID int

	// -1 when the version does not carry the field
	encFunding int
	batchToken int
}

var positionLayouts = map[int]positionLayout{
	PositionV1Size: {
		size:    PositionV1Size,
		version: 1,

		owner:         0,
		market:        32,
		side:          64,
		status:        65,
		verified:      66,
		liqFlag:       67,
		fundingReq:    68,
		marginPending: 69,
		closePending:  70,
		encMargin:     71,
		encSize:       135,
		lastFundingID: 199,

		encFunding: -1,
		batchToken: -1,
	},
	PositionV2Size: {
		size:    PositionV2Size,
		version: 2,

		owner:         0,
		market:        32,
		encMargin:     64,
		encSize:       128,
		encFunding:    192,
		side:          256,
		status:        257,
		verified:      258,
		liqFlag:       259,
		fundingReq:    260,
		marginPending: 261,
		closePending:  262,
		lastFundingID: 263,
		batchToken:    271,
	},
}

type batchCheckLayout struct {
	size int

	market  int
	status  int
	correct int
	count   int
	members int
}

var batchCheckV1 = batchCheckLayout{
	size: BatchCheckSize,

	market:  0,
	status:  32,
	correct: 33,
	count:   34,
	members: 35,
}
