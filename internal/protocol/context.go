package protocol

// Flow is the reason the device is being authenticated.
type Flow int

const (
	FlowNone Flow = iota
	FlowUnlock
	FlowCreate
)

func (f Flow) String() string {
	switch f {
	case FlowUnlock:
		return "unlock"
	case FlowCreate:
		return "create"
	default:
		return "none"
	}
}

type AuthStage int

const (
	StageIdle AuthStage = iota
	StageFirstPin
	StageSecondPin
	StageEntropyRequested
	StageUnlocked
)

// AuthContext tracks one authentication. Accepted and Rejected are
// counted independently so rejected PINs never move the accepted path.
type AuthContext struct {
	Flow     Flow
	Stage    AuthStage
	Accepted int
	Rejected int
}

type ResetState int

const (
	ResetIdle ResetState = iota
	ResetWipeRequested
	ResetPinEntry
	ResetEntropyRequested
	ResetConfirmingWords
	ResetComplete
)

var resetStateNames = [...]string{
	ResetIdle:             "idle",
	ResetWipeRequested:    "wipe requested",
	ResetPinEntry:         "pin entry",
	ResetEntropyRequested: "entropy requested",
	ResetConfirmingWords:  "confirming words",
	ResetComplete:         "complete",
}

func (s ResetState) String() string {
	if s < 0 || int(s) >= len(resetStateNames) {
		return "unknown"
	}
	return resetStateNames[s]
}

// ResetContext tracks one wallet creation. WordsConfirmed belongs to this
// reset only and starts from zero on every new one.
type ResetContext struct {
	State          ResetState
	WordsConfirmed int
}

// CipherContext holds a cipher request that is waiting for the device to
// be unlocked.
type CipherContext struct {
	Pending     CipherKeyRequest
	AwaitingPin bool
}

// Operations holds the context of every operation in progress. A context
// is created when its operation starts, replaced when another of the same
// kind starts and dropped on a terminal reply.
type Operations struct {
	Auth   *AuthContext
	Reset  *ResetContext
	Cipher *CipherContext
}

// Abandon drops every operation in progress.
func (o *Operations) Abandon() {
	*o = Operations{}
}
