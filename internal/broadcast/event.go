package broadcast

import (
	"time"

	"github.com/shopspring/decimal"
)

// Event names on the wire.
const (
	EventGameStarted      = "gameStarted"
	EventMultiplierUpdate = "multiplierUpdate"
	EventGameCrashed      = "gameCrashed"
	EventBetPlaced        = "betPlaced"
	EventAction           = "action"
)

// Action names carried by EventAction.
const (
	ActionRoundPending  = "roundPending"
	ActionRoundRevealed = "roundRevealed"
	ActionRoundVoided   = "roundVoided"
	ActionCashedOut     = "cashedOut"
	ActionRainCreated   = "rainCreated"
	ActionRainActive    = "rainActive"
	ActionRainCompleted = "rainCompleted"
	ActionRainCancelled = "rainCancelled"
)

// Event is a typed domain event before serialization.
type Event struct {
	Name    string
	Payload interface{}
}

// Publisher accepts events for fan-out. Implementations must not block.
type Publisher interface {
	Publish(Event)
}

// GameStarted is sent when a round enters Running.
// TargetMultiplier is omitted when the server is configured to keep it secret.
type GameStarted struct {
	GameID           string   `json:"gameId"`
	TargetMultiplier *float64 `json:"targetMultiplier,omitempty"`
	Timestamp        int64    `json:"timestamp"`
}

type MultiplierUpdate struct {
	Multiplier float64 `json:"multiplier"`
}

// BetResult is one line of the crash results.
type BetResult struct {
	UserID            string   `json:"userId"`
	BetID             string   `json:"betId"`
	Outcome           string   `json:"outcome"`
	Payout            float64  `json:"payout"`
	CashoutMultiplier *float64 `json:"cashoutMultiplier,omitempty"`
}

type GameCrashed struct {
	GameID          string      `json:"gameId"`
	CrashMultiplier float64     `json:"crashMultiplier"`
	Results         []BetResult `json:"results"`
}

type BetPlaced struct {
	UserID   string  `json:"userId"`
	Username string  `json:"username"`
	Amount   float64 `json:"amount"`
	BetID    string  `json:"betId"`
	Avatar   string  `json:"avatar"`
}

// Action is the generic escape hatch for ad hoc broadcasts.
type Action struct {
	Action string      `json:"action"`
	Data   interface{} `json:"data"`
}

func NewGameStarted(gameID string, target decimal.Decimal, startedAt time.Time, exposeTarget bool) Event {
	payload := GameStarted{GameID: gameID, Timestamp: startedAt.UnixMilli()}
	if exposeTarget {
		f := target.InexactFloat64()
		payload.TargetMultiplier = &f
	}
	return Event{Name: EventGameStarted, Payload: payload}
}

func NewMultiplierUpdate(m decimal.Decimal) Event {
	return Event{Name: EventMultiplierUpdate, Payload: MultiplierUpdate{Multiplier: m.InexactFloat64()}}
}

func NewGameCrashed(gameID string, crash decimal.Decimal, results []BetResult) Event {
	if results == nil {
		results = []BetResult{}
	}
	return Event{Name: EventGameCrashed, Payload: GameCrashed{
		GameID:          gameID,
		CrashMultiplier: crash.InexactFloat64(),
		Results:         results,
	}}
}

func NewBetPlaced(userID, username, avatar, betID string, amount decimal.Decimal) Event {
	return Event{Name: EventBetPlaced, Payload: BetPlaced{
		UserID:   userID,
		Username: username,
		Amount:   amount.InexactFloat64(),
		BetID:    betID,
		Avatar:   avatar,
	}}
}

func NewAction(action string, data interface{}) Event {
	return Event{Name: EventAction, Payload: Action{Action: action, Data: data}}
}
