package obscura

// Event types emitted on the MessageBus.

// bus.Send(TXO_RECEIVED, txo)
// bus.Send(ACC_CREATED, acc)

// Interface for any event
type EventType interface {
	Type() string
}

// slice of all msg types for config funcs lookup
var EVENT_TYPES []EventType = []EventType{
	EVENT_ALL("ALL"),
	EVENT_SYS("SYS"),
	EVENT_ACC("ACC"),
	EVENT_TXO("TXO"),
}

// Special category, do not use directly, represents *
type EVENT_ALL string

func (e EVENT_ALL) Type() string {
	return "ALL"
}

// System Events
type EVENT_SYS string

func (e EVENT_SYS) Type() string {
	return "SYS"
}

const (
	SYS_STARTUP EVENT_SYS = "STARTUP"
	SYS_ERR     EVENT_SYS = "ERR"
	SYS_MSG     EVENT_SYS = "MSG"
)

// Account Events
type EVENT_ACC string

func (e EVENT_ACC) Type() string {
	return "ACC"
}

const (
	ACC_CREATED EVENT_ACC = "CREATED"
	ACC_UPDATED EVENT_ACC = "UPDATED"
	ACC_SYNCED  EVENT_ACC = "SYNCED"
)

// Txo lifecycle events
type EVENT_TXO string

func (e EVENT_TXO) Type() string {
	return "TXO"
}

const (
	TXO_RECEIVED EVENT_TXO = "RECEIVED"
	TXO_ORPHANED EVENT_TXO = "ORPHANED"
	TXO_MINTED   EVENT_TXO = "MINTED"
	TXO_PENDING  EVENT_TXO = "PENDING"
	TXO_SPENT    EVENT_TXO = "SPENT"
	TXO_EXPIRED  EVENT_TXO = "EXPIRED"
)
