package orders

import "strings"

type Status string

const (
	StatusPending   Status = "pending"
	StatusProgress  Status = "progress"
	StatusDelivered Status = "delivered"
	StatusCanceled  Status = "canceled"
)

// ParseStatus menormalkan status bebas dari UI; nilai yang tidak dikenal dianggap pending.
func ParseStatus(s string) Status {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pending":
		return StatusPending
	case "progress", "in-progress", "in_progress", "inprogress", "processing":
		return StatusProgress
	case "delivered":
		return StatusDelivered
	case "canceled", "cancelled":
		return StatusCanceled
	default:
		return StatusPending
	}
}

// StockDirection is the stock consequence of a status transition.
type StockDirection int

const (
	StockUnchanged StockDirection = iota
	StockDecrement
	StockIncrement
)

func (d StockDirection) String() string {
	switch d {
	case StockDecrement:
		return "decrement"
	case StockIncrement:
		return "increment"
	default:
		return "none"
	}
}

func (d StockDirection) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

func (d *StockDirection) UnmarshalText(b []byte) error {
	switch string(b) {
	case "decrement":
		*d = StockDecrement
	case "increment":
		*d = StockIncrement
	default:
		*d = StockUnchanged
	}
	return nil
}

// Delta returns the signed stock change for qty units.
func (d StockDirection) Delta(qty int) int {
	switch d {
	case StockDecrement:
		return -qty
	case StockIncrement:
		return qty
	default:
		return 0
	}
}

// Masuk Delivered -> kurangi stok, keluar Delivered -> kembalikan stok, selain itu tidak ada perubahan.
var stockRule = map[Status]map[Status]StockDirection{
	StatusPending:   {StatusDelivered: StockDecrement},
	StatusProgress:  {StatusDelivered: StockDecrement},
	StatusCanceled:  {StatusDelivered: StockDecrement},
	StatusDelivered: {StatusPending: StockIncrement, StatusProgress: StockIncrement, StatusCanceled: StockIncrement},
}

// Transition returns the stock direction for moving an order from previous to next.
func Transition(previous, next Status) StockDirection {
	return stockRule[ParseStatus(string(previous))][ParseStatus(string(next))]
}
