// Package wire decodes the length-delimited, varint-tagged binary push
// format used by the MEXC futures private channel. The decoder is stateless:
// one frame in, one typed event out, no partial results.
package wire

import (
	"errors"
	"fmt"
	"strconv"
)

// Wire types per the push protocol. Matches protobuf encoding rules.
const (
	wireVarint  = 0
	wireFixed64 = 1
	wireBytes   = 2
	wireFixed32 = 5
)

var (
	// ErrTruncated is returned when a length prefix or varint would read
	// past the end of the frame.
	ErrTruncated = errors.New("wire: truncated frame")
	// ErrBadWireType is returned for a key with an unrecognized wire type.
	ErrBadWireType = errors.New("wire: unknown wire type")
)

// Event is one decoded private push frame. Exactly one of Order, Fill or
// Balance is set when the exchange included a typed body.
type Event struct {
	Channel  string
	Symbol   string
	SendTime int64

	Order   *OrderUpdate
	Fill    *FillEvent
	Balance *BalanceUpdate
}

// OrderUpdate is the typed body for order state changes. The exchange
// represents decimals textually, so prices and quantities arrive as
// length-delimited ASCII strings.
type OrderUpdate struct {
	OrderID    string
	Price      float64
	Quantity   float64
	Remaining  float64
	SideCode   uint64 // 1 buy, 2 sell
	ReduceOnly bool
	State      uint64
	CreateTime int64
}

func (o *OrderUpdate) IsBuy() bool { return o.SideCode == 1 }

// FillEvent is the typed body for an execution.
type FillEvent struct {
	OrderID     string
	Price       float64
	Quantity    float64
	Fee         float64
	FeeCurrency string
	IsMaker     bool
	SideCode    uint64
	Timestamp   int64
}

func (f *FillEvent) IsBuy() bool { return f.SideCode == 1 }

// BalanceUpdate is the typed body for a wallet balance change.
type BalanceUpdate struct {
	Asset     string
	Available float64
	Frozen    float64
	Timestamp int64
}

// Decode parses one push frame. Unknown fields of known wire types are
// skipped for forward compatibility; a length prefix past the buffer end or
// an unrecognized wire type fails the whole frame.
func Decode(buf []byte) (*Event, error) {
	ev := &Event{}
	i := 0
	for i < len(buf) {
		key, n, err := readVarint(buf, i)
		if err != nil {
			return nil, err
		}
		i = n
		field := key >> 3
		wt := int(key & 0x7)

		switch field {
		case 1:
			if wt != wireBytes {
				i, err = skipField(buf, i, wt)
				if err != nil {
					return nil, err
				}
				continue
			}
			b, next, err := readBytes(buf, i)
			if err != nil {
				return nil, err
			}
			ev.Channel = string(b)
			i = next
		case 2:
			if wt != wireBytes {
				i, err = skipField(buf, i, wt)
				if err != nil {
					return nil, err
				}
				continue
			}
			b, next, err := readBytes(buf, i)
			if err != nil {
				return nil, err
			}
			ev.Symbol = string(b)
			i = next
		case 3:
			if wt != wireVarint {
				i, err = skipField(buf, i, wt)
				if err != nil {
					return nil, err
				}
				continue
			}
			v, next, err := readVarint(buf, i)
			if err != nil {
				return nil, err
			}
			ev.SendTime = int64(v)
			i = next
		case 4:
			if wt != wireBytes {
				i, err = skipField(buf, i, wt)
				if err != nil {
					return nil, err
				}
				continue
			}
			b, next, err := readBytes(buf, i)
			if err != nil {
				return nil, err
			}
			ord, err := decodeOrderUpdate(b)
			if err != nil {
				return nil, err
			}
			ev.Order = ord
			i = next
		case 5:
			if wt != wireBytes {
				i, err = skipField(buf, i, wt)
				if err != nil {
					return nil, err
				}
				continue
			}
			b, next, err := readBytes(buf, i)
			if err != nil {
				return nil, err
			}
			fill, err := decodeFillEvent(b)
			if err != nil {
				return nil, err
			}
			ev.Fill = fill
			i = next
		case 6:
			if wt != wireBytes {
				i, err = skipField(buf, i, wt)
				if err != nil {
					return nil, err
				}
				continue
			}
			b, next, err := readBytes(buf, i)
			if err != nil {
				return nil, err
			}
			bal, err := decodeBalanceUpdate(b)
			if err != nil {
				return nil, err
			}
			ev.Balance = bal
			i = next
		default:
			i, err = skipField(buf, i, wt)
			if err != nil {
				return nil, err
			}
		}
	}
	return ev, nil
}

func decodeOrderUpdate(buf []byte) (*OrderUpdate, error) {
	o := &OrderUpdate{}
	i := 0
	for i < len(buf) {
		key, n, err := readVarint(buf, i)
		if err != nil {
			return nil, err
		}
		i = n
		field := key >> 3
		wt := int(key & 0x7)

		switch field {
		case 1:
			b, next, err := readBytes(buf, i)
			if err != nil {
				return nil, err
			}
			o.OrderID = string(b)
			i = next
		case 2:
			if i, err = decimalField(buf, i, &o.Price); err != nil {
				return nil, err
			}
		case 3:
			if i, err = decimalField(buf, i, &o.Quantity); err != nil {
				return nil, err
			}
		case 4:
			if i, err = decimalField(buf, i, &o.Remaining); err != nil {
				return nil, err
			}
		case 5:
			v, next, err := readVarint(buf, i)
			if err != nil {
				return nil, err
			}
			o.SideCode = v
			i = next
		case 6:
			v, next, err := readVarint(buf, i)
			if err != nil {
				return nil, err
			}
			o.ReduceOnly = v != 0
			i = next
		case 7:
			v, next, err := readVarint(buf, i)
			if err != nil {
				return nil, err
			}
			o.State = v
			i = next
		case 8:
			v, next, err := readVarint(buf, i)
			if err != nil {
				return nil, err
			}
			o.CreateTime = int64(v)
			i = next
		default:
			if i, err = skipField(buf, i, wt); err != nil {
				return nil, err
			}
		}
	}
	return o, nil
}

func decodeFillEvent(buf []byte) (*FillEvent, error) {
	f := &FillEvent{}
	i := 0
	for i < len(buf) {
		key, n, err := readVarint(buf, i)
		if err != nil {
			return nil, err
		}
		i = n
		field := key >> 3
		wt := int(key & 0x7)

		switch field {
		case 1:
			b, next, err := readBytes(buf, i)
			if err != nil {
				return nil, err
			}
			f.OrderID = string(b)
			i = next
		case 2:
			if i, err = decimalField(buf, i, &f.Price); err != nil {
				return nil, err
			}
		case 3:
			if i, err = decimalField(buf, i, &f.Quantity); err != nil {
				return nil, err
			}
		case 4:
			if i, err = decimalField(buf, i, &f.Fee); err != nil {
				return nil, err
			}
		case 5:
			b, next, err := readBytes(buf, i)
			if err != nil {
				return nil, err
			}
			f.FeeCurrency = string(b)
			i = next
		case 6:
			v, next, err := readVarint(buf, i)
			if err != nil {
				return nil, err
			}
			f.IsMaker = v != 0
			i = next
		case 7:
			v, next, err := readVarint(buf, i)
			if err != nil {
				return nil, err
			}
			f.SideCode = v
			i = next
		case 8:
			v, next, err := readVarint(buf, i)
			if err != nil {
				return nil, err
			}
			f.Timestamp = int64(v)
			i = next
		default:
			if i, err = skipField(buf, i, wt); err != nil {
				return nil, err
			}
		}
	}
	return f, nil
}

func decodeBalanceUpdate(buf []byte) (*BalanceUpdate, error) {
	b := &BalanceUpdate{}
	i := 0
	for i < len(buf) {
		key, n, err := readVarint(buf, i)
		if err != nil {
			return nil, err
		}
		i = n
		field := key >> 3
		wt := int(key & 0x7)

		switch field {
		case 1:
			raw, next, err := readBytes(buf, i)
			if err != nil {
				return nil, err
			}
			b.Asset = string(raw)
			i = next
		case 2:
			if i, err = decimalField(buf, i, &b.Available); err != nil {
				return nil, err
			}
		case 3:
			if i, err = decimalField(buf, i, &b.Frozen); err != nil {
				return nil, err
			}
		case 4:
			v, next, err := readVarint(buf, i)
			if err != nil {
				return nil, err
			}
			b.Timestamp = int64(v)
			i = next
		default:
			if i, err = skipField(buf, i, wt); err != nil {
				return nil, err
			}
		}
	}
	return b, nil
}

// decimalField reads a length-delimited ASCII decimal into dst.
func decimalField(buf []byte, i int, dst *float64) (int, error) {
	raw, next, err := readBytes(buf, i)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseFloat(string(raw), 64)
	if err != nil {
		return 0, fmt.Errorf("wire: bad decimal %q: %w", string(raw), err)
	}
	*dst = v
	return next, nil
}

// readVarint decodes a base-128 varint starting at i and returns the value
// and the index of the next byte.
func readVarint(buf []byte, i int) (uint64, int, error) {
	var v uint64
	var shift uint
	for {
		if i >= len(buf) {
			return 0, 0, ErrTruncated
		}
		b := buf[i]
		i++
		v |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			return v, i, nil
		}
		shift += 7
		if shift >= 64 {
			return 0, 0, fmt.Errorf("wire: varint overflow: %w", ErrTruncated)
		}
	}
}

// readBytes decodes a length-delimited field starting at i.
func readBytes(buf []byte, i int) ([]byte, int, error) {
	n, next, err := readVarint(buf, i)
	if err != nil {
		return nil, 0, err
	}
	end := next + int(n)
	if end < next || end > len(buf) {
		return nil, 0, ErrTruncated
	}
	return buf[next:end], end, nil
}

// skipField consumes one unknown field of a known wire type.
func skipField(buf []byte, i int, wt int) (int, error) {
	switch wt {
	case wireVarint:
		_, next, err := readVarint(buf, i)
		return next, err
	case wireBytes:
		_, next, err := readBytes(buf, i)
		return next, err
	case wireFixed64:
		if i+8 > len(buf) {
			return 0, ErrTruncated
		}
		return i + 8, nil
	case wireFixed32:
		if i+4 > len(buf) {
			return 0, ErrTruncated
		}
		return i + 4, nil
	default:
		return 0, fmt.Errorf("%w: %d", ErrBadWireType, wt)
	}
}
