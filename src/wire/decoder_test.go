package wire

import (
	"errors"
	"testing"
)

func appendVarint(buf []byte, v uint64) []byte {
	for v >= 0x80 {
		buf = append(buf, byte(v)|0x80)
		v >>= 7
	}
	return append(buf, byte(v))
}

func appendKey(buf []byte, field, wt uint64) []byte {
	return appendVarint(buf, field<<3|wt)
}

func appendBytes(buf []byte, field uint64, b []byte) []byte {
	buf = appendKey(buf, field, wireBytes)
	buf = appendVarint(buf, uint64(len(b)))
	return append(buf, b...)
}

func appendString(buf []byte, field uint64, s string) []byte {
	return appendBytes(buf, field, []byte(s))
}

func appendUint(buf []byte, field, v uint64) []byte {
	buf = appendKey(buf, field, wireVarint)
	return appendVarint(buf, v)
}

func orderBody(orderID, price, qty, remaining string, sideCode uint64, reduceOnly bool) []byte {
	var b []byte
	b = appendString(b, 1, orderID)
	b = appendString(b, 2, price)
	b = appendString(b, 3, qty)
	b = appendString(b, 4, remaining)
	b = appendUint(b, 5, sideCode)
	ro := uint64(0)
	if reduceOnly {
		ro = 1
	}
	b = appendUint(b, 6, ro)
	return b
}

func TestDecodeOrderFrame(t *testing.T) {
	body := orderBody("ord-1", "43250.5", "0.25", "0.1", 1, false)

	var frame []byte
	frame = appendString(frame, 1, "push.personal.order")
	frame = appendString(frame, 2, "BTC_USDT")
	frame = appendUint(frame, 3, 1700000000123)
	frame = appendBytes(frame, 4, body)

	ev, err := Decode(frame)
	if err != nil {
		t.Fatalf("unexpected decode error: %v", err)
	}

	if ev.Channel != "push.personal.order" {
		t.Fatalf("channel mismatch: %q", ev.Channel)
	}
	if ev.Symbol != "BTC_USDT" {
		t.Fatalf("symbol mismatch: %q", ev.Symbol)
	}
	if ev.SendTime != 1700000000123 {
		t.Fatalf("send time mismatch: %d", ev.SendTime)
	}
	if ev.Order == nil {
		t.Fatal("expected order body")
	}
	if ev.Order.OrderID != "ord-1" || ev.Order.Price != 43250.5 || ev.Order.Quantity != 0.25 {
		t.Fatalf("order body mismatch: %+v", ev.Order)
	}
	if !ev.Order.IsBuy() {
		t.Fatalf("expected buy side, got code %d", ev.Order.SideCode)
	}
}

func TestDecodeFillFrame(t *testing.T) {
	var body []byte
	body = appendString(body, 1, "ord-9")
	body = appendString(body, 2, "100.0")
	body = appendString(body, 3, "2")
	body = appendString(body, 4, "0.012")
	body = appendString(body, 5, "USDT")
	body = appendUint(body, 6, 1) // maker
	body = appendUint(body, 7, 2) // sell
	body = appendUint(body, 8, 1700000000456)

	var frame []byte
	frame = appendString(frame, 1, "push.personal.order.deal")
	frame = appendString(frame, 2, "ETH_USDT")
	frame = appendBytes(frame, 5, body)

	ev, err := Decode(frame)
	if err != nil {
		t.Fatalf("unexpected decode error: %v", err)
	}
	if ev.Fill == nil {
		t.Fatal("expected fill body")
	}
	f := ev.Fill
	if f.OrderID != "ord-9" || f.Price != 100.0 || f.Quantity != 2 {
		t.Fatalf("fill mismatch: %+v", f)
	}
	if f.Fee != 0.012 || f.FeeCurrency != "USDT" {
		t.Fatalf("fee mismatch: %+v", f)
	}
	if !f.IsMaker || f.IsBuy() {
		t.Fatalf("flags mismatch: %+v", f)
	}
}

// A frame with an unknown length-delimited field sandwiched between two known
// fields must still yield both known fields.
func TestDecodeSkipsUnknownFields(t *testing.T) {
	var frame []byte
	frame = appendString(frame, 1, "push.personal.asset")
	frame = appendString(frame, 99, "future extension payload")

	var body []byte
	body = appendString(body, 1, "USDT")
	body = appendString(body, 2, "1500.75")
	body = appendString(body, 3, "12.5")
	frame = appendBytes(frame, 6, body)

	ev, err := Decode(frame)
	if err != nil {
		t.Fatalf("unexpected decode error: %v", err)
	}
	if ev.Channel != "push.personal.asset" {
		t.Fatalf("channel lost around unknown field: %q", ev.Channel)
	}
	if ev.Balance == nil {
		t.Fatal("balance body lost around unknown field")
	}
	if ev.Balance.Asset != "USDT" || ev.Balance.Available != 1500.75 || ev.Balance.Frozen != 12.5 {
		t.Fatalf("balance mismatch: %+v", ev.Balance)
	}
}

func TestDecodeSkipsUnknownScalarTypes(t *testing.T) {
	var frame []byte
	frame = appendString(frame, 2, "BTC_USDT")

	// unknown varint field
	frame = appendUint(frame, 50, 777)
	// unknown fixed64 field
	frame = appendKey(frame, 51, wireFixed64)
	frame = append(frame, 1, 2, 3, 4, 5, 6, 7, 8)
	// unknown fixed32 field
	frame = appendKey(frame, 52, wireFixed32)
	frame = append(frame, 1, 2, 3, 4)

	frame = appendUint(frame, 3, 42)

	ev, err := Decode(frame)
	if err != nil {
		t.Fatalf("unexpected decode error: %v", err)
	}
	if ev.Symbol != "BTC_USDT" || ev.SendTime != 42 {
		t.Fatalf("known fields lost: %+v", ev)
	}
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name    string
		frame   []byte
		wantErr error
	}{
		{
			name: "length past buffer end",
			frame: func() []byte {
				var b []byte
				b = appendKey(b, 2, wireBytes)
				b = appendVarint(b, 100) // declares 100 bytes, none follow
				return b
			}(),
			wantErr: ErrTruncated,
		},
		{
			name: "unknown wire type",
			frame: func() []byte {
				var b []byte
				b = appendKey(b, 40, 3) // wire type 3 unused by the protocol
				return b
			}(),
			wantErr: ErrBadWireType,
		},
		{
			name: "truncated varint",
			frame: func() []byte {
				var b []byte
				b = appendKey(b, 3, wireVarint)
				return append(b, 0x80) // continuation bit with no next byte
			}(),
			wantErr: ErrTruncated,
		},
		{
			name: "truncated fixed64",
			frame: func() []byte {
				var b []byte
				b = appendKey(b, 51, wireFixed64)
				return append(b, 1, 2, 3)
			}(),
			wantErr: ErrTruncated,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.frame)
			if err == nil {
				t.Fatal("expected decode error")
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("error mismatch. got=%v want=%v", err, tt.wantErr)
			}
		})
	}
}

func TestDecodeNestedBodySkipsUnknown(t *testing.T) {
	var body []byte
	body = appendString(body, 1, "ord-7")
	body = appendUint(body, 77, 5) // unknown varint inside nested body
	body = appendString(body, 2, "250.25")

	var frame []byte
	frame = appendBytes(frame, 4, body)

	ev, err := Decode(frame)
	if err != nil {
		t.Fatalf("unexpected decode error: %v", err)
	}
	if ev.Order == nil || ev.Order.OrderID != "ord-7" || ev.Order.Price != 250.25 {
		t.Fatalf("nested known fields lost: %+v", ev.Order)
	}
}
