// Package order is the pooled payload driven by the benchmark commands.
package order

import (
	"bytes"
	"encoding/binary"
	"errors"

	decimal "github.com/geseq/udecimal"
)

// SideType of the order
type SideType byte

// Sell (asks) or Buy (bids)
const (
	Sell SideType = iota
	Buy
)

// String implements fmt.Stringer interface
func (s SideType) String() string {
	switch s {
	case Buy:
		return "buy"
	default:
		return "sell"
	}
}

// Order is a limit order kept in a pool between uses.
type Order struct {
	ID    uint64
	Side  SideType
	Qty   decimal.Decimal
	Price decimal.Decimal
	buf   bytes.Buffer
}

// New returns an empty order, the factory for pools of orders.
func New() *Order {
	o := &Order{}
	o.Reinitialize()
	return o
}

// Set fills in the order.
func (o *Order) Set(id uint64, side SideType, qty, price decimal.Decimal) {
	o.ID = id
	o.Side = side
	o.Qty = qty
	o.Price = price
}

// Reinitialize resets the order to its zero state, keeping the encoding buffer.
func (o *Order) Reinitialize() {
	o.ID = 0
	o.Side = Sell
	o.Qty = decimal.Zero
	o.Price = decimal.Zero
	o.buf.Reset()
}

// Compare orders by price.
func (o *Order) Compare(other *Order) int {
	return o.Price.Cmp(other.Price)
}

// Compose converts the order to a binary representation. The returned slice is
// only valid until the next call.
func (o *Order) Compose() []byte {
	o.buf.Reset()

	var idbuf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(idbuf[:], o.ID)
	o.buf.Write(idbuf[:n])

	b, _ := o.Qty.MarshalBinary()
	o.buf.Write(b)

	b, _ = o.Price.MarshalBinary()
	o.buf.Write(b)

	o.buf.WriteByte(byte(o.Side))

	return o.buf.Bytes()
}

// Decompose loads an order from its binary representation
func (o *Order) Decompose(b []byte) error {
	id, n := binary.Uvarint(b)
	if n <= 0 {
		return errors.New("decompose failed: invalid id")
	}
	b = b[n:]

	qty := decimal.Decimal{}
	b, err := qty.UnmarshalBinaryData(b)
	if err != nil {
		return err
	}
	price := decimal.Decimal{}
	b, err = price.UnmarshalBinaryData(b)
	if err != nil {
		return err
	}

	if len(b) != 1 {
		return errors.New("decompose failed: invalid bytes provided")
	}

	o.Set(id, SideType(b[0]), qty, price)
	return nil
}
