package signer

import (
	"bytes"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// WireOrder is one order entry of an `order` L1 action, in the exact
// field order the venue hashes: a, b, p, s, r, t.
type WireOrder struct {
	Asset      uint32 // a
	IsBuy      bool   // b
	Price      string // p, wire-formatted
	Size       string // s, wire-formatted
	ReduceOnly bool   // r
	TIF        string // t.limit.tif: "Alo" | "Ioc" | "Gtc"
}

// WireCancel is one cancel entry of a `cancel` L1 action: a, o.
type WireCancel struct {
	Asset uint32 // a
	OID   uint64 // o
}

// packOrderAction emits the binary map-pack of
//
//	{"type":"order","orders":[{"a":..,"b":..,"p":..,"s":..,"r":..,"t":{"limit":{"tif":..}}}, ...],"grouping":"na"}
//
// as a msgpack map with keys in insertion order type -> orders -> grouping,
// each order entry a map with keys a -> b -> p -> s -> r -> t. This is not
// struct-reflection encoding: the venue requires an exact key order that a
// Go struct tag cannot express through msgpack/v5's struct codec, so the
// map is built by hand with the library's low-level Encode* primitives.
func packOrderAction(orders []WireOrder, grouping string) ([]byte, error) {
	buf := new(bytes.Buffer)
	enc := msgpack.NewEncoder(buf)

	if err := enc.EncodeMapLen(3); err != nil {
		return nil, err
	}
	if err := encodeKV(enc, "type", "order"); err != nil {
		return nil, err
	}

	if err := enc.EncodeString("orders"); err != nil {
		return nil, err
	}
	if err := enc.EncodeArrayLen(len(orders)); err != nil {
		return nil, err
	}
	for _, o := range orders {
		if err := encodeOrder(enc, o); err != nil {
			return nil, fmt.Errorf("pack order: %w", err)
		}
	}

	if err := encodeKV(enc, "grouping", grouping); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// packCancelAction emits the binary map-pack of
//
//	{"type":"cancel","cancels":[{"a":..,"o":..}, ...]}
func packCancelAction(cancels []WireCancel) ([]byte, error) {
	buf := new(bytes.Buffer)
	enc := msgpack.NewEncoder(buf)

	if err := enc.EncodeMapLen(2); err != nil {
		return nil, err
	}
	if err := encodeKV(enc, "type", "cancel"); err != nil {
		return nil, err
	}

	if err := enc.EncodeString("cancels"); err != nil {
		return nil, err
	}
	if err := enc.EncodeArrayLen(len(cancels)); err != nil {
		return nil, err
	}
	for _, c := range cancels {
		if err := enc.EncodeMapLen(2); err != nil {
			return nil, err
		}
		if err := encodeKVUint32(enc, "a", c.Asset); err != nil {
			return nil, err
		}
		if err := encodeKVUint64(enc, "o", c.OID); err != nil {
			return nil, err
		}
	}

	return buf.Bytes(), nil
}

func encodeOrder(enc *msgpack.Encoder, o WireOrder) error {
	if err := enc.EncodeMapLen(6); err != nil {
		return err
	}
	if err := encodeKVUint32(enc, "a", o.Asset); err != nil {
		return err
	}
	if err := encodeKVBool(enc, "b", o.IsBuy); err != nil {
		return err
	}
	if err := encodeKV(enc, "p", o.Price); err != nil {
		return err
	}
	if err := encodeKV(enc, "s", o.Size); err != nil {
		return err
	}
	if err := encodeKVBool(enc, "r", o.ReduceOnly); err != nil {
		return err
	}

	if err := enc.EncodeString("t"); err != nil {
		return err
	}
	if err := enc.EncodeMapLen(1); err != nil {
		return err
	}
	if err := enc.EncodeString("limit"); err != nil {
		return err
	}
	if err := enc.EncodeMapLen(1); err != nil {
		return err
	}
	return encodeKV(enc, "tif", o.TIF)
}

func encodeKV(enc *msgpack.Encoder, key, value string) error {
	if err := enc.EncodeString(key); err != nil {
		return err
	}
	return enc.EncodeString(value)
}

func encodeKVBool(enc *msgpack.Encoder, key string, value bool) error {
	if err := enc.EncodeString(key); err != nil {
		return err
	}
	return enc.EncodeBool(value)
}

func encodeKVUint32(enc *msgpack.Encoder, key string, value uint32) error {
	if err := enc.EncodeString(key); err != nil {
		return err
	}
	return enc.EncodeUint32(value)
}

func encodeKVUint64(enc *msgpack.Encoder, key string, value uint64) error {
	if err := enc.EncodeString(key); err != nil {
		return err
	}
	return enc.EncodeUint64(value)
}
