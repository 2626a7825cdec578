package signer

// The JSON action bodies below rely on encoding/json's guarantee that a
// struct marshals its fields in declaration order; that is what gives
// the wire body the same key order as the binary pack in wire.go.

type jsonLimit struct {
	Tif string `json:"tif"`
}

type jsonOrderType struct {
	Limit jsonLimit `json:"limit"`
}

type jsonOrder struct {
	A uint32        `json:"a"`
	B bool          `json:"b"`
	P string        `json:"p"`
	S string        `json:"s"`
	R bool          `json:"r"`
	T jsonOrderType `json:"t"`
}

type jsonOrderAction struct {
	Type     string      `json:"type"`
	Orders   []jsonOrder `json:"orders"`
	Grouping string      `json:"grouping"`
}

type jsonCancel struct {
	A uint32 `json:"a"`
	O uint64 `json:"o"`
}

type jsonCancelAction struct {
	Type    string       `json:"type"`
	Cancels []jsonCancel `json:"cancels"`
}

func toJSONOrders(orders []WireOrder) []jsonOrder {
	out := make([]jsonOrder, len(orders))
	for i, o := range orders {
		out[i] = jsonOrder{
			A: o.Asset,
			B: o.IsBuy,
			P: o.Price,
			S: o.Size,
			R: o.ReduceOnly,
			T: jsonOrderType{Limit: jsonLimit{Tif: o.TIF}},
		}
	}
	return out
}

func toJSONCancels(cancels []WireCancel) []jsonCancel {
	out := make([]jsonCancel, len(cancels))
	for i, c := range cancels {
		out[i] = jsonCancel{A: c.Asset, O: c.OID}
	}
	return out
}
