// Copyright (c) 2010-2011 The Grumble Authors
// The use of this source code is goverened by a BSD-style
// license that can be found in the LICENSE-file.

package mumbleproto

import "google.golang.org/protobuf/encoding/protowire"

func appendVarint(dst []byte, num protowire.Number, v uint64) []byte {
	dst = protowire.AppendTag(dst, num, protowire.VarintType)
	return protowire.AppendVarint(dst, v)
}

func appendBool(dst []byte, num protowire.Number, v bool) []byte {
	u := uint64(0)
	if v {
		u = 1
	}
	return appendVarint(dst, num, u)
}

func appendString(dst []byte, num protowire.Number, s string) []byte {
	dst = protowire.AppendTag(dst, num, protowire.BytesType)
	return protowire.AppendString(dst, s)
}

func appendBytes(dst []byte, num protowire.Number, b []byte) []byte {
	dst = protowire.AppendTag(dst, num, protowire.BytesType)
	return protowire.AppendBytes(dst, b)
}

// fieldVisitor is called once per top-level field encountered while
// unmarshaling. val holds the raw payload appropriate to typ (the
// still-encoded varint bytes for VarintType, decoded with varintVal; the
// length-delimited contents for BytesType; the raw 4/8 bytes for
// Fixed32/64Type).
type fieldVisitor func(num protowire.Number, typ protowire.Type, val []byte) error

func walkFields(buf []byte, visit fieldVisitor) error {
	for len(buf) > 0 {
		num, typ, n := protowire.ConsumeTag(buf)
		if n < 0 {
			return protowire.ParseError(n)
		}
		buf = buf[n:]

		var val []byte
		var m int
		switch typ {
		case protowire.VarintType:
			_, m = protowire.ConsumeVarint(buf)
			if m < 0 {
				return protowire.ParseError(m)
			}
			val = buf[:m]
		case protowire.Fixed32Type:
			_, m = protowire.ConsumeFixed32(buf)
			if m < 0 {
				return protowire.ParseError(m)
			}
			val = buf[:m]
		case protowire.Fixed64Type:
			_, m = protowire.ConsumeFixed64(buf)
			if m < 0 {
				return protowire.ParseError(m)
			}
			val = buf[:m]
		case protowire.BytesType:
			var b []byte
			b, m = protowire.ConsumeBytes(buf)
			if m < 0 {
				return protowire.ParseError(m)
			}
			val = b
		default:
			m = protowire.ConsumeFieldValue(num, typ, buf)
			if m < 0 {
				return protowire.ParseError(m)
			}
			val = buf[:m]
		}

		if err := visit(num, typ, val); err != nil {
			return err
		}
		buf = buf[m:]
	}
	return nil
}

func varintVal(val []byte) uint64 {
	v, _ := protowire.ConsumeVarint(val)
	return v
}
