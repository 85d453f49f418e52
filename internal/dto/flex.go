package dto

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// The Flex types decode loosely typed client JSON. None of them rejects a
// well-formed value of the wrong type; they record it as absent instead.

var null = []byte("null")

// FlexID is an identifier sent either as a string or as an embedded object
// carrying "_id" or "id".
type FlexID string

func (f *FlexID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, null) {
		return nil
	}
	switch b[0] {
	case '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = FlexID(strings.TrimSpace(s))
	case '{':
		var obj struct {
			MongoID FlexString `json:"_id"`
			ID      FlexString `json:"id"`
		}
		if err := json.Unmarshal(b, &obj); err != nil {
			return err
		}
		if obj.MongoID != "" {
			*f = FlexID(obj.MongoID)
		} else {
			*f = FlexID(obj.ID)
		}
	}
	return nil
}

// FlexString accepts strings and numbers.
type FlexString string

func (f *FlexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, null) {
		return nil
	}
	switch {
	case b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = FlexString(strings.TrimSpace(s))
	case b[0] == '-' || (b[0] >= '0' && b[0] <= '9'):
		*f = FlexString(b)
	}
	return nil
}

// FlexInt accepts integers, floats and numeric strings. Numbers that do not
// fit a 32-bit column are flagged OutOfRange and leave Valid false.
type FlexInt struct {
	Value      int
	Valid      bool
	OutOfRange bool
}

var (
	minFlexInt = decimal.NewFromInt(math.MinInt32)
	maxFlexInt = decimal.NewFromInt(math.MaxInt32)
)

func (f *FlexInt) UnmarshalJSON(b []byte) error {
	var s FlexString
	if err := s.UnmarshalJSON(b); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	if n, err := strconv.ParseInt(string(s), 10, 32); err == nil {
		*f = FlexInt{Value: int(n), Valid: true}
		return nil
	}
	d, err := decimal.NewFromString(string(s))
	if err != nil {
		return nil
	}
	d = d.Truncate(0)
	if d.LessThan(minFlexInt) || d.GreaterThan(maxFlexInt) {
		*f = FlexInt{OutOfRange: true}
		return nil
	}
	*f = FlexInt{Value: int(d.IntPart()), Valid: true}
	return nil
}

// FlexDecimal accepts numbers and numeric strings.
type FlexDecimal struct {
	Value decimal.Decimal
	Valid bool
}

func (f *FlexDecimal) UnmarshalJSON(b []byte) error {
	var s FlexString
	if err := s.UnmarshalJSON(b); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	if d, err := decimal.NewFromString(string(s)); err == nil {
		*f = FlexDecimal{Value: d, Valid: true}
	}
	return nil
}

// Or returns the value, or def when none was sent.
func (f FlexDecimal) Or(def decimal.Decimal) decimal.Decimal {
	if !f.Valid {
		return def
	}
	return f.Value
}
