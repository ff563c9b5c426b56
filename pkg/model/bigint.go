package model

import (
	"database/sql/driver"
	"fmt"
	"math/big"

	"github.com/russross/meddler"
)

func init() {
	meddler.Register("bigint", bigIntMeddler{})
}

// BigInt wraps math/big.Int so that wire encoding is always a base-10
// string (spec §6.1: "BigInt quantities in responses are encoded as
// base-10 strings"), never a JSON number that would lose precision above
// 2^53, and never silently flips through float64 anywhere in the stack.
type BigInt struct {
	big.Int
}

// NewBigInt wraps an existing *big.Int. A nil input yields a zero value.
func NewBigInt(v *big.Int) *BigInt {
	b := &BigInt{}
	if v != nil {
		b.Int.Set(v)
	}
	return b
}

// BigIntFromBytes interprets data as a big-endian unsigned integer, the
// encoding of the `amount` field in an ERC-20 Transfer log's data section.
func BigIntFromBytes(data []byte) *BigInt {
	b := &BigInt{}
	b.Int.SetBytes(data)
	return b
}

func (b *BigInt) MarshalJSON() ([]byte, error) {
	if b == nil {
		return []byte(`"0"`), nil
	}
	return []byte(fmt.Sprintf(`"%s"`, b.Int.String())), nil
}

func (b *BigInt) UnmarshalJSON(data []byte) error {
	s := string(data)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	if s == "" || s == "null" {
		b.Int.SetInt64(0)
		return nil
	}
	if _, ok := b.Int.SetString(s, 10); !ok {
		return fmt.Errorf("model: invalid bigint literal %q", s)
	}
	return nil
}

// Value implements database/sql/driver.Valuer, storing the amount as its
// decimal string so SQLite's column affinity never truncates it to an
// int64 or float.
func (b *BigInt) Value() (driver.Value, error) {
	if b == nil {
		return "0", nil
	}
	return b.Int.String(), nil
}

// Scan implements database/sql.Scanner.
func (b *BigInt) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		b.Int.SetInt64(0)
		return nil
	case string:
		if _, ok := b.Int.SetString(v, 10); !ok {
			return fmt.Errorf("model: invalid bigint column value %q", v)
		}
		return nil
	case []byte:
		if _, ok := b.Int.SetString(string(v), 10); !ok {
			return fmt.Errorf("model: invalid bigint column value %q", string(v))
		}
		return nil
	case int64:
		b.Int.SetInt64(v)
		return nil
	default:
		return fmt.Errorf("model: cannot scan %T into BigInt", src)
	}
}

// PreRead/PostRead/PreWrite satisfy meddler.Meddler so *BigInt fields
// persist as decimal-string columns, matching the Scan/Value contract
// above but routed through meddler instead of database/sql directly.
type bigIntMeddler struct{}

func (bigIntMeddler) PreRead(fieldAddr interface{}) (scanTarget interface{}, err error) {
	return new(string), nil
}

func (bigIntMeddler) PostRead(fieldAddr, scanTarget interface{}) error {
	s, ok := scanTarget.(*string)
	if !ok {
		return fmt.Errorf("model: expected *string scan target, got %T", scanTarget)
	}
	ptr, ok := fieldAddr.(**BigInt)
	if !ok {
		return fmt.Errorf("model: expected **BigInt field, got %T", fieldAddr)
	}
	b := &BigInt{}
	if *s != "" {
		if _, ok := b.Int.SetString(*s, 10); !ok {
			return fmt.Errorf("model: invalid bigint column value %q", *s)
		}
	}
	*ptr = b
	return nil
}

func (bigIntMeddler) PreWrite(field interface{}) (saveValue interface{}, err error) {
	b, ok := field.(*BigInt)
	if !ok {
		return nil, fmt.Errorf("model: expected *BigInt field, got %T", field)
	}
	if b == nil {
		return "0", nil
	}
	return b.Int.String(), nil
}
