// Package validate normalizes decoded event arguments before handlers trust them.
package validate

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"daoscope/internal/model"
)

// FieldKind is the expected shape of one event argument.
type FieldKind int

const (
	// Address is a 20-byte hex address; normalized to lowercase.
	Address FieldKind = iota + 1
	// Numeric is a non-negative arbitrary precision integer.
	Numeric
	// Uint is an unsigned integer that fits in 64 bits.
	Uint
	// String is any string, empty allowed.
	String
)

func (k FieldKind) String() string {
	switch k {
	case Address:
		return "address"
	case Numeric:
		return "numeric"
	case Uint:
		return "uint"
	case String:
		return "string"
	default:
		return "unknown"
	}
}

// Field is one required argument.
type Field struct {
	Name string
	Kind FieldKind
}

// Schema lists the required arguments of one event type.
type Schema struct {
	Event  string
	Fields []Field
}

// Args holds arguments that passed schema validation.
type Args struct {
	addresses map[string]string
	numerics  map[string]*big.Int
	uints     map[string]uint64
	strings   map[string]string
}

// Address returns a validated, lowercased address argument.
func (a *Args) Address(name string) string { return a.addresses[name] }

// Numeric returns a copy of a validated numeric argument.
func (a *Args) Numeric(name string) *big.Int {
	v, ok := a.numerics[name]
	if !ok {
		return nil
	}
	return new(big.Int).Set(v)
}

// Uint returns a validated unsigned argument.
func (a *Args) Uint(name string) uint64 { return a.uints[name] }

// String returns a validated string argument.
func (a *Args) String(name string) string { return a.strings[name] }

// Strings renders every validated argument as text, for storage in log payloads.
func (a *Args) Strings() map[string]string {
	out := make(map[string]string, len(a.addresses)+len(a.numerics)+len(a.uints)+len(a.strings))
	for k, v := range a.addresses {
		out[k] = v
	}
	for k, v := range a.numerics {
		out[k] = v.String()
	}
	for k, v := range a.uints {
		out[k] = strconv.FormatUint(v, 10)
	}
	for k, v := range a.strings {
		out[k] = v
	}
	return out
}

// Validator checks raw events against schemas.
type Validator struct {
	logger *zap.Logger
}

func New(logger *zap.Logger) *Validator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Validator{logger: logger}
}

// Validate returns nil when a required field is missing or has the wrong shape.
// A nil result means the event gets no further processing.
func (v *Validator) Validate(event model.RawEvent, schema Schema) *Args {
	args, err := Check(event.Args, schema)
	if err != nil {
		v.logger.Warn("event failed validation",
			zap.String("contract", event.ContractAddress),
			zap.String("event", event.EventName),
			zap.String("tx_hash", event.TransactionHash),
			zap.Uint64("log_index", event.LogIndex),
			zap.Any("args", event.Args),
			zap.Error(err),
		)
		return nil
	}
	return args
}

// Check is the pure part of Validate.
func Check(raw map[string]any, schema Schema) (*Args, error) {
	args := &Args{
		addresses: make(map[string]string),
		numerics:  make(map[string]*big.Int),
		uints:     make(map[string]uint64),
		strings:   make(map[string]string),
	}
	for _, field := range schema.Fields {
		value, ok := raw[field.Name]
		if !ok || value == nil {
			return nil, fmt.Errorf("missing field %s", field.Name)
		}
		switch field.Kind {
		case Address:
			addr, err := asAddress(value)
			if err != nil {
				return nil, fmt.Errorf("field %s: %w", field.Name, err)
			}
			args.addresses[field.Name] = addr
		case Numeric:
			n, err := asNumeric(value)
			if err != nil {
				return nil, fmt.Errorf("field %s: %w", field.Name, err)
			}
			args.numerics[field.Name] = n
		case Uint:
			n, err := asNumeric(value)
			if err != nil {
				return nil, fmt.Errorf("field %s: %w", field.Name, err)
			}
			if !n.IsUint64() {
				return nil, fmt.Errorf("field %s: %s overflows uint64", field.Name, n)
			}
			args.uints[field.Name] = n.Uint64()
		case String:
			s, ok := value.(string)
			if !ok {
				return nil, fmt.Errorf("field %s: expected string, got %T", field.Name, value)
			}
			args.strings[field.Name] = s
		default:
			return nil, fmt.Errorf("field %s: unsupported kind %d", field.Name, field.Kind)
		}
	}
	return args, nil
}

func asAddress(value any) (string, error) {
	switch v := value.(type) {
	case common.Address:
		return model.NormalizeAddress(v.Hex()), nil
	case *common.Address:
		if v == nil {
			return "", fmt.Errorf("nil address")
		}
		return model.NormalizeAddress(v.Hex()), nil
	case string:
		if !common.IsHexAddress(v) {
			return "", fmt.Errorf("not an address: %q", v)
		}
		return model.NormalizeAddress(common.HexToAddress(v).Hex()), nil
	default:
		return "", fmt.Errorf("expected address, got %T", value)
	}
}

func asNumeric(value any) (*big.Int, error) {
	var n *big.Int
	switch v := value.(type) {
	case *big.Int:
		if v == nil {
			return nil, fmt.Errorf("nil integer")
		}
		n = new(big.Int).Set(v)
	case big.Int:
		n = new(big.Int).Set(&v)
	case uint8:
		n = new(big.Int).SetUint64(uint64(v))
	case uint16:
		n = new(big.Int).SetUint64(uint64(v))
	case uint32:
		n = new(big.Int).SetUint64(uint64(v))
	case uint64:
		n = new(big.Int).SetUint64(v)
	case uint:
		n = new(big.Int).SetUint64(uint64(v))
	case int:
		n = big.NewInt(int64(v))
	case int64:
		n = big.NewInt(v)
	case string:
		s := strings.TrimSpace(v)
		parsed, ok := new(big.Int).SetString(s, 10)
		if !ok || s == "" {
			return nil, fmt.Errorf("not a numeric string: %q", v)
		}
		n = parsed
	default:
		return nil, fmt.Errorf("expected integer, got %T", value)
	}
	if n.Sign() < 0 {
		return nil, fmt.Errorf("negative value %s", n)
	}
	return n, nil
}
