package validate

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"daoscope/internal/model"
)

var transferSchema = Schema{
	Event: "Transfer",
	Fields: []Field{
		{Name: "from", Kind: Address},
		{Name: "to", Kind: Address},
		{Name: "value", Kind: Numeric},
	},
}

func TestValidateTypedArgs(t *testing.T) {
	v := New(zap.NewNop())
	event := model.RawEvent{
		EventName: "Transfer",
		Args: map[string]any{
			"from":  common.HexToAddress("0x00000000000000000000000000000000000000AA"),
			"to":    "0x00000000000000000000000000000000000000BB",
			"value": big.NewInt(300),
		},
	}

	args := v.Validate(event, transferSchema)
	require.NotNil(t, args)
	assert.Equal(t, "0x00000000000000000000000000000000000000aa", args.Address("from"))
	assert.Equal(t, "0x00000000000000000000000000000000000000bb", args.Address("to"))
	assert.Equal(t, "300", args.Numeric("value").String())
	assert.Equal(t, map[string]string{
		"from":  "0x00000000000000000000000000000000000000aa",
		"to":    "0x00000000000000000000000000000000000000bb",
		"value": "300",
	}, args.Strings())
}

func TestValidateNumericCopy(t *testing.T) {
	args, err := Check(map[string]any{"value": "42"}, Schema{Fields: []Field{{Name: "value", Kind: Numeric}}})
	require.NoError(t, err)
	args.Numeric("value").SetInt64(7)
	assert.Equal(t, "42", args.Numeric("value").String())
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]map[string]any{
		"missing":     {"from": "0x00000000000000000000000000000000000000aa", "to": "0x00000000000000000000000000000000000000bb"},
		"bad address": {"from": "0xnothex", "to": "0x00000000000000000000000000000000000000bb", "value": "1"},
		"negative":    {"from": "0x00000000000000000000000000000000000000aa", "to": "0x00000000000000000000000000000000000000bb", "value": big.NewInt(-1)},
		"bad numeric": {"from": "0x00000000000000000000000000000000000000aa", "to": "0x00000000000000000000000000000000000000bb", "value": "1e18"},
		"wrong type":  {"from": 12, "to": "0x00000000000000000000000000000000000000bb", "value": "1"},
	}
	v := New(nil)
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Nil(t, v.Validate(model.RawEvent{Args: raw}, transferSchema))
		})
	}
}

func TestValidateUintAndString(t *testing.T) {
	schema := Schema{Fields: []Field{{Name: "decimals", Kind: Uint}, {Name: "name", Kind: String}}}

	args, err := Check(map[string]any{"decimals": uint8(18), "name": ""}, schema)
	require.NoError(t, err)
	assert.Equal(t, uint64(18), args.Uint("decimals"))
	assert.Equal(t, "", args.String("name"))

	overflow := new(big.Int).Lsh(big.NewInt(1), 64)
	_, err = Check(map[string]any{"decimals": overflow, "name": "x"}, schema)
	assert.Error(t, err)

	_, err = Check(map[string]any{"decimals": 1, "name": 5}, schema)
	assert.Error(t, err)
}
