package verify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"regexp"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

var txHashPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{64}$`)

var txHashKeys = []string{"transactionHash", "txHash", "transaction_hash"}

// evidenceString returns the first non-empty string value among keys.
func evidenceString(evidence map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := evidence[k].(string); ok {
			if s = strings.TrimSpace(s); s != "" {
				return s
			}
		}
	}
	return ""
}

func txHashFrom(evidence map[string]any) string {
	return evidenceString(evidence, txHashKeys...)
}

func validTxHash(s string) bool {
	return txHashPattern.MatchString(s)
}

// normalizeHash lowercases a hash and ensures the 0x prefix.
func normalizeHash(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if !strings.HasPrefix(s, "0x") {
		s = "0x" + s
	}
	return s
}

// evidenceUint reads an unsigned integer that may arrive as a JSON number or a string.
func evidenceUint(evidence map[string]any, key string) (uint64, bool) {
	switch v := evidence[key].(type) {
	case float64:
		if v < 0 || v != float64(uint64(v)) {
			return 0, false
		}
		return uint64(v), true
	case json.Number:
		n, err := strconv.ParseUint(v.String(), 10, 64)
		return n, err == nil
	case string:
		n, err := strconv.ParseUint(strings.TrimSpace(v), 0, 64)
		return n, err == nil
	case int:
		return uint64(v), v >= 0
	case uint64:
		return v, true
	}
	return 0, false
}

func claimantAddress(s string) (common.Address, bool) {
	s = strings.TrimSpace(s)
	if !common.IsHexAddress(s) {
		return common.Address{}, false
	}
	addr := common.HexToAddress(s)
	return addr, addr != (common.Address{})
}

// decodeTaskConfig unmarshals an optional task config. An absent config leaves v untouched.
func decodeTaskConfig(raw json.RawMessage, v any) (present bool, err error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return false, nil
	}
	if err := json.Unmarshal(trimmed, v); err != nil {
		return true, err
	}
	return true, nil
}

// amount is a non-negative integer given either as a JSON string or number.
type amount struct {
	v *big.Int
}

func (a *amount) UnmarshalJSON(b []byte) error {
	s := strings.Trim(strings.TrimSpace(string(b)), `"`)
	if s == "" || s == "null" {
		return nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok || v.Sign() < 0 {
		return fmt.Errorf("invalid amount %q", s)
	}
	a.v = v
	return nil
}

func (a amount) orZero() *big.Int {
	if a.v == nil {
		return new(big.Int)
	}
	return a.v
}
