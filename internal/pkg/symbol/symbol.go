package symbol

import (
	"fmt"
	"strings"
)

// MaxLen 美股代码最长长度（含 BRK.B 这类份额后缀）。
const MaxLen = 10

// Normalize 规整用户输入的证券代码：去空白、转大写、'/' 与 '-' 统一为 '.'。
func Normalize(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return ""
	}
	return strings.NewReplacer("/", ".", "-", ".").Replace(s)
}

// Validate 返回规整后的代码，非法时返回错误。
func Validate(raw string) (string, error) {
	s := Normalize(raw)
	if s == "" {
		return "", fmt.Errorf("symbol is required")
	}
	if len(s) > MaxLen {
		return "", fmt.Errorf("symbol %q is too long", raw)
	}
	dots := 0
	for i, r := range s {
		switch {
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9' && i > 0:
		case r == '.' && i > 0 && i < len(s)-1:
			dots++
		default:
			return "", fmt.Errorf("symbol %q contains invalid character %q", raw, r)
		}
	}
	if dots > 1 {
		return "", fmt.Errorf("symbol %q has more than one class suffix", raw)
	}
	return s, nil
}

// Broker 返回券商行情接口使用的代码形式（BRK.B -> BRK/B）。
func Broker(s string) string {
	return strings.ReplaceAll(Normalize(s), ".", "/")
}
