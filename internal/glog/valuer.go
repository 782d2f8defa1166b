package glog

import (
	"fmt"
	"log/slog"
	"strconv"
)

// Byte wraps a single protocol byte so it renders as the character it represents.
// Without this, a byte is rendered as its decimal value.
type Byte byte

func (v Byte) LogValue() slog.Value {
	if strconv.IsPrint(rune(v)) && v < 0x80 {
		return slog.StringValue(string(rune(v)))
	}
	return slog.StringValue(fmt.Sprintf("0x%02x", byte(v)))
}
