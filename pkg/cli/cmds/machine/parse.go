package machine

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/robotalks/sbclink/pkg/sbc/msgs"
	"github.com/robotalks/sbclink/pkg/sbc/wire"
)

// ParseValue converts a shell argument into a typed value: "quoted" is a
// string, {expr} an expression, a:b:c an array, otherwise an integer, a
// float or a bare string.
func ParseValue(s string) msgs.Value {
	switch {
	case len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"':
		if str, err := strconv.Unquote(s); err == nil {
			return msgs.StringValue(str)
		}
		return msgs.StringValue(s[1 : len(s)-1])
	case strings.HasPrefix(s, "{"):
		return msgs.ExpressionValue(s)
	case strings.Contains(s, ":"):
		return parseArray(s)
	}
	if n, err := strconv.ParseInt(s, 10, 32); err == nil {
		return msgs.IntValue(int32(n))
	}
	if f, err := strconv.ParseFloat(s, 32); err == nil {
		return msgs.FloatValue(float32(f))
	}
	return msgs.StringValue(s)
}

func parseArray(s string) msgs.Value {
	items := strings.Split(s, ":")
	ints := make([]int32, 0, len(items))
	for _, item := range items {
		n, err := strconv.ParseInt(item, 10, 32)
		if err != nil {
			break
		}
		ints = append(ints, int32(n))
	}
	if len(ints) == len(items) {
		return msgs.IntArrayValue(ints...)
	}
	floats := make([]float32, 0, len(items))
	for _, item := range items {
		f, err := strconv.ParseFloat(item, 32)
		if err != nil {
			return msgs.StringValue(s)
		}
		floats = append(floats, float32(f))
	}
	return msgs.FloatArrayValue(floats...)
}

// ParseCode builds a code from split words, e.g. ["G1", "X10", "F3000"].
// The first word is the letter with optional major.minor numbers, each
// further word a parameter letter followed by its value.
func ParseCode(ch wire.Channel, words []string) (*msgs.Code, error) {
	if len(words) == 0 || words[0] == "" {
		return nil, fmt.Errorf("code required")
	}
	code := &msgs.Code{Channel: ch, Letter: upper(words[0][0])}
	if num := words[0][1:]; num == "" {
		code.Flags |= wire.NoMajorCommandNumber | wire.NoMinorCommandNumber
	} else {
		major, minor := num, ""
		if pos := strings.IndexByte(num, '.'); pos >= 0 {
			major, minor = num[:pos], num[pos+1:]
		}
		n, err := strconv.ParseInt(major, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid code %q", words[0])
		}
		code.MajorCode = int32(n)
		if minor == "" {
			code.Flags |= wire.NoMinorCommandNumber
		} else if n, err = strconv.ParseInt(minor, 10, 32); err != nil {
			return nil, fmt.Errorf("invalid code %q", words[0])
		} else {
			code.MinorCode = int32(n)
		}
	}
	for _, word := range words[1:] {
		if word == "" {
			continue
		}
		value := msgs.IntValue(0)
		if len(word) > 1 {
			value = ParseValue(word[1:])
		}
		code.Parameters = append(code.Parameters, msgs.CodeParameter{Letter: upper(word[0]), Value: value})
	}
	return code, nil
}

func upper(b byte) byte {
	if b >= 'a' && b <= 'z' {
		return b - 'a' + 'A'
	}
	return b
}
