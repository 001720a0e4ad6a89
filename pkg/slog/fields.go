package slog

import (
	"fmt"
	"strconv"
	"strings"
)

// Field is a key/value pair attached to a log entry
type Field struct {
	Key   string
	Value interface{}
}

func F(key string, value interface{}) Field {
	return Field{Key: key, Value: value}
}

func (f Field) textValue() string {
	var s string
	switch v := f.Value.(type) {
	case nil:
		return "<nil>"
	case string:
		s = v
	case error:
		s = v.Error()
	case fmt.Stringer:
		s = v.String()
	default:
		s = fmt.Sprintf("%v", v)
	}
	if s == "" || strings.ContainsAny(s, " \t\n\"=") {
		return strconv.Quote(s)
	}
	return s
}

func (f Field) jsonValue() interface{} {
	switch v := f.Value.(type) {
	case error:
		return v.Error()
	case fmt.Stringer:
		return v.String()
	}
	return f.Value
}
