/*
 * MIT License
 *
 * Copyright (c) 2024 Nicolas JUHEL
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 */

// Package duration parses timeout and retry configuration values, accepting
// either a bare integer of milliseconds (the protocol's native config unit)
// or a Go duration string such as "3s".
package duration

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Duration is a time.Duration with a config-friendly text/JSON codec.
type Duration time.Duration

func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

func FromMillisecond(ms int64) Duration {
	return Duration(time.Duration(ms) * time.Millisecond)
}

// Parse accepts an int64/float64 (milliseconds) or a string, the latter
// either a Go duration ("3s", "500ms") or a bare integer of milliseconds.
func Parse(v interface{}) (Duration, error) {
	switch t := v.(type) {
	case nil:
		return 0, nil
	case Duration:
		return t, nil
	case time.Duration:
		return Duration(t), nil
	case int:
		return FromMillisecond(int64(t)), nil
	case int64:
		return FromMillisecond(t), nil
	case float64:
		return FromMillisecond(int64(t)), nil
	case string:
		return parseString(t)
	default:
		return 0, &ParseError{Value: v}
	}
}

func parseString(s string) (Duration, error) {
	s = strings.TrimSpace(s)
	s = strings.Trim(s, `"'`)

	if s == "" {
		return 0, nil
	}

	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return FromMillisecond(ms), nil
	}

	v, err := time.ParseDuration(s)
	if err != nil {
		return 0, &ParseError{Value: s, Cause: err}
	}

	return Duration(v), nil
}

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := parseString(string(b))
	if err != nil {
		return err
	}
	*d = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var raw interface{}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	v, err := Parse(raw)
	if err != nil {
		return err
	}
	*d = v
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

type ParseError struct {
	Value interface{}
	Cause error
}

func (e *ParseError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("duration: cannot parse %q: %s", fmt.Sprint(e.Value), e.Cause.Error())
	}
	return fmt.Sprintf("duration: unsupported value type for %v", e.Value)
}

func (e *ParseError) Unwrap() error {
	return e.Cause
}
