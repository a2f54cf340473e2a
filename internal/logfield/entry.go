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

package logfield

import (
	"github.com/sirupsen/logrus"
)

var std = logrus.StandardLogger()

// SetOutput lets cmd/ardpecho (or a test) point the package logger at a
// custom logrus.Logger instance instead of the process-wide standard logger.
func SetOutput(l *logrus.Logger) {
	std = l
}

// Entry is a builder for one structured log line: fields accumulate by
// value, nothing is written until Log().
type Entry struct {
	level   Level
	message string
	fields  Fields
	errs    []error
}

func NewEntry(level Level, message string) *Entry {
	return &Entry{level: level, message: message, fields: NewFields()}
}

func (e *Entry) FieldAdd(key string, val interface{}) *Entry {
	e.fields = e.fields.Add(key, val)
	return e
}

func (e *Entry) ErrorAdd(err error) *Entry {
	if err != nil {
		e.errs = append(e.errs, err)
	}
	return e
}

func (e *Entry) Log() {
	l := std.WithFields(e.fields.Logrus())

	if len(e.errs) > 0 {
		msgs := make([]interface{}, 0, len(e.errs))
		for _, er := range e.errs {
			msgs = append(msgs, er.Error())
		}
		l = l.WithField("errors", msgs)
	}

	l.Log(e.level.Logrus(), e.message)
}

func Debug(msg string) *Entry { return NewEntry(DebugLevel, msg) }
func Info(msg string) *Entry  { return NewEntry(InfoLevel, msg) }
func Warn(msg string) *Entry  { return NewEntry(WarnLevel, msg) }
func Error(msg string) *Entry { return NewEntry(ErrorLevel, msg) }
