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

package config

import (
	"reflect"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/meshbus/ardp/internal/apperr"
	"github.com/meshbus/ardp/internal/duration"
)

// keys lists every viper key with its flag usage. Each key's default is
// seeded from a separate map in RegisterFlags.
var keys = []struct {
	name  string
	usage string
}{
	{"auth_timeout", "time allowed for a peer to complete authentication"},
	{"session_setup_timeout", "time allowed for session setup after authentication"},
	{"max_incomplete_connections", "maximum simultaneous authenticating connections"},
	{"max_completed_connections", "maximum simultaneous established connections"},
	{"max_untrusted_clients", "maximum simultaneous untrusted clients"},
	{"udp_connect_timeout", "handshake retry interval"},
	{"udp_connect_retries", "handshake retry budget"},
	{"udp_data_timeout", "data retransmission interval"},
	{"udp_data_retries", "data retransmission budget"},
	{"udp_persist_timeout", "zero-window probe interval"},
	{"udp_persist_retries", "zero-window probe budget"},
	{"udp_probe_timeout", "idle keepalive interval"},
	{"udp_probe_retries", "idle keepalive budget"},
	{"udp_dupack_counter", "duplicate acks before fast retransmit"},
	{"udp_timewait", "post-close connection id hold time"},
	{"ns_interfaces", "comma list of name-service interfaces, * for all"},
	{"listen", "primary listen spec, udp:u4addr=...,u4port=..."},
}

// RegisterFlags declares one persistent string flag per configuration key on
// cmd and binds each to the same-named viper key, so precedence is the usual
// flag > env > config file > default.
func RegisterFlags(cmd *cobra.Command, vpr *viper.Viper) error {
	def := Default()
	defaults := map[string]string{
		"auth_timeout":               def.AuthTimeout.Duration().String(),
		"session_setup_timeout":      def.SessionSetupTimeout.Duration().String(),
		"max_incomplete_connections": "10",
		"max_completed_connections":  "50",
		"max_untrusted_clients":      "0",
		"udp_connect_timeout":        def.UDPConnectTimeout.Duration().String(),
		"udp_connect_retries":        "3",
		"udp_data_timeout":           def.UDPDataTimeout.Duration().String(),
		"udp_data_retries":           "5",
		"udp_persist_timeout":        def.UDPPersistTimeout.Duration().String(),
		"udp_persist_retries":        "5",
		"udp_probe_timeout":          def.UDPProbeTimeout.Duration().String(),
		"udp_probe_retries":          "5",
		"udp_dupack_counter":         "1",
		"udp_timewait":               def.UDPTimeWait.Duration().String(),
		"ns_interfaces":              def.NSInterfaces,
		"listen":                     def.Listen,
	}

	for _, k := range keys {
		cmd.PersistentFlags().String(k.name, defaults[k.name], k.usage)
		if err := vpr.BindPFlag(k.name, cmd.PersistentFlags().Lookup(k.name)); err != nil {
			return apperr.ConfigInvalidKey.Error(err)
		}
	}

	return nil
}

// Load decodes the viper state into a Config, starting from defaults so keys
// absent from every source keep their documented values.
func Load(vpr *viper.Viper) (Config, error) {
	cfg := Default()

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &cfg,
		DecodeHook:       durationHook,
		WeaklyTypedInput: true, // flag values arrive as strings
	})
	if err != nil {
		return cfg, apperr.ConfigInvalidValue.Error(err)
	}

	if err = dec.Decode(vpr.AllSettings()); err != nil {
		return cfg, apperr.ConfigInvalidValue.Error(err)
	}

	if err = cfg.Validate(); err != nil {
		return cfg, err
	}

	return cfg, nil
}

var durationType = reflect.TypeOf(duration.Duration(0))

// durationHook lets mapstructure fill duration.Duration fields from the
// string/int forms viper produces.
func durationHook(from, to reflect.Type, data interface{}) (interface{}, error) {
	if to != durationType {
		return data, nil
	}
	return duration.Parse(data)
}
