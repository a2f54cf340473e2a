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

// Package config maps the daemon's configuration keys onto the transport and
// protocol tunables, with viper as the loading backend and go-playground
// validation of the resulting struct.
package config

import (
	"errors"
	"strings"

	libval "github.com/go-playground/validator/v10"

	"github.com/meshbus/ardp/ardp"
	"github.com/meshbus/ardp/internal/apperr"
	"github.com/meshbus/ardp/internal/duration"
	"github.com/meshbus/ardp/transport"
)

// Config carries every configuration key of the transport core. Timeout
// fields accept either a bare integer of milliseconds or a suffixed duration
// string ("3s", "500ms").
type Config struct {
	AuthTimeout         duration.Duration `mapstructure:"auth_timeout" json:"auth_timeout" yaml:"auth_timeout"`
	SessionSetupTimeout duration.Duration `mapstructure:"session_setup_timeout" json:"session_setup_timeout" yaml:"session_setup_timeout"`

	MaxIncompleteConnections int `mapstructure:"max_incomplete_connections" json:"max_incomplete_connections" yaml:"max_incomplete_connections" validate:"gte=0"`
	MaxCompletedConnections  int `mapstructure:"max_completed_connections" json:"max_completed_connections" yaml:"max_completed_connections" validate:"gte=0"`
	MaxUntrustedClients      int `mapstructure:"max_untrusted_clients" json:"max_untrusted_clients" yaml:"max_untrusted_clients" validate:"gte=0"`

	UDPConnectTimeout duration.Duration `mapstructure:"udp_connect_timeout" json:"udp_connect_timeout" yaml:"udp_connect_timeout"`
	UDPConnectRetries int               `mapstructure:"udp_connect_retries" json:"udp_connect_retries" yaml:"udp_connect_retries" validate:"gte=0"`
	UDPDataTimeout    duration.Duration `mapstructure:"udp_data_timeout" json:"udp_data_timeout" yaml:"udp_data_timeout"`
	UDPDataRetries    int               `mapstructure:"udp_data_retries" json:"udp_data_retries" yaml:"udp_data_retries" validate:"gte=0"`
	UDPPersistTimeout duration.Duration `mapstructure:"udp_persist_timeout" json:"udp_persist_timeout" yaml:"udp_persist_timeout"`
	UDPPersistRetries int               `mapstructure:"udp_persist_retries" json:"udp_persist_retries" yaml:"udp_persist_retries" validate:"gte=0"`
	UDPProbeTimeout   duration.Duration `mapstructure:"udp_probe_timeout" json:"udp_probe_timeout" yaml:"udp_probe_timeout"`
	UDPProbeRetries   int               `mapstructure:"udp_probe_retries" json:"udp_probe_retries" yaml:"udp_probe_retries" validate:"gte=0"`
	UDPDupAckCounter  int               `mapstructure:"udp_dupack_counter" json:"udp_dupack_counter" yaml:"udp_dupack_counter" validate:"gte=0"`
	UDPTimeWait       duration.Duration `mapstructure:"udp_timewait" json:"udp_timewait" yaml:"udp_timewait"`

	// NSInterfaces is the comma list of interfaces the name service may
	// advertise on; "*" is the wildcard.
	NSInterfaces string `mapstructure:"ns_interfaces" json:"ns_interfaces" yaml:"ns_interfaces"`

	// Listen is the daemon's primary listen spec ("udp:u4addr=...,u4port=...").
	Listen string `mapstructure:"listen" json:"listen" yaml:"listen"`
}

// Default returns a Config holding the defaults tables of the protocol and
// the daemon-level keys.
func Default() Config {
	return Config{
		AuthTimeout:              duration.FromMillisecond(20000),
		SessionSetupTimeout:      duration.FromMillisecond(30000),
		MaxIncompleteConnections: 10,
		MaxCompletedConnections:  50,
		MaxUntrustedClients:      0,
		UDPConnectTimeout:        duration.FromMillisecond(3000),
		UDPConnectRetries:        3,
		UDPDataTimeout:           duration.FromMillisecond(3000),
		UDPDataRetries:           5,
		UDPPersistTimeout:        duration.FromMillisecond(5000),
		UDPPersistRetries:        5,
		UDPProbeTimeout:          duration.FromMillisecond(10000),
		UDPProbeRetries:          5,
		UDPDupAckCounter:         1,
		UDPTimeWait:              duration.FromMillisecond(1000),
		NSInterfaces:             "*",
		Listen:                   "udp:u4addr=0.0.0.0,u4port=9955",
	}
}

// Validate checks the struct tags and the listen spec grammar, collecting
// every violation into one error chain.
func (c Config) Validate() error {
	var errs []error

	if err := libval.New().Struct(c); err != nil {
		var ves libval.ValidationErrors
		if errors.As(err, &ves) {
			for _, fe := range ves {
				errs = append(errs, fe)
			}
		} else {
			errs = append(errs, err)
		}
	}

	if c.Listen != "" {
		if _, err := transport.Normalize(c.Listen); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return apperr.ConfigInvalidValue.Error(errs...)
	}

	return nil
}

// NSInterfaceList splits NSInterfaces on commas, trimming blanks.
func (c Config) NSInterfaceList() []string {
	var out []string
	for _, s := range strings.Split(c.NSInterfaces, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Transport maps this Config onto the transport.Config consumed by New,
// resolving the primary listen spec.
func (c Config) Transport() (transport.Config, error) {
	out := transport.DefaultConfig()

	out.ARDP = ardp.Config{
		ConnectTimeout: c.UDPConnectTimeout.Duration(),
		ConnectRetries: c.UDPConnectRetries,
		DataTimeout:    c.UDPDataTimeout.Duration(),
		DataRetries:    c.UDPDataRetries,
		PersistTimeout: c.UDPPersistTimeout.Duration(),
		PersistRetries: c.UDPPersistRetries,
		ProbeTimeout:   c.UDPProbeTimeout.Duration(),
		ProbeRetries:   c.UDPProbeRetries,
		DupAckCounter:  c.UDPDupAckCounter,
		TimeWait:       c.UDPTimeWait.Duration(),
		SegBMax:        ardp.DefaultConfig().SegBMax,
	}

	out.AuthTimeout = c.AuthTimeout.Duration()
	out.SessionSetupTimeout = c.SessionSetupTimeout.Duration()
	out.MaxIncompleteConns = c.MaxIncompleteConnections
	out.MaxCompletedConns = c.MaxCompletedConnections
	out.MaxUntrustedClients = c.MaxUntrustedClients

	if c.Listen != "" {
		ls, err := transport.ParseListenSpec(c.Listen)
		if err != nil {
			return out, err
		}
		out.PrimaryListen = ls
	}

	return out, nil
}
