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

// ardpecho is a minimal daemon wiring the transport core to an echoing
// in-memory router: every message received on an endpoint is logged and sent
// back on the same endpoint. With --connect it also dials a remote daemon and
// pushes one message, exercising the full handshake + data path end to end.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/meshbus/ardp/config"
	"github.com/meshbus/ardp/endpoint"
	"github.com/meshbus/ardp/internal/logfield"
	"github.com/meshbus/ardp/transport"
)

// echoRouter is the smallest possible bus router: it registers endpoints and
// bounces every inbound message back to its sender.
type echoRouter struct{}

func (r *echoRouter) RegisterEndpoint(ep *endpoint.Endpoint) error {
	logfield.Info("endpoint registered").
		FieldAdd("conn_id", ep.ConnID).
		FieldAdd("remote_guid", ep.RemoteGUID).
		FieldAdd("remote_addr", ep.RemoteAddr.String()).Log()
	return nil
}

func (r *echoRouter) UnregisterEndpoint(ep *endpoint.Endpoint) {
	logfield.Info("endpoint unregistered").FieldAdd("conn_id", ep.ConnID).Log()
}

func (r *echoRouter) PushMessage(msg []byte, ep *endpoint.Endpoint) {
	logfield.Info("message received").
		FieldAdd("conn_id", ep.ConnID).
		FieldAdd("bytes", len(msg)).Log()

	go func() {
		if _, err := ep.PushMessage(msg); err != nil {
			logfield.Warn("echo failed").FieldAdd("conn_id", ep.ConnID).ErrorAdd(err).Log()
		}
	}()
}

func (r *echoRouter) ConnectionLost(ep *endpoint.Endpoint) {
	logfield.Warn("connection lost").FieldAdd("conn_id", ep.ConnID).Log()
}

func main() {
	vpr := viper.New()
	vpr.SetEnvPrefix("ARDPECHO")
	vpr.AutomaticEnv()

	var (
		cfgFile string
		connect string
		payload string
	)

	cmd := &cobra.Command{
		Use:   "ardpecho",
		Short: "reliable-UDP transport echo daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfgFile != "" {
				vpr.SetConfigFile(cfgFile)
				if err := vpr.ReadInConfig(); err != nil {
					return err
				}
			}
			cfg, err := config.Load(vpr)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg, connect, payload)
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "optional config file (json, yaml or toml)")
	cmd.PersistentFlags().StringVar(&connect, "connect", "", "remote spec to dial, udp:u4addr=...,u4port=...")
	cmd.PersistentFlags().StringVar(&payload, "send", "ping", "message pushed once after --connect succeeds")

	if err := config.RegisterFlags(cmd, vpr); err != nil {
		logrus.WithError(err).Fatal("flag registration failed")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cmd.ExecuteContext(ctx); err != nil {
		logrus.WithError(err).Error("ardpecho exited")
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, connect, payload string) error {
	trCfg, err := cfg.Transport()
	if err != nil {
		return err
	}

	hello, err := transport.NewLocalHello(":ardpecho.1", true)
	if err != nil {
		return err
	}
	if trCfg.Hello, err = hello.Encode(); err != nil {
		return err
	}

	tr := transport.New(trCfg, &echoRouter{}, nil, prometheus.DefaultRegisterer)
	if err = tr.Start(ctx); err != nil {
		return err
	}
	defer func() {
		_ = tr.Stop(context.Background())
		_ = tr.Join(context.Background())
	}()

	if connect != "" {
		ep, err := tr.Connect(ctx, connect, trCfg.Hello)
		if err != nil {
			return err
		}
		if _, err = ep.PushMessage([]byte(payload)); err != nil {
			return err
		}
	}

	<-ctx.Done()
	return nil
}
