// Copyright 2016 by Thorsten von Eicken, see LICENSE file

package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/srhg/zag-bridge/device"
	"github.com/srhg/zag-bridge/mqttlog"
	"github.com/srhg/zag-bridge/radio"
	"github.com/srhg/zag-bridge/serial"
	"github.com/srhg/zag-bridge/transport"
)

func main() {
	configFile := flag.String("config", "device.ini", "path to persistent config file")
	baud := flag.Int("baud", 115200, "serial baud rate")
	debug := flag.Bool("debug", false, "enable debug logging")
	mqttBroker := flag.String("mqtt-broker", "", "optional host:port of an MQTT broker to publish telemetry to")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintf(os.Stderr, "Usage: %s [flags] <serial-port>\n", os.Args[0])
		flag.PrintDefaults()
		os.Exit(1)
	}
	port := flag.Arg(0)

	log := logrus.New()
	if *debug {
		log.SetLevel(logrus.DebugLevel)
	}

	link, err := serial.Open(port, *baud)
	if err != nil {
		log.Errorf("device: open %s: %v", port, err)
		os.Exit(2)
	}
	defer link.Close()

	var telemetry *mqttlog.Logger
	if *mqttBroker != "" {
		telemetry, err = mqttlog.Dial(*mqttBroker, "zag/device", log)
		if err != nil {
			log.Errorf("device: mqtt dial: %v", err)
			os.Exit(2)
		}
		defer telemetry.Close()
	}

	tp := transport.New(link, log)
	runErr := make(chan error, 1)
	go func() {
		runErr <- tp.Run()
	}()

	d, err := device.New(radio.New(tp), log, *configFile)
	if err != nil {
		log.Errorf("device: init: %v", err)
		os.Exit(3)
	}
	if telemetry != nil {
		d.Telemetry = telemetry
	}

	// shutdown closes either on an operator signal or on tp.Done(), which
	// also fires when Run returns a fatal I/O error (spec §7: transport I/O
	// errors are fatal and must bring the role down on its next tick).
	shutdown := make(chan struct{})
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sig:
			log.Info("device: shutting down")
		case <-tp.Done():
			log.Warn("device: transport stopped, shutting down")
		}
		tp.Shutdown() // idempotent; unblocks any in-flight Request
		close(shutdown)
	}()

	d.Run(tp, shutdown)

	if err := <-runErr; err != nil {
		log.Errorf("device: transport: %v", err)
		os.Exit(4)
	}
	log.Info("device: stopped")
}
