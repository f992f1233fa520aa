// Copyright 2016 by Thorsten von Eicken, see LICENSE file

// Package mqttlog publishes a running summary of PAN activity to an MQTT
// broker. It is optional: a bridge started without a broker address simply
// never constructs one. Publish is adapted from the mqttradio gateway's
// mq.Publish, trimmed to a one-way telemetry feed: the teacher's dedup
// bookkeeping existed to stop its Subscribe-based local forwarding from
// echoing a message back to itself, and nothing here subscribes to
// anything, so that bookkeeping has no read site and is dropped rather than
// carried over unused.
package mqttlog

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"
)

// Logger publishes JSON event summaries to an MQTT broker under a topic
// prefix, e.g. "zag/coordinator/<event>".
type Logger struct {
	conn   mqtt.Client
	prefix string
	log    logrus.FieldLogger
}

// Dial connects to broker (host:port) and returns a Logger that publishes
// under topicPrefix. The connection reconnects on its own; Dial only waits
// for the initial handshake.
func Dial(broker, topicPrefix string, log logrus.FieldLogger) (*Logger, error) {
	opts := mqtt.NewClientOptions().AddBroker(fmt.Sprintf("tcp://%s", broker))
	opts.ClientID = "zag-bridge"
	opts.AutoReconnect = true

	conn := mqtt.NewClient(opts)
	token := conn.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("mqttlog: connect to %s timed out", broker)
	}
	if err := token.Error(); err != nil {
		return nil, err
	}

	log.Infof("mqttlog: connected to %s", broker)
	return &Logger{conn: conn, prefix: topicPrefix, log: log}, nil
}

// Publish sends payload, JSON encoded, to prefix/event. Publish failures are
// logged, not returned: telemetry is best-effort and must never block the
// role state machine that calls it.
func (l *Logger) Publish(event string, payload interface{}) {
	topic := l.prefix + "/" + event
	body, err := json.Marshal(payload)
	if err != nil {
		l.log.Warnf("mqttlog: marshal %s: %v", event, err)
		return
	}

	token := l.conn.Publish(topic, 0, false, body)
	go func() {
		if token.WaitTimeout(5*time.Second) && token.Error() != nil {
			l.log.Warnf("mqttlog: publish %s: %v", topic, token.Error())
		}
	}()
}

// Close disconnects from the broker, waiting up to 250ms to drain.
func (l *Logger) Close() {
	l.conn.Disconnect(250)
}
