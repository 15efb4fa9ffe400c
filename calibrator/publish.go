package calibrator

import (
	"encoding/json"
	"fmt"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"go.viam.com/rdk/logging"

	"github.com/erh/projcal/calibration"
)

type resultPublisher interface {
	Publish(name string, res *calibration.Result) error
	Close()
}

type resultMessage struct {
	Name   string              `json:"name"`
	Result *calibration.Result `json:"result"`
	// k1, k2, p1, p2, k3
	DistortionCoefficients []float64 `json:"distortion_coefficients"`
}

func newResultMessage(name string, res *calibration.Result) resultMessage {
	return resultMessage{Name: name, Result: res, DistortionCoefficients: res.DistortionCoefficients()}
}

// mqttPublisher sends each solved calibration as a retained message so late subscribers
// get the current one.
type mqttPublisher struct {
	client mqtt.Client
	topic  string
	logger logging.Logger
}

func newMQTTPublisher(broker, topic, clientID string, logger logging.Logger) (*mqttPublisher, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("mqtt connect to %s failed: %w", broker, token.Error())
	}

	logger.Infof("publishing calibrations to %s on %s", topic, broker)
	return &mqttPublisher{client: client, topic: topic, logger: logger}, nil
}

func (p *mqttPublisher) Publish(name string, res *calibration.Result) error {
	payload, err := json.Marshal(newResultMessage(name, res))
	if err != nil {
		return err
	}
	if token := p.client.Publish(p.topic, 1, true, payload); token.Wait() && token.Error() != nil {
		return fmt.Errorf("mqtt publish to %s failed: %w", p.topic, token.Error())
	}
	return nil
}

func (p *mqttPublisher) Close() {
	p.client.Disconnect(250)
}
