// Package mqtt provides MQTT connectivity for the bridge.
//
// The broker is the bridge's local bus: the QuIXI side drops inbound chat
// commands on quixi/commands, and the bridge publishes its retained status,
// its periodic health report and (optionally) a mirror of hub entity state.
//
//	QuIXI ─▶ quixi/commands ─▶ bridge ─▶ hassbridge/{status,health,state/+}
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(cfg.MQTT.CommandTopic, 1,
//	    func(topic string, payload []byte) error {
//	        return source.Deliver(payload)
//	    })
//
// Auto-reconnect is handled by paho; tracked subscriptions are replayed on
// every reconnect and a retained offline will marks unexpected exits.
package mqtt
