package mqtt

import "fmt"

// TopicPrefix is the root of every topic the bridge publishes.
const TopicPrefix = "hassbridge"

// DefaultCommandTopic is where the QuIXI side delivers inbound chat commands.
const DefaultCommandTopic = "quixi/commands"

// Topics provides builders for bridge MQTT topics.
//
//	topics := mqtt.Topics{}
//	topics.DeviceState("light.kitchen") // "hassbridge/state/light.kitchen"
type Topics struct{}

// Status returns the retained online/offline topic (also the LWT topic).
func (Topics) Status() string {
	return TopicPrefix + "/status"
}

// Health returns the retained health report topic.
func (Topics) Health() string {
	return TopicPrefix + "/health"
}

// DeviceState returns the mirror topic for one hub entity.
func (Topics) DeviceState(entityID string) string {
	return fmt.Sprintf("%s/state/%s", TopicPrefix, entityID)
}

// AllDeviceStates matches every mirrored entity.
func (Topics) AllDeviceStates() string {
	return TopicPrefix + "/state/+"
}
