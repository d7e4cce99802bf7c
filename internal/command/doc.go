// Package command turns inbound chat text into hub actions and replies.
//
// A Source yields (sender, text) pairs. The Router tokenises the text,
// dispatches on the first word and sends exactly one reply to the sender:
//
//	status                       connection summary
//	devices                      first ten hub entities
//	control <entity> <action>    invoke a hub service
//	sync                         full resync of the state cache
//	help                         command list
//
// Unknown names get a fixed reply pointing at help. Input errors never
// escape the router; they become reply text.
package command
