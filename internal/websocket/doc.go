// Package websocket fans license change events out to the devices they
// concern. Each connected client subscribes to exactly one device ID; the
// hub only delivers events addressed to that device.
package websocket
