// Copyright 2026 Fleexa Project - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@fleexa.io
//

/*Package device implements the client-side session of a connected device.

A session owns one MQTT connection and runs two concurrent activities: the
outbound telemetry loop and the inbound command dispatcher. Both share the
session's mutable state and are serialized against each other; a fleet of N
devices runs N fully independent sessions.

For telemetry and alerts, the session publishes schema-validated envelopes
to the following topics:

	devices/{device_id}/telemetry
	devices/{device_id}/alerts

Envelopes have the shape

	{"device_id": "...", "timestamp": 1701648000, "type": "sensor", "payload": {...}}

where the timestamp is whole seconds and the type is derived from the device
type ("sensor" when the device type contains the substring "sensor",
"actuator" otherwise).

Commands and Shadow Updates

Commands arrive through the device shadow. The session subscribes to the
shadow delta topic at connect time:

	$aws/things/{device_id}/shadow/update/delta

An inbound delta carries the desired state, which is interpreted as a
command:

	{"state": {"request_id": "cmd-1", "action": "LOCK", "parameters": {"force": false}}}

A command is dispatched to the device behavior only after it validated
against the command schema; invalid commands are dropped and logged. After
every handled command, and once per telemetry cycle, the session reports the
actual device state back to the shadow update topic:

	$aws/things/{device_id}/shadow/update

with the shape {"state": {"reported": {...}}}.
*/
package device
