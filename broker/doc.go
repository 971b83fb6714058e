// Copyright 2026 Fleexa Project - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@fleexa.io
//

/*Package broker provides the development MQTT broker with device shadow
support.

The production fleet connects to a cloud IoT broker; this broker exists so
that the full device loop, telemetry, alerts, shadow commands, can run on a
laptop or in CI against the very same topics.

A device publishes telemetry and alerts to

	devices/{device_id}/telemetry
	devices/{device_id}/alerts

and both are forwarded to Kafka when a bootstrap address is configured.

Shadow

The broker manages two halves for every device shadow: the desired state
and the reported state. Tooling sets the desired state by publishing to

	fleexa/{device_id}/shadow/desired

When the desired state differs from the reported state, the broker pushes
the difference to the device on

	$aws/things/{device_id}/shadow/update/delta

The device answers by reporting its actual state to

	$aws/things/{device_id}/shadow/update

with the shape {"state": {"reported": {...}}}. A device that wants the
pending desired state right after connecting publishes an empty message to

	$aws/things/{device_id}/shadow/get

Topic Policy

Devices authenticate with client certificates whose common name carries the
device ID, must connect with that ID as MQTT client ID, and may only
subscribe to their own shadow delta topic. Clients with the "ops-" ID
prefix bypass the per-device policy for tooling and tests.
*/
package broker
