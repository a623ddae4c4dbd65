// SPDX-License-Identifier: MIT

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldGroupID   = "group_id"
	FieldLightID   = "light_id"
	FieldOwner     = "owner"
	FieldComponent = "component"

	// Stream fields
	FieldProtocol = "protocol"
	FieldHost     = "host"
	FieldPort     = "port"
	FieldFPS      = "fps"
	FieldFrames   = "frames"
	FieldChannel  = "channel"

	// State fields
	FieldOldState = "old_state"
	FieldNewState = "new_state"
)
