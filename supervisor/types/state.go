// Copyright (c) 2023 Confidential Containers Community
//
// SPDX-License-Identifier: Apache-2.0
//

package types

import "fmt"

// VmmState is a string representing the state of a supervised VMM.
type VmmState string

const (
	// StateNotReady represents a VMM that has been created but not
	// yet booted, or one that has been restored and is waiting for
	// its exit notifier to be re-armed.
	StateNotReady VmmState = "notReady"

	// StateRunning represents a booted VMM with a live guest.
	StateRunning VmmState = "running"

	// StateStopped represents a VMM that has been torn down. This
	// state is terminal for a controller instance.
	StateStopped VmmState = "stopped"
)

// Valid checks that the VMM state is valid.
func (state VmmState) Valid() bool {
	for _, validState := range []VmmState{StateNotReady, StateRunning, StateStopped} {
		if state == validState {
			return true
		}
	}

	return false
}

// ValidTransition returns an error if we want to move to
// an unreachable state.
func (state VmmState) ValidTransition(oldState VmmState, newState VmmState) error {
	if state != oldState {
		return fmt.Errorf("Invalid state %v (Expecting %v)", state, oldState)
	}

	switch state {
	case StateNotReady:
		if newState == StateRunning || newState == StateStopped {
			return nil
		}

	case StateRunning:
		if newState == StateStopped {
			return nil
		}

	case StateStopped:
		// Stopped is terminal. Stop itself is idempotent, which the
		// controller handles before consulting the state machine.
	}

	return fmt.Errorf("Can not move from %v to %v",
		oldState, newState)
}
