// Copyright (c) 2020 ARM Limited
//
// SPDX-License-Identifier: Apache-2.0
//

package supervisor

import (
	"context"

	"github.com/confidential-containers/virtsupervisor/supervisor/pkg/fcclient"
)

func init() {
	archFcPowerOffFunc = fcSendCtrlAltDel
}

// Use SendCtrlAltDel API action to send CTRL+ALT+DEL to the VM.
// This can be used to trigger a graceful shutdown of the microVM,
// if the guest has support for i8042 and AT Keyboard.
func fcSendCtrlAltDel(ctx context.Context, fc *firecracker) error {
	fc.Logger().Info("Sending CTRL+ALT+DEL to the VM")

	actionType := "SendCtrlAltDel"
	info := fcclient.InstanceActionInfo{
		ActionType: &actionType,
	}

	return fc.client(ctx).Operations.CreateSyncAction(ctx, info)
}
