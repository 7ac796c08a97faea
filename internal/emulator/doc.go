// Package emulator owns the Android emulator used as the last recovery
// level.
//
// When emulator.managed is set the emulator runs as a supervised child
// process and a restart kills and relaunches its process group. Otherwise
// the device is rebooted through adb. Either way a restart blocks until
// Android reports sys.boot_completed and the device channel is reopened.
//
// Example usage:
//
//	emu := emulator.New(cfg.Emulator, channel, clock.Real{})
//	emu.SetLogger(log)
//	if err := emu.Start(ctx); err != nil {
//	    return err
//	}
//	defer emu.Stop()
package emulator
