// Package process supervises long-running child processes.
//
// MergeBot uses it to own the Android emulator when emulator.managed is
// set, so that the last-resort recovery path can kill and relaunch the
// whole emulator process group.
//
// Features:
//   - Start/stop with SIGTERM then SIGKILL on the process group
//   - Restart on failure with exponential backoff
//   - Restart counter reset after a stable run
//   - Optional health check watchdog
//   - Line-oriented capture of stdout/stderr into the logger
//
// Example usage:
//
//	mgr := process.NewManager(process.DefaultConfig("emulator", "emulator", []string{"-avd", "Pixel_6"}))
//	if err := mgr.Start(ctx); err != nil {
//	    return err
//	}
//	defer mgr.Stop()
package process
