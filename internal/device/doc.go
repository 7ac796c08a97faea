// Package device talks to one Android device over adb.
//
// The Channel keeps a single interactive "adb shell" session open and
// runs commands on it one at a time. Each command is followed by an
// "echo <sentinel>" so the reader knows where its output ends; this keeps
// per-command latency at one pipe round trip instead of one adb process
// spawn. Operations where exit status matters, or where output is binary
// (screencap), go through RunOneShot instead.
//
// The channel never reconnects on its own. When the session process dies,
// Execute fails with ErrChannelNotReady and the caller decides whether to
// Open again.
//
// Usage:
//
//	ch := device.NewChannel(device.Config{Binary: "adb", Serial: "emulator-5554"})
//	if err := ch.Open(ctx); err != nil {
//	    return err
//	}
//	defer ch.Close()
//	if err := ch.Tap(ctx, image.Pt(540, 1600)); err != nil {
//	    return err
//	}
package device
