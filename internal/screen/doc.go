// Package screen works out which game screen is showing.
//
// Classification is template matching against the "screens" category,
// then the "buttons" category; a button match is tapped once, which is
// how dismissible popups get cleared. Capture failures and misses are
// retried with a fixed backoff and end in State Unknown, never in an
// error, so the automation loop always has a screen to route on.
//
// The closed State enum is the only routing signal the orchestrator uses.
// Template names map to states through Parse; names that are not
// meaningful as screens become Other.
package screen
