// Package templates stores the reference images the bot matches against.
//
// Templates are grouped by category (screens, buttons, levels, heroes,
// markers) and listed in name order, which is the order the classifier
// tries them in. FSStore keeps them as PNG files under
// <dir>/<category>/<name>.png and can watch the directory so assets
// dropped in while the bot runs are picked up without a restart. Put is
// how the board scanner teaches the store a hero it only recognised
// through OCR.
package templates
