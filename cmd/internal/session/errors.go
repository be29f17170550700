package session

import "errors"

// ErrSuperseded is returned when a resolution completed but a newer
// credential change had already won; its result was discarded.
var ErrSuperseded = errors.New("resolution superseded by a newer credential change")
