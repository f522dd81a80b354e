package cache

import "errors"

var errAllPinned = errors.New("cache: every entry is pinned, cannot select a victim")
