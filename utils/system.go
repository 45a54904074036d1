// lanclip/utils/system.go
package utils

import (
	"time"
)

// GetTime returns the current time in UTC. Entry timestamps are taken from here.
func GetTime() time.Time {
	return time.Now().UTC()
}
