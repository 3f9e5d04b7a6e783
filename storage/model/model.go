/*
 * Copyright (c) 2019 The aether developers.
 * See the LICENSE file for more information.
 */

package model

import "time"

// User represents a user storage entity.
type User struct {
	Username        string
	Password        string
	LoggedOutStatus string
	LoggedOutAt     time.Time
}
