// Package testutil carries the shared test fixture: a small record layout
// with 8-byte usernames and 16-byte post text, mirroring the shape of the
// production constants file at a size test assertions stay readable at.
package testutil

import (
	"github.com/flockdb/flock/internal/config"
	"github.com/flockdb/flock/internal/record"
)

// Params returns the constants of the test layout.
//
//	CREDENTIAL    active[0,1) username[1,9) password[9,17)            = 17 bytes
//	RELATION      active[0,1) first[1,9) direction[9,10) second[10,18) = 18 bytes
//	PROFILE_POST  active[0,1) username[1,9) timestamp[9,19) text[19,35) = 35 bytes
//	TIMELINE_POST active[0,1) username[1,9) author[9,17) timestamp[17,27) text[27,43) = 43 bytes
func Params() config.Params {
	return config.Params{
		"FIELD_SIZE_USERNAME":  8,
		"FIELD_SIZE_PASSWORD":  8,
		"FIELD_SIZE_TIMESTAMP": 10,
		"FIELD_SIZE_TEXT":      16,

		"FILE_COUNT_CREDENTIAL":    2,
		"FILE_COUNT_RELATION":      3,
		"FILE_COUNT_PROFILE_POST":  4,
		"FILE_COUNT_TIMELINE_POST": 4,

		"SERIAL_SIZE_CREDENTIAL":    17,
		"SERIAL_SIZE_RELATION":      18,
		"SERIAL_SIZE_PROFILE_POST":  35,
		"SERIAL_SIZE_TIMELINE_POST": 43,

		"SERIAL_CREDENTIAL_ACTIVE_START":   0,
		"SERIAL_CREDENTIAL_ACTIVE_END":     1,
		"SERIAL_CREDENTIAL_USERNAME_START": 1,
		"SERIAL_CREDENTIAL_USERNAME_END":   9,
		"SERIAL_CREDENTIAL_PASSWORD_START": 9,
		"SERIAL_CREDENTIAL_PASSWORD_END":   17,

		"SERIAL_RELATION_ACTIVE_START":          0,
		"SERIAL_RELATION_ACTIVE_END":            1,
		"SERIAL_RELATION_FIRST_USERNAME_START":  1,
		"SERIAL_RELATION_FIRST_USERNAME_END":    9,
		"SERIAL_RELATION_DIRECTION_START":       9,
		"SERIAL_RELATION_DIRECTION_END":         10,
		"SERIAL_RELATION_SECOND_USERNAME_START": 10,
		"SERIAL_RELATION_SECOND_USERNAME_END":   18,

		"SERIAL_PROFILE_POST_ACTIVE_START":    0,
		"SERIAL_PROFILE_POST_ACTIVE_END":      1,
		"SERIAL_PROFILE_POST_USERNAME_START":  1,
		"SERIAL_PROFILE_POST_USERNAME_END":    9,
		"SERIAL_PROFILE_POST_TIMESTAMP_START": 9,
		"SERIAL_PROFILE_POST_TIMESTAMP_END":   19,
		"SERIAL_PROFILE_POST_TEXT_START":      19,
		"SERIAL_PROFILE_POST_TEXT_END":        35,

		"SERIAL_TIMELINE_POST_ACTIVE_START":    0,
		"SERIAL_TIMELINE_POST_ACTIVE_END":      1,
		"SERIAL_TIMELINE_POST_USERNAME_START":  1,
		"SERIAL_TIMELINE_POST_USERNAME_END":    9,
		"SERIAL_TIMELINE_POST_AUTHOR_START":    9,
		"SERIAL_TIMELINE_POST_AUTHOR_END":      17,
		"SERIAL_TIMELINE_POST_TIMESTAMP_START": 17,
		"SERIAL_TIMELINE_POST_TIMESTAMP_END":   27,
		"SERIAL_TIMELINE_POST_TEXT_START":      27,
		"SERIAL_TIMELINE_POST_TEXT_END":        43,
	}
}

// Codec builds a codec over the test layout. Panics on a broken fixture so
// tests fail loudly at setup.
func Codec() *record.Codec {
	layout, err := record.NewLayout(Params())
	if err != nil {
		panic(err)
	}
	return record.NewCodec(layout)
}
