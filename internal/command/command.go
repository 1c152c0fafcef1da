// Package command defines the text command grammar: a tagged command type, a
// structured parser for the wire form and an executor that maps commands onto
// domain operations.
package command

import (
	"strconv"

	"github.com/pkg/errors"
)

// Op enumerates every verb of the command grammar.
type Op int

const (
	OpExists Op = iota
	OpVerifyCredential
	OpGetProfilePosts
	OpGetTimelinePosts
	OpIsFollowing
	OpGetFollowers
	OpGetFriends
	OpSaveCredential
	OpSavePost
	OpSaveRelation
	OpDeleteCredential
	OpDeletePost
	OpDeleteRelation
)

// ErrBadCommand reports a line the grammar does not accept.
var ErrBadCommand = errors.New("malformed command")

// Unlimited is the list-query limit meaning "no limit".
const Unlimited = -1

// Command is one parsed command line. Only the fields the op uses are set;
// a save-post command without a Timestamp is the user-facing form, and the
// primary fills the timestamp in before sequencing it.
type Command struct {
	Op Op

	Username  string
	Password  string
	Friend    string
	Text      string
	Timestamp string
	Limit     int
}

// IsWrite reports whether the command mutates state and therefore must be
// sequenced and broadcast by the primary.
func (c Command) IsWrite() bool {
	switch c.Op {
	case OpSaveCredential, OpSavePost, OpSaveRelation,
		OpDeleteCredential, OpDeletePost, OpDeleteRelation:
		return true
	}
	return false
}

// String re-encodes the command in its wire form, suitable for tagging and
// broadcasting to peers.
func (c Command) String() string {
	switch c.Op {
	case OpExists:
		return "GET/credential/" + c.Username
	case OpVerifyCredential:
		return "GET/credential/" + c.Username + ":" + c.Password
	case OpGetProfilePosts:
		return "GET/posts/profile/" + c.Username + ":" + strconv.Itoa(c.Limit)
	case OpGetTimelinePosts:
		return "GET/posts/timeline/" + c.Username + ":" + strconv.Itoa(c.Limit)
	case OpIsFollowing:
		return "GET/relations/" + c.Username + ":" + c.Friend
	case OpGetFollowers:
		return "GET/relations/followers/" + c.Username + ":" + strconv.Itoa(c.Limit)
	case OpGetFriends:
		return "GET/relations/friends/" + c.Username + ":" + strconv.Itoa(c.Limit)
	case OpSaveCredential:
		return "SAVE/credential/" + c.Username + ":" + c.Password
	case OpSavePost:
		line := "SAVE/posts/" + c.Username + ":" + c.Text
		if c.Timestamp != "" {
			line += ":" + c.Timestamp
		}
		return line
	case OpSaveRelation:
		return "SAVE/relations/" + c.Username + ":" + c.Friend
	case OpDeleteCredential:
		return "DELETE/credential/" + c.Username + ":" + c.Password
	case OpDeletePost:
		return "DELETE/posts/" + c.Username + ":" + c.Timestamp
	case OpDeleteRelation:
		return "DELETE/relations/" + c.Username + ":" + c.Friend
	}
	return ""
}
