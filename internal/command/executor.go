package command

import (
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/flockdb/flock/internal/social"
	"github.com/flockdb/flock/internal/wire"
)

// Executor applies parsed commands to the domain service and shapes the
// reply. Domain errors fail the one request: they are logged and answered
// with "error", never escalated to the connection or the process.
type Executor struct {
	svc *social.Service
	log *zap.Logger
}

func NewExecutor(svc *social.Service, log *zap.Logger) *Executor {
	return &Executor{svc: svc, log: log}
}

// Execute runs one command and returns its reply message. A save-post
// command that still lacks a timestamp gets the current wall clock; the
// routing layer normally assigns it earlier so replicas apply an identical
// command.
func (e *Executor) Execute(cmd Command) wire.Message {
	switch cmd.Op {
	case OpExists:
		ok, err := e.svc.Exists(cmd.Username)
		return e.boolReply(cmd, ok, err)
	case OpVerifyCredential:
		ok, err := e.svc.VerifyCredential(cmd.Username, cmd.Password)
		return e.boolReply(cmd, ok, err)
	case OpIsFollowing:
		ok, err := e.svc.IsFollowing(cmd.Username, cmd.Friend)
		return e.boolReply(cmd, ok, err)

	case OpGetProfilePosts:
		records, err := e.svc.GetProfilePosts(cmd.Username, cmd.Limit)
		return e.listReply(cmd, records, err)
	case OpGetTimelinePosts:
		records, err := e.svc.GetTimelinePosts(cmd.Username, cmd.Limit)
		return e.listReply(cmd, records, err)
	case OpGetFollowers:
		records, err := e.svc.GetFollowers(cmd.Username, cmd.Limit)
		return e.listReply(cmd, records, err)
	case OpGetFriends:
		records, err := e.svc.GetFriends(cmd.Username, cmd.Limit)
		return e.listReply(cmd, records, err)

	case OpSaveCredential:
		ok, err := e.svc.SaveCredential(cmd.Username, cmd.Password)
		return e.outcomeReply(cmd, ok, err)
	case OpSavePost:
		timestamp := cmd.Timestamp
		if timestamp == "" {
			timestamp = strconv.FormatInt(time.Now().Unix(), 10)
		}
		ok, err := e.svc.SavePost(cmd.Username, cmd.Text, timestamp)
		return e.outcomeReply(cmd, ok, err)
	case OpSaveRelation:
		ok, err := e.svc.Follow(cmd.Username, cmd.Friend)
		return e.outcomeReply(cmd, ok, err)

	case OpDeleteCredential:
		ok, err := e.svc.DeleteCredential(cmd.Username, cmd.Password)
		return e.outcomeReply(cmd, ok, err)
	case OpDeletePost:
		ok, err := e.svc.DeletePost(cmd.Username, cmd.Timestamp)
		return e.outcomeReply(cmd, ok, err)
	case OpDeleteRelation:
		ok, err := e.svc.Unfollow(cmd.Username, cmd.Friend)
		return e.outcomeReply(cmd, ok, err)
	}

	e.log.Warn("unroutable command", zap.Int("op", int(cmd.Op)))
	return wire.Outcome(false)
}

func (e *Executor) boolReply(cmd Command, v bool, err error) wire.Message {
	if err != nil {
		e.log.Error("query failed", zap.String("command", cmd.String()), zap.Error(err))
		return wire.Bool(false)
	}
	return wire.Bool(v)
}

func (e *Executor) listReply(cmd Command, records []string, err error) wire.Message {
	if err != nil {
		e.log.Error("list query failed", zap.String("command", cmd.String()), zap.Error(err))
		return wire.List(nil)
	}
	return wire.List(records)
}

func (e *Executor) outcomeReply(cmd Command, ok bool, err error) wire.Message {
	if err != nil {
		e.log.Error("mutation failed", zap.String("command", cmd.String()), zap.Error(err))
		return wire.Outcome(false)
	}
	return wire.Outcome(ok)
}
