// Package social implements the user-facing operations (credentials, posts,
// follow relations) as thin orchestration over the storage engine and the
// record codec.
package social

import (
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/flockdb/flock/internal/record"
	"github.com/flockdb/flock/internal/storage"
)

// Unlimited disables result limits on list operations.
const Unlimited = storage.Unlimited

// Service executes domain operations against one node's shard files.
//
// Cross-file operations (post fan-out, relation symmetry, cascading deletes)
// take each file's lock independently and sequentially; there is no
// multi-file transaction. A crash mid fan-out can leave a post on the
// profile file but missing from some followers' timelines.
type Service struct {
	eng   *storage.Engine
	codec *record.Codec
	log   *zap.Logger
}

func NewService(eng *storage.Engine, codec *record.Codec, log *zap.Logger) *Service {
	return &Service{eng: eng, codec: codec, log: log}
}

// Exists reports whether an active credential is stored for the username.
func (s *Service) Exists(username string) (bool, error) {
	path := s.eng.ShardPath(record.KindCredential, username)

	_, err := s.eng.ScanFirst(path, record.KindCredential, record.Criteria{
		{Field: record.FieldActive, Value: "1"},
		{Field: record.FieldUsername, Value: username},
	})
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// VerifyCredential reports whether an active credential matches both the
// username and the password.
func (s *Service) VerifyCredential(username, password string) (bool, error) {
	path := s.eng.ShardPath(record.KindCredential, username)

	_, err := s.eng.ScanFirst(path, record.KindCredential, record.Criteria{
		{Field: record.FieldActive, Value: "1"},
		{Field: record.FieldUsername, Value: username},
		{Field: record.FieldPassword, Value: password},
	})
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// SaveCredential registers a new account. It refuses if any credential
// record for the username exists, active or not; a deleted username is never
// reusable. The shard file's lock serializes the check-then-append.
func (s *Service) SaveCredential(username, password string) (bool, error) {
	path := s.eng.ShardPath(record.KindCredential, username)

	_, err := s.eng.ScanFirst(path, record.KindCredential, record.Criteria{
		{Field: record.FieldUsername, Value: username},
	})
	if err == nil {
		return false, nil // username already taken
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return false, err
	}

	serialized, err := s.codec.SerializeCredential(record.Credential{
		Active:   true,
		Username: username,
		Password: password,
	})
	if err != nil {
		return false, err
	}

	if err := s.eng.Append(path, serialized); err != nil {
		return false, err
	}
	return true, nil
}

// DeleteCredential deactivates the matching credential after deleting every
// one of the user's profile posts, which cascades into followers' timelines.
// Returns false if no active credential matched the username and password.
func (s *Service) DeleteCredential(username, password string) (bool, error) {
	posts, err := s.GetProfilePosts(username, Unlimited)
	if err != nil {
		return false, err
	}
	for _, serialized := range posts {
		timestamp, err := s.codec.ExtractField(serialized, record.KindProfilePost, record.FieldTimestamp)
		if err != nil {
			return false, err
		}
		if _, err := s.DeletePost(username, timestamp); err != nil {
			return false, err
		}
	}

	path := s.eng.ShardPath(record.KindCredential, username)
	modified, err := s.eng.SetActiveFlag(false, path, record.KindCredential, record.Criteria{
		{Field: record.FieldActive, Value: "1"},
		{Field: record.FieldUsername, Value: username},
		{Field: record.FieldPassword, Value: password},
	})
	if err != nil {
		return false, err
	}
	return modified > 0, nil
}

// SavePost appends the post to the author's profile shard and fans a
// timeline copy out to every current follower. The follower set is read at
// call time; followers added concurrently may or may not receive the copy.
func (s *Service) SavePost(username, text, timestamp string) (bool, error) {
	profilePath := s.eng.ShardPath(record.KindProfilePost, username)

	serialized, err := s.codec.SerializeProfilePost(record.ProfilePost{
		Active:    true,
		Username:  username,
		Timestamp: timestamp,
		Text:      text,
	})
	if err != nil {
		return false, err
	}
	if err := s.eng.Append(profilePath, serialized); err != nil {
		return false, err
	}

	followers, err := s.followerNames(username)
	if err != nil {
		return false, err
	}
	for _, follower := range followers {
		timelinePath := s.eng.ShardPath(record.KindTimelinePost, follower)

		serialized, err := s.codec.SerializeTimelinePost(record.TimelinePost{
			Active:    true,
			Username:  follower,
			Author:    username,
			Timestamp: timestamp,
			Text:      text,
		})
		if err != nil {
			return false, err
		}
		if err := s.eng.Append(timelinePath, serialized); err != nil {
			return false, err
		}
	}

	return true, nil
}

// DeletePost deactivates the author's profile post identified by its
// timestamp, then the corresponding timeline copy in every follower's shard.
// Returns false if no active profile post matched.
func (s *Service) DeletePost(username, timestamp string) (bool, error) {
	profilePath := s.eng.ShardPath(record.KindProfilePost, username)

	modified, err := s.eng.SetActiveFlag(false, profilePath, record.KindProfilePost, record.Criteria{
		{Field: record.FieldActive, Value: "1"},
		{Field: record.FieldUsername, Value: username},
		{Field: record.FieldTimestamp, Value: timestamp},
	})
	if err != nil {
		return false, err
	}
	if modified == 0 {
		return false, nil
	}

	followers, err := s.followerNames(username)
	if err != nil {
		return false, err
	}
	for _, follower := range followers {
		timelinePath := s.eng.ShardPath(record.KindTimelinePost, follower)

		if _, err := s.eng.SetActiveFlag(false, timelinePath, record.KindTimelinePost, record.Criteria{
			{Field: record.FieldActive, Value: "1"},
			{Field: record.FieldUsername, Value: follower},
			{Field: record.FieldAuthor, Value: username},
			{Field: record.FieldTimestamp, Value: timestamp},
		}); err != nil {
			return false, err
		}
	}

	return true, nil
}

// GetProfilePosts returns the author's active posts, newest first.
func (s *Service) GetProfilePosts(username string, limit int) ([]string, error) {
	path := s.eng.ShardPath(record.KindProfilePost, username)

	return s.eng.ScanMatches(path, record.KindProfilePost, record.Criteria{
		{Field: record.FieldActive, Value: "1"},
		{Field: record.FieldUsername, Value: username},
	}, limit)
}

// GetTimelinePosts returns the active posts on the user's timeline, newest
// first. The timeline is a single shard file, so this is one scan no matter
// how many accounts the user follows.
func (s *Service) GetTimelinePosts(username string, limit int) ([]string, error) {
	path := s.eng.ShardPath(record.KindTimelinePost, username)

	return s.eng.ScanMatches(path, record.KindTimelinePost, record.Criteria{
		{Field: record.FieldActive, Value: "1"},
		{Field: record.FieldUsername, Value: username},
	}, limit)
}

// IsFollowing reports whether username actively follows friend.
func (s *Service) IsFollowing(username, friend string) (bool, error) {
	path := s.eng.ShardPath(record.KindRelation, username)

	_, err := s.eng.ScanFirst(path, record.KindRelation, record.Criteria{
		{Field: record.FieldActive, Value: "1"},
		{Field: record.FieldFirstUsername, Value: username},
		{Field: record.FieldDirection, Value: string(record.DirectionOut)},
		{Field: record.FieldSecondUsername, Value: friend},
	})
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Follow records the relation on both sides: an outbound link in username's
// shard and an inbound link in friend's. Each side reuses an existing record
// when one exists (already-active, or inactive from an earlier unfollow) and
// appends only when the pair never followed before, so repeated
// follow/unfollow cycles do not grow the shard files.
func (s *Service) Follow(username, friend string) (bool, error) {
	followee, err := s.Exists(friend)
	if err != nil {
		return false, err
	}
	if !followee {
		return false, nil
	}

	if err := s.recordRelation(true, username, record.DirectionOut, friend); err != nil {
		return false, err
	}
	if err := s.recordRelation(true, friend, record.DirectionIn, username); err != nil {
		return false, err
	}
	return true, nil
}

// Unfollow deactivates both sides of the relation and every timeline copy of
// the friend's posts in the user's shard. Returns false if the outbound or
// inbound link was not active.
func (s *Service) Unfollow(username, friend string) (bool, error) {
	path := s.eng.ShardPath(record.KindRelation, username)
	modified, err := s.eng.SetActiveFlag(false, path, record.KindRelation, record.Criteria{
		{Field: record.FieldActive, Value: "1"},
		{Field: record.FieldFirstUsername, Value: username},
		{Field: record.FieldDirection, Value: string(record.DirectionOut)},
		{Field: record.FieldSecondUsername, Value: friend},
	})
	if err != nil {
		return false, err
	}
	if modified == 0 {
		return false, nil
	}

	path = s.eng.ShardPath(record.KindRelation, friend)
	modified, err = s.eng.SetActiveFlag(false, path, record.KindRelation, record.Criteria{
		{Field: record.FieldActive, Value: "1"},
		{Field: record.FieldFirstUsername, Value: friend},
		{Field: record.FieldDirection, Value: string(record.DirectionIn)},
		{Field: record.FieldSecondUsername, Value: username},
	})
	if err != nil {
		return false, err
	}
	if modified == 0 {
		return false, nil
	}

	timelinePath := s.eng.ShardPath(record.KindTimelinePost, username)
	if _, err := s.eng.SetActiveFlag(false, timelinePath, record.KindTimelinePost, record.Criteria{
		{Field: record.FieldActive, Value: "1"},
		{Field: record.FieldUsername, Value: username},
		{Field: record.FieldAuthor, Value: friend},
	}); err != nil {
		return false, err
	}

	return true, nil
}

// GetFollowers returns the active inbound relations of the user (who follows
// them), newest first.
func (s *Service) GetFollowers(username string, limit int) ([]string, error) {
	path := s.eng.ShardPath(record.KindRelation, username)

	return s.eng.ScanMatches(path, record.KindRelation, record.Criteria{
		{Field: record.FieldActive, Value: "1"},
		{Field: record.FieldFirstUsername, Value: username},
		{Field: record.FieldDirection, Value: string(record.DirectionIn)},
	}, limit)
}

// GetFriends returns the active outbound relations of the user (who they
// follow), newest first.
func (s *Service) GetFriends(username string, limit int) ([]string, error) {
	path := s.eng.ShardPath(record.KindRelation, username)

	return s.eng.ScanMatches(path, record.KindRelation, record.Criteria{
		{Field: record.FieldActive, Value: "1"},
		{Field: record.FieldFirstUsername, Value: username},
		{Field: record.FieldDirection, Value: string(record.DirectionOut)},
	}, limit)
}

// recordRelation activates one side of a follow, in three stages: toggle an
// already-active record (no-op rewrite), reactivate an inactive one, or
// append a brand-new record if neither exists.
func (s *Service) recordRelation(active bool, first string, direction byte, second string) error {
	path := s.eng.ShardPath(record.KindRelation, first)

	criteria := record.Criteria{
		{Field: record.FieldActive, Value: "1"},
		{Field: record.FieldFirstUsername, Value: first},
		{Field: record.FieldDirection, Value: string(direction)},
		{Field: record.FieldSecondUsername, Value: second},
	}

	modified, err := s.eng.SetActiveFlag(active, path, record.KindRelation, criteria)
	if err != nil {
		return err
	}
	if modified > 0 {
		return nil
	}

	criteria[0].Value = "0"
	modified, err = s.eng.SetActiveFlag(active, path, record.KindRelation, criteria)
	if err != nil {
		return err
	}
	if modified > 0 {
		return nil
	}

	serialized, err := s.codec.SerializeRelation(record.Relation{
		Active:    active,
		First:     first,
		Direction: direction,
		Second:    second,
	})
	if err != nil {
		return err
	}
	return s.eng.Append(path, serialized)
}

// followerNames resolves the usernames of every current follower from their
// inbound relation records.
func (s *Service) followerNames(username string) ([]string, error) {
	relations, err := s.GetFollowers(username, Unlimited)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(relations))
	for _, serialized := range relations {
		padded, err := s.codec.ExtractField(serialized, record.KindRelation, record.FieldSecondUsername)
		if err != nil {
			return nil, err
		}
		names = append(names, record.Unpad(padded))
	}
	return names, nil
}
