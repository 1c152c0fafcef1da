package command

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/flockdb/flock/internal/record"
)

// Parse turns one wire command line into a Command. The grammar is
// verb/noun/args with colon-separated args; verbs are upper-case, usernames
// lower-case letters only.
func Parse(line string) (Command, error) {
	verb, rest, ok := strings.Cut(line, "/")
	if !ok {
		return Command{}, errors.Wrap(ErrBadCommand, line)
	}

	var cmd Command
	var err error
	switch verb {
	case "GET":
		cmd, err = parseGet(rest)
	case "SAVE":
		cmd, err = parseSave(rest)
	case "DELETE":
		cmd, err = parseDelete(rest)
	default:
		err = errors.Wrapf(ErrBadCommand, "unknown verb %q", verb)
	}
	if err != nil {
		return Command{}, err
	}
	return cmd, nil
}

func parseGet(rest string) (Command, error) {
	noun, args, ok := strings.Cut(rest, "/")
	if !ok {
		return Command{}, errors.Wrap(ErrBadCommand, rest)
	}

	switch noun {
	case "credential":
		username, password, withPassword := strings.Cut(args, ":")
		if !isName(username) {
			return Command{}, errors.Wrapf(ErrBadCommand, "username %q", username)
		}
		if !withPassword {
			return Command{Op: OpExists, Username: username}, nil
		}
		if !isSecret(password) {
			return Command{}, errors.Wrap(ErrBadCommand, "password")
		}
		return Command{Op: OpVerifyCredential, Username: username, Password: password}, nil

	case "posts":
		scope, listArgs, ok := strings.Cut(args, "/")
		if !ok {
			return Command{}, errors.Wrap(ErrBadCommand, args)
		}
		username, limit, err := parseUserLimit(listArgs)
		if err != nil {
			return Command{}, err
		}
		switch scope {
		case "profile":
			return Command{Op: OpGetProfilePosts, Username: username, Limit: limit}, nil
		case "timeline":
			return Command{Op: OpGetTimelinePosts, Username: username, Limit: limit}, nil
		}
		return Command{}, errors.Wrapf(ErrBadCommand, "post scope %q", scope)

	case "relations":
		if scope, listArgs, ok := strings.Cut(args, "/"); ok {
			username, limit, err := parseUserLimit(listArgs)
			if err != nil {
				return Command{}, err
			}
			switch scope {
			case "followers":
				return Command{Op: OpGetFollowers, Username: username, Limit: limit}, nil
			case "friends":
				return Command{Op: OpGetFriends, Username: username, Limit: limit}, nil
			}
			return Command{}, errors.Wrapf(ErrBadCommand, "relation scope %q", scope)
		}
		username, friend, err := parseUserPair(args)
		if err != nil {
			return Command{}, err
		}
		return Command{Op: OpIsFollowing, Username: username, Friend: friend}, nil
	}
	return Command{}, errors.Wrapf(ErrBadCommand, "unknown noun %q", noun)
}

func parseSave(rest string) (Command, error) {
	noun, args, ok := strings.Cut(rest, "/")
	if !ok {
		return Command{}, errors.Wrap(ErrBadCommand, rest)
	}

	switch noun {
	case "credential":
		username, password, ok := strings.Cut(args, ":")
		if !ok || !isName(username) || !isSecret(password) {
			return Command{}, errors.Wrap(ErrBadCommand, "credential args")
		}
		return Command{Op: OpSaveCredential, Username: username, Password: password}, nil

	case "posts":
		username, remainder, ok := strings.Cut(args, ":")
		if !ok || !isName(username) {
			return Command{}, errors.Wrap(ErrBadCommand, "post args")
		}
		text, timestamp := splitTrailingTimestamp(remainder)
		if !isText(text) {
			return Command{}, errors.Wrap(ErrBadCommand, "post text")
		}
		return Command{Op: OpSavePost, Username: username, Text: text, Timestamp: timestamp}, nil

	case "relations":
		username, friend, err := parseUserPair(args)
		if err != nil {
			return Command{}, err
		}
		return Command{Op: OpSaveRelation, Username: username, Friend: friend}, nil
	}
	return Command{}, errors.Wrapf(ErrBadCommand, "unknown noun %q", noun)
}

func parseDelete(rest string) (Command, error) {
	noun, args, ok := strings.Cut(rest, "/")
	if !ok {
		return Command{}, errors.Wrap(ErrBadCommand, rest)
	}

	switch noun {
	case "credential":
		username, password, ok := strings.Cut(args, ":")
		if !ok || !isName(username) || !isSecret(password) {
			return Command{}, errors.Wrap(ErrBadCommand, "credential args")
		}
		return Command{Op: OpDeleteCredential, Username: username, Password: password}, nil

	case "posts":
		username, timestamp, ok := strings.Cut(args, ":")
		if !ok || !isName(username) || !isTimestamp(timestamp) {
			return Command{}, errors.Wrap(ErrBadCommand, "post args")
		}
		return Command{Op: OpDeletePost, Username: username, Timestamp: timestamp}, nil

	case "relations":
		username, friend, err := parseUserPair(args)
		if err != nil {
			return Command{}, err
		}
		return Command{Op: OpDeleteRelation, Username: username, Friend: friend}, nil
	}
	return Command{}, errors.Wrapf(ErrBadCommand, "unknown noun %q", noun)
}

func parseUserLimit(args string) (string, int, error) {
	username, rawLimit, ok := strings.Cut(args, ":")
	if !ok || !isName(username) {
		return "", 0, errors.Wrap(ErrBadCommand, "list args")
	}
	limit, err := strconv.Atoi(rawLimit)
	if err != nil || limit < Unlimited {
		return "", 0, errors.Wrapf(ErrBadCommand, "limit %q", rawLimit)
	}
	return username, limit, nil
}

func parseUserPair(args string) (string, string, error) {
	username, friend, ok := strings.Cut(args, ":")
	if !ok || !isName(username) || !isName(friend) {
		return "", "", errors.Wrap(ErrBadCommand, "relation args")
	}
	return username, friend, nil
}

// splitTrailingTimestamp detaches an internally appended ":<10 digits>"
// suffix from a post body. A user post whose text happens to end that way is
// indistinguishable from the internal form; the grammar accepts that
// ambiguity rather than escaping colons.
func splitTrailingTimestamp(remainder string) (text, timestamp string) {
	const suffixLen = 11 // ':' plus ten digits
	if len(remainder) >= suffixLen && remainder[len(remainder)-suffixLen] == ':' {
		candidate := remainder[len(remainder)-suffixLen+1:]
		if isTimestamp(candidate) {
			return remainder[:len(remainder)-suffixLen], candidate
		}
	}
	return remainder, ""
}

func isName(v string) bool {
	if v == "" {
		return false
	}
	for i := 0; i < len(v); i++ {
		if v[i] < 'a' || v[i] > 'z' {
			return false
		}
	}
	return true
}

// isSecret accepts any non-empty password that cannot collide with the
// grammar's separators or the record filler.
func isSecret(v string) bool {
	if v == "" {
		return false
	}
	return !strings.ContainsAny(v, ":/\n\r") && !strings.ContainsRune(v, record.Filler)
}

// isText accepts any non-empty post body that cannot break record framing.
// Colons and slashes are allowed; the filler character and newlines are not.
func isText(v string) bool {
	if v == "" {
		return false
	}
	return !strings.ContainsAny(v, "\n\r") && !strings.ContainsRune(v, record.Filler)
}

func isTimestamp(v string) bool {
	if len(v) != 10 {
		return false
	}
	for i := 0; i < len(v); i++ {
		if v[i] < '0' || v[i] > '9' {
			return false
		}
	}
	return true
}
