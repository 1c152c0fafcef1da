// Package record serializes the four stored record kinds to and from their
// fixed-width, filler-padded string encodings.
package record

import (
	"strings"

	"github.com/pkg/errors"
)

// Filler is the character used to left-pad field values up to their
// configured widths. Unpad assumes a real value never contains it; the
// command grammar rejects it in free-text fields for that reason.
const Filler = '~'

var (
	ErrFieldTooLong     = errors.New("field value exceeds its configured width")
	ErrUnknownField     = errors.New("no serialization offsets configured for field")
	ErrInvalidTimestamp = errors.New("timestamp must be exactly 10 ASCII digits")
)

// Kind identifies one of the stored record kinds.
type Kind int

const (
	KindCredential Kind = iota
	KindRelation
	KindProfilePost
	KindTimelinePost
)

// Kinds lists every record kind.
var Kinds = []Kind{KindCredential, KindRelation, KindProfilePost, KindTimelinePost}

// String returns the config token of the kind ("CREDENTIAL", "RELATION", ...).
func (k Kind) String() string {
	switch k {
	case KindCredential:
		return "CREDENTIAL"
	case KindRelation:
		return "RELATION"
	case KindProfilePost:
		return "PROFILE_POST"
	case KindTimelinePost:
		return "TIMELINE_POST"
	}
	return "UNKNOWN"
}

// Field names one serialized field within a record kind, using the tokens the
// constants file keys offsets by.
type Field string

const (
	FieldActive         Field = "ACTIVE"
	FieldUsername       Field = "USERNAME"
	FieldPassword       Field = "PASSWORD"
	FieldFirstUsername  Field = "FIRST_USERNAME"
	FieldDirection      Field = "DIRECTION"
	FieldSecondUsername Field = "SECOND_USERNAME"
	FieldAuthor         Field = "AUTHOR"
	FieldTimestamp      Field = "TIMESTAMP"
	FieldText           Field = "TEXT"
)

// Criterion is one field value a record must carry to match.
type Criterion struct {
	Field Field
	Value string
}

// Criteria is an ordered list of criteria, compared in order. Empty criteria
// match every record.
type Criteria []Criterion

// Credential is an account record: <active><username><password>.
type Credential struct {
	Active   bool
	Username string
	Password string
}

const (
	DirectionOut byte = '>'
	DirectionIn  byte = '<'
)

// Relation is one side of a follow: <active><first><direction><second>.
// DirectionOut ('>') means first follows second; DirectionIn ('<') means
// second follows first. A live follow is stored twice, once per side.
type Relation struct {
	Active    bool
	First     string
	Direction byte
	Second    string
}

// ProfilePost is a post on its author's profile:
// <active><username><timestamp><text>.
type ProfilePost struct {
	Active    bool
	Username  string
	Timestamp string
	Text      string
}

// TimelinePost is the fan-out copy of a post on one follower's timeline:
// <active><username><author><timestamp><text>.
type TimelinePost struct {
	Active    bool
	Username  string
	Author    string
	Timestamp string
	Text      string
}

// Pad right-justifies value by prefixing filler characters until its length
// equals width. Fails with ErrFieldTooLong if value is already longer.
func Pad(value string, width int) (string, error) {
	extra := width - len(value)
	if extra < 0 {
		return "", errors.Wrapf(ErrFieldTooLong, "%q into %d bytes", value, width)
	}
	return strings.Repeat(string(Filler), extra) + value, nil
}

// Unpad returns the suffix after the last filler character. Values that
// legitimately contain the filler are mangled; see Filler.
func Unpad(value string) string {
	idx := strings.LastIndexByte(value, Filler)
	return value[idx+1:]
}

func activeByte(active bool) string {
	if active {
		return "1"
	}
	return "0"
}

func validTimestamp(timestamp string) bool {
	if len(timestamp) != 10 {
		return false
	}
	for i := 0; i < len(timestamp); i++ {
		if timestamp[i] < '0' || timestamp[i] > '9' {
			return false
		}
	}
	return true
}
