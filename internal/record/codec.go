package record

import (
	"github.com/pkg/errors"

	"github.com/flockdb/flock/internal/config"
)

// Layout carries the field widths, per-kind record sizes and per-field byte
// offsets computed once from the constants file. Scans rely on the record
// sizes staying fixed for the lifetime of the data directory.
type Layout struct {
	widths  map[Field]int
	sizes   map[Kind]int
	offsets map[Kind]map[Field][2]int
	counts  map[Kind]int
}

// kindFields lists the serialized fields of each kind, in record order.
var kindFields = map[Kind][]Field{
	KindCredential:   {FieldActive, FieldUsername, FieldPassword},
	KindRelation:     {FieldActive, FieldFirstUsername, FieldDirection, FieldSecondUsername},
	KindProfilePost:  {FieldActive, FieldUsername, FieldTimestamp, FieldText},
	KindTimelinePost: {FieldActive, FieldUsername, FieldAuthor, FieldTimestamp, FieldText},
}

// widthKeys maps each field to the FIELD_SIZE_* constant that bounds it.
// ACTIVE and DIRECTION are raw single characters and carry no key.
var widthKeys = map[Field]string{
	FieldUsername:       "FIELD_SIZE_USERNAME",
	FieldFirstUsername:  "FIELD_SIZE_USERNAME",
	FieldSecondUsername: "FIELD_SIZE_USERNAME",
	FieldAuthor:         "FIELD_SIZE_USERNAME",
	FieldPassword:       "FIELD_SIZE_PASSWORD",
	FieldTimestamp:      "FIELD_SIZE_TIMESTAMP",
	FieldText:           "FIELD_SIZE_TEXT",
}

// NewLayout derives a Layout from the loaded constants. Every kind needs its
// FILE_COUNT_* and SERIAL_SIZE_* constants; per-field offsets are optional
// and their absence surfaces later as ErrUnknownField from ExtractField.
func NewLayout(params config.Params) (*Layout, error) {
	l := &Layout{
		widths:  make(map[Field]int),
		sizes:   make(map[Kind]int),
		offsets: make(map[Kind]map[Field][2]int),
		counts:  make(map[Kind]int),
	}

	for field, key := range widthKeys {
		width, err := params.Int(key)
		if err != nil {
			return nil, err
		}
		l.widths[field] = width
	}
	l.widths[FieldActive] = 1
	l.widths[FieldDirection] = 1

	for _, kind := range Kinds {
		size, err := params.Int("SERIAL_SIZE_" + kind.String())
		if err != nil {
			return nil, err
		}
		l.sizes[kind] = size

		count, err := params.Int("FILE_COUNT_" + kind.String())
		if err != nil {
			return nil, err
		}
		if count < 1 {
			return nil, errors.Errorf("FILE_COUNT_%s must be positive", kind)
		}
		l.counts[kind] = count

		l.offsets[kind] = make(map[Field][2]int)
		for _, field := range kindFields[kind] {
			prefix := "SERIAL_" + kind.String() + "_" + string(field)
			start, okStart := params[prefix+"_START"]
			end, okEnd := params[prefix+"_END"]
			if okStart && okEnd {
				l.offsets[kind][field] = [2]int{start, end}
			}
		}
	}

	return l, nil
}

// Size returns the fixed byte length of one serialized record of the kind.
func (l *Layout) Size(kind Kind) int { return l.sizes[kind] }

// FileCount returns how many shard files hold records of the kind.
func (l *Layout) FileCount(kind Kind) int { return l.counts[kind] }

// Width returns the padded width of a field.
func (l *Layout) Width(field Field) int { return l.widths[field] }

// Codec serializes, matches and dissects fixed-width records per a Layout.
type Codec struct {
	layout *Layout
}

func NewCodec(layout *Layout) *Codec {
	return &Codec{layout: layout}
}

// Layout exposes the codec's layout for size arithmetic.
func (c *Codec) Layout() *Layout { return c.layout }

// Size returns the fixed byte length of one serialized record of the kind.
func (c *Codec) Size(kind Kind) int { return c.layout.Size(kind) }

func (c *Codec) padField(field Field, value string) (string, error) {
	padded, err := Pad(value, c.layout.widths[field])
	if err != nil {
		return "", errors.Wrapf(err, "field %s", field)
	}
	return padded, nil
}

// SerializeCredential encodes <active><username><password>.
func (c *Codec) SerializeCredential(cr Credential) (string, error) {
	username, err := c.padField(FieldUsername, cr.Username)
	if err != nil {
		return "", err
	}
	password, err := c.padField(FieldPassword, cr.Password)
	if err != nil {
		return "", err
	}
	return activeByte(cr.Active) + username + password, nil
}

// SerializeRelation encodes <active><first><direction><second>.
func (c *Codec) SerializeRelation(r Relation) (string, error) {
	first, err := c.padField(FieldFirstUsername, r.First)
	if err != nil {
		return "", err
	}
	second, err := c.padField(FieldSecondUsername, r.Second)
	if err != nil {
		return "", err
	}
	return activeByte(r.Active) + first + string(r.Direction) + second, nil
}

// SerializeProfilePost encodes <active><username><timestamp><text>.
func (c *Codec) SerializeProfilePost(p ProfilePost) (string, error) {
	if !validTimestamp(p.Timestamp) {
		return "", errors.Wrapf(ErrInvalidTimestamp, "%q", p.Timestamp)
	}
	username, err := c.padField(FieldUsername, p.Username)
	if err != nil {
		return "", err
	}
	text, err := c.padField(FieldText, p.Text)
	if err != nil {
		return "", err
	}
	return activeByte(p.Active) + username + p.Timestamp + text, nil
}

// SerializeTimelinePost encodes <active><username><author><timestamp><text>.
func (c *Codec) SerializeTimelinePost(p TimelinePost) (string, error) {
	if !validTimestamp(p.Timestamp) {
		return "", errors.Wrapf(ErrInvalidTimestamp, "%q", p.Timestamp)
	}
	username, err := c.padField(FieldUsername, p.Username)
	if err != nil {
		return "", err
	}
	author, err := c.padField(FieldAuthor, p.Author)
	if err != nil {
		return "", err
	}
	text, err := c.padField(FieldText, p.Text)
	if err != nil {
		return "", err
	}
	return activeByte(p.Active) + username + author + p.Timestamp + text, nil
}

// ExtractField returns the configured [START,END) slice of a serialized
// record. Fails with ErrUnknownField if the constants file carries no offsets
// for the (kind, field) pair.
func (c *Codec) ExtractField(serialized string, kind Kind, field Field) (string, error) {
	bounds, ok := c.layout.offsets[kind][field]
	if !ok {
		return "", errors.Wrapf(ErrUnknownField, "%s.%s", kind, field)
	}
	start, end := bounds[0], bounds[1]
	if start < 0 || end > len(serialized) || start >= end {
		return "", errors.Errorf("offsets [%d,%d) of %s.%s exceed record of %d bytes",
			start, end, kind, field, len(serialized))
	}
	return serialized[start:end], nil
}

// Matches reports whether the serialized record satisfies every criterion.
// Each raw value is padded to its field's width class and compared
// byte-for-byte against the extracted field; ACTIVE and DIRECTION compare as
// raw single characters. Empty criteria match everything.
func (c *Codec) Matches(serialized string, kind Kind, criteria Criteria) (bool, error) {
	for _, criterion := range criteria {
		extracted, err := c.ExtractField(serialized, kind, criterion.Field)
		if err != nil {
			return false, err
		}

		padded, err := c.padField(criterion.Field, criterion.Value)
		if err != nil {
			return false, err
		}

		if extracted != padded {
			return false, nil
		}
	}
	return true, nil
}
