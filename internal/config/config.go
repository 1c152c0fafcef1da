// Package config loads the constants file and the cluster topology file.
//
// The constants file is a plain text file of KEY=value lines (values are
// integers). Empty lines and lines starting with '#' are ignored. It carries
// the per-kind file counts, serialized record sizes, field widths and field
// byte offsets that the record and storage layers are built from.
package config

import (
	"bufio"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Params holds the integer constants loaded from the configuration file,
// keyed by their names (e.g. "FILE_COUNT_CREDENTIAL").
type Params map[string]int

// Member is one Resource Manager in the cluster topology.
type Member struct {
	UserPort     int // port serving client requests
	InternalPort int // port serving RM-to-RM traffic
}

// LoadParams reads the KEY=value constants file at path.
func LoadParams(path string) (Params, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open config file")
	}
	defer f.Close()

	params := make(Params)

	scanner := bufio.NewScanner(f)
	for lineNum := 1; scanner.Scan(); lineNum++ {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, rawValue, found := strings.Cut(line, "=")
		if !found {
			return nil, errors.Errorf("config line %d: missing '=' separator", lineNum)
		}

		value, err := strconv.Atoi(strings.TrimSpace(rawValue))
		if err != nil {
			return nil, errors.Wrapf(err, "config line %d: value of %q", lineNum, key)
		}

		params[strings.TrimSpace(key)] = value
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "read config file")
	}

	return params, nil
}

// Int returns the value of a required constant.
func (p Params) Int(key string) (int, error) {
	value, ok := p[key]
	if !ok {
		return 0, errors.Errorf("missing config constant %q", key)
	}
	return value, nil
}

// LoadTopology reads the cluster membership file at path. Each non-comment
// line declares one RM as "userPort:internalPort". The first line is the
// node the cluster initially treats as primary.
func LoadTopology(path string) ([]Member, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open topology file")
	}
	defer f.Close()

	var members []Member

	scanner := bufio.NewScanner(f)
	for lineNum := 1; scanner.Scan(); lineNum++ {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		rawUser, rawInternal, found := strings.Cut(line, ":")
		if !found {
			return nil, errors.Errorf("topology line %d: want userPort:internalPort", lineNum)
		}

		userPort, err := strconv.Atoi(strings.TrimSpace(rawUser))
		if err != nil {
			return nil, errors.Wrapf(err, "topology line %d: user port", lineNum)
		}
		internalPort, err := strconv.Atoi(strings.TrimSpace(rawInternal))
		if err != nil {
			return nil, errors.Wrapf(err, "topology line %d: internal port", lineNum)
		}

		members = append(members, Member{UserPort: userPort, InternalPort: internalPort})
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "read topology file")
	}

	if len(members) == 0 {
		return nil, errors.New("topology file declares no members")
	}

	return members, nil
}
