// Package flock is the client library for the flock server: it frames
// command lines into the packet protocol, follows bounces to the primary and
// decodes the reply shapes.
package flock

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/flockdb/flock/internal/wire"
)

var (
	// ErrRefused reports a mutation the server answered with "error".
	ErrRefused = errors.New("server refused the command")

	// ErrBounced matches any *BounceError via errors.Is.
	ErrBounced = errors.New("write bounced to the primary")
)

// BounceError reports a write sent to a node that is not the primary; Port
// is where the client should retry.
type BounceError struct {
	Port int
}

func (e *BounceError) Error() string {
	return fmt.Sprintf("bounced to primary on port %d", e.Port)
}

func (e *BounceError) Unwrap() error {
	return ErrBounced
}

// Client talks to one flock node. Every request dials a fresh connection;
// the server serves one command per connection.
type Client struct {
	cfg *config
	tr  *wire.Transport
}

func New(opts ...Option) *Client {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	return &Client{
		cfg: cfg,
		tr:  wire.NewTransport(cfg.buffSize, cfg.timeout, zap.NewNop()),
	}
}

// Execute sends one raw command line and returns the reply payload. A bounce
// reply surfaces as *BounceError unless the client follows bounces, in which
// case the command is retried once against the named primary.
func (c *Client) Execute(line string) (string, error) {
	reply, err := c.roundTrip(c.cfg.port, line)
	if err != nil {
		return "", err
	}

	port, bounced := parseBounce(reply)
	if !bounced {
		return reply, nil
	}
	if !c.cfg.followBounces {
		return "", &BounceError{Port: port}
	}

	reply, err = c.roundTrip(port, line)
	if err != nil {
		return "", err
	}
	if port, bounced := parseBounce(reply); bounced {
		return "", &BounceError{Port: port}
	}
	return reply, nil
}

func (c *Client) Exists(username string) (bool, error) {
	return c.boolQuery("GET/credential/" + username)
}

func (c *Client) VerifyCredential(username, password string) (bool, error) {
	return c.boolQuery("GET/credential/" + username + ":" + password)
}

func (c *Client) IsFollowing(username, friend string) (bool, error) {
	return c.boolQuery("GET/relations/" + username + ":" + friend)
}

func (c *Client) SaveCredential(username, password string) error {
	return c.mutation("SAVE/credential/" + username + ":" + password)
}

func (c *Client) DeleteCredential(username, password string) error {
	return c.mutation("DELETE/credential/" + username + ":" + password)
}

// SavePost publishes a post; the server assigns the timestamp.
func (c *Client) SavePost(username, text string) error {
	return c.mutation("SAVE/posts/" + username + ":" + text)
}

func (c *Client) DeletePost(username, timestamp string) error {
	return c.mutation("DELETE/posts/" + username + ":" + timestamp)
}

func (c *Client) Follow(username, friend string) error {
	return c.mutation("SAVE/relations/" + username + ":" + friend)
}

func (c *Client) Unfollow(username, friend string) error {
	return c.mutation("DELETE/relations/" + username + ":" + friend)
}

// ProfilePosts returns the raw concatenation of the author's serialized
// posts, newest first. Records are fixed-width; splitting them needs the
// server's field size configuration, which the client does not carry.
func (c *Client) ProfilePosts(username string, limit int) (string, error) {
	return c.Execute("GET/posts/profile/" + username + ":" + strconv.Itoa(limit))
}

func (c *Client) TimelinePosts(username string, limit int) (string, error) {
	return c.Execute("GET/posts/timeline/" + username + ":" + strconv.Itoa(limit))
}

func (c *Client) Followers(username string, limit int) (string, error) {
	return c.Execute("GET/relations/followers/" + username + ":" + strconv.Itoa(limit))
}

func (c *Client) Friends(username string, limit int) (string, error) {
	return c.Execute("GET/relations/friends/" + username + ":" + strconv.Itoa(limit))
}

func (c *Client) boolQuery(line string) (bool, error) {
	reply, err := c.Execute(line)
	if err != nil {
		return false, err
	}
	switch reply {
	case "true":
		return true, nil
	case "false":
		return false, nil
	}
	return false, errors.Errorf("unexpected reply %q", reply)
}

func (c *Client) mutation(line string) error {
	reply, err := c.Execute(line)
	if err != nil {
		return err
	}
	switch reply {
	case "success":
		return nil
	case "error":
		return errors.Wrap(ErrRefused, line)
	}
	return errors.Errorf("unexpected reply %q", reply)
}

func (c *Client) roundTrip(port int, line string) (string, error) {
	addr := net.JoinHostPort(c.cfg.host, strconv.Itoa(port))
	conn, err := net.DialTimeout("tcp", addr, c.cfg.timeout)
	if err != nil {
		return "", errors.Wrapf(err, "dial %s", addr)
	}
	defer conn.Close()

	if err := c.tr.WritePacket(conn, line); err != nil {
		return "", err
	}
	return c.tr.ReadMessage(conn)
}

func parseBounce(reply string) (int, bool) {
	rest, ok := strings.CutPrefix(reply, "BOUNCE/")
	if !ok {
		return 0, false
	}
	port, err := strconv.Atoi(rest)
	if err != nil {
		return 0, false
	}
	return port, true
}
