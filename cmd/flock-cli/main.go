package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/kballard/go-shellquote"

	"github.com/flockdb/flock/flock"
)

const usage = `commands:
  register <user> <password>      create an account
  unregister <user> <password>    delete an account and its posts
  exists <user>                   check whether an account exists
  login <user> <password>         verify a credential
  post <user> <text>              publish a post (quote the text)
  rmpost <user> <timestamp>       delete a post by its 10-digit timestamp
  follow <user> <friend>
  unfollow <user> <friend>
  following <user> <friend>       check whether user follows friend
  profile <user> <limit>          list profile posts, -1 for all
  timeline <user> <limit>         list timeline posts, -1 for all
  followers <user> <limit>
  friends <user> <limit>
  raw <command-line>              send a raw protocol line
  help                            show this text
  exit`

func main() {
	host := flag.String("host", flock.DefaultHost, "flock server host")
	port := flag.Int("port", flock.DefaultPort, "flock server user port")
	buffSize := flag.Int("buffsize", flock.DefaultBuffSize, "packet size, must match the server")
	flag.Parse()

	client := flock.New(
		flock.WithHost(*host),
		flock.WithPort(*port),
		flock.WithBufferSize(*buffSize),
		flock.WithFollowBounces(),
	)

	fmt.Printf("Talking to %s:%d\n", *host, *port)
	fmt.Println("Type commands. 'help' for information or 'exit' to quit.")

	reader := bufio.NewReader(os.Stdin)

	for {
		fmt.Print("> ")

		line, err := reader.ReadString('\n')
		if err != nil {
			fmt.Println("input error:", err)
			return
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if line == "exit" {
			return
		}
		if line == "help" {
			fmt.Println(usage)
			continue
		}

		words, err := shellquote.Split(line)
		if err != nil {
			fmt.Println("parse error:", err)
			continue
		}

		if out, err := run(client, words); err != nil {
			fmt.Println("error:", err)
		} else if out != "" {
			fmt.Println(out)
		}
	}
}

func run(client *flock.Client, words []string) (string, error) {
	verb, args := words[0], words[1:]

	switch verb {
	case "register":
		if len(args) != 2 {
			return "", fmt.Errorf("usage: register <user> <password>")
		}
		return "ok", client.SaveCredential(args[0], args[1])
	case "unregister":
		if len(args) != 2 {
			return "", fmt.Errorf("usage: unregister <user> <password>")
		}
		return "ok", client.DeleteCredential(args[0], args[1])
	case "exists":
		if len(args) != 1 {
			return "", fmt.Errorf("usage: exists <user>")
		}
		return boolOut(client.Exists(args[0]))
	case "login":
		if len(args) != 2 {
			return "", fmt.Errorf("usage: login <user> <password>")
		}
		return boolOut(client.VerifyCredential(args[0], args[1]))
	case "post":
		if len(args) != 2 {
			return "", fmt.Errorf("usage: post <user> <text> (quote the text)")
		}
		return "ok", client.SavePost(args[0], args[1])
	case "rmpost":
		if len(args) != 2 {
			return "", fmt.Errorf("usage: rmpost <user> <timestamp>")
		}
		return "ok", client.DeletePost(args[0], args[1])
	case "follow":
		if len(args) != 2 {
			return "", fmt.Errorf("usage: follow <user> <friend>")
		}
		return "ok", client.Follow(args[0], args[1])
	case "unfollow":
		if len(args) != 2 {
			return "", fmt.Errorf("usage: unfollow <user> <friend>")
		}
		return "ok", client.Unfollow(args[0], args[1])
	case "following":
		if len(args) != 2 {
			return "", fmt.Errorf("usage: following <user> <friend>")
		}
		return boolOut(client.IsFollowing(args[0], args[1]))
	case "profile":
		return listOut(args, client.ProfilePosts)
	case "timeline":
		return listOut(args, client.TimelinePosts)
	case "followers":
		return listOut(args, client.Followers)
	case "friends":
		return listOut(args, client.Friends)
	case "raw":
		if len(args) != 1 {
			return "", fmt.Errorf("usage: raw <command-line>")
		}
		return client.Execute(args[0])
	}
	return "", fmt.Errorf("unknown command %q, try 'help'", verb)
}

func boolOut(v bool, err error) (string, error) {
	if err != nil {
		return "", err
	}
	return strconv.FormatBool(v), nil
}

func listOut(args []string, query func(string, int) (string, error)) (string, error) {
	if len(args) != 2 {
		return "", fmt.Errorf("usage: <verb> <user> <limit>")
	}
	limit, err := strconv.Atoi(args[1])
	if err != nil {
		return "", fmt.Errorf("limit must be an integer")
	}

	records, err := query(args[0], limit)
	if err != nil {
		return "", err
	}
	if records == "" {
		return "(empty)", nil
	}
	return records, nil
}
