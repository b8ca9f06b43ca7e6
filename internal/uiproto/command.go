// Package uiproto defines the UI collaborator boundary the Event Orchestrator
// drives (spec.md §4.1, §6): an interactive command language and the view
// data pushed back after each dispatch.
package uiproto

import "strings"

// Kind tags which CLI command a parsed Command represents (spec.md §6).
type Kind int

const (
	KindUnknown Kind = iota
	KindListDiscovered
	KindListConnected
	KindListStories
	KindCreateStory
	KindCreateStoryOneShot
	KindPublishStory
	KindShowStory
	KindSetName
	KindConnect
	KindMessage
	KindSetDescription
	KindShowDescription
	KindDHTBootstrap
	KindDHTPeers
	KindQuit
)

// Command is the parsed form of one line of interactive input.
type Command struct {
	Kind Kind

	// ListStories: "" means local stories, "all" requests every connected
	// peer, anything else names a single peer id to query.
	ListTarget string

	// CreateStoryOneShot fields, pipe-delimited: "<name>|<header>|<body>|<channel>".
	Name    string
	Header  string
	Body    string
	Channel string

	StoryID int64

	DisplayName string
	Multiaddr   string

	MessageTo   string
	MessageBody string

	Description string

	Raw string

	// Line holds the original trimmed input line regardless of Kind, used by
	// the orchestrator's multi-step "create s" prompt sequence where
	// subsequent lines are plain field values rather than new commands.
	Line string
}

// Parse turns one line of interactive input into a Command. Unrecognized
// input yields KindUnknown with the original line preserved for the UI to
// echo back as an error.
func Parse(line string) Command {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return Command{Kind: KindUnknown, Raw: line}
	}

	fields := strings.SplitN(trimmed, " ", 3)
	cmd := parseBody(trimmed, fields, line)
	cmd.Line = trimmed
	return cmd
}

func parseBody(trimmed string, fields []string, line string) Command {
	switch {
	case trimmed == "quit" || trimmed == "exit":
		return Command{Kind: KindQuit}

	case trimmed == "ls p":
		return Command{Kind: KindListDiscovered}

	case trimmed == "ls c":
		return Command{Kind: KindListConnected}

	case fields[0] == "ls" && len(fields) >= 2 && fields[1] == "s":
		target := ""
		if len(fields) == 3 {
			target = strings.TrimSpace(fields[2])
		}
		return Command{Kind: KindListStories, ListTarget: target}

	case trimmed == "create s":
		return Command{Kind: KindCreateStory}

	case strings.HasPrefix(trimmed, "create s "):
		rest := strings.TrimPrefix(trimmed, "create s ")
		parts := strings.SplitN(rest, "|", 4)
		if len(parts) != 4 {
			return Command{Kind: KindUnknown, Raw: line}
		}
		return Command{
			Kind: KindCreateStoryOneShot,
			Name: strings.TrimSpace(parts[0]), Header: strings.TrimSpace(parts[1]),
			Body: strings.TrimSpace(parts[2]), Channel: strings.TrimSpace(parts[3]),
		}

	case strings.HasPrefix(trimmed, "publish s "):
		id, ok := parseInt(strings.TrimPrefix(trimmed, "publish s "))
		if !ok {
			return Command{Kind: KindUnknown, Raw: line}
		}
		return Command{Kind: KindPublishStory, StoryID: id}

	case strings.HasPrefix(trimmed, "show story "):
		id, ok := parseInt(strings.TrimPrefix(trimmed, "show story "))
		if !ok {
			return Command{Kind: KindUnknown, Raw: line}
		}
		return Command{Kind: KindShowStory, StoryID: id}

	case strings.HasPrefix(trimmed, "name "):
		return Command{Kind: KindSetName, DisplayName: strings.TrimSpace(strings.TrimPrefix(trimmed, "name "))}

	case strings.HasPrefix(trimmed, "connect "):
		return Command{Kind: KindConnect, Multiaddr: strings.TrimSpace(strings.TrimPrefix(trimmed, "connect "))}

	case strings.HasPrefix(trimmed, "msg "):
		return Command{Kind: KindMessage, Raw: strings.TrimPrefix(trimmed, "msg ")}

	case strings.HasPrefix(trimmed, "create desc "):
		return Command{Kind: KindSetDescription, Description: strings.TrimPrefix(trimmed, "create desc ")}

	case trimmed == "show desc":
		return Command{Kind: KindShowDescription}

	case trimmed == "dht bootstrap":
		return Command{Kind: KindDHTBootstrap}

	case trimmed == "dht peers":
		return Command{Kind: KindDHTPeers}

	default:
		return Command{Kind: KindUnknown, Raw: line}
	}
}

func parseInt(s string) (int64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	var n int64
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, false
		}
		n = n*10 + int64(r-'0')
	}
	return n, true
}
