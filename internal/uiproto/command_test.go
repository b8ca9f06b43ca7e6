package uiproto

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseListVariants(t *testing.T) {
	assert.Equal(t, KindListDiscovered, Parse("ls p").Kind)
	assert.Equal(t, KindListConnected, Parse("ls c").Kind)

	c := Parse("ls s")
	assert.Equal(t, KindListStories, c.Kind)
	assert.Equal(t, "", c.ListTarget)

	c = Parse("ls s all")
	assert.Equal(t, KindListStories, c.Kind)
	assert.Equal(t, "all", c.ListTarget)
}

func TestParseCreateStoryOneShot(t *testing.T) {
	c := Parse("create s myStory|a header|the body|general")
	assert.Equal(t, KindCreateStoryOneShot, c.Kind)
	assert.Equal(t, "myStory", c.Name)
	assert.Equal(t, "a header", c.Header)
	assert.Equal(t, "the body", c.Body)
	assert.Equal(t, "general", c.Channel)
}

func TestParseCreateStoryOneShotMalformedIsUnknown(t *testing.T) {
	c := Parse("create s onlytwo|fields")
	assert.Equal(t, KindUnknown, c.Kind)
}

func TestParseCreateStoryInteractive(t *testing.T) {
	assert.Equal(t, KindCreateStory, Parse("create s").Kind)
}

func TestParsePublishAndShowStory(t *testing.T) {
	c := Parse("publish s 42")
	assert.Equal(t, KindPublishStory, c.Kind)
	assert.EqualValues(t, 42, c.StoryID)

	c = Parse("show story 7")
	assert.Equal(t, KindShowStory, c.Kind)
	assert.EqualValues(t, 7, c.StoryID)
}

func TestParsePublishStoryNonNumericIsUnknown(t *testing.T) {
	assert.Equal(t, KindUnknown, Parse("publish s abc").Kind)
}

func TestParseNameConnectMessage(t *testing.T) {
	assert.Equal(t, "Alice", Parse("name Alice").DisplayName)
	assert.Equal(t, "/ip4/1.2.3.4/tcp/4001/p2p/abc", Parse("connect /ip4/1.2.3.4/tcp/4001/p2p/abc").Multiaddr)

	c := Parse("msg Bob hello there")
	assert.Equal(t, KindMessage, c.Kind)
	assert.Equal(t, "Bob hello there", c.Raw)
}

func TestParseDescriptionAndDHT(t *testing.T) {
	c := Parse("create desc a node about stories")
	assert.Equal(t, KindSetDescription, c.Kind)
	assert.Equal(t, "a node about stories", c.Description)

	assert.Equal(t, KindShowDescription, Parse("show desc").Kind)
	assert.Equal(t, KindDHTBootstrap, Parse("dht bootstrap").Kind)
	assert.Equal(t, KindDHTPeers, Parse("dht peers").Kind)
}

func TestParseQuitAndUnknown(t *testing.T) {
	assert.Equal(t, KindQuit, Parse("quit").Kind)
	assert.Equal(t, KindUnknown, Parse("gibberish").Kind)
	assert.Equal(t, KindUnknown, Parse("").Kind)
}

func TestParsePreservesLineForInteractivePrompts(t *testing.T) {
	c := Parse("  some free text  ")
	assert.Equal(t, "some free text", c.Line)
}
