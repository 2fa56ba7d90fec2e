package botlib

import (
	"fmt"

	"github.com/meedsr07/storechat/pkg/client/chatview"
)

// Context provides methods for responding to messages.
// It is passed to message handlers and provides a convenient API
// for common bot actions.
type Context struct {
	bot     *Bot
	message *Message
}

// Message returns the message that triggered this context.
func (c *Context) Message() *Message {
	return c.message
}

// Reply posts to the conversation the message came from: the group for
// group messages, the sender for direct ones.
func (c *Context) Reply(content string) error {
	_, err := c.bot.postMessage(c.message.Conversation(), content)
	return err
}

// ReplyWithResult sends a reply and returns the stored message details.
func (c *Context) ReplyWithResult(content string) (*PostMessageResult, error) {
	return c.bot.postMessage(c.message.Conversation(), content)
}

// ReplyPrivately sends a direct message to the author, even for group messages.
func (c *Context) ReplyPrivately(content string) error {
	_, err := c.bot.postMessage(chatview.Direct(c.message.SenderID), content)
	return err
}

// Retract deletes a message the bot posted earlier.
func (c *Context) Retract(messageID int64) error {
	return c.bot.deleteMessage(messageID)
}

// Author returns the display name of the message author.
func (c *Context) Author() string {
	return c.message.SenderName
}

// BotName returns the bot's username.
func (c *Context) BotName() string {
	return c.bot.self.Handle
}

// Online returns the names of the users currently online, the bot included.
func (c *Context) Online() []string {
	ids := c.bot.Online()
	names := make([]string, len(ids))
	for i, id := range ids {
		names[i] = c.bot.UserName(id)
	}
	return names
}

// FetchConversation fetches up to limit recent messages of the current conversation.
func (c *Context) FetchConversation(limit int) ([]Message, error) {
	return c.bot.fetchMessages(c.message.Conversation(), limit)
}

// Log logs a message using the bot's logger.
func (c *Context) Log(format string, args ...interface{}) {
	if c.bot.logger != nil {
		c.bot.logger.Printf(format, args...)
	}
}

// String returns a debug representation of the context.
func (c *Context) String() string {
	where := fmt.Sprintf("direct=%d", c.message.SenderID)
	if c.message.GroupID != nil {
		where = fmt.Sprintf("group=%d", *c.message.GroupID)
	}
	return fmt.Sprintf("Context{%s, message=%d, author=%s}", where, c.message.ID, c.message.SenderName)
}
