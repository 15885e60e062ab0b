package services

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yoockh/yoorelay/internal/history"
	"github.com/yoockh/yoorelay/internal/models"
	"github.com/yoockh/yoorelay/internal/usage"
	"github.com/yoockh/yoorelay/internal/utils"
)

const CommandFailedReply = "Error running the command. Please try again."

// converseFunc runs a prompt through the text path: it appends the prompt as
// a user turn, generates and appends the reply.
type converseFunc func(ctx context.Context, msg *models.InboundMessage, prompt string, log *logrus.Entry) (string, error)

type command struct {
	name        string
	description string
	run         func(ctx context.Context, msg *models.InboundMessage, args []string, log *logrus.Entry) (string, error)
}

// promptCommand asks the backend a templated question. When args are
// required and missing the usage hint is returned and history is untouched.
type promptCommand struct {
	name        string
	description string
	minArgs     int
	usage       string
	fallback    string // topic used when args are optional and absent
	prompt      func(args []string) string
	header      func(args []string) string
}

// Commands routes "/name args..." chat messages.
type Commands struct {
	store    *history.Store
	usage    *usage.Recorder
	converse converseFunc
	now      func() time.Time

	list  []*command
	index map[string]*command
}

func NewCommands(store *history.Store, rec *usage.Recorder, converse converseFunc) *Commands {
	c := &Commands{
		store:    store,
		usage:    rec,
		converse: converse,
		now:      time.Now,
		index:    map[string]*command{},
	}

	c.add("/help", "Show every available command", c.help)
	c.add("/stats", "Show bot usage statistics", c.stats)
	c.add("/clear", "Clear your conversation history", c.clear)
	c.add("/tokens", "Show consumed token statistics", c.tokens)
	c.add("/reset_tokens", "Reset the token counter", c.resetTokens)
	c.add("/ping", "Check that the bot is answering", c.ping)
	for _, pc := range promptCommands {
		c.addPrompt(pc)
	}
	c.add("/reminder", "Create a reminder (display only, nothing is scheduled)", c.reminder)

	return c
}

func (c *Commands) add(name, description string, run func(context.Context, *models.InboundMessage, []string, *logrus.Entry) (string, error)) {
	cmd := &command{name: name, description: description, run: run}
	c.list = append(c.list, cmd)
	c.index[name] = cmd
}

func (c *Commands) addPrompt(pc promptCommand) {
	c.add(pc.name, pc.description, func(ctx context.Context, msg *models.InboundMessage, args []string, log *logrus.Entry) (string, error) {
		if len(args) < pc.minArgs {
			return pc.usage, nil
		}
		if len(args) == 0 && pc.fallback != "" {
			args = []string{pc.fallback}
		}
		reply, err := c.converse(ctx, msg, pc.prompt(args), log)
		if err != nil {
			return "", err
		}
		return pc.header(args) + reply, nil
	})
}

func parseCommand(text string) (string, []string) {
	fields := strings.Fields(strings.TrimSpace(text))
	if len(fields) == 0 {
		return "", nil
	}
	return strings.ToLower(fields[0]), fields[1:]
}

// Match reports whether text starts with a registered command name.
func (c *Commands) Match(text string) bool {
	if !strings.HasPrefix(strings.TrimSpace(text), "/") {
		return false
	}
	name, _ := parseCommand(text)
	_, ok := c.index[name]
	return ok
}

// Names returns the registered command names in help order.
func (c *Commands) Names() []string {
	out := make([]string, 0, len(c.list))
	for _, cmd := range c.list {
		out = append(out, cmd.name)
	}
	return out
}

func (c *Commands) Run(ctx context.Context, msg *models.InboundMessage, text string, log *logrus.Entry) (string, error) {
	const op = "Commands.Run"

	name, args := parseCommand(text)
	cmd, ok := c.index[name]
	if !ok {
		return "", utils.E(utils.CodeNotFound, op, "unknown command "+name, nil)
	}
	log.WithField("command", name).Info("command")
	return cmd.run(ctx, msg, args, log)
}

func (c *Commands) help(context.Context, *models.InboundMessage, []string, *logrus.Entry) (string, error) {
	var b strings.Builder
	b.WriteString("*Available commands*\n\n")
	for _, cmd := range c.list {
		fmt.Fprintf(&b, "%s - %s\n", cmd.name, cmd.description)
	}
	b.WriteString("\nYou can also just chat with me or send voice notes!")
	return b.String(), nil
}

func (c *Commands) stats(context.Context, *models.InboundMessage, []string, *logrus.Entry) (string, error) {
	st := c.store.Stats()

	ids := make([]string, 0, len(st.UserTurns))
	for id := range st.UserTurns {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var b strings.Builder
	b.WriteString("*Bot statistics*\n\n")
	fmt.Fprintf(&b, "Total users: %d\n", st.TotalUsers)
	b.WriteString("Messages per user:\n")
	for _, id := range ids {
		fmt.Fprintf(&b, "• %s: %d messages\n", utils.Suffix(id, 10), st.UserTurns[id])
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func (c *Commands) clear(_ context.Context, msg *models.InboundMessage, _ []string, _ *logrus.Entry) (string, error) {
	c.store.Clear(msg.UserID)
	return "Your conversation history was cleared!", nil
}

func (c *Commands) tokens(context.Context, *models.InboundMessage, []string, *logrus.Entry) (string, error) {
	st := c.usage.Stats()
	enabled := "no"
	if st.Enabled {
		enabled = "yes"
	}
	return fmt.Sprintf("*Token statistics*\n\nTotal tokens: %d\nDebug enabled: %s\n\nSet DEBUG_TOKENS=true to log per-call details.",
		st.TotalTokensUsed, enabled), nil
}

func (c *Commands) resetTokens(context.Context, *models.InboundMessage, []string, *logrus.Entry) (string, error) {
	c.usage.Reset()
	return "Token counter reset!", nil
}

func (c *Commands) ping(_ context.Context, msg *models.InboundMessage, _ []string, _ *logrus.Entry) (string, error) {
	var lat time.Duration
	if !msg.Timestamp.IsZero() {
		lat = c.now().Sub(msg.Timestamp)
		if lat < 0 {
			lat = 0
		}
	}
	return fmt.Sprintf("Pong! Latency: %dms", lat.Milliseconds()), nil
}

func (c *Commands) reminder(_ context.Context, _ *models.InboundMessage, args []string, _ *logrus.Entry) (string, error) {
	if len(args) == 0 {
		return "Please describe the reminder. Example: `/reminder Meeting at 3pm`", nil
	}
	return fmt.Sprintf("*Reminder created*\n\n%s\nCreated at: %s\n\nThis is a visual reminder only. Use a dedicated app for notifications.",
		strings.Join(args, " "), c.now().Format("02/01/2006 15:04:05")), nil
}

func joined(args []string) string { return strings.Join(args, " ") }

var promptCommands = []promptCommand{
	{
		name:        "/weather",
		description: "Ask about the weather in a city (ex: /weather São Paulo)",
		minArgs:     1,
		usage:       "Please name a city. Example: `/weather São Paulo`",
		prompt: func(a []string) string {
			return fmt.Sprintf("Give the current weather and forecast for %s. If you have no real-time data, say so and suggest reliable sources.", joined(a))
		},
		header: func(a []string) string { return fmt.Sprintf("*Weather in %s*\n\n", joined(a)) },
	},
	{
		name:        "/translate",
		description: "Translate text (ex: /translate en Olá mundo)",
		minArgs:     2,
		usage:       "Usage: `/translate [target-language] [text]`\nExample: `/translate en Olá mundo`",
		prompt: func(a []string) string {
			return fmt.Sprintf("Translate the following text to %s: %q", a[0], joined(a[1:]))
		},
		header: func([]string) string { return "*Translation*\n\n" },
	},
	{
		name:        "/summarize",
		description: "Summarize a long text",
		minArgs:     1,
		usage:       "Please provide the text to summarize after the command.",
		prompt: func(a []string) string {
			return fmt.Sprintf("Summarize the following text clearly and concisely: %q", joined(a))
		},
		header: func([]string) string { return "*Summary*\n\n" },
	},
	{
		name:        "/joke",
		description: "Tell a joke",
		fallback:    "anything",
		prompt: func(a []string) string {
			return fmt.Sprintf("Tell a funny joke about %s. Keep it appropriate.", joined(a))
		},
		header: func([]string) string { return "" },
	},
	{
		name:        "/quote",
		description: "Generate a motivational quote",
		fallback:    "motivation",
		prompt: func(a []string) string {
			return fmt.Sprintf("Write an inspiring, motivational quote about %s.", joined(a))
		},
		header: func([]string) string { return "" },
	},
	{
		name:        "/math",
		description: "Solve a calculation (ex: /math 2+2*3)",
		minArgs:     1,
		usage:       "Please provide the calculation. Example: `/math 2+2*3`",
		prompt: func(a []string) string {
			return fmt.Sprintf("Solve this calculation step by step: %s", joined(a))
		},
		header: func([]string) string { return "*Calculation*\n\n" },
	},
	{
		name:        "/define",
		description: "Define a word or concept (ex: /define artificial intelligence)",
		minArgs:     1,
		usage:       "Please provide the word or concept to define.",
		prompt: func(a []string) string {
			return fmt.Sprintf("Define clearly and didactically: %s", joined(a))
		},
		header: func(a []string) string { return fmt.Sprintf("*Definition of %q*\n\n", joined(a)) },
	},
	{
		name:        "/news",
		description: "Ask about recent news on a topic",
		fallback:    "general topics",
		prompt: func(a []string) string {
			return fmt.Sprintf("Talk about recent news and trends related to %s. If you have no up-to-date data, say so and suggest reliable sources.", joined(a))
		},
		header: func(a []string) string { return fmt.Sprintf("*News about %s*\n\n", joined(a)) },
	},
	{
		name:        "/recipe",
		description: "Suggest a recipe from ingredients (ex: /recipe chicken, rice)",
		minArgs:     1,
		usage:       "Please list the ingredients. Example: `/recipe chicken, rice, broccoli`",
		prompt: func(a []string) string {
			return fmt.Sprintf("Suggest a simple, tasty recipe using these ingredients: %s", joined(a))
		},
		header: func([]string) string { return "*Recipe*\n\n" },
	},
	{
		name:        "/workout",
		description: "Suggest exercises or a workout",
		fallback:    "the full body",
		prompt: func(a []string) string {
			return fmt.Sprintf("Suggest a workout focused on %s that can be done at home or at the gym.", joined(a))
		},
		header: func([]string) string { return "*Workout*\n\n" },
	},
	{
		name:        "/facts",
		description: "Share interesting facts about a topic",
		fallback:    "general curiosities",
		prompt: func(a []string) string {
			return fmt.Sprintf("Share 3 interesting and true facts about %s.", joined(a))
		},
		header: func(a []string) string { return fmt.Sprintf("*Facts about %s*\n\n", joined(a)) },
	},
	{
		name:        "/code",
		description: "Programming help (ex: /code python function to sort a list)",
		minArgs:     1,
		usage:       "Please describe what you need. Example: `/code python function to sort a list`",
		prompt: func(a []string) string {
			return fmt.Sprintf("Help with programming: %s. Provide clean code and a clear explanation.", joined(a))
		},
		header: func([]string) string { return "*Code*\n\n" },
	},
	{
		name:        "/study",
		description: "Study help and academic explanations",
		minArgs:     1,
		usage:       "Please describe the study topic. Example: `/study photosynthesis`",
		prompt: func(a []string) string {
			return fmt.Sprintf("Explain in a didactic, structured way for studying: %s", joined(a))
		},
		header: func(a []string) string { return fmt.Sprintf("*Study: %s*\n\n", joined(a)) },
	},
}
