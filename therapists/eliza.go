package therapists

import (
	"context"
	"math/rand"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/patienthub/patienthub-go/agent"
)

// ElizaName is the rule-based therapist's display name.
const ElizaName = "Eliza"

// ElizaGreeting is always the first thing Eliza says.
const ElizaGreeting = "Hello. How can I help you today?"

type elizaRule struct {
	pattern   *regexp.Regexp
	responses []string
}

func rule(pattern string, responses ...string) elizaRule {
	return elizaRule{pattern: regexp.MustCompile("(?i)" + pattern), responses: responses}
}

// Rules are tried in order; the first match wins. "{0}" is replaced with
// the reflected first capture group.
var elizaRules = []elizaRule{
	rule(`hello|hi|hey`,
		"Hello... I'm glad you could drop by today.",
		"Hi there... how are you today?",
		"Hello... what seems to be troubling you?"),
	rule(`how are you`,
		"I'm doing well, but let's focus on you.",
		"Fine, thank you. How about you?"),
	rule(`I need (.*)`,
		"Why do you need {0}?",
		"Would it really help if you had {0}?",
		"Are you sure you need {0}?"),
	rule(`why don'?t you (.*)`,
		"Do you really think I don't {0}?",
		"Perhaps eventually I will {0}.",
		"Do you want me to {0}?"),
	rule(`why can'?t I (.*)`,
		"Do you think you should be able to {0}?",
		"If you could {0}, what would you do?"),
	rule(`I can'?t (.*)`,
		"How do you know you can't {0}?",
		"Perhaps you could {0} if you tried.",
		"What would it take for you to {0}?"),
	rule(`I'?m (.*)`,
		"How does being {0} make you feel?",
		"Do you enjoy being {0}?",
		"Did you come to me because you are {0}?",
		"How long have you been {0}?"),
	rule(`you'?re (.*)`,
		"What makes you think I am {0}?",
		"Does it please you to believe I am {0}?",
		"Why do you say I'm {0}?"),
	rule(`(.*)\b(mother|mom)\b(.*)`,
		"Tell me more about your mother.",
		"What is your relationship with your mother like?"),
	rule(`(.*)\b(father|dad)\b(.*)`,
		"Tell me more about your father.",
		"How does your father make you feel?"),
	rule(`(.*)\bchild(.*)`,
		"Did you have close friends as a child?",
		"What is your favorite childhood memory?"),
	rule(`(.*)\?$`,
		"Why do you ask that?",
		"Please consider whether you can answer your own question.",
		"Perhaps the answer lies within yourself?"),
	rule(`^yes\b`,
		"You seem quite sure.",
		"OK, but can you elaborate a bit?"),
	rule(`^no\b`,
		"Why not?",
		"You are being a bit negative.",
		"Are you saying no just to be negative?"),
	rule(`(.*)\bsorry\b(.*)`,
		"There are many times when no apology is needed.",
		"What feelings do you have when you apologize?"),
}

var elizaFallbacks = []string{
	"Please tell me more.",
	"Let's change focus a bit... Tell me about your family.",
	"Can you elaborate on that?",
	"I see. And what does that tell you?",
	"How does that make you feel?",
	"Very interesting.",
}

var reflections = map[string]string{
	"i":        "you",
	"me":       "you",
	"my":       "your",
	"am":       "are",
	"you":      "I",
	"your":     "my",
	"mine":     "yours",
	"myself":   "yourself",
	"yourself": "myself",
	"are":      "am",
	"was":      "were",
	"were":     "was",
	"i'm":      "you are",
	"you're":   "I am",
	"i've":     "you have",
	"you've":   "I have",
	"i'll":     "you will",
	"you'll":   "I will",
}

var whitespace = regexp.MustCompile(`\s+`)

// Eliza is the classic Rogerian pattern-matching therapist. It never calls
// a model.
type Eliza struct {
	mu     sync.Mutex
	rng    *rand.Rand
	client string
	first  bool
}

var _ agent.Therapist = (*Eliza)(nil)

// NewEliza creates an Eliza therapist. A nil rng is seeded from the clock.
func NewEliza(rng *rand.Rand) *Eliza {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Eliza{rng: rng, first: true}
}

func newElizaFromConfig(_ Config, deps Deps) (agent.Therapist, error) {
	return NewEliza(deps.Rand), nil
}

// Name returns ElizaName.
func (e *Eliza) Name() string {
	return ElizaName
}

// SetClient records the client's name so it can be stripped from input.
func (e *Eliza) SetClient(name string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.client = name
}

// Respond greets on the first turn and pattern-matches afterwards.
func (e *Eliza) Respond(ctx context.Context, msg string) (*agent.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.first {
		e.first = false
		return agent.NewMessage(agent.RoleTherapist, ElizaGreeting), nil
	}
	return agent.NewMessage(agent.RoleTherapist, e.match(e.preprocess(msg))), nil
}

func (e *Eliza) preprocess(text string) string {
	if e.client != "" {
		text = strings.ReplaceAll(text, e.client, "")
	}
	return strings.TrimSpace(whitespace.ReplaceAllString(text, " "))
}

func (e *Eliza) match(text string) string {
	for _, r := range elizaRules {
		m := r.pattern.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		resp := r.responses[e.rng.Intn(len(r.responses))]
		if !strings.Contains(resp, "{0}") {
			return resp
		}
		phrase := ""
		if len(m) > 1 {
			phrase = m[1]
		}
		return strings.ReplaceAll(resp, "{0}", reflectPronouns(phrase))
	}
	return elizaFallbacks[e.rng.Intn(len(elizaFallbacks))]
}

// reflectPronouns swaps first and second person words.
func reflectPronouns(text string) string {
	tokens := strings.Fields(strings.ToLower(text))
	for i, tok := range tokens {
		if r, ok := reflections[tok]; ok {
			tokens[i] = r
		}
	}
	return strings.Join(tokens, " ")
}

// Reset makes the next reply the greeting again.
func (e *Eliza) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.first = true
	e.client = ""
}
