// Package mention recognises @ and @@ mention triggers while a message is
// being composed and keeps the composer's draft-local mention list.
package mention

import (
	"errors"
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/notepid/twilight_chat/internal/user"
)

// Trigger is the kind of mention a token was typed with.
type Trigger int

const (
	Public  Trigger = iota // @
	Private                // @@
)

// Sequence returns the literal text of the trigger.
func (t Trigger) Sequence() string {
	if t == Private {
		return "@@"
	}
	return "@"
}

func (t Trigger) String() string {
	if t == Private {
		return "private"
	}
	return "public"
}

// ErrSelfMention is returned when the composer picks themself.
var ErrSelfMention = errors.New("you cannot mention yourself")

// ErrNoActiveMention is returned by Confirm when the cursor is not inside a
// mention trigger.
var ErrNoActiveMention = errors.New("no mention in progress at cursor")

var fragmentPattern = regexp.MustCompile(`^[A-Za-z\s]*$`)

// State describes an in-progress mention immediately before the cursor.
type State struct {
	Trigger Trigger
	// Fragment is the text typed after the trigger, up to the cursor.
	Fragment string
	// Start is the rune offset of the first '@' of the trigger.
	Start int
}

// DraftState reports whether the text before cursor (a rune offset) is an
// active mention. It scans back to the nearest '@'; a preceding '@' makes it
// a private trigger. Any character outside letters and whitespace between
// the trigger and the cursor cancels mention mode.
func DraftState(text string, cursor int) (State, bool) {
	runes := []rune(text)
	if cursor < 0 || cursor > len(runes) {
		return State{}, false
	}

	at := -1
	for i := cursor - 1; i >= 0; i-- {
		if runes[i] == '@' {
			at = i
			break
		}
	}
	if at < 0 {
		return State{}, false
	}

	st := State{Trigger: Public, Start: at, Fragment: string(runes[at+1 : cursor])}
	if at > 0 && runes[at-1] == '@' {
		st.Trigger = Private
		st.Start = at - 1
	}

	if !fragmentPattern.MatchString(st.Fragment) {
		return State{}, false
	}
	return st, true
}

// Token is one confirmed mention in a draft.
type Token struct {
	Trigger       Trigger
	RawText       string
	ParticipantID int
}

// Draft accumulates the mentions a composer confirms while editing a message.
// It is not safe for concurrent use.
type Draft struct {
	composerID int
	tokens     []Token
}

// NewDraft starts an empty draft for the composing participant.
func NewDraft(composerID int) *Draft {
	return &Draft{composerID: composerID}
}

// Confirm replaces the trigger and fragment before cursor with
// "<trigger><first name> " and records the participant. Picking the composer
// returns ErrSelfMention and leaves both text and draft untouched. Confirming
// a participant that is already mentioned rewrites the text but does not add
// a second entry.
func (d *Draft) Confirm(text string, cursor int, p user.Profile) (string, int, error) {
	st, ok := DraftState(text, cursor)
	if !ok {
		return text, cursor, ErrNoActiveMention
	}
	if p.ID == d.composerID {
		return text, cursor, ErrSelfMention
	}

	insert := st.Trigger.Sequence() + FirstName(p.DisplayName) + " "
	runes := []rune(text)
	out := string(runes[:st.Start]) + insert + string(runes[cursor:])
	newCursor := st.Start + len([]rune(insert))

	if !d.Has(p.ID) {
		d.tokens = append(d.tokens, Token{
			Trigger:       st.Trigger,
			RawText:       strings.TrimSpace(insert),
			ParticipantID: p.ID,
		})
	} else if st.Trigger == Private {
		// A later private mention of the same participant upgrades the token.
		for i := range d.tokens {
			if d.tokens[i].ParticipantID == p.ID && d.tokens[i].Trigger == Public {
				d.tokens[i].Trigger = Private
				d.tokens[i].RawText = strings.TrimSpace(insert)
			}
		}
	}
	return out, newCursor, nil
}

// Has reports whether id is already in the draft.
func (d *Draft) Has(id int) bool {
	for _, t := range d.tokens {
		if t.ParticipantID == id {
			return true
		}
	}
	return false
}

// Mentions returns the mentioned participant ids in confirmation order.
func (d *Draft) Mentions() []int {
	ids := make([]int, 0, len(d.tokens))
	for _, t := range d.tokens {
		ids = append(ids, t.ParticipantID)
	}
	return ids
}

// Tokens returns a copy of the confirmed tokens.
func (d *Draft) Tokens() []Token {
	return append([]Token(nil), d.tokens...)
}

// Reset clears the draft after a send.
func (d *Draft) Reset() {
	d.tokens = nil
}

// Classify decides whether a message is private: it must carry at least one
// mention confirmed with the @@ trigger whose text is still present in the
// final message. A stray "@@" typed without picking anyone does not count.
func Classify(text string, tokens []Token) bool {
	for _, t := range tokens {
		if t.Trigger == Private && containsToken(text, t.RawText) {
			return true
		}
	}
	return false
}

// containsToken reports whether raw occurs in text as a whole word, so
// "@@Bob" is not found inside "@@Bobby".
func containsToken(text, raw string) bool {
	if raw == "" {
		return false
	}
	for i := 0; i <= len(text)-len(raw); {
		j := strings.Index(text[i:], raw)
		if j < 0 {
			return false
		}
		end := i + j + len(raw)
		next, _ := utf8.DecodeRuneInString(text[end:])
		if end == len(text) || !isWordRune(next) {
			return true
		}
		i += j + 1
	}
	return false
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

// FirstName returns the first word of a display name.
func FirstName(displayName string) string {
	fields := strings.Fields(displayName)
	if len(fields) == 0 {
		return displayName
	}
	return fields[0]
}

// Suggest returns up to limit roster entries whose display name, or any word
// of it, starts with fragment (case-insensitive). Exclude is skipped, which
// lets the UI hide the composer.
func Suggest(fragment string, roster []user.Profile, exclude int, limit int) []user.Profile {
	frag := strings.ToLower(strings.TrimSpace(fragment))
	var out []user.Profile
	for _, p := range roster {
		if p.ID == exclude || p.Placeholder {
			continue
		}
		if frag == "" || matchesWord(strings.ToLower(p.DisplayName), frag) {
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return strings.ToLower(out[i].DisplayName) < strings.ToLower(out[j].DisplayName)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func matchesWord(name, frag string) bool {
	if strings.HasPrefix(name, frag) {
		return true
	}
	for _, w := range strings.Fields(name) {
		if strings.HasPrefix(w, frag) {
			return true
		}
	}
	return false
}
