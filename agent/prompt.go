package agent

import (
	"fmt"
	"strings"
)

// PromptInput collects everything the prompt templates draw on. Direction
// slots hold the pre-authored description nearest in that band, already
// prefixed by the selector's tag rules.
type PromptInput struct {
	Front            string
	Right            string
	Left             string
	ImageTags        string // "image N: position" lines for attached images
	PastExplanations string
	Lang             string
	LengthIndex      int     // 0 shortest .. higher = longer narration
	DistanceToTravel float64 // meters remaining on the current leg
	Override         string  // replaces the base template when set
}

const descriptionPromptTemplate = `# Task
Describe the surroundings shown in the provided images for a blind
pedestrian. Multiple images correspond to these directions:
%[1]s

Expert-authored notes tied to nearby camera positions may also be supplied.
Fold them into the narration as if observed directly; never reveal that
written notes exist. Note directions are relative to each camera, not to
the listener.

%[2]s
%[3]s
%[4]s

Also translate the description into language code "%[5]s" and report the
code actually used.

## Rules
1. %[6]s The narration must be exactly %[7]d sentences.
2. The text is read aloud verbatim, so use no special symbols and keep it
   one continuous passage in a polite register.
3. Start with an overall summary, then describe left, front, and right in
   that order.
4. For each direction, lead with what the live images show before weaving
   in the supplied notes. Signs, facilities, and high-priority notes must
   appear concretely in the narration.
5. Mention crossings or traffic signals only when they are actually
   present.
6. Never use words like "image", "viewpoint", or "note" that would sound
   unnatural to the listener, and never describe what is behind them.
`

const stopReasonPromptTemplate = `# Task
A guide robot leading a blind pedestrian has stopped. Using its forward
camera images, explain why. First count nearby people and note where each
is and what they are doing; then note nearby obstacles and their kinds;
then reason about why the robot stopped; finally produce the message that
is read to the user.

Also translate the message into language code "%[1]s" and report the code
actually used.

## Rules
1. Answer briefly and politely, in the form "Stopped because <specific
   reason>." followed by any needed detail.
2. Say where people or obstacles are and what they are doing; prefer the
   one actually blocking the way when there are several.
3. Mention crossings or traffic signals only when actually present.
4. Name objects concretely; if unsure, describe shape, position, and color.
5. If the way ahead is clear and no cause is visible, answer "One moment
   please." and describe the surroundings instead of admitting confusion.
6. The message is read aloud verbatim: no special symbols, no words like
   "image", no instructions telling the user how to move, no speculation
   phrasing, and nothing about the space behind the user.
7. The camera sits low, so nearby people may appear as legs only; do not
   miss them.
`

const pastExplanationsTemplate = `
## Already narrated
You previously said the following. Omit anything it already covers, even
if that shortens the narration.

%s
`

const ingestPromptTemplate = `# Task
List what is visible in the image, one entry per line, in the form
"- <name>: <visual detail>". List only; no surrounding prose.

# Exclude from the list
- remarks about the image itself
- weather and weather-like impressions
- people
- vehicles
`

// BuildIngestPrompt renders the prompt used when a freshly uploaded image
// is transcribed into a stored description. override replaces the default
// template entirely when set.
func BuildIngestPrompt(override string) string {
	if override != "" {
		return override
	}
	return ingestPromptTemplate
}

// SentenceLength derives how many sentences the narration should have from
// the requested verbosity and the remaining travel distance. Close to the
// goal the narration is clamped short so it finishes before arrival.
func SentenceLength(lengthIndex int, distanceToTravel float64) int {
	add := lengthIndex
	if distanceToTravel < 10 {
		if add >= 2 {
			add = 1
		} else {
			add = 0
		}
		return 1 + add
	}
	if distanceToTravel < 25 {
		return 2 + add
	}
	return 3 + add
}

// atmosphere picks the level of descriptive detail for the narration.
func atmosphere(lengthIndex int, distanceToTravel float64) string {
	if lengthIndex == 0 || distanceToTravel < 10 {
		return "Very concisely name each object and its position only."
	}
	if lengthIndex == 1 {
		return "Reference each object's position and essential detail."
	}
	return "Describe positions, details, and reasonable impressions of each object."
}

// BuildDescriptionPrompt renders the surround-description prompt.
func BuildDescriptionPrompt(in PromptInput) string {
	sentences := SentenceLength(in.LengthIndex, in.DistanceToTravel)

	front := strings.ReplaceAll(in.Front, "\n", " ")
	right := strings.ReplaceAll(in.Right, "\n", " ")
	left := strings.ReplaceAll(in.Left, "\n", " ")
	if sentences == 1 {
		// a single-sentence narration drowns in side information
		front, right, left = "", "", ""
	}

	lang := in.Lang
	if lang == "" {
		lang = "ja"
	}

	template := descriptionPromptTemplate
	if in.Override != "" {
		template = in.Override
	}

	prompt := fmt.Sprintf(template,
		in.ImageTags,
		front,
		right,
		left,
		lang,
		atmosphere(in.LengthIndex, in.DistanceToTravel),
		sentences,
	)

	if in.PastExplanations != "" {
		prompt += fmt.Sprintf(pastExplanationsTemplate, in.PastExplanations)
	}
	return prompt
}

// BuildStopReasonPrompt renders the stopped-robot prompt.
func BuildStopReasonPrompt(in PromptInput) string {
	lang := in.Lang
	if lang == "" {
		lang = "ja"
	}

	template := stopReasonPromptTemplate
	if in.Override != "" {
		template = in.Override
	}

	prompt := fmt.Sprintf(template, lang)
	if in.PastExplanations != "" {
		prompt += fmt.Sprintf(pastExplanationsTemplate, in.PastExplanations)
	}
	return prompt
}
