package schema

import "strings"

// Keyword sets used to classify a response when the caller supplies no
// role hint. The sets are disjoint so a hit is unambiguous evidence.
var (
	navigatorKeywords = []string{
		"current_state", "action", "evaluation_previous_goal", "memory",
		"next_goal", "click_element", "go_to_url", "input_text",
		"navigate", "browser",
	}
	plannerKeywords = []string{
		"observation", "challenges", "next_steps", "final_answer",
		"reasoning", "web_task",
	}
)

// Classify determines which schema a raw response should satisfy. A
// supplied hint always wins; otherwise keyword hits in the response
// and optional free-text context are counted case-insensitively. The
// navigator wins only on a strictly higher score — ties and all-zero
// scores default to the planner.
func Classify(raw string, hint Role, context string) Role {
	if hint == RolePlanner || hint == RoleNavigator {
		return hint
	}

	haystack := strings.ToLower(raw + " " + context)
	navScore := 0
	for _, kw := range navigatorKeywords {
		if strings.Contains(haystack, kw) {
			navScore++
		}
	}
	planScore := 0
	for _, kw := range plannerKeywords {
		if strings.Contains(haystack, kw) {
			planScore++
		}
	}

	if navScore > planScore {
		return RoleNavigator
	}
	return RolePlanner
}
