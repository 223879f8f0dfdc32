package planner

import (
	"encoding/json"
	"fmt"
	"strings"
)

const systemPrompt = "You are a meticulous travel planner. Follow the requested output format exactly."

func locationsPrompt(text string) string {
	return fmt.Sprintf(`Extract every travel destination mentioned in the request below.
Short city names such as "chengdu" or "seoul" count as destinations.

Request: %s

Answer with ONLY a JSON array of place names, for example ["Seoul", "Tokyo"].`, text)
}

func subtopicsPrompt(locations []string) string {
	return fmt.Sprintf(`The traveller is visiting: %s.
Propose 5 research subtopics that would help plan this trip, such as
"Best restaurants", "Historical sites" or "Public transportation".

Answer with ONLY a JSON array of strings.`, strings.Join(locations, ", "))
}

func reviseSubtopicsPrompt(locations, subtopics []string, feedback string) string {
	return fmt.Sprintf(`The traveller is visiting: %s.
Current research subtopics: %s
Traveller feedback: %s

Rewrite the subtopics so they address the feedback.
Answer with ONLY a JSON array of strings.`, strings.Join(locations, ", "), quoteList(subtopics), feedback)
}

func summaryPrompt(subtopic, location, results string) string {
	return fmt.Sprintf(`Summarize what a traveller should know about "%s in %s".

Search results:
%s

Give the key facts and concrete recommendations in a short paragraph.`, subtopic, location, results)
}

func planPrompt(locations []string, weather, research string) string {
	return fmt.Sprintf(`Create a complete travel plan for: %s

Weather forecast:
%s

Research notes:
%s

Plan around the weather: indoor activities on rainy days, outdoor ones on
dry days, and clothing advice for hot or cold days. Include:
1. A trip overview
2. A daily itinerary; start each day with its weather and explain how it shaped the activities
3. A budget estimate in USD and the local currency
4. Practical tips`, strings.Join(locations, ", "), weather, research)
}

func revisePlanPrompt(plan, feedback string) string {
	return fmt.Sprintf(`Here is a travel plan:

%s

Traveller feedback: %s

Rewrite the whole plan so it addresses the feedback.`, plan, feedback)
}

func quoteList(items []string) string {
	data, _ := json.Marshal(items)
	return string(data)
}
