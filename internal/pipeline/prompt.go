package pipeline

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/ejwhitmore/tweetvault/internal/types"
)

func buildMediaPrompt(item *types.ContentItem) string {
	var b strings.Builder
	b.WriteString("This image is attached to a bookmarked post on X. ")
	b.WriteString("Describe what the image shows and how it relates to the post, in 2-4 sentences. ")
	b.WriteString("If it contains text, code, or a diagram, transcribe or summarize the substance.\n\n")
	fmt.Fprintf(&b, "Post by @%s:\n%s\n", item.AuthorHandle, item.Text)
	return b.String()
}

func buildUnderstandingPrompt(item *types.ContentItem, siblings []types.ContentItem) string {
	var b strings.Builder
	b.WriteString("You are building a personal knowledge base from bookmarked X posts. ")
	b.WriteString("Write a self-contained explanation of what this bookmark is about and why it is worth keeping: ")
	b.WriteString("the core idea, any techniques or resources mentioned, and relevant context. ")
	b.WriteString("Use plain markdown, no heading, 1-3 paragraphs.\n\n")

	fmt.Fprintf(&b, "Post by @%s (%d likes, %d reposts):\n%s\n", item.AuthorHandle, item.Likes, item.Retweets, item.Text)

	if len(item.MediaAnalyses) > 0 {
		b.WriteString("\nAttached media:\n")
		for i, a := range item.MediaAnalyses {
			fmt.Fprintf(&b, "%d. [%s] %s\n", i+1, a.Kind, a.Description)
		}
	}

	if len(siblings) > 1 {
		fmt.Fprintf(&b, "\nThis post is part %d of a %d-post thread by the same author. Full thread:\n", item.PositionInThread, len(siblings))
		for _, s := range siblings {
			fmt.Fprintf(&b, "(%d) %s\n", s.PositionInThread, s.Text)
		}
	}

	return b.String()
}

func buildCategoryPrompt(item *types.ContentItem, taxonomy []string) string {
	var b strings.Builder
	b.WriteString("Assign this bookmarked post to a knowledge-base category.\n\n")

	if len(taxonomy) > 0 {
		b.WriteString("Existing categories, largest first. STRONGLY prefer reusing one of these over inventing a near-duplicate; only create a new category when nothing fits:\n")
		for _, name := range taxonomy {
			fmt.Fprintf(&b, "- %s\n", name)
		}
		b.WriteString("\n")
	}

	b.WriteString("Bookmark:\n")
	fmt.Fprintf(&b, "%s\n", item.Text)
	if item.Understanding != "" {
		fmt.Fprintf(&b, "\nSummary:\n%s\n", item.Understanding)
	}

	b.WriteString("\nRespond with a JSON object only:\n")
	b.WriteString(`{"main_category": "...", "sub_category": "..."}` + "\n")
	b.WriteString("main_category is required; sub_category may be an empty string.\n")
	return b.String()
}

func buildSynthesisPrompt(categoryName string, items []types.ContentItem) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Synthesize the following %d bookmarked posts, all filed under %q in a personal knowledge base, ", len(items), categoryName)
	b.WriteString("into a single overview: the recurring themes, the strongest individual insights, and how the pieces relate. ")
	b.WriteString("Use plain markdown with at most two heading levels.\n\n")

	for i := range items {
		it := &items[i]
		fmt.Fprintf(&b, "--- Bookmark %d (@%s) ---\n", i+1, it.AuthorHandle)
		if it.Understanding != "" {
			b.WriteString(it.Understanding)
		} else {
			b.WriteString(it.Text)
		}
		b.WriteString("\n\n")
	}

	return b.String()
}

// categoryResponse is the JSON object the categorization prompt requests.
type categoryResponse struct {
	MainCategory string `json:"main_category"`
	SubCategory  string `json:"sub_category"`
}

var jsonFenceRe = regexp.MustCompile("(?s)```(?:json)?\\s*\\n?(\\{.*?\\})\\s*\\n?```")
var jsonObjectRe = regexp.MustCompile(`(?s)(\{.*\})`)

// extractJSONObject pulls a JSON object out of a model response, tolerating
// markdown code fences and surrounding prose.
func extractJSONObject(text string) string {
	if matches := jsonFenceRe.FindStringSubmatch(text); len(matches) > 1 {
		return matches[1]
	}
	if matches := jsonObjectRe.FindStringSubmatch(text); len(matches) > 1 {
		return matches[1]
	}
	return text
}

func parseCategoryResponse(text string) (main, sub string, err error) {
	var resp categoryResponse
	if err := json.Unmarshal([]byte(extractJSONObject(text)), &resp); err != nil {
		return "", "", fmt.Errorf("failed to parse category response: %w (response was: %s)", err, text)
	}
	main = strings.TrimSpace(resp.MainCategory)
	if main == "" {
		return "", "", fmt.Errorf("category response missing main_category (response was: %s)", text)
	}
	return main, strings.TrimSpace(resp.SubCategory), nil
}
