// Package classify assigns agents their OASF taxonomy slugs. Creator-declared
// slugs win; agents without declarations go through the LLM classifier via a
// persistent work queue.
package classify

import (
	"sort"

	"github.com/agentgate/agentgate/internal/model"
)

// Embedded OASF taxonomy. Slugs outside these sets are rejected no matter
// where they came from.
var skillSlugs = []string{
	"audio-processing",
	"code-generation",
	"code-review",
	"content-moderation",
	"conversational-ai",
	"data-analysis",
	"data-extraction",
	"data-visualization",
	"document-processing",
	"email-automation",
	"forecasting",
	"image-classification",
	"image-generation",
	"information-retrieval",
	"knowledge-management",
	"language-detection",
	"natural-language-processing",
	"ocr",
	"payment-processing",
	"planning",
	"question-answering",
	"recommendation",
	"retrieval-augmented-generation",
	"scheduling",
	"search",
	"sentiment-analysis",
	"speech-recognition",
	"speech-synthesis",
	"summarization",
	"task-automation",
	"text-classification",
	"text-generation",
	"translation",
	"video-processing",
	"web-scraping",
	"workflow-orchestration",
}

var domainSlugs = []string{
	"customer-service",
	"cybersecurity",
	"defi",
	"developer-tools",
	"education",
	"entertainment",
	"finance",
	"gaming",
	"governance",
	"healthcare",
	"legal",
	"logistics",
	"marketing",
	"media",
	"productivity",
	"real-estate",
	"research",
	"retail",
	"social",
	"travel",
}

var (
	skillSet  = toSet(skillSlugs)
	domainSet = toSet(domainSlugs)
)

func toSet(slugs []string) map[string]struct{} {
	out := make(map[string]struct{}, len(slugs))
	for _, s := range slugs {
		out[s] = struct{}{}
	}
	return out
}

// SkillSlugs returns the full skill taxonomy, sorted.
func SkillSlugs() []string {
	out := append([]string(nil), skillSlugs...)
	sort.Strings(out)
	return out
}

// DomainSlugs returns the full domain taxonomy, sorted.
func DomainSlugs() []string {
	out := append([]string(nil), domainSlugs...)
	sort.Strings(out)
	return out
}

// ValidSkill reports whether the slug exists in the skill taxonomy.
func ValidSkill(slug string) bool {
	_, ok := skillSet[slug]
	return ok
}

// ValidDomain reports whether the slug exists in the domain taxonomy.
func ValidDomain(slug string) bool {
	_, ok := domainSet[slug]
	return ok
}

// filterValid drops entries whose slug fails the validator, returning the
// kept entries and the rejected slugs.
func filterValid(entries []model.SlugConfidence, valid func(string) bool) (kept []model.SlugConfidence, rejected []string) {
	for _, e := range entries {
		if valid(e.Slug) {
			kept = append(kept, e)
		} else {
			rejected = append(rejected, e.Slug)
		}
	}
	return kept, rejected
}
