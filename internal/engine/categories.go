package engine

import "strings"

// Summary categories. Facts are filed into one of these at ingestion time
// (extractor-provided, falling back to predicate inference) and Tier 1
// serves the matching summaries.
const (
	CategoryWork          = "work"
	CategoryRelationships = "relationships"
	CategoryPlaces        = "places"
	CategoryHealth        = "health"
	CategoryInterests     = "interests"
	CategoryGeneral       = "general"
)

// categoryKeywords maps query tokens to summary categories for the Tier 1
// keyword-to-category lookup. Deliberately coarse; Tier 2+ handles anything
// this misses.
var categoryKeywords = map[string]string{
	"work": CategoryWork, "job": CategoryWork, "career": CategoryWork,
	"company": CategoryWork, "employer": CategoryWork, "office": CategoryWork,
	"project": CategoryWork, "colleague": CategoryWork, "boss": CategoryWork,
	"manager": CategoryWork,

	"friend": CategoryRelationships, "friends": CategoryRelationships,
	"family": CategoryRelationships, "wife": CategoryRelationships,
	"husband": CategoryRelationships, "partner": CategoryRelationships,
	"married": CategoryRelationships, "relationship": CategoryRelationships,
	"brother": CategoryRelationships, "sister": CategoryRelationships,
	"parents": CategoryRelationships, "kids": CategoryRelationships,

	"live": CategoryPlaces, "lives": CategoryPlaces, "living": CategoryPlaces,
	"city": CategoryPlaces, "moved": CategoryPlaces, "home": CategoryPlaces,
	"travel": CategoryPlaces, "trip": CategoryPlaces, "visited": CategoryPlaces,

	"health": CategoryHealth, "doctor": CategoryHealth, "sleep": CategoryHealth,
	"exercise": CategoryHealth, "diet": CategoryHealth, "allergy": CategoryHealth,
	"allergic": CategoryHealth, "medication": CategoryHealth,

	"hobby": CategoryInterests, "hobbies": CategoryInterests,
	"likes": CategoryInterests, "enjoys": CategoryInterests,
	"reading": CategoryInterests, "music": CategoryInterests,
	"sport": CategoryInterests, "game": CategoryInterests,
	"interested": CategoryInterests, "favorite": CategoryInterests,
}

// predicateCategories files predicates into categories when the extractor
// did not supply one.
var predicateCategories = map[string]string{
	"works_at": CategoryWork, "employed_by": CategoryWork,
	"reports_to": CategoryWork, "works_on": CategoryWork,

	"married_to": CategoryRelationships, "friends_with": CategoryRelationships,
	"parent_of": CategoryRelationships, "sibling_of": CategoryRelationships,
	"knows": CategoryRelationships,

	"lives_in": CategoryPlaces, "born_in": CategoryPlaces,
	"visited": CategoryPlaces, "moved_to": CategoryPlaces,

	"allergic_to": CategoryHealth, "diagnosed_with": CategoryHealth,

	"likes": CategoryInterests, "dislikes": CategoryInterests,
	"enjoys": CategoryInterests, "plays": CategoryInterests,
	"reads": CategoryInterests,
}

// queryCategories infers summary categories from free-form query text.
// Returns nil when nothing matches; Tier 1 then serves all summaries.
func queryCategories(query string) []string {
	seen := map[string]bool{}
	var cats []string
	for _, tok := range tokenize(query) {
		if cat, ok := categoryKeywords[tok]; ok && !seen[cat] {
			seen[cat] = true
			cats = append(cats, cat)
		}
	}
	return cats
}

// categoryForPredicate picks a summary category for a fact write.
func categoryForPredicate(predicate, extractorCategory string) string {
	if extractorCategory != "" {
		return extractorCategory
	}
	if cat, ok := predicateCategories[predicate]; ok {
		return cat
	}
	return CategoryGeneral
}

// tokenize lowercases and splits on non-alphanumeric runs.
func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9')
	})
}
