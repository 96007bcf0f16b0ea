package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/vamsi-chittoor-constient/chatbot-core/internal/domain"
)

// SubIntent is the closed set of classification outcomes. The classifier
// never returns a value outside this set, whichever path produced it.
type SubIntent string

const (
	IntentBrowseMenu      SubIntent = "browse_menu"
	IntentDiscoverItems   SubIntent = "discover_items"
	IntentManageCart      SubIntent = "manage_cart"
	IntentValidateOrder   SubIntent = "validate_order"
	IntentExecuteCheckout SubIntent = "execute_checkout"
)

// Classification is the schema C5 returns, whether from the primary LLM
// path or the deterministic fallback.
type Classification struct {
	SubIntent       SubIntent              `json:"sub_intent"`
	Confidence      float64                `json:"confidence"`
	Entities        map[string]interface{} `json:"entities"`
	MissingEntities []string               `json:"missing_entities"`
	Reasoning       string                 `json:"reasoning"`
}

// StateSnapshot is the compact conversational state a message is
// classified against.
type StateSnapshot struct {
	CartItems            int
	CartValidated        bool
	HasDraftOrder        bool
	Authenticated        bool
	OrderType            string
	EntityCollectionStep string // "none" when not mid-collection
	PendingEntities      []string
}

// classificationSchema is the JSON schema handed to AinvokeStructured's
// function-calling constraint.
var classificationSchema = map[string]interface{}{
	"type": "object",
	"properties": map[string]interface{}{
		"sub_intent":       map[string]interface{}{"type": "string", "enum": []string{"browse_menu", "discover_items", "manage_cart", "validate_order", "execute_checkout"}},
		"confidence":       map[string]interface{}{"type": "number"},
		"entities":         map[string]interface{}{"type": "object"},
		"missing_entities": map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}},
		"reasoning":        map[string]interface{}{"type": "string"},
	},
	"required": []string{"sub_intent", "confidence", "entities", "missing_entities", "reasoning"},
}

// ResultCache is the secondary, short-TTL cache (internal/cache's
// Memcached-backed ClassifierCache in production) that dedupes repeated
// identical classification calls within a burst.
type ResultCache interface {
	Get(key string) ([]byte, bool)
	Set(key string, raw []byte)
}

// cacheKeyFunc hashes (message, entityCollectionStep) into a cache key;
// set to internal/cache.Key in production, stubbed out in tests that don't
// wire a ResultCache.
var cacheKeyFunc = func(message, step string) string { return message + "\x00" + step }

// Classifier resolves a user message to a SubIntent: a schema-constrained
// LLM call first, deterministic keyword rules when that path fails.
type Classifier struct {
	scheduler *Scheduler
	cache     ResultCache
}

func NewClassifier(scheduler *Scheduler) *Classifier {
	return &Classifier{scheduler: scheduler}
}

// WithCache attaches a ResultCache and returns the same Classifier, so
// callers can write NewClassifier(s).WithCache(c).
func (c *Classifier) WithCache(cache ResultCache) *Classifier {
	c.cache = cache
	return c
}

// SetCacheKeyFunc overrides how (message, entity_collection_step) is
// hashed into a cache key; production wiring sets this to
// internal/cache.Key so the classifier package doesn't need to import
// internal/cache (which would invert the dependency).
func SetCacheKeyFunc(f func(message, step string) string) {
	cacheKeyFunc = f
}

// Classify applies the entity-collection priority rule, then the primary
// structured-output path, then the deterministic fallback.
func (c *Classifier) Classify(ctx context.Context, message string, state StateSnapshot) Classification {
	if state.EntityCollectionStep != "" && state.EntityCollectionStep != "none" {
		if cls, ok := classifyEntityCollection(message, state); ok {
			return cls
		}
	}

	var cacheKey string
	if c.cache != nil {
		cacheKey = cacheKeyFunc(message, state.EntityCollectionStep)
		if raw, hit := c.cache.Get(cacheKey); hit {
			var cls Classification
			if err := json.Unmarshal(raw, &cls); err == nil {
				return cls
			}
		}
	}

	messages := []Message{
		{Role: "system", Content: classifierSystemPrompt},
		{Role: "user", Content: buildUserPrompt(message, state)},
	}

	raw, err := c.scheduler.AinvokeStructured(ctx, messages, domain.TierMini, "Classification", classificationSchema)
	if err != nil {
		log.Warn().Err(err).Msg("classifier_primary_path_failed_using_fallback")
		return fallbackClassify(message, state)
	}

	var cls Classification
	if jsonErr := json.Unmarshal(raw, &cls); jsonErr != nil {
		log.Warn().Err(jsonErr).Msg("classifier_parse_failure_using_fallback")
		return fallbackClassify(message, state)
	}

	switch cls.SubIntent {
	case IntentBrowseMenu, IntentDiscoverItems, IntentManageCart, IntentValidateOrder, IntentExecuteCheckout:
	default:
		log.Warn().Str("sub_intent", string(cls.SubIntent)).Msg("classifier_schema_violation_using_fallback")
		return fallbackClassify(message, state)
	}

	if c.cache != nil {
		c.cache.Set(cacheKey, raw)
	}
	return cls
}

const classifierSystemPrompt = `Classify the user's message into exactly one sub_intent: ` +
	`browse_menu, discover_items, manage_cart, validate_order, execute_checkout. ` +
	`Extract any entities the message carries and list any required entities still missing.`

// buildUserPrompt interpolates the state snapshot into the prompt as a
// context block ahead of the raw message, so the model classifies against
// the conversation's actual state rather than the message alone.
func buildUserPrompt(message string, state StateSnapshot) string {
	return "Context:\n" + buildStateContext(state) +
		"\n\nUser Message: \"" + message + "\"\n\nClassify intent and extract entities:"
}

func buildStateContext(state StateSnapshot) string {
	var parts []string

	// An active entity-collection step outranks everything else: the model
	// must continue the current intent, not open a new one.
	if state.EntityCollectionStep != "" && state.EntityCollectionStep != "none" {
		parts = append(parts,
			"ACTIVE ENTITY COLLECTION: "+state.EntityCollectionStep,
			"The user is answering our question about "+state.EntityCollectionStep+"; continue the current intent, do NOT start a new one.")
		if len(state.PendingEntities) > 0 {
			parts = append(parts, "Already collected: "+strings.Join(state.PendingEntities, ", "))
		}
	}

	if state.CartItems > 0 {
		parts = append(parts, fmt.Sprintf("Cart has %d items", state.CartItems))
		if state.CartValidated {
			parts = append(parts, "Cart validated - ready for checkout")
		}
	} else {
		parts = append(parts, "Cart is EMPTY")
	}

	if state.HasDraftOrder {
		parts = append(parts, "Draft order exists: 'change order' likely means cart operations (manage_cart)")
	}

	if state.Authenticated {
		parts = append(parts, "User authenticated")
	} else {
		parts = append(parts, "User NOT authenticated")
	}

	if state.OrderType != "" {
		parts = append(parts, "Order type: "+state.OrderType)
	}

	return strings.Join(parts, "\n")
}

// classifyEntityCollection implements the non-negotiable priority rule:
// while entity_collection_step is active, the message is interpreted only
// as a value for that step, never as a new intent.
func classifyEntityCollection(message string, state StateSnapshot) (Classification, bool) {
	if state.EntityCollectionStep == "quantity" {
		if qty, ok := parseSmallQuantity(message); ok {
			return Classification{
				SubIntent:  IntentManageCart,
				Confidence: 0.7,
				Entities:   map[string]interface{}{"action": "add", "quantity": qty},
				Reasoning:  "entity_collection_step=quantity resolved from bare number",
			}, true
		}
	}
	return Classification{}, false
}

var wordNumbers = map[string]int{
	"one": 1, "two": 2, "three": 3, "four": 4, "five": 5,
	"six": 6, "seven": 7, "eight": 8, "nine": 9, "ten": 10,
}

func parseSmallQuantity(message string) (int, bool) {
	trimmed := strings.ToLower(strings.TrimSpace(message))
	if n, err := strconv.Atoi(trimmed); err == nil && n >= 1 && n <= 10 {
		return n, true
	}
	if n, ok := wordNumbers[trimmed]; ok {
		return n, true
	}
	return 0, false
}

var orderingVerbs = []string{"i want", "i need", "give me", "get me", "i'll have", "i'll take", "order"}
var cartVerbs = []string{"add", "remove", "delete", "update", "change", "cart"}
var browseVerbs = []string{"menu", "categories", "show", "list"}
var discoverySignals = []string{"vegetarian", "vegan", "search", "find", "spicy", "what is", "tell me", "show me", "available", "options"}
var checkoutPhrases = []string{"checkout", "place order", "ready to order"}

// genericPhrasePattern is a crude "does this look like a generic follow-up"
// check for step 3's "NOT followed by a generic phrase" clause.
var genericPhrasePattern = regexp.MustCompile(`(?i)\b(menu|options|something|anything)\b`)

// fallbackClassify applies the fixed keyword rule order. It is invoked on
// timeout, parse failure, or schema violation from the primary path, and
// never returns confidence above 0.7.
func fallbackClassify(message string, state StateSnapshot) Classification {
	lower := strings.ToLower(strings.TrimSpace(message))

	// Rule 1
	if state.EntityCollectionStep == "quantity" {
		if qty, ok := parseSmallQuantity(lower); ok {
			return Classification{
				SubIntent:  IntentManageCart,
				Confidence: 0.7,
				Entities:   map[string]interface{}{"action": "add", "quantity": qty},
				Reasoning:  "fallback rule 1: bare quantity while collecting quantity",
			}
		}
	}

	// Rule 2
	if containsAny(lower, checkoutPhrases) {
		if state.CartValidated {
			return Classification{SubIntent: IntentExecuteCheckout, Confidence: 0.7, Entities: map[string]interface{}{}, Reasoning: "fallback rule 2: checkout phrase with validated cart"}
		}
		return Classification{SubIntent: IntentValidateOrder, Confidence: 0.7, Entities: map[string]interface{}{}, Reasoning: "fallback rule 2: checkout phrase, cart not yet validated"}
	}

	// Rule 3
	for _, verb := range orderingVerbs {
		if strings.Contains(lower, verb) && !genericPhrasePattern.MatchString(lower) {
			itemName := strings.TrimSpace(strings.Replace(lower, verb, "", 1))
			entities := map[string]interface{}{"action": "add"}
			var missing []string
			if itemName != "" {
				entities["item_name"] = itemName
			} else {
				missing = append(missing, "item_name")
			}
			return Classification{SubIntent: IntentManageCart, Confidence: 0.65, Entities: entities, MissingEntities: missing, Reasoning: "fallback rule 3: ordering verb"}
		}
	}

	// Rule 4
	for _, verb := range cartVerbs {
		if strings.Contains(lower, verb) {
			action := verb
			if action == "delete" {
				action = "remove"
			}
			return Classification{SubIntent: IntentManageCart, Confidence: 0.6, Entities: map[string]interface{}{"action": action}, Reasoning: "fallback rule 4: cart verb"}
		}
	}

	// Rule 5
	if containsAny(lower, browseVerbs) {
		return Classification{SubIntent: IntentBrowseMenu, Confidence: 0.6, Entities: map[string]interface{}{}, Reasoning: "fallback rule 5: browse verb"}
	}

	// Rule 6
	if containsAny(lower, discoverySignals) {
		return Classification{SubIntent: IntentDiscoverItems, Confidence: 0.6, Entities: map[string]interface{}{}, Reasoning: "fallback rule 6: discovery signal"}
	}

	// Rule 7
	if len(strings.Fields(lower)) <= 5 {
		return Classification{
			SubIntent:       IntentManageCart,
			Confidence:      0.5,
			Entities:        map[string]interface{}{"action": "add", "item_name": cleanItemName(message)},
			MissingEntities: []string{"quantity"},
			Reasoning:       "fallback rule 7: short message treated as bare item name",
		}
	}

	// Rule 8 (default)
	return Classification{SubIntent: IntentBrowseMenu, Confidence: 0.4, Entities: map[string]interface{}{}, Reasoning: "fallback rule 8: default"}
}

// fillerWords are stripped before a short message is treated as a bare item
// name (rule 7). Carried over from the original classifier's item-name
// cleanup: polite filler adds no entity value and would otherwise end up
// embedded in item_name verbatim.
var fillerWords = map[string]bool{"please": true, "thanks": true, "the": true}

func cleanItemName(message string) string {
	fields := strings.Fields(message)
	kept := make([]string, 0, len(fields))
	for _, f := range fields {
		if fillerWords[strings.ToLower(strings.Trim(f, ".,!?"))] {
			continue
		}
		kept = append(kept, f)
	}
	return strings.TrimSpace(strings.Join(kept, " "))
}

func containsAny(haystack string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}
