package strategy

import (
	"regexp"
	"strings"

	"github.com/parlakisik/aex-negotiation/internal/model"
)

var researchPattern = regexp.MustCompile(`(?i)(\.edu\b|\.ac\.|university|research|institute|academic)`)

type company struct {
	keyword   string
	canonical string
}

// Checked in order; the first keyword contained in the identifier wins.
var tier1Companies = []company{
	{"openai", "OpenAI"},
	{"gptbot", "OpenAI"},
	{"chatgpt", "OpenAI"},
	{"anthropic", "Anthropic"},
	{"claude", "Anthropic"},
	{"google", "Google"},
	{"gemini", "Google"},
	{"microsoft", "Microsoft"},
	{"bing", "Microsoft"},
	{"meta", "Meta"},
	{"facebook", "Meta"},
	{"amazon", "Amazon"},
	{"apple", "Apple"},
}

var tier2Companies = []company{
	{"cohere", "Cohere"},
	{"mistral", "Mistral"},
	{"perplexity", "Perplexity"},
	{"ai21", "AI21 Labs"},
	{"huggingface", "Hugging Face"},
	{"stability", "Stability AI"},
	{"bytespider", "ByteDance"},
	{"bytedance", "ByteDance"},
	{"you.com", "You.com"},
}

var (
	trainingHints = []string{"bot", "crawler", "spider", "scraper"}
	ragHints      = []string{"search", "api"}
)

// ClassifyPartner maps a client identifier (name, user agent or domain) to a
// partner tier. Research institutions are checked before company lists.
func ClassifyPartner(identifier string) model.PartnerType {
	id := strings.ToLower(identifier)
	if researchPattern.MatchString(id) {
		return model.PartnerResearch
	}
	if lookupCompany(tier1Companies, id) != "" {
		return model.PartnerTier1AI
	}
	if lookupCompany(tier2Companies, id) != "" {
		return model.PartnerTier2AI
	}
	return model.PartnerStartup
}

// NormalizePartnerName returns the canonical company name for a known
// identifier, or nil when the identifier matches no listed company.
func NormalizePartnerName(identifier string) *string {
	id := strings.ToLower(identifier)
	name := lookupCompany(tier1Companies, id)
	if name == "" {
		name = lookupCompany(tier2Companies, id)
	}
	if name == "" {
		return nil
	}
	return &name
}

// InferLicenseType guesses the license a client needs from its identifier.
func InferLicenseType(identifier string) string {
	id := strings.ToLower(identifier)
	for _, h := range trainingHints {
		if strings.Contains(id, h) {
			return model.LicenseTraining
		}
	}
	for _, h := range ragHints {
		if strings.Contains(id, h) {
			return model.LicenseRAGUnrestricted
		}
	}
	return model.LicenseRAGUnrestricted
}

func lookupCompany(list []company, id string) string {
	for _, c := range list {
		if strings.Contains(id, c.keyword) {
			return c.canonical
		}
	}
	return ""
}
