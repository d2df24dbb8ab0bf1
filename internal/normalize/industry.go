package normalize

import (
	"regexp"
	"strings"

	"github.com/sells-group/prospect-engine/pkg/apollo"
)

// Industry labels.
const (
	IndustryTechnology     = "Technology"
	IndustryFinance        = "Financial Services"
	IndustryHealthcare     = "Healthcare"
	IndustryManufacturing  = "Manufacturing"
	IndustryRetail         = "Retail & Consumer"
	IndustryRealEstate     = "Real Estate"
	IndustryConstruction   = "Construction"
	IndustryEnergy         = "Energy & Utilities"
	IndustryTransportation = "Transportation & Logistics"
	IndustryEducation      = "Education"
	IndustryProfessional   = "Professional Services"
	IndustryMedia          = "Media & Telecommunications"
	IndustryHospitality    = "Hospitality"
	IndustryAgriculture    = "Agriculture"
	IndustryGovernment     = "Government & Nonprofit"
	IndustryOther          = "Other"
)

// sicIndustry maps SIC codes and prefixes (4, 3 or 2 digits) to an industry.
// Longer keys are tried first.
var sicIndustry = map[string]string{
	// Specific codes that the major group would misfile.
	"7371": IndustryTechnology, // Computer Programming Services
	"7372": IndustryTechnology, // Prepackaged Software
	"7373": IndustryTechnology, // Computer Integrated Systems Design
	"7374": IndustryTechnology, // Computer Processing, Data Preparation
	"3571": IndustryTechnology, // Electronic Computers
	"3572": IndustryTechnology, // Computer Storage Devices
	"3674": IndustryTechnology, // Semiconductors
	"4911": IndustryEnergy,     // Electric Services
	"4922": IndustryEnergy,     // Natural Gas Transmission
	"4924": IndustryEnergy,     // Natural Gas Distribution
	"6798": IndustryRealEstate, // Real Estate Investment Trusts

	"737": IndustryTechnology, // Computer and Data Processing Services
	"283": IndustryHealthcare, // Drugs
	"384": IndustryHealthcare, // Surgical, Medical and Dental Instruments
	"581": IndustryHospitality,

	"01": IndustryAgriculture,
	"02": IndustryAgriculture,
	"07": IndustryAgriculture,
	"08": IndustryAgriculture,
	"09": IndustryAgriculture,
	"10": IndustryEnergy,
	"12": IndustryEnergy,
	"13": IndustryEnergy,
	"14": IndustryEnergy,
	"15": IndustryConstruction,
	"16": IndustryConstruction,
	"17": IndustryConstruction,
	"20": IndustryManufacturing,
	"22": IndustryManufacturing,
	"23": IndustryManufacturing,
	"24": IndustryManufacturing,
	"25": IndustryManufacturing,
	"26": IndustryManufacturing,
	"27": IndustryMedia,
	"28": IndustryManufacturing,
	"29": IndustryEnergy,
	"30": IndustryManufacturing,
	"31": IndustryManufacturing,
	"32": IndustryManufacturing,
	"33": IndustryManufacturing,
	"34": IndustryManufacturing,
	"35": IndustryManufacturing,
	"36": IndustryManufacturing,
	"37": IndustryManufacturing,
	"38": IndustryManufacturing,
	"39": IndustryManufacturing,
	"40": IndustryTransportation,
	"41": IndustryTransportation,
	"42": IndustryTransportation,
	"44": IndustryTransportation,
	"45": IndustryTransportation,
	"46": IndustryTransportation,
	"47": IndustryTransportation,
	"48": IndustryMedia,
	"49": IndustryEnergy,
	"50": IndustryRetail,
	"51": IndustryRetail,
	"52": IndustryRetail,
	"53": IndustryRetail,
	"54": IndustryRetail,
	"55": IndustryRetail,
	"56": IndustryRetail,
	"57": IndustryRetail,
	"58": IndustryHospitality,
	"59": IndustryRetail,
	"60": IndustryFinance,
	"61": IndustryFinance,
	"62": IndustryFinance,
	"63": IndustryFinance,
	"64": IndustryFinance,
	"65": IndustryRealEstate,
	"67": IndustryFinance,
	"70": IndustryHospitality,
	"72": IndustryProfessional,
	"73": IndustryProfessional,
	"78": IndustryMedia,
	"79": IndustryHospitality,
	"80": IndustryHealthcare,
	"81": IndustryProfessional,
	"82": IndustryEducation,
	"83": IndustryGovernment,
	"84": IndustryGovernment,
	"86": IndustryGovernment,
	"87": IndustryProfessional,
	"89": IndustryProfessional,
	"91": IndustryGovernment,
	"92": IndustryGovernment,
	"93": IndustryGovernment,
	"94": IndustryGovernment,
	"95": IndustryGovernment,
	"96": IndustryGovernment,
	"97": IndustryGovernment,
}

// industryOrder fixes iteration order, which also breaks keyword-score ties.
var industryOrder = []string{
	IndustryTechnology,
	IndustryFinance,
	IndustryHealthcare,
	IndustryManufacturing,
	IndustryRetail,
	IndustryRealEstate,
	IndustryConstruction,
	IndustryEnergy,
	IndustryTransportation,
	IndustryEducation,
	IndustryProfessional,
	IndustryMedia,
	IndustryHospitality,
	IndustryAgriculture,
	IndustryGovernment,
}

var industryKeywords = map[string][]string{
	IndustryTechnology:     {"software", "saas", "cloud", "technology", "tech", "data", "analytics", "ai", "machine learning", "cybersecurity", "it services", "platform", "digital", "app", "computer"},
	IndustryFinance:        {"bank", "banking", "capital", "financial", "finance", "fintech", "insurance", "investment", "investments", "wealth", "credit", "lending", "payments", "asset management"},
	IndustryHealthcare:     {"health", "healthcare", "medical", "hospital", "clinic", "pharma", "pharmaceutical", "biotech", "dental", "therapy", "care"},
	IndustryManufacturing:  {"manufacturing", "industrial", "factory", "machinery", "fabrication", "chemicals", "plastics", "automotive", "aerospace"},
	IndustryRetail:         {"retail", "ecommerce", "e-commerce", "store", "shop", "consumer", "apparel", "fashion", "wholesale", "distribution"},
	IndustryRealEstate:     {"real estate", "realty", "property", "properties", "homes", "mortgage", "leasing"},
	IndustryConstruction:   {"construction", "contractor", "contractors", "builders", "building", "engineering", "roofing", "plumbing", "hvac"},
	IndustryEnergy:         {"energy", "oil", "gas", "solar", "renewable", "utilities", "utility", "power", "electric", "mining"},
	IndustryTransportation: {"logistics", "transportation", "trucking", "freight", "shipping", "supply chain", "airline", "fleet", "delivery"},
	IndustryEducation:      {"education", "school", "university", "college", "academy", "learning", "edtech", "training"},
	IndustryProfessional:   {"consulting", "consultants", "legal", "law", "accounting", "advisory", "staffing", "recruiting", "agency", "marketing", "services"},
	IndustryMedia:          {"media", "publishing", "broadcasting", "telecom", "telecommunications", "wireless", "entertainment", "news", "studio"},
	IndustryHospitality:    {"hospitality", "hotel", "hotels", "restaurant", "restaurants", "travel", "tourism", "catering", "food service"},
	IndustryAgriculture:    {"agriculture", "farm", "farms", "farming", "agritech", "crops", "livestock"},
	IndustryGovernment:     {"government", "nonprofit", "non-profit", "foundation", "association", "public sector", "municipal", "charity"},
}

var industryPatterns = compileKeywords(industryKeywords)

func compileKeywords(m map[string][]string) map[string][]*regexp.Regexp {
	out := make(map[string][]*regexp.Regexp, len(m))
	for industry, kws := range m {
		for _, kw := range kws {
			out[industry] = append(out[industry], regexp.MustCompile(`(?i)\b`+regexp.QuoteMeta(kw)+`\b`))
		}
	}
	return out
}

// ClassifyIndustry resolves an organization's industry from its SIC codes,
// then from keywords in its name and description, else "Other".
func ClassifyIndustry(org *apollo.Organization) string {
	if org == nil {
		return IndustryOther
	}
	if ind := IndustryFromSIC(org.SICCodes); ind != "" {
		return ind
	}
	desc := strings.TrimSpace(org.ShortDescription + " " + org.Industry)
	if ind := IndustryFromKeywords(org.Name, desc); ind != "" {
		return ind
	}
	return IndustryOther
}

// IndustryFromSIC returns the industry of the first code that matches the
// table exactly or by 3- or 2-digit prefix.
func IndustryFromSIC(codes []string) string {
	for _, c := range codes {
		c = NormalizeSIC(c)
		if len(c) < 2 {
			continue
		}
		for _, n := range []int{4, 3, 2} {
			if len(c) < n {
				continue
			}
			if ind, ok := sicIndustry[c[:n]]; ok {
				return ind
			}
		}
	}
	return ""
}

// NormalizeSIC strips non-digits and zero-pads to 4 digits.
func NormalizeSIC(code string) string {
	var b strings.Builder
	for _, r := range code {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	code = b.String()
	if code == "" {
		return ""
	}
	for len(code) < 4 {
		code = "0" + code
	}
	return code
}

// IndustryFromKeywords scores every industry: a keyword found in name counts
// 2, found in description counts 1. The highest total wins; ties go to the
// industry listed first. Empty when nothing matches.
func IndustryFromKeywords(name, description string) string {
	best, bestScore := "", 0
	for _, industry := range industryOrder {
		score := 0
		for _, re := range industryPatterns[industry] {
			if name != "" && re.MatchString(name) {
				score += 2
			}
			if description != "" && re.MatchString(description) {
				score++
			}
		}
		if score > bestScore {
			best, bestScore = industry, score
		}
	}
	return best
}
