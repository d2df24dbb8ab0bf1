package normalize

const unknownBand = "Unknown"

type band struct {
	upTo  int
	label string
}

var sizeBands = []band{
	{10, "1-10"},
	{50, "11-50"},
	{200, "51-200"},
	{500, "201-500"},
	{1000, "501-1000"},
}

// Revenue bands are a headcount proxy, not reported financials.
var revenueBands = []band{
	{10, "$0-1M"},
	{50, "$1M-10M"},
	{200, "$10M-50M"},
	{500, "$50M-100M"},
	{1000, "$100M-500M"},
}

// SizeBand maps a headcount to its company-size band.
func SizeBand(employees int) string {
	return lookupBand(sizeBands, "1000+", employees)
}

// RevenueBand estimates a revenue band from headcount alone.
func RevenueBand(employees int) string {
	return lookupBand(revenueBands, "$500M+", employees)
}

func lookupBand(bands []band, top string, employees int) string {
	if employees <= 0 {
		return unknownBand
	}
	for _, b := range bands {
		if employees <= b.upTo {
			return b.label
		}
	}
	return top
}
