package constants

import (
	"strings"
)

type Category string

const (
	Contract     Category = "Contract"
	Invoice      Category = "Invoice"
	Quotation    Category = "Quotation"
	DeliveryNote Category = "DeliveryNote"
	Receipt      Category = "Receipt"
	Report       Category = "Report"
	Minutes      Category = "Minutes"
	Notice       Category = "Notice"
	Application  Category = "Application"
	Certificate  Category = "Certificate"
	Resume       Category = "Resume"
	Letter       Category = "Letter"
	Other        Category = "Other"
)

var allCategories = []Category{
	Contract,
	Invoice,
	Quotation,
	DeliveryNote,
	Receipt,
	Report,
	Minutes,
	Notice,
	Application,
	Certificate,
	Resume,
	Letter,
	Other,
}

func AsStringSlice() []string {
	result := make([]string, len(allCategories))
	for i, cat := range allCategories {
		result[i] = string(cat)
	}
	return result
}

// Canonicalize maps a free-form category onto the taxonomy.
// The bool is false when the input had to fall back to Other.
func Canonicalize(input string) (Category, bool) {
	if input == "" {
		return Other, false
	}

	normalized := strings.ToLower(strings.TrimSpace(input))

	// synonyms map
	synonyms := map[string]Category{
		"agreement":        Contract,
		"nda":              Contract,
		"契約書":              Contract,
		"bill":             Invoice,
		"請求書":              Invoice,
		"quote":            Quotation,
		"estimate":         Quotation,
		"見積書":              Quotation,
		"delivery note":    DeliveryNote,
		"delivery slip":    DeliveryNote,
		"納品書":              DeliveryNote,
		"領収書":              Receipt,
		"報告書":              Report,
		"meeting minutes":  Minutes,
		"議事録":              Minutes,
		"announcement":     Notice,
		"通知書":              Notice,
		"application form": Application,
		"申請書":              Application,
		"certificate":      Certificate,
		"証明書":              Certificate,
		"cv":               Resume,
		"履歴書":              Resume,
		"correspondence":   Letter,
		"その他":              Other,
	}

	if cat, ok := synonyms[normalized]; ok {
		return cat, true
	}

	// check if it matches any category string
	for _, cat := range allCategories {
		if normalized == strings.ToLower(string(cat)) {
			return cat, true
		}
	}

	return Other, false
}
