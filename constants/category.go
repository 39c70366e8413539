package constants

import (
	"strings"
)

type Category string

const (
	Utilities            Category = "Utilities"
	Rent                 Category = "Rent"
	Groceries            Category = "Groceries"
	FoodAndDining        Category = "FoodAndDining"
	Travel               Category = "Travel"
	Fuel                 Category = "Fuel"
	Telecom              Category = "Telecom"
	OfficeSupplies       Category = "OfficeSupplies"
	SoftwareSubscription Category = "SoftwareSubscription"
	ProfessionalServices Category = "ProfessionalServices"
	Healthcare           Category = "Healthcare"
	Insurance            Category = "Insurance"
	Taxes                Category = "Taxes"
	Other                Category = "Other"
)

var allCategories = []Category{
	Utilities,
	Rent,
	Groceries,
	FoodAndDining,
	Travel,
	Fuel,
	Telecom,
	OfficeSupplies,
	SoftwareSubscription,
	ProfessionalServices,
	Healthcare,
	Insurance,
	Taxes,
	Other,
}

var categorySynonyms = map[string]Category{
	"electricity":   Utilities,
	"water":         Utilities,
	"gas":           Utilities,
	"utility":       Utilities,
	"food":          FoodAndDining,
	"restaurant":    FoodAndDining,
	"meals":         FoodAndDining,
	"dining":        FoodAndDining,
	"grocery":       Groceries,
	"cab":           Travel,
	"taxi":          Travel,
	"uber":          Travel,
	"ola":           Travel,
	"airline":       Travel,
	"flight":        Travel,
	"hotel":         Travel,
	"train":         Travel,
	"petrol":        Fuel,
	"diesel":        Fuel,
	"mobile":        Telecom,
	"phone":         Telecom,
	"internet":      Telecom,
	"broadband":     Telecom,
	"saas":          SoftwareSubscription,
	"subscription":  SoftwareSubscription,
	"software":      SoftwareSubscription,
	"stationery":    OfficeSupplies,
	"consulting":    ProfessionalServices,
	"legal":         ProfessionalServices,
	"medical":       Healthcare,
	"pharmacy":      Healthcare,
	"hospital":      Healthcare,
	"gst":           Taxes,
	"tax":           Taxes,
	"premium":       Insurance,
	"food & dining": FoodAndDining,
}

func AsStringSlice() []string {
	result := make([]string, len(allCategories))
	for i, cat := range allCategories {
		result[i] = string(cat)
	}
	return result
}

// Canonicalize maps a free-form category to a known one. The bool is false when nothing matched.
func Canonicalize(input string) (Category, bool) {
	normalized := strings.ToLower(strings.TrimSpace(input))
	if normalized == "" {
		return Other, false
	}

	if cat, ok := categorySynonyms[normalized]; ok {
		return cat, true
	}

	compact := strings.NewReplacer(" ", "", "_", "", "-", "", "&", "and").Replace(normalized)
	for _, cat := range allCategories {
		if compact == strings.ToLower(string(cat)) {
			return cat, true
		}
	}

	return Other, false
}
