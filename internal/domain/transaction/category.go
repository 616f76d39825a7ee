package transaction

import "strings"

// CategoryLabels maps aggregator category codes to the labels shown on the dashboard.
var CategoryLabels = map[string]string{
	"auto_and_transport":   "Transport",
	"bills_and_utilities":  "Factures",
	"business_services":    "Services professionnels",
	"education":            "Éducation",
	"entertainment":        "Loisirs",
	"fees_and_charges":     "Frais bancaires",
	"food_and_dining":      "Restaurants",
	"gifts_and_donations":  "Dons et cadeaux",
	"health_and_fitness":   "Santé",
	"home":                 "Logement",
	"income":               "Revenus",
	"insurance":            "Assurances",
	"kids":                 "Enfants",
	"pets":                 "Animaux",
	"personal_care":        "Soins personnels",
	"shopping":             "Achats",
	"taxes":                "Impôts",
	"transfer":             "Virements",
	"travel":               "Voyages",
	"uncategorized":        "Non catégorisé",
	"groceries":            "Courses",
	"rent":                 "Loyer",
	"salary":               "Salaire",
	"atm":                  "Retraits",
	"investment":           "Investissements",
	"loans":                "Prêts",
	"mortgage":             "Crédit immobilier",
	"phone_and_internet":   "Téléphone et internet",
	"subscriptions":        "Abonnements",
	"other_income":         "Autres revenus",
	"other_expenses":       "Autres dépenses",
	"cash_withdrawal":      "Retraits",
	"refunds":              "Remboursements",
	"public_transport":     "Transports en commun",
	"fuel":                 "Carburant",
	"parking":              "Stationnement",
	"restaurants":          "Restaurants",
	"clothing":             "Vêtements",
	"electronics_software": "Électronique",
}

// CategoryLabel returns the display label for a category code. Unknown codes
// are shown with underscores replaced by spaces.
func CategoryLabel(code string) string {
	if code == "" {
		return CategoryLabels["uncategorized"]
	}
	if label, ok := CategoryLabels[code]; ok {
		return label
	}
	return strings.ReplaceAll(code, "_", " ")
}
