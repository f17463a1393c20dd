package rates

// displayNames maps bank codes to human-readable names for notifications.
var displayNames = map[string]string{
	OfficialBankCode: "Central Bank",
	"nbu":            "National Bank",
	"asakabank":      "Asakabank",
	"xalqbank":       "Xalq Banki",
	"ipotekabank":    "Ipoteka Bank",
	"agrobank":       "Agrobank",
	"aloqabank":      "Aloqabank",
	"kapitalbank":    "Kapitalbank",
	"uzumbank":       "Uzum Bank",
	"hamkorbank":     "Hamkorbank",
	"infinbank":      "Infinbank",
	"davr":           "Davr Bank",
	"orientfinans":   "Orient Finans",
	"anorbank":       "Anorbank",
	"tbc":            "TBC Bank",
	"ipak":           "Ipak Yo'li",
	"trustbank":      "Trustbank",
}

// BankName returns the display name for a bank code, or the code itself.
func BankName(code string) string {
	if name, ok := displayNames[code]; ok {
		return name
	}
	return code
}
