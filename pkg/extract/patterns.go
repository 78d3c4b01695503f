package extract

import "regexp"

// Field-matching patterns for the detail page.
var (
	certIDRe    = regexp.MustCompile(`[A-Za-z0-9-]+\d+-[A-Za-z0-9-]+`)
	dateRe      = regexp.MustCompile(`\d{4}[-/.]\d{1,2}[-/.]\d{1,2}`)
	versionRe   = regexp.MustCompile(`v?\d+(\.\d+)+`)
	hexIDRe     = regexp.MustCompile(`0x[0-9A-Fa-f]+`)
	decimalIDRe = regexp.MustCompile(`\b\d{4,6}\b`)
)

// deviceTypeVocabulary is scanned against full page text when neither the
// label nor the category link resolves a type. Order matters: more
// specific terms come first.
var deviceTypeVocabulary = []string{
	"smartwatch", "earbuds", "headset", "headphones", "speaker",
	"soundbar", "keyboard", "mouse", "gamepad", "wearable", "tracker",
	"thermostat", "doorbell", "camera", "sensor", "charger", "adapter",
	"dongle", "router", "gateway", "hub", "lock", "light",
}

// knownBrands is matched as substrings against the page title when no
// manufacturer label exists.
var knownBrands = []string{
	"Samsung", "Apple", "Sony", "LG", "Bose", "JBL", "Logitech",
	"Anker", "Xiaomi", "Huawei", "Belkin", "Philips", "Garmin",
	"Lenovo", "Dell", "HP", "Asus", "Acer", "Sennheiser", "Jabra",
}
