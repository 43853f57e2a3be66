package apply

import "strings"

// Photo-request phrases per language. The AI drafts these organically, so
// detection is a keyword scan over the reply text, not an AI flag.
var photoRequestKeywords = map[string][]string{
	"en": {
		"send photos", "send a photo", "send me photos", "share photos",
		"photos of your", "picture of your scalp", "pictures of your head",
		"can you send", "could you share some photos",
	},
	"tr": {
		"fotoğraf gönder", "fotoğraflarını", "fotoğraf paylaş",
		"saç fotoğrafı", "fotoğraf çekip", "fotoğraflarınızı",
	},
	"de": {
		"fotos senden", "fotos schicken", "fotos von ihrer kopfhaut",
		"bilder schicken", "fotos teilen",
	},
}

// isPhotoRequest reports whether a drafted reply asks the patient for photos.
func isPhotoRequest(reply, language string) bool {
	normalized := strings.ToLower(reply)
	for _, keyword := range keywordsFor(language) {
		if strings.Contains(normalized, keyword) {
			return true
		}
	}
	return false
}

func keywordsFor(language string) []string {
	if keywords, ok := photoRequestKeywords[language]; ok {
		return keywords
	}
	return photoRequestKeywords["en"]
}

// photoTemplateText is the structured photo instruction sent instead of the
// AI's organic ask, once the profile justifies requesting photos.
func photoTemplateText(language string) string {
	switch language {
	case "tr":
		return "Harika! Değerlendirme için şu açılardan fotoğraflarınıza ihtiyacımız var:\n" +
			"1. Önden (saç çizgisi görünecek şekilde)\n" +
			"2. Tepeden\n" +
			"3. Arkadan\n" +
			"4. Yanlardan\n" +
			"Fotoğrafları gün ışığında, flaşsız çekmeniz yeterli."
	case "de":
		return "Super! Für die Einschätzung benötigen wir Fotos aus folgenden Winkeln:\n" +
			"1. Von vorne (Haarlinie sichtbar)\n" +
			"2. Von oben\n" +
			"3. Von hinten\n" +
			"4. Von den Seiten\n" +
			"Bitte bei Tageslicht und ohne Blitz fotografieren."
	default:
		return "Great! For the assessment we need photos from these angles:\n" +
			"1. Front (hairline visible)\n" +
			"2. Top\n" +
			"3. Back\n" +
			"4. Sides\n" +
			"Daylight and no flash works best."
	}
}

func handoffNoticeText(language string) string {
	switch language {
	case "tr":
		return "Sizi bir uzmanımıza aktarıyorum, en kısa sürede sizinle iletişime geçecek."
	case "de":
		return "Ich verbinde Sie mit einem unserer Spezialisten, der sich in Kürze bei Ihnen meldet."
	default:
		return "I'm connecting you with one of our specialists, who will be in touch with you shortly."
	}
}
