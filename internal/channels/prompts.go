package channels

import "fmt"

// Localized one-shot prompts shared by all adapters. Channels that have no
// native button/flow primitives fall back to these plain-text versions.

func consentPromptText(language, consentLinkURL string) string {
	switch language {
	case "tr":
		return fmt.Sprintf("Devam edebilmemiz için sağlık verilerinizin işlenmesine onay vermeniz gerekiyor. Onaylıyorsanız \"evet\" yazabilir veya şu bağlantıyı kullanabilirsiniz: %s", consentLinkURL)
	case "de":
		return fmt.Sprintf("Bevor wir fortfahren, benötigen wir Ihre Einwilligung zur Verarbeitung Ihrer Gesundheitsdaten. Antworten Sie mit \"ja\" oder nutzen Sie diesen Link: %s", consentLinkURL)
	default:
		return fmt.Sprintf("Before we continue, we need your consent to process your health data. Reply \"yes\" to agree, or use this link: %s", consentLinkURL)
	}
}

func flowPromptText(language, formURL string) string {
	switch language {
	case "tr":
		return fmt.Sprintf("Size en iyi şekilde yardımcı olabilmemiz için kısa formumuzu doldurabilir ya da sorularımı burada yanıtlayabilirsiniz: %s", formURL)
	case "de":
		return fmt.Sprintf("Damit wir Ihnen bestmöglich helfen können, füllen Sie gern unser kurzes Formular aus oder beantworten Sie meine Fragen hier im Chat: %s", formURL)
	default:
		return fmt.Sprintf("To help you best, you can fill in our short form or simply answer my questions here in the chat: %s", formURL)
	}
}
