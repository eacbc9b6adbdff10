package sender

import (
	"regexp"
	"strings"
)

// SourceApp enumerates the messaging apps with a dedicated extraction rule.
type SourceApp int

const (
	// SourceAppUnknown is any package without a rule; it yields no sender.
	SourceAppUnknown SourceApp = iota
	SourceAppGmail
	SourceAppWhatsApp
	SourceAppFacebook
	SourceAppMessenger
	SourceAppTwitter
	SourceAppInstagram
	SourceAppLinkedIn
	SourceAppMessages
	SourceAppOutlook
	SourceAppSlack
	SourceAppTelegram
)

// MailPackage identifies the mail app whose sender gets the owner's address prepended.
const MailPackage = "com.google.android.gm"

var packageApps = map[string]SourceApp{
	MailPackage:                         SourceAppGmail,
	"com.whatsapp":                      SourceAppWhatsApp,
	"com.facebook.katana":               SourceAppFacebook,
	"com.facebook.orca":                 SourceAppMessenger,
	"com.twitter.android":               SourceAppTwitter,
	"com.instagram.android":             SourceAppInstagram,
	"com.linkedin.android":              SourceAppLinkedIn,
	"com.google.android.apps.messaging": SourceAppMessages,
	"com.microsoft.office.outlook":      SourceAppOutlook,
	"com.slack":                         SourceAppSlack,
	"org.telegram.messenger":            SourceAppTelegram,
}

type rule func(title, body string) string

var rules = map[SourceApp]rule{
	SourceAppUnknown:   func(string, string) string { return "" },
	SourceAppGmail:     mailSender,
	SourceAppWhatsApp:  splitSender(" @ "),
	SourceAppFacebook:  passThrough,
	SourceAppMessenger: passThrough,
	SourceAppTwitter:   colonSender,
	SourceAppInstagram: passThrough,
	SourceAppLinkedIn:  passThrough,
	SourceAppMessages:  passThrough,
	SourceAppOutlook:   dashOrEmailSender,
	SourceAppSlack:     splitSender(" in "),
	SourceAppTelegram:  passThrough,
}

var (
	colonPattern   = regexp.MustCompile(`(.+):`)
	dashPattern    = regexp.MustCompile(`(.+) - `)
	fromPattern    = regexp.MustCompile(`(?i)(?:new messages from|message from) (.+)`)
	emailPattern   = regexp.MustCompile(`([a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,})`)
	andMorePattern = regexp.MustCompile(`(.+), (.+), and (\d+) more`)
)

// AppFor resolves a package identifier to its SourceApp.
func AppFor(packageName string) SourceApp {
	if app, ok := packageApps[packageName]; ok {
		return app
	}
	return SourceAppUnknown
}

// Extract returns the best-effort sender for a notification, or "" when the
// source app has no rule.
func Extract(packageName, title, body string) string {
	return rules[AppFor(packageName)](title, body)
}

// Describe returns the sender string stored with a notification. Mail
// notifications carry the owner's own address as context.
func Describe(packageName, title, body, ownerEmail string) string {
	extracted := Extract(packageName, title, body)
	if packageName == MailPackage && ownerEmail != "" {
		return "From: " + ownerEmail + " - " + extracted
	}
	return extracted
}

func passThrough(title, _ string) string {
	return title
}

func splitSender(separator string) rule {
	return func(title, _ string) string {
		if !strings.Contains(title, separator) {
			return title
		}
		parts := strings.Split(title, separator)
		if len(parts) < 2 {
			return title
		}
		return parts[0] + " (" + parts[1] + ")"
	}
}

func colonSender(title, _ string) string {
	if match := colonPattern.FindStringSubmatch(title); match != nil {
		return strings.TrimSpace(match[1])
	}
	return title
}

func dashOrEmailSender(title, body string) string {
	if match := dashPattern.FindStringSubmatch(title); match != nil {
		return strings.TrimSpace(match[1])
	}
	if address := firstEmail(body); address != "" {
		return address
	}
	return title
}

func mailSender(title, body string) string {
	if match := dashPattern.FindStringSubmatch(title); match != nil {
		return strings.TrimSpace(match[1])
	}
	if match := fromPattern.FindStringSubmatch(body); match != nil {
		return strings.TrimSpace(match[1])
	}
	if address := firstEmail(body); address != "" {
		return address
	}
	if match := andMorePattern.FindStringSubmatch(title); match != nil {
		return match[1] + ", " + match[2] + ", and " + match[3] + " more"
	}
	if strings.Contains(title, "@") || !strings.Contains(title, " - ") {
		return title
	}
	return ""
}

func firstEmail(body string) string {
	if match := emailPattern.FindStringSubmatch(body); match != nil {
		return strings.TrimSpace(match[1])
	}
	return ""
}
