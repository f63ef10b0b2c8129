package reminder

import "net/url"

const utmPrefix = "fxa-"

// campaign names per email template
var templateCampaigns = map[string]string{
	"verificationReminderFirstEmail":  "hello-again",
	"verificationReminderSecondEmail": "still-there",
	"verificationReminderEmail":       "hello-again",
}

// LinkBuilder produces tracked links for reminder emails.
type LinkBuilder struct {
	VerificationURL string
	SupportURL      string
	PrivacyURL      string
}

// Links carries every URL a reminder template needs.
type Links struct {
	Link        string
	Alternative string
	OneClick    string
	Privacy     string
	Support     string
}

// UTMLink appends the email UTM parameters to base. query is not modified.
func (b LinkBuilder) UTMLink(base string, query url.Values, template, context string) string {
	q := url.Values{}
	for k, v := range query {
		q[k] = append([]string(nil), v...)
	}

	q.Set("utm_source", "email")
	q.Set("utm_medium", "email")

	if campaign, ok := templateCampaigns[template]; ok && q.Get("utm_campaign") == "" {
		q.Set("utm_campaign", utmPrefix+campaign)
	}
	if context != "" {
		q.Set("utm_context", utmPrefix+context)
	}

	return base + "?" + q.Encode()
}

// ReminderLinks builds the verification, support and privacy links for msg.
func (b LinkBuilder) ReminderLinks(msg *Message, template string) Links {
	query := url.Values{}
	query.Set("uid", msg.UID)
	query.Set("code", msg.Code)
	if msg.Type != "" {
		query.Set("reminder", string(msg.Type))
	}

	links := Links{
		Link:        b.UTMLink(b.VerificationURL, query, template, "activate"),
		Alternative: b.UTMLink(b.VerificationURL, query, template, "activate-alternative"),
		Privacy:     b.UTMLink(b.PrivacyURL, nil, template, "privacy"),
		Support:     b.UTMLink(b.SupportURL, nil, template, "support"),
	}

	query.Set("one_click", "true")
	links.OneClick = b.UTMLink(b.VerificationURL, query, template, "activate-oneclick")

	return links
}
