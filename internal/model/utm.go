package model

import "net/url"

// UTMAttribution holds the campaign tags captured on the first landing visit.
type UTMAttribution struct {
	Source   string `json:"utm_source"`
	Medium   string `json:"utm_medium"`
	Campaign string `json:"utm_campaign"`
	Content  string `json:"utm_content"`
	Term     string `json:"utm_term"`
}

// UTMFromQuery reads utm_* parameters from a landing URL. Meta ad links carry
// hsa_cam, hsa_ad and hsa_grp instead of custom tags, so those fill campaign,
// content and term when the utm_ value is missing.
func UTMFromQuery(q url.Values) UTMAttribution {
	return UTMAttribution{
		Source:   q.Get("utm_source"),
		Medium:   q.Get("utm_medium"),
		Campaign: firstNonEmpty(q.Get("utm_campaign"), q.Get("hsa_cam")),
		Content:  firstNonEmpty(q.Get("utm_content"), q.Get("hsa_ad")),
		Term:     firstNonEmpty(q.Get("utm_term"), q.Get("hsa_grp")),
	}
}

// IsZero reports whether every tag is empty.
func (u UTMAttribution) IsZero() bool {
	return u == UTMAttribution{}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
