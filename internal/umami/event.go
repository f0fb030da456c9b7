// Package umami emits synthesized events in the Umami analytics import
// schema. It assigns website/session/visit/event identifiers, converts
// within-hour offsets into absolute timestamps, and writes CSV or SQLite
// output.
package umami

import (
	"strconv"
	"time"
)

// EventType values used by Umami.
const (
	TypePageview = 1
	TypeCustom   = 2
)

// Event is one row of the Umami website_event import schema. Empty string
// fields serialize as NULL (blank in CSV, NULL in SQLite).
type Event struct {
	WebsiteID string
	SessionID string
	VisitID   string
	EventID   string

	Hostname string
	Browser  string
	OS       string
	Device   string
	Screen   string
	Language string
	Country  string
	Region   string
	City     string

	URLPath        string
	URLQuery       string
	UTMSource      string
	UTMMedium      string
	UTMCampaign    string
	UTMContent     string
	UTMTerm        string
	ReferrerPath   string
	ReferrerQuery  string
	ReferrerDomain string
	PageTitle      string

	GClID   string
	FBClID  string
	MSClkID string
	TTClID  string
	LIFatID string
	TwClID  string

	EventType  int
	EventName  string
	Tag        string
	DistinctID string
	CreatedAt  time.Time
}

// Header is the import column order, matching Umami's website_event schema.
var Header = []string{
	"website_id", "session_id", "visit_id", "event_id",
	"hostname", "browser", "os", "device", "screen", "language",
	"country", "region", "city",
	"url_path", "url_query", "utm_source", "utm_medium", "utm_campaign",
	"utm_content", "utm_term", "referrer_path", "referrer_query",
	"referrer_domain", "page_title",
	"gclid", "fbclid", "msclkid", "ttclid", "li_fat_id", "twclid",
	"event_type", "event_name", "tag", "distinct_id", "created_at",
}

// timestampLayout matches the ISO-8601 UTC format Umami expects.
const timestampLayout = "2006-01-02T15:04:05Z"

// Record renders the event as CSV fields in Header order.
func (e Event) Record() []string {
	return []string{
		e.WebsiteID, e.SessionID, e.VisitID, e.EventID,
		e.Hostname, e.Browser, e.OS, e.Device, e.Screen, e.Language,
		e.Country, e.Region, e.City,
		e.URLPath, e.URLQuery, e.UTMSource, e.UTMMedium, e.UTMCampaign,
		e.UTMContent, e.UTMTerm, e.ReferrerPath, e.ReferrerQuery,
		e.ReferrerDomain, e.PageTitle,
		e.GClID, e.FBClID, e.MSClkID, e.TTClID, e.LIFatID, e.TwClID,
		strconv.Itoa(e.EventType), e.EventName, e.Tag, e.DistinctID,
		e.CreatedAt.UTC().Format(timestampLayout),
	}
}
