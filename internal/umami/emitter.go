package umami

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/adamwulf/fathom-to-umami/internal/constraint"
	"github.com/adamwulf/fathom-to-umami/internal/fathom"
	"github.com/adamwulf/fathom-to-umami/internal/visit"
)

// Emitter turns partitioned visits into Umami events. One emitter serves a
// whole run; every event it produces shares the same website ID.
type Emitter struct {
	websiteID string
	hostname  string
	language  string
}

// NewEmitter creates an emitter. Empty websiteID generates a fresh UUID;
// hostname should be the site origin (see InferHostname); empty language
// defaults to en-US.
func NewEmitter(websiteID, hostname, language string) *Emitter {
	if websiteID == "" {
		websiteID = uuid.NewString()
	}
	if language == "" {
		language = "en-US"
	}
	return &Emitter{websiteID: websiteID, hostname: hostname, language: language}
}

// WebsiteID returns the website identifier stamped on every event.
func (e *Emitter) WebsiteID() string { return e.websiteID }

// HourEvents materializes one hour's visits and custom events. Each visit
// becomes one session/visit ID pair; each pageview stub becomes a pageview
// event at hour+offset. Custom events get fresh IDs and sit at the hour
// boundary, as the source data carries no finer timing for them.
func (e *Emitter) HourEvents(hour time.Time, visits []visit.Visit, custom []fathom.CustomEvent) []Event {
	var out []Event
	for _, v := range visits {
		sessionID := uuid.NewString()
		visitID := uuid.NewString()
		for _, page := range v.Pages {
			ev := Event{
				WebsiteID: e.websiteID,
				SessionID: sessionID,
				VisitID:   visitID,
				EventID:   uuid.NewString(),

				Hostname: e.hostname,
				Browser:  page.Tuple[constraint.Browser],
				OS:       InferOS(page.Tuple[constraint.Browser]),
				Device:   page.Tuple[constraint.Device],
				Screen:   InferScreen(page.Tuple[constraint.Device]),
				Language: e.language,
				Country:  page.Tuple[constraint.Country],

				URLPath:   page.Tuple[constraint.Page],
				EventType: TypePageview,
				EventName: "pageview",
				CreatedAt: hour.Add(time.Duration(page.Offset * float64(time.Second))),
			}
			if ref := page.Tuple[constraint.Referrer]; ref != constraint.DirectReferrer {
				ev.ReferrerDomain = ref
				ev.ReferrerPath = "/"
			}
			out = append(out, ev)
		}
	}

	for _, ce := range custom {
		for i := 0; i < ce.Completions; i++ {
			out = append(out, Event{
				WebsiteID: e.websiteID,
				SessionID: uuid.NewString(),
				VisitID:   uuid.NewString(),
				EventID:   uuid.NewString(),
				EventType: TypeCustom,
				EventName: ce.Name,
				Tag:       ce.Code,
				CreatedAt: hour,
			})
		}
	}
	return out
}

// InferHostname derives a site origin from an export directory name: domains
// are used verbatim, bare names get a .com suffix.
func InferHostname(name string) string {
	if strings.Contains(name, ".") {
		return "https://" + name
	}
	return "https://" + name + ".com"
}

// InferOS maps a browser name to the most common OS it ships on.
func InferOS(browser string) string {
	switch b := strings.ToLower(browser); {
	case strings.Contains(b, "safari"):
		return "macOS"
	case strings.Contains(b, "chrome"):
		return "Windows"
	case strings.Contains(b, "firefox"):
		return "Linux"
	case strings.Contains(b, "edge"):
		return "Windows"
	}
	return "Unknown"
}

// InferScreen maps a Fathom device type to a representative resolution.
func InferScreen(device string) string {
	switch d := strings.ToLower(device); {
	case strings.Contains(d, "phone"):
		return "390x844"
	case strings.Contains(d, "tablet"):
		return "768x1024"
	}
	return "1920x1080"
}
