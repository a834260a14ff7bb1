package api

import (
	"net/url"
	"time"

	"github.com/uveral/diario/internal/deadman"
	"github.com/uveral/diario/internal/store"
)

// ProblemDetail follows RFC 7807 for error responses.
type ProblemDetail struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
}

// EntryResponse is the wire form of a journal entry.
type EntryResponse struct {
	ID          string  `json:"id"`
	Content     string  `json:"content"`
	CreatedAtTs int64   `json:"createdAtTs"`
	Date        string  `json:"date"`
	AudioKey    *string `json:"audioKey"`
	AudioURL    string  `json:"audioUrl,omitempty"`
}

// CreateEntryRequest is the body of POST /api/entries.
type CreateEntryRequest struct {
	Content          string   `json:"content"`
	AudioKey         *string  `json:"audioKey"`
	AudioDurationSec *float64 `json:"audioDurationSec"`
}

// UploadResponse is returned by POST /api/audio.
type UploadResponse struct {
	Key string `json:"key"`
	URL string `json:"url"`
}

// DeadmanSettings is the wire form of the settings record.
type DeadmanSettings struct {
	CheckInHours      int      `json:"checkInHours"`
	WarningHours      int      `json:"warningHours"`
	LastCheckInTs     int64    `json:"lastCheckInTs"`
	OwnerEmail        string   `json:"ownerEmail"`
	NotifyEmails      []string `json:"notifyEmails"`
	LastNotifiedStage int      `json:"lastNotifiedStage"`
	LastNotifiedTs    *int64   `json:"lastNotifiedTs"`
}

// DeadmanResponse is returned by GET /api/deadman.
type DeadmanResponse struct {
	Mode           string          `json:"mode,omitempty"`
	State          deadman.State   `json:"state"`
	RemainingHours float64         `json:"remainingHours"`
	Settings       DeadmanSettings `json:"settings"`
}

// UpdateDeadmanRequest is the body of PUT /api/deadman. Absent fields are
// left unchanged.
type UpdateDeadmanRequest struct {
	OwnerEmail   *string   `json:"ownerEmail"`
	NotifyEmails *[]string `json:"notifyEmails"`
	CheckInHours *float64  `json:"checkInHours"`
	WarningHours *float64  `json:"warningHours"`
}

// CheckInResponse is returned by POST /api/deadman/check-in.
type CheckInResponse struct {
	OK            bool  `json:"ok"`
	LastCheckInTs int64 `json:"lastCheckInTs"`
}

// RunResponse is returned by the trigger endpoint.
type RunResponse struct {
	OK         bool   `json:"ok"`
	Mode       string `json:"mode,omitempty"`
	State      string `json:"state,omitempty"`
	Stage      int    `json:"stage,omitempty"`
	Recipients int    `json:"recipients,omitempty"`
	Error      string `json:"error,omitempty"`
	Detail     string `json:"detail,omitempty"`
}

func audioURL(key string) string {
	return "/api/audio/" + url.PathEscape(key)
}

func toEntryResponse(e store.Entry) EntryResponse {
	r := EntryResponse{
		ID:          e.ID,
		Content:     e.Content,
		CreatedAtTs: e.CreatedAt.UnixMilli(),
		Date:        e.CreatedAt.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
	}
	if e.AudioKey != "" {
		key := e.AudioKey
		r.AudioKey = &key
		r.AudioURL = audioURL(key)
	}
	return r
}

func toDeadmanSettings(s deadman.Settings) DeadmanSettings {
	out := DeadmanSettings{
		CheckInHours:      s.CheckInHours,
		WarningHours:      s.WarningHours,
		LastCheckInTs:     s.LastCheckIn.UnixMilli(),
		OwnerEmail:        s.OwnerEmail,
		NotifyEmails:      s.NotifyEmails,
		LastNotifiedStage: s.LastNotifiedStage,
	}
	if out.NotifyEmails == nil {
		out.NotifyEmails = []string{}
	}
	if s.LastNotifiedAt != nil {
		ts := s.LastNotifiedAt.UnixMilli()
		out.LastNotifiedTs = &ts
	}
	return out
}

func millis(t time.Time) int64 { return t.UnixMilli() }
