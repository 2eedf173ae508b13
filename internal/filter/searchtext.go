package filter

import (
	"strings"

	"streamengine/internal/model"
)

// SearchableText derives the keyword/query-matchable text for an event.
// This is the only semantics an implementation must reproduce exactly for
// filter correctness (spec §4.3).
func SearchableText(e *model.TwitterEvent) string {
	var parts []string
	parts = append(parts, e.User.Username, e.User.DisplayName)

	switch e.Type {
	case model.EventPostCreated, model.EventPostUpdated:
		if d, ok := e.Data.(*model.PostData); ok && d.Tweet != nil {
			if d.Tweet.Body.Text != "" {
				parts = append(parts, d.Tweet.Body.Text)
			}
			if name := d.Tweet.Author.Profile.Name; name != "" {
				parts = append(parts, name)
			}
		}
	case model.EventProfileUpdated, model.EventProfilePinned, model.EventUserUpdated:
		if d, ok := e.Data.(*model.ProfileData); ok && d.User != nil {
			if name := d.User.Profile.Name; name != "" {
				parts = append(parts, name)
			}
			if desc := d.User.Profile.Description.Text; desc != "" {
				parts = append(parts, desc)
			}
		}
	case model.EventFollowCreated, model.EventFollowUpdated:
		if d, ok := e.Data.(*model.FollowingData); ok {
			if d.User != nil && d.User.Profile.Name != "" {
				parts = append(parts, d.User.Profile.Name)
			}
			if d.Following != nil {
				if d.Following.Profile.Name != "" {
					parts = append(parts, d.Following.Profile.Name)
				}
				if d.Following.Handle != "" {
					parts = append(parts, d.Following.Handle)
				}
			}
		}
	}

	return strings.Join(parts, " ")
}
