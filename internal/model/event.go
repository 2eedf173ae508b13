// Package model defines the shared data shapes that flow through the
// engine: the event envelope, its payload variants, and the small set of
// enums other packages key off of.
package model

import "time"

// EventType discriminates the TwitterEvent payload variant.
type EventType string

const (
	EventPostCreated     EventType = "post_created"
	EventPostUpdated     EventType = "post_updated"
	EventProfileUpdated  EventType = "profile_updated"
	EventProfilePinned   EventType = "profile_pinned"
	EventFollowCreated   EventType = "follow_created"
	EventFollowUpdated   EventType = "follow_updated"
	EventUserUpdated     EventType = "user_updated"
)

// AllEventTypes is the default event-type filter: everything.
func AllEventTypes() map[EventType]bool {
	return map[EventType]bool{
		EventPostCreated:    true,
		EventPostUpdated:    true,
		EventProfileUpdated: true,
		EventProfilePinned:  true,
		EventFollowCreated:  true,
		EventFollowUpdated:  true,
		EventUserUpdated:    true,
	}
}

// User is the actor a TwitterEvent is about.
type User struct {
	Username    string `json:"username"`
	DisplayName string `json:"displayName"`
	UserID      string `json:"userId"`
}

// TwitterEvent is the immutable record of one activity. Data carries one of
// *PostData, *ProfileData or *FollowingData depending on Type; callers must
// switch on Type, never type-assert blindly.
type TwitterEvent struct {
	Type      EventType `json:"type"`
	Timestamp string    `json:"timestamp"` // RFC3339
	PrimaryID string    `json:"primaryId"`
	User      User      `json:"user"`
	Data      any       `json:"data"`
}

// ParsedTimestamp returns Timestamp parsed as RFC3339, or the zero time.
func (e *TwitterEvent) ParsedTimestamp() time.Time {
	t, err := time.Parse(time.RFC3339, e.Timestamp)
	if err != nil {
		return time.Time{}
	}
	return t
}

// TweetMedia is an attached media item on a tweet body.
type TweetMedia struct {
	URL  string `json:"url"`
	Type string `json:"type"`
}

// TweetMetrics holds engagement counters, all optional.
type TweetMetrics struct {
	Likes    int `json:"likes,omitempty"`
	Retweets int `json:"retweets,omitempty"`
	Replies  int `json:"replies,omitempty"`
}

// TweetAuthorProfile is the nested author.profile shape on a tweet body.
type TweetAuthorProfile struct {
	Name string `json:"name"`
}

// TweetAuthor is the author attribution of a tweet body.
type TweetAuthor struct {
	Profile TweetAuthorProfile `json:"profile"`
}

// TweetBody is the text of a tweet; attribution is in Tweet.Author.
type TweetBody struct {
	Text string `json:"text"`
}

// Tweet is the optional full tweet payload carried by PostData.
type Tweet struct {
	Body    TweetBody     `json:"body"`
	Author  TweetAuthor   `json:"author"`
	Metrics *TweetMetrics `json:"metrics,omitempty"`
	Media   []TweetMedia  `json:"media,omitempty"`
}

// PostData is the payload for post_* events.
type PostData struct {
	TweetID  string `json:"tweetId"`
	Username string `json:"username"`
	Action   string `json:"action"`
	Tweet    *Tweet `json:"tweet,omitempty"`
}

// ProfileDescription is the nested profile.description shape.
type ProfileDescription struct {
	Text string `json:"text"`
}

// UserProfile is the nested user.profile shape shared by profile and
// following payloads.
type UserProfile struct {
	Name        string             `json:"name"`
	Description ProfileDescription `json:"description"`
}

// UserSnapshot is a point-in-time snapshot of a profile, used both as the
// "current" value and as the "before" value for diffing.
type UserSnapshot struct {
	Profile UserProfile `json:"profile"`
}

// ProfileData is the payload for profile_*/user_updated events.
type ProfileData struct {
	Username string        `json:"username"`
	Action   string        `json:"action"`
	User     *UserSnapshot `json:"user,omitempty"`
	Before   *UserSnapshot `json:"before,omitempty"`
	Pinned   []string      `json:"pinned,omitempty"`
}

// FollowingUserSnapshot is the nested following.* shape on a follow event.
type FollowingUserSnapshot struct {
	Handle  string      `json:"handle"`
	Profile UserProfile `json:"profile"`
}

// FollowingData is the payload for follow_* events.
type FollowingData struct {
	Username  string                 `json:"username"`
	Action    string                 `json:"action"` // created/deleted/follow/unfollow
	User      *UserSnapshot          `json:"user,omitempty"`
	Following *FollowingUserSnapshot `json:"following,omitempty"`
}

// Endpoint is one upstream SSE channel candidate.
type Endpoint string

const (
	EndpointAll       Endpoint = "all"
	EndpointTweets    Endpoint = "tweets"
	EndpointFollowing Endpoint = "following"
	EndpointProfile   Endpoint = "profile"
)

// ValidEndpoints lists every recognised upstream channel, in canonical order.
func ValidEndpoints() []Endpoint {
	return []Endpoint{EndpointAll, EndpointTweets, EndpointFollowing, EndpointProfile}
}

// ConnectionStatus is StreamCore's externally observable connection state.
type ConnectionStatus string

const (
	StatusConnected    ConnectionStatus = "connected"
	StatusDisconnected ConnectionStatus = "disconnected"
	StatusReconnecting ConnectionStatus = "reconnecting"
)

// Stats is a snapshot of StreamCore's running counters.
type Stats struct {
	ConnectionStatus ConnectionStatus `json:"connectionStatus"`
	CurrentEndpoint  Endpoint         `json:"currentEndpoint"`
	TotalEvents      int64            `json:"totalEvents"`
	DeliveredEvents  int64            `json:"deliveredEvents"`
	DedupedEvents    int64            `json:"dedupedEvents"`
	SkippedEvents    int64            `json:"skippedEvents"`
	StartTime        time.Time        `json:"startTime"`
}

// SubscriptionMode is RuntimeSubscriptionState.Mode.
type SubscriptionMode string

const (
	ModeActive SubscriptionMode = "active"
	ModeIdle   SubscriptionMode = "idle"
)

// SubscriptionSource is RuntimeSubscriptionState.Source.
type SubscriptionSource string

const (
	SourceConfig  SubscriptionSource = "config"
	SourceRuntime SubscriptionSource = "runtime"
)

// RuntimeSubscriptionState is the current upstream subscription, mutated
// only by the RuntimeSubscription handler.
type RuntimeSubscriptionState struct {
	Channels  []Endpoint         `json:"channels"`
	Users     []string           `json:"users"`
	Mode      SubscriptionMode   `json:"mode"`
	Source    SubscriptionSource `json:"source"`
	UpdatedAt time.Time          `json:"updatedAt"`
}

// Clone returns a defensive copy safe to hand to a caller.
func (s RuntimeSubscriptionState) Clone() RuntimeSubscriptionState {
	out := s
	out.Channels = append([]Endpoint(nil), s.Channels...)
	out.Users = append([]string(nil), s.Users...)
	return out
}
