package models

import (
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/quotefriends/backend/internal/docstore"
)

// Stored field names.
const (
	FieldUsername         = "username"
	FieldEmail            = "email"
	FieldBio              = "bio"
	FieldProfilePic       = "profilePic"
	FieldFriends          = "friends"
	FieldIncomingRequests = "incomingRequests"
	FieldOutgoingRequests = "outgoingRequests"
	FieldSearchKeywords   = "searchKeywords"
	FieldCreatedAt        = "createdAt"
	FieldUpdatedAt        = "updatedAt"

	FieldAuthorID   = "authorId"
	FieldText       = "text"
	FieldVisibility = "visibility"
	FieldLikes      = "likes"
	FieldLikesBy    = "likesBy"

	// Legacy quote fields still present in older documents.
	FieldLegacyAuthorID  = "userId"
	FieldLegacyTimestamp = "timestamp"

	FieldClaimUserID = "userId"
)

// MaxQuoteLength is the longest quote text accepted, in characters, after trimming.
const MaxQuoteLength = 280

// Visibility controls who may see a quote. Only public quotes reach the feed.
type Visibility string

const (
	VisibilityPublic  Visibility = "public"
	VisibilityPrivate Visibility = "private"
	VisibilityGroup   Visibility = "group"
)

// User is a profile together with its relationship sets.
type User struct {
	ID               string    `json:"id"`
	Username         string    `json:"username"`
	Email            string    `json:"-"`
	Bio              string    `json:"bio"`
	ProfilePic       string    `json:"profilePic,omitempty"`
	Friends          []string  `json:"-"`
	IncomingRequests []string  `json:"-"`
	OutgoingRequests []string  `json:"-"`
	SearchKeywords   []string  `json:"-"`
	CreatedAt        time.Time `json:"createdAt"`
}

// HasFriend reports whether id is in the friend set.
func (u User) HasFriend(id string) bool { return contains(u.Friends, id) }

// HasIncoming reports whether id has a pending request to u.
func (u User) HasIncoming(id string) bool { return contains(u.IncomingRequests, id) }

// HasOutgoing reports whether u has a pending request to id.
func (u User) HasOutgoing(id string) bool { return contains(u.OutgoingRequests, id) }

// Quote is a short text post.
type Quote struct {
	ID         string     `json:"id"`
	AuthorID   string     `json:"authorId"`
	Text       string     `json:"text"`
	CreatedAt  time.Time  `json:"createdAt"`
	Visibility Visibility `json:"visibility"`
	LikesBy    []string   `json:"likesBy"`
	Likes      int64      `json:"likes"`
}

// LikedBy reports whether userID is among the likers.
func (q Quote) LikedBy(userID string) bool { return contains(q.LikesBy, userID) }

// Author is the display data joined onto a feed item.
type Author struct {
	ID         string `json:"id"`
	Username   string `json:"username"`
	ProfilePic string `json:"profilePic,omitempty"`
	AvatarURL  string `json:"avatarUrl,omitempty"`
}

// FeedItem is a quote ready to render. It is rebuilt every render pass.
type FeedItem struct {
	Quote
	Author Author `json:"author"`
	// Liked is the viewer's like state, including any optimistic overlay.
	Liked bool `json:"liked"`
	// Pending marks an optimistic insert not yet confirmed by the store.
	Pending bool `json:"pending,omitempty"`
}

// RelationshipState is the relationship between a viewer and a subject,
// always derived from the stored sets.
type RelationshipState string

const (
	RelationshipNone            RelationshipState = "none"
	RelationshipOutgoingPending RelationshipState = "outgoing_pending"
	RelationshipIncomingPending RelationshipState = "incoming_pending"
	RelationshipFriends         RelationshipState = "friends"
)

// DeriveRelationship computes the viewer's relationship to subject from the
// subject's record.
func DeriveRelationship(viewerID string, subject User) RelationshipState {
	switch {
	case viewerID == "" || viewerID == subject.ID:
		return RelationshipNone
	case subject.HasFriend(viewerID):
		return RelationshipFriends
	case subject.HasIncoming(viewerID):
		return RelationshipOutgoingPending
	case subject.HasOutgoing(viewerID):
		return RelationshipIncomingPending
	default:
		return RelationshipNone
	}
}

// UserFromDocument normalizes a stored user. Missing sets read as empty and
// duplicate members are dropped.
func UserFromDocument(doc docstore.Document) User {
	return User{
		ID:               doc.ID,
		Username:         docstore.String(doc.Get(FieldUsername)),
		Email:            docstore.String(doc.Get(FieldEmail)),
		Bio:              docstore.String(doc.Get(FieldBio)),
		ProfilePic:       docstore.String(doc.Get(FieldProfilePic)),
		Friends:          dedupe(docstore.StringSet(doc.Get(FieldFriends))),
		IncomingRequests: dedupe(docstore.StringSet(doc.Get(FieldIncomingRequests))),
		OutgoingRequests: dedupe(docstore.StringSet(doc.Get(FieldOutgoingRequests))),
		SearchKeywords:   dedupe(docstore.StringSet(doc.Get(FieldSearchKeywords))),
		CreatedAt:        docstore.Time(doc.Get(FieldCreatedAt)),
	}
}

// QuoteFromDocument normalizes a stored quote. The like count is derived
// from the liker set so the two can never disagree on read.
func QuoteFromDocument(doc docstore.Document) Quote {
	authorID := docstore.String(doc.Get(FieldAuthorID))
	if authorID == "" {
		authorID = docstore.String(doc.Get(FieldLegacyAuthorID))
	}
	createdAt := docstore.Time(doc.Get(FieldCreatedAt))
	if createdAt.IsZero() {
		createdAt = docstore.Time(doc.Get(FieldLegacyTimestamp))
	}
	visibility := Visibility(docstore.String(doc.Get(FieldVisibility)))
	if visibility == "" {
		visibility = VisibilityPublic
	}
	likesBy := dedupe(docstore.StringSet(doc.Get(FieldLikesBy)))

	return Quote{
		ID:         doc.ID,
		AuthorID:   authorID,
		Text:       docstore.String(doc.Get(FieldText)),
		CreatedAt:  createdAt,
		Visibility: visibility,
		LikesBy:    likesBy,
		Likes:      int64(len(likesBy)),
	}
}

// NormalizeQuoteText trims text and reports whether it is within 1..MaxQuoteLength characters.
func NormalizeQuoteText(text string) (string, bool) {
	trimmed := strings.TrimSpace(text)
	n := utf8.RuneCountInString(trimmed)
	return trimmed, n >= 1 && n <= MaxQuoteLength
}

// SearchKeywords returns every prefix of every lowercase whitespace-separated
// token of username, plus the full lowercase username, sorted.
func SearchKeywords(username string) []string {
	lower := strings.ToLower(strings.TrimSpace(username))
	set := make(map[string]struct{})
	for _, token := range strings.Fields(lower) {
		runes := []rune(token)
		for i := 1; i <= len(runes); i++ {
			set[string(runes[:i])] = struct{}{}
		}
	}
	if lower != "" {
		set[lower] = struct{}{}
	}

	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// SortFeed orders items newest first, breaking ties by id.
func SortFeed(items []FeedItem) {
	sort.SliceStable(items, func(i, j int) bool {
		return newerFirst(items[i].Quote, items[j].Quote)
	})
}

// SortQuotes orders quotes newest first, breaking ties by id.
func SortQuotes(quotes []Quote) {
	sort.SliceStable(quotes, func(i, j int) bool {
		return newerFirst(quotes[i], quotes[j])
	})
}

func newerFirst(a, b Quote) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID < b.ID
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
