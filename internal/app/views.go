package app

import (
	"time"

	"myriad/api/internal/store"
)

func credentialView(c store.Credential) map[string]any {
	return map[string]any{
		"id":         c.ID,
		"peopleId":   c.PeopleID,
		"userId":     c.UserID,
		"platform":   c.Platform,
		"isVerified": c.IsVerified,
		"createdAt":  formatTime(c.CreatedAt),
		"updatedAt":  formatTime(c.UpdatedAt),
	}
}

func markView(m store.EngagementMark) map[string]any {
	return map[string]any{
		"id":          m.ID,
		"userId":      m.UserID,
		"type":        m.Type,
		"referenceId": m.ReferenceID,
		"kind":        m.Kind,
		"state":       m.State,
		"updatedAt":   formatTime(m.UpdatedAt),
	}
}

func commentView(c store.Comment) map[string]any {
	return map[string]any{
		"id":        c.ID,
		"postId":    c.PostID,
		"userId":    c.UserID,
		"text":      c.Text,
		"createdAt": formatTime(c.CreatedAt),
	}
}

func postView(p store.ImportedPost) map[string]any {
	tags := []string(p.Tags)
	if tags == nil {
		tags = []string{}
	}
	return map[string]any{
		"id":            p.ID,
		"platform":      p.Platform,
		"textId":        p.TextID,
		"peopleId":      p.PeopleID,
		"title":         p.Title,
		"text":          p.Text,
		"tags":          tags,
		"link":          p.Link,
		"walletAddress": p.WalletAddress,
		"publishedAt":   formatTime(p.PublishedAt),
		"createdAt":     formatTime(p.CreatedAt),
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
