// Package refid derives the human readable receipt reference
// ref-<yymmdd>-<user suffix>-<NNN>, counted per suffix and day.
package refid

import (
	"context"
	"fmt"
	"strings"
	"time"

	"toollend-backend/internal/platform/docstore"
)

const (
	prefix     = "ref-"
	dateLayout = "060102"
	suffixLen  = 4
)

// Counter is the slice of the receipt store the generator reads.
type Counter interface {
	CountReceipts(ctx context.Context, q docstore.ReceiptQuery) (int, error)
}

type Generator struct {
	store Counter
}

func New(store Counter) *Generator {
	return &Generator{store: store}
}

// Generate counts the receipts labelled on now's date with the user's
// suffix and returns the next reference. Users whose ids end alike share the
// sequence, since references are unique across users. attempt skips ahead
// after the previous label collided.
func (g *Generator) Generate(ctx context.Context, userID string, now time.Time, attempt int) (string, error) {
	n, err := g.store.CountReceipts(ctx, docstore.ReceiptQuery{
		ReferencePrefix: LabelPrefix(now, userID),
	})
	if err != nil {
		return "", fmt.Errorf("count receipts of %s: %w", userID, err)
	}
	if attempt < 0 {
		attempt = 0
	}
	return Format(now, userID, n+1+attempt), nil
}

// DayPrefix is the part of a reference shared by one day's receipts.
func DayPrefix(now time.Time) string {
	return prefix + now.Format(dateLayout)
}

// LabelPrefix is the part of a reference shared by the receipts counted
// together: one day and one suffix.
func LabelPrefix(now time.Time, userID string) string {
	return strings.ToLower(fmt.Sprintf("%s-%s-", DayPrefix(now), Suffix(userID)))
}

// Format composes the reference for the n-th receipt of the day.
func Format(now time.Time, userID string, n int) string {
	return strings.ToLower(fmt.Sprintf("%s-%s-%03d", DayPrefix(now), Suffix(userID), n))
}

// Suffix is the last four characters of the user id, or the whole id when shorter.
func Suffix(userID string) string {
	r := []rune(userID)
	if len(r) <= suffixLen {
		return userID
	}
	return string(r[len(r)-suffixLen:])
}
