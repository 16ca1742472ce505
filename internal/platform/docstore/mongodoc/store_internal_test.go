package mongodoc

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"toollend-backend/internal/platform/docstore"
)

func Test_receiptFilter(t *testing.T) {
	due := time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		q    docstore.ReceiptQuery
		want bson.M
	}{
		{name: "empty", q: docstore.ReceiptQuery{}, want: bson.M{}},
		{
			name: "prefix_is_anchored_quoted_and_case_insensitive",
			q:    docstore.ReceiptQuery{UserID: "u-abcd", ReferencePrefix: "ref-250101."},
			want: bson.M{
				"user_id":   "u-abcd",
				"reference": primitive.Regex{Pattern: `^ref-250101\.`, Options: "i"},
			},
		},
		{
			name: "status_and_due_before",
			q:    docstore.ReceiptQuery{Status: docstore.ReceiptActive, DueBefore: &due},
			want: bson.M{
				"status":   docstore.ReceiptActive,
				"due_date": bson.M{"$lt": due},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, receiptFilter(tt.q))
		})
	}
}

func Test_receiptUpdate_BumpsVersion(t *testing.T) {
	r := &docstore.Receipt{ID: "r1", ReturnedQuantities: []int{2}, Status: docstore.ReceiptReturned, Version: 4}

	set, ok := receiptUpdate(r, 5)["$set"].(bson.M)
	require.True(t, ok)
	assert.Equal(t, int64(5), set["version"])
	assert.Equal(t, []int{2}, set["returned_quantities"])
	assert.Equal(t, bson.M{"_id": "r1", "version": int64(4)}, versioned(r.ID, r.Version))
}

func Test_nextSeq_IsStrictlyIncreasing(t *testing.T) {
	s := &Store{}
	s.lastSeq.Store(time.Now().Add(time.Hour).UnixNano())

	prev := s.nextSeq()
	for i := 0; i < 100; i++ {
		n := s.nextSeq()
		require.Greater(t, n, prev)
		prev = n
	}
}

func Test_mapErrors(t *testing.T) {
	assert.ErrorIs(t, mapReadErr(mongo.ErrNoDocuments), docstore.ErrNotFound)

	dup := mongo.WriteException{WriteErrors: []mongo.WriteError{{Code: 11000, Message: "E11000 duplicate key"}}}
	assert.ErrorIs(t, mapWriteErr(dup), docstore.ErrDuplicate)

	other := errors.New("network down")
	assert.Equal(t, other, mapWriteErr(other))
}
